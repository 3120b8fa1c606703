package workspace

// ListFilesArgs is an argument struct for the list_files tool.
type ListFilesArgs struct {
	Path    string   `json:"path"`
	Pattern string   `json:"pattern"`
	Exclude []string `json:"excludePatterns"`
}

// ReadFileArgs is an argument struct for the read_file tool.
type ReadFileArgs struct {
	Path string `json:"path"`
}

// WriteFileArgs is an argument struct for the write_file tool.
type WriteFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// EditFileArgs is an argument struct for the edit_file tool.
type EditFileArgs struct {
	Path   string          `json:"path"`
	Edits  []EditOperation `json:"edits"`
	DryRun bool            `json:"dryRun"`
}

// EditOperation is a struct representing one text replacement.
type EditOperation struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// ListFilesResult is the payload returned by the list_files tool.
type ListFilesResult struct {
	Files []string `json:"files"`
}

// ReadFileResult is the payload returned by the read_file tool.
type ReadFileResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteFileResult is the payload returned by the write_file tool.
type WriteFileResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytesWritten"`
}

// EditFileResult is the payload returned by the edit_file tool. Diff is a
// unified diff of the applied (or, for a dry run, proposed) edits.
type EditFileResult struct {
	Path   string `json:"path"`
	Diff   string `json:"diff"`
	DryRun bool   `json:"dryRun"`
}

var listFilesSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      },
      "pattern": {
        "type": "string"
      },
      "excludePatterns": {
        "type": "array",
        "items": {
          "type": "string"
        }
      }
    },
    "required": ["path", "pattern"]
  }
`)

var readFileSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      }
    },
    "required": ["path"]
  }
`)

var writeFileSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      },
      "content": {
        "type": "string"
      }
    },
    "required": ["path", "content"]
  }
`)

var editFileSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      },
      "edits": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "oldText": {
              "type": "string"
            },
            "newText": {
              "type": "string"
            }
          },
          "required": ["oldText", "newText"]
        }
      },
      "dryRun": {
        "type": "boolean"
      }
    },
    "required": ["path", "edits"]
  }
`)
