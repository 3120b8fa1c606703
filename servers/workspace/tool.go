package workspace

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hollowbeak/toolwire"
)

var toolList = []toolwire.Tool{
	{
		Name: "list_files",
		Description: `
Recursively list files under a directory whose relative paths match a glob
pattern. Supports ** for crossing directory boundaries and an optional list
of exclude patterns. Returns the matching paths relative to the starting
directory. Only searches within allowed directories.
        `,
		InputSchema: listFilesSchema,
	},
	{
		Name: "read_file",
		Description: `
Read the complete contents of a file. Provides detailed error messages if
the file cannot be read. Only works within allowed directories.
        `,
		InputSchema: readFileSchema,
	},
	{
		Name: "write_file",
		Description: `
Create a new file or completely overwrite an existing file with new content.
Use with caution as it will overwrite existing files without warning.
Only works within allowed directories.
        `,
		InputSchema: writeFileSchema,
	},
	{
		Name: "edit_file",
		Description: `
Make text replacements in a file. Each edit replaces one occurrence of its
old text with new text, falling back to whitespace-insensitive line matching.
Returns a unified diff of the changes; with dryRun the diff is computed but
nothing is written. Only works within allowed directories.
        `,
		InputSchema: editFileSchema,
	},
}

func listFiles(rootPaths []string, args json.RawMessage) (json.RawMessage, error) {
	var lfArgs ListFilesArgs
	if err := json.Unmarshal(args, &lfArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	if lfArgs.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	startPath, err := validatePath(lfArgs.Path, rootPaths)
	if err != nil {
		return nil, err
	}

	files, err := matchFiles(startPath, lfArgs.Pattern, lfArgs.Exclude)
	if err != nil {
		return nil, err
	}

	return json.Marshal(ListFilesResult{Files: files})
}

func readFile(rootPaths []string, args json.RawMessage) (json.RawMessage, error) {
	var rfArgs ReadFileArgs
	if err := json.Unmarshal(args, &rfArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	fullPath, err := validatePath(rfArgs.Path, rootPaths)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file with path %s: %w", rfArgs.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path %s is a directory, not a file", rfArgs.Path)
	}

	bs, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file with path %s: %w", rfArgs.Path, err)
	}

	return json.Marshal(ReadFileResult{
		Path:    rfArgs.Path,
		Content: string(bs),
	})
}

func writeFile(rootPaths []string, args json.RawMessage) (json.RawMessage, error) {
	var wfArgs WriteFileArgs
	if err := json.Unmarshal(args, &wfArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	fullPath, err := validatePath(wfArgs.Path, rootPaths)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(fullPath, []byte(wfArgs.Content), 0600); err != nil {
		return nil, fmt.Errorf("failed to write file with path %s: %w", wfArgs.Path, err)
	}

	return json.Marshal(WriteFileResult{
		Path:         wfArgs.Path,
		BytesWritten: len(wfArgs.Content),
	})
}

func editFile(rootPaths []string, args json.RawMessage) (json.RawMessage, error) {
	var efArgs EditFileArgs
	if err := json.Unmarshal(args, &efArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	if len(efArgs.Edits) == 0 {
		return nil, fmt.Errorf("at least one edit is required")
	}

	fullPath, err := validatePath(efArgs.Path, rootPaths)
	if err != nil {
		return nil, err
	}

	diff, err := applyFileEdits(fullPath, efArgs.Edits, efArgs.DryRun)
	if err != nil {
		return nil, err
	}

	return json.Marshal(EditFileResult{
		Path:   efArgs.Path,
		Diff:   diff,
		DryRun: efArgs.DryRun,
	})
}
