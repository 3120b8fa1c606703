// Package workspace exposes a sandboxed slice of the local filesystem as
// tools. Every operation is restricted to the configured root directories;
// paths that escape them, including through symlinks, are rejected.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hollowbeak/toolwire"
)

// Server provides the list_files, read_file, write_file, and edit_file tools
// over a set of root directories. It implements the toolwire.ToolProvider
// interface.
type Server struct {
	rootPaths []string
}

// NewServer creates a workspace server rooted at the given directories. Every
// root must exist and be a directory.
func NewServer(roots []string) (Server, error) {
	if len(roots) == 0 {
		return Server{}, fmt.Errorf("at least one root directory is required")
	}
	for _, root := range roots {
		info, err := os.Stat(filepath.Clean(root))
		if err != nil {
			return Server{}, fmt.Errorf("failed to stat root directory: %w", err)
		}
		if !info.IsDir() {
			return Server{}, fmt.Errorf("root directory is not a directory: %s", root)
		}
	}

	return Server{
		rootPaths: roots,
	}, nil
}

// ListTools implements toolwire.ToolProvider.
func (s Server) ListTools(context.Context) ([]toolwire.Tool, error) {
	return toolList, nil
}

// CallTool implements toolwire.ToolProvider. All operations are restricted to
// paths within the server's root directories.
func (s Server) CallTool(_ context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	switch name {
	case "list_files":
		return listFiles(s.rootPaths, args)
	case "read_file":
		return readFile(s.rootPaths, args)
	case "write_file":
		return writeFile(s.rootPaths, args)
	case "edit_file":
		return editFile(s.rootPaths, args)
	default:
		return nil, fmt.Errorf("tool not found: %s", name)
	}
}
