package workspace_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hollowbeak/toolwire/servers/workspace"
)

func setupWorkspace(t *testing.T) (workspace.Server, string) {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("failed to resolve temp directory: %v", err)
	}
	files := map[string]string{
		"main.go":            "package main\n\nfunc main() {}\n",
		"notes.txt":          "remember the milk\n",
		"pkg/util/util.go":   "package util\n",
		"vendor/dep/dep.go":  "package dep\n",
		"pkg/util/README.md": "# util\n",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			t.Fatalf("failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}

	srv, err := workspace.NewServer([]string{root})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, root
}

func callTool(t *testing.T, srv workspace.Server, name string, args any) (json.RawMessage, error) {
	t.Helper()
	bs, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("failed to marshal arguments: %v", err)
	}
	return srv.CallTool(context.Background(), name, bs)
}

func TestNewServerValidatesRoots(t *testing.T) {
	if _, err := workspace.NewServer(nil); err == nil {
		t.Error("expected an error for an empty root list, got nil")
	}
	if _, err := workspace.NewServer([]string{"/no/such/directory"}); err == nil {
		t.Error("expected an error for a missing root, got nil")
	}

	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := workspace.NewServer([]string{file}); err == nil {
		t.Error("expected an error for a non-directory root, got nil")
	}
}

func TestListTools(t *testing.T) {
	srv, _ := setupWorkspace(t)

	tools, err := srv.ListTools(context.Background())
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}

	want := []string{"list_files", "read_file", "write_file", "edit_file"}
	if len(tools) != len(want) {
		t.Fatalf("number of tools, got %d, want %d", len(tools), len(want))
	}
	for i, name := range want {
		if tools[i].Name != name {
			t.Errorf("tool %d, got %q, want %q", i, tools[i].Name, name)
		}
		if len(tools[i].InputSchema) == 0 {
			t.Errorf("tool %q has no input schema", name)
		}
	}
}

func TestListFiles(t *testing.T) {
	srv, root := setupWorkspace(t)

	res, err := callTool(t, srv, "list_files", workspace.ListFilesArgs{
		Path:    root,
		Pattern: "**.go",
		Exclude: []string{"vendor"},
	})
	if err != nil {
		t.Fatalf("failed to list files: %v", err)
	}

	var result workspace.ListFilesResult
	if err := json.Unmarshal(res, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	want := []string{"main.go", "pkg/util/util.go"}
	if len(result.Files) != len(want) {
		t.Fatalf("files, got %v, want %v", result.Files, want)
	}
	for i, path := range want {
		if result.Files[i] != path {
			t.Errorf("file %d, got %q, want %q", i, result.Files[i], path)
		}
	}
}

func TestListFilesRequiresPattern(t *testing.T) {
	srv, root := setupWorkspace(t)

	_, err := callTool(t, srv, "list_files", workspace.ListFilesArgs{Path: root})
	if err == nil {
		t.Error("expected an error for a missing pattern, got nil")
	}
}

func TestReadFile(t *testing.T) {
	srv, root := setupWorkspace(t)

	res, err := callTool(t, srv, "read_file", workspace.ReadFileArgs{
		Path: filepath.Join(root, "notes.txt"),
	})
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}

	var result workspace.ReadFileResult
	if err := json.Unmarshal(res, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Content != "remember the milk\n" {
		t.Errorf("content, got %q, want %q", result.Content, "remember the milk\n")
	}
}

func TestReadFileRejectsDirectory(t *testing.T) {
	srv, root := setupWorkspace(t)

	_, err := callTool(t, srv, "read_file", workspace.ReadFileArgs{
		Path: filepath.Join(root, "pkg"),
	})
	if err == nil {
		t.Error("expected an error when reading a directory, got nil")
	}
}

func TestWriteFile(t *testing.T) {
	srv, root := setupWorkspace(t)

	path := filepath.Join(root, "fresh.txt")
	res, err := callTool(t, srv, "write_file", workspace.WriteFileArgs{
		Path:    path,
		Content: "brand new",
	})
	if err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	var result workspace.WriteFileResult
	if err := json.Unmarshal(res, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.BytesWritten != len("brand new") {
		t.Errorf("bytes written, got %d, want %d", result.BytesWritten, len("brand new"))
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back file: %v", err)
	}
	if string(bs) != "brand new" {
		t.Errorf("file content, got %q, want %q", string(bs), "brand new")
	}
}

func TestEditFile(t *testing.T) {
	srv, root := setupWorkspace(t)
	path := filepath.Join(root, "notes.txt")

	res, err := callTool(t, srv, "edit_file", workspace.EditFileArgs{
		Path: path,
		Edits: []workspace.EditOperation{
			{OldText: "remember the milk", NewText: "remember the bread"},
		},
	})
	if err != nil {
		t.Fatalf("failed to edit file: %v", err)
	}

	var result workspace.EditFileResult
	if err := json.Unmarshal(res, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if !strings.Contains(result.Diff, "--- "+path) {
		t.Errorf("diff missing original header:\n%s", result.Diff)
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back file: %v", err)
	}
	if string(bs) != "remember the bread\n" {
		t.Errorf("file content, got %q, want %q", string(bs), "remember the bread\n")
	}
}

func TestEditFileDryRun(t *testing.T) {
	srv, root := setupWorkspace(t)
	path := filepath.Join(root, "notes.txt")

	res, err := callTool(t, srv, "edit_file", workspace.EditFileArgs{
		Path: path,
		Edits: []workspace.EditOperation{
			{OldText: "remember the milk", NewText: "remember the bread"},
		},
		DryRun: true,
	})
	if err != nil {
		t.Fatalf("failed to edit file: %v", err)
	}

	var result workspace.EditFileResult
	if err := json.Unmarshal(res, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if !result.DryRun {
		t.Error("result does not flag the dry run")
	}
	if result.Diff == "" {
		t.Error("dry run produced no diff")
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back file: %v", err)
	}
	if string(bs) != "remember the milk\n" {
		t.Errorf("dry run modified the file, got %q", string(bs))
	}
}

func TestEditFileLineMatchFallback(t *testing.T) {
	srv, root := setupWorkspace(t)
	path := filepath.Join(root, "indent.txt")
	if err := os.WriteFile(path, []byte("if ok {\n\tdo(it)\n}\n"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	// The edit's old text differs from the file only in indentation.
	_, err := callTool(t, srv, "edit_file", workspace.EditFileArgs{
		Path: path,
		Edits: []workspace.EditOperation{
			{OldText: "do(it)", NewText: "do(that)"},
		},
	})
	if err != nil {
		t.Fatalf("failed to edit file: %v", err)
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back file: %v", err)
	}
	if string(bs) != "if ok {\n\tdo(that)\n}\n" {
		t.Errorf("file content, got %q, want %q", string(bs), "if ok {\n\tdo(that)\n}\n")
	}
}

func TestEditFileNoMatch(t *testing.T) {
	srv, root := setupWorkspace(t)

	_, err := callTool(t, srv, "edit_file", workspace.EditFileArgs{
		Path: filepath.Join(root, "notes.txt"),
		Edits: []workspace.EditOperation{
			{OldText: "never existed", NewText: "whatever"},
		},
	})
	if err == nil {
		t.Error("expected an error for an unmatched edit, got nil")
	}
}

func TestPathEscapeDenied(t *testing.T) {
	srv, root := setupWorkspace(t)

	outside := filepath.Join(root, "..", "escape.txt")
	if _, err := callTool(t, srv, "read_file", workspace.ReadFileArgs{Path: outside}); err == nil {
		t.Error("expected an access error for a path outside the root, got nil")
	}
	if _, err := callTool(t, srv, "write_file", workspace.WriteFileArgs{Path: outside, Content: "x"}); err == nil {
		t.Error("expected an access error for a write outside the root, got nil")
	}
	if _, err := callTool(t, srv, "list_files", workspace.ListFilesArgs{
		Path:    filepath.Dir(root),
		Pattern: "**",
	}); err == nil {
		t.Error("expected an access error for a listing outside the root, got nil")
	}
}

func TestUnknownTool(t *testing.T) {
	srv, _ := setupWorkspace(t)

	_, err := srv.CallTool(context.Background(), "no_such_tool", json.RawMessage(`{}`))
	if err == nil {
		t.Error("expected an error for an unknown tool, got nil")
	}
}
