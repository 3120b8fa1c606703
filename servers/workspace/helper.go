package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"
)

func validatePath(requestedPath string, allowedDirectories []string) (string, error) {
	expandedPath := os.ExpandEnv(filepath.FromSlash(requestedPath))

	absolute, err := filepath.Abs(expandedPath)
	if err != nil {
		return "", err
	}

	normalizedRequested := filepath.Clean(absolute)
	if !isAllowed(normalizedRequested, allowedDirectories) {
		return "", fmt.Errorf("access denied - path %s outside allowed directories %s",
			requestedPath, strings.Join(allowedDirectories, ", "))
	}

	// Symlinks are resolved and the real path checked again, so a link inside
	// a root cannot reach outside it.
	realPath, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}

		// For files that don't exist yet, the parent directory decides.
		parentDir := filepath.Dir(absolute)
		realParentPath, err := filepath.EvalSymlinks(parentDir)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("access denied - parent directory %s does not exist", parentDir)
			}
			return "", err
		}

		if !isAllowed(filepath.Clean(realParentPath), allowedDirectories) {
			return "", fmt.Errorf("access denied - parent directory %s outside allowed directories %s",
				parentDir, strings.Join(allowedDirectories, ", "))
		}

		return absolute, nil
	}

	if !isAllowed(filepath.Clean(realPath), allowedDirectories) {
		return "", fmt.Errorf("access denied - real path %s outside allowed directories %s",
			realPath, strings.Join(allowedDirectories, ", "))
	}

	return realPath, nil
}

func isAllowed(path string, allowedDirectories []string) bool {
	for _, dir := range allowedDirectories {
		if isSubpath(path, dir) {
			return true
		}
	}
	return false
}

func isSubpath(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}

// matchFiles walks startPath and returns the slash-separated relative paths of
// regular files whose relative path matches pattern and none of the exclude
// patterns. A bare exclude name without a wildcard excludes the whole subtree
// of that name.
func matchFiles(startPath, pattern string, excludePatterns []string) ([]string, error) {
	matcher, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern: %w", err)
	}

	excludes := make([]glob.Glob, 0, len(excludePatterns))
	for _, ep := range excludePatterns {
		if !strings.Contains(ep, "*") {
			ep = "**/" + ep + "/**"
		}
		compiled, err := glob.Compile(ep, '/')
		if err != nil {
			return nil, fmt.Errorf("failed to compile exclude pattern: %w", err)
		}
		excludes = append(excludes, compiled)
	}

	var results []string
	err = filepath.WalkDir(startPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(startPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		// Excludes apply against a root-anchored form so "**/name/**" also
		// catches entries directly under the start path.
		for _, ex := range excludes {
			if ex.Match(rel) || ex.Match("./"+rel) {
				return nil
			}
		}

		if matcher.Match(rel) {
			results = append(results, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(results)
	return results, nil
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func createUnifiedDiff(originalContent, newContent, path string) string {
	dmp := diffmatchpatch.New()

	normalizedOriginal := normalizeLineEndings(originalContent)
	normalizedNew := normalizeLineEndings(newContent)

	diffs := dmp.DiffMain(normalizedOriginal, normalizedNew, true)
	patches := dmp.PatchMake(diffs)

	var diff strings.Builder
	diff.WriteString(fmt.Sprintf("--- %s (original)\n", path))
	diff.WriteString(fmt.Sprintf("+++ %s (modified)\n", path))
	diff.WriteString(dmp.PatchToText(patches))

	return diff.String()
}

func applyFileEdits(filePath string, edits []EditOperation, dryRun bool) (string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	modifiedContent, err := applyEdits(string(content), edits)
	if err != nil {
		return "", err
	}

	diff := createUnifiedDiff(string(content), modifiedContent, filePath)

	if !dryRun {
		if err := os.WriteFile(filePath, []byte(modifiedContent), 0600); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}
	}

	return diff, nil
}

func applyEdits(content string, edits []EditOperation) (string, error) {
	modifiedContent := normalizeLineEndings(content)

	for _, edit := range edits {
		normalizedOld := normalizeLineEndings(edit.OldText)
		normalizedNew := normalizeLineEndings(edit.NewText)

		if strings.Contains(modifiedContent, normalizedOld) {
			modifiedContent = strings.Replace(modifiedContent, normalizedOld, normalizedNew, 1)
			continue
		}

		// Fall back to line-by-line matching that tolerates whitespace drift.
		newContent, found := tryLineByLineMatch(modifiedContent, normalizedOld, normalizedNew)
		if !found {
			return "", fmt.Errorf("could not find exact match for edit:\n%s", edit.OldText)
		}
		modifiedContent = newContent
	}

	return modifiedContent, nil
}

func tryLineByLineMatch(content, oldText, newText string) (string, bool) {
	oldLines := strings.Split(oldText, "\n")
	contentLines := strings.Split(content, "\n")

	for i := 0; i <= len(contentLines)-len(oldLines); i++ {
		if !isMatchingBlock(contentLines[i:i+len(oldLines)], oldLines) {
			continue
		}

		// Re-indent the replacement to the matched block's indentation.
		indent := leadingWhitespace(contentLines[i])
		newLines := strings.Split(newText, "\n")
		replacement := make([]string, 0, len(newLines))
		for _, line := range newLines {
			if strings.TrimSpace(line) == "" {
				replacement = append(replacement, "")
				continue
			}
			replacement = append(replacement, indent+strings.TrimLeft(line, " \t"))
		}

		result := make([]string, 0, len(contentLines)-len(oldLines)+len(replacement))
		result = append(result, contentLines[:i]...)
		result = append(result, replacement...)
		result = append(result, contentLines[i+len(oldLines):]...)
		return strings.Join(result, "\n"), true
	}

	return content, false
}

func isMatchingBlock(contentBlock, oldLines []string) bool {
	for j, oldLine := range oldLines {
		if strings.TrimSpace(oldLine) != strings.TrimSpace(contentBlock[j]) {
			return false
		}
	}
	return true
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}
