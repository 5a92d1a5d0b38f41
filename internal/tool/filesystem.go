package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxFileChars = 50000

// resolvePath maps path into root. Relative paths are taken from root;
// anything that escapes it is rejected.
func resolvePath(path, root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(absRoot, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(absRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside allowed directory", path)
	}
	return resolved, nil
}

// ReadFileTool reads file contents under Root.
type ReadFileTool struct {
	Root string
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file at the given path." }
func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The file path to read, relative to the served directory",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, params map[string]any) (string, error) {
	path, err := requireStringParam(params, "path")
	if err != nil {
		return "", err
	}
	resolved, err := resolvePath(path, t.Root)
	if err != nil {
		return fmt.Sprintf("Error: %s", err), nil
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Sprintf("Error: File not found: %s", path), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Not a file: %s", path), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Sprintf("Error reading file: %s", err), nil
	}
	return truncateString(string(data), maxFileChars), nil
}

// ListDirTool lists directory contents under Root.
type ListDirTool struct {
	Root string
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the contents of a directory." }
func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The directory to list; defaults to the served directory",
			},
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, params map[string]any) (string, error) {
	path := getStringParam(params, "path")
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(path, t.Root)
	if err != nil {
		return fmt.Sprintf("Error: %s", err), nil
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Sprintf("Error: Directory not found: %s", path), nil
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: Not a directory: %s", path), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return fmt.Sprintf("Error listing directory: %s", err), nil
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty", path), nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		prefix := "[file] "
		if e.IsDir() {
			prefix = "[dir]  "
		}
		lines = append(lines, prefix+e.Name())
	}
	return strings.Join(lines, "\n"), nil
}
