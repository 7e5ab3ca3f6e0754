// Package coretools registers baseline filesystem tools for agents whose
// model streamer executes tools in-stream. All paths are confined to a
// workspace root.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/kemudi/pkg/toolexecutor"
)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot confines file tools. Required.
	WorkspaceRoot string
}

// Register adds the built-in tools to the executor.
func Register(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.WorkspaceRoot == "" {
		return errors.New("workspace root is required")
	}
	root, err := filepath.Abs(opts.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	tools := []toolexecutor.ToolDefinition{
		currentTimeTool(),
		readFileTool(root),
		writeFileTool(root),
		editFileTool(root),
		listDirTool(root),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func currentTimeTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "current_time",
		Description: "Get the current date and time.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "timezone", Type: "string", Description: "IANA timezone name (default UTC)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			loc := time.UTC
			if name, ok := params["timezone"].(string); ok && name != "" {
				parsed, err := time.LoadLocation(name)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone: %s", name)
				}
				loc = parsed
			}
			now := time.Now().In(loc)
			return map[string]interface{}{
				"iso":      now.Format(time.RFC3339),
				"timezone": loc.String(),
				"unix":     now.Unix(),
			}, nil
		},
	}
}

func readFileTool(root string) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)", Required: false, Default: 200000},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}

			maxBytes := int64(200000)
			if raw, ok := params["max_bytes"].(float64); ok && raw > 0 {
				maxBytes = int64(raw)
			}

			data, truncated, err := readWithLimit(target, maxBytes)
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func writeFileTool(root string) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append to file (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)
			appendMode, _ := params["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}

			if appendMode {
				f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return nil, err
				}
				defer f.Close()
				if _, err := f.WriteString(content); err != nil {
					return nil, err
				}
			} else if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			}, nil
		},
	}
}

func editFileTool(root string) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace text in a workspace file.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "search", Type: "string", Description: "Text to search for", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace all occurrences (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}
			search, _ := params["search"].(string)
			replace, _ := params["replace"].(string)
			replaceAll, _ := params["replace_all"].(bool)

			data, err := os.ReadFile(target)
			if err != nil {
				return nil, err
			}
			content := string(data)

			count := strings.Count(content, search)
			if count == 0 {
				return nil, fmt.Errorf("search text not found in %s", pathValue)
			}
			if count > 1 && !replaceAll {
				return nil, fmt.Errorf("search text matches %d times in %s; pass replace_all to replace every occurrence", count, pathValue)
			}

			replacements := 1
			if replaceAll {
				content = strings.ReplaceAll(content, search, replace)
				replacements = count
			} else {
				content = strings.Replace(content, search, replace, 1)
			}

			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":         pathValue,
				"replacements": replacements,
			}, nil
		},
	}
}

func listDirTool(root string) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "list_dir",
		Description: "List entries of a workspace directory.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative directory path (default workspace root)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			if pathValue == "" {
				pathValue = "."
			}
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}

			names := make([]map[string]interface{}, 0, len(entries))
			for _, e := range entries {
				names = append(names, map[string]interface{}{
					"name": e.Name(),
					"dir":  e.IsDir(),
				})
			}
			return map[string]interface{}{
				"path":    pathValue,
				"entries": names,
			}, nil
		},
	}
}

// resolvePath joins path to root and rejects escapes.
func resolvePath(root, path string) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be relative to the workspace: %s", path)
	}
	target := filepath.Clean(filepath.Join(root, path))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", path)
	}
	return target, nil
}

func readWithLimit(path string, maxBytes int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return nil, false, err
	}

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	return data, info.Size() > int64(len(data)), nil
}
