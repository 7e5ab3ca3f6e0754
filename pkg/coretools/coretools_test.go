package coretools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kemudi/pkg/toolexecutor"
)

func setupExecutor(t *testing.T) (*toolexecutor.ToolExecutor, string) {
	t.Helper()
	root := t.TempDir()
	te := toolexecutor.New()
	require.NoError(t, Register(te, Options{WorkspaceRoot: root}))
	return te, root
}

func TestRegister(t *testing.T) {
	te, _ := setupExecutor(t)
	assert.ElementsMatch(t, []string{"current_time", "read_file", "write_file", "edit_file", "list_dir"}, te.ListTools())
}

func TestRegister_RequiresWorkspace(t *testing.T) {
	assert.Error(t, Register(toolexecutor.New(), Options{}))
	assert.Error(t, Register(nil, Options{WorkspaceRoot: "."}))
}

func TestCurrentTime(t *testing.T) {
	te, _ := setupExecutor(t)

	result := te.Execute(context.Background(), "current_time", map[string]interface{}{}, nil)
	require.True(t, result.Success, result.Error)
	output := result.Output.(map[string]interface{})
	assert.Equal(t, "UTC", output["timezone"])

	result = te.Execute(context.Background(), "current_time", map[string]interface{}{"timezone": "not/a/zone"}, nil)
	assert.False(t, result.Success)
}

func TestWriteAndReadFile(t *testing.T) {
	te, root := setupExecutor(t)

	result := te.Execute(context.Background(), "write_file", map[string]interface{}{
		"path":    "notes/hello.txt",
		"content": "hello workspace",
	}, nil)
	require.True(t, result.Success, result.Error)

	data, err := os.ReadFile(filepath.Join(root, "notes", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello workspace", string(data))

	result = te.Execute(context.Background(), "read_file", map[string]interface{}{
		"path": "notes/hello.txt",
	}, nil)
	require.True(t, result.Success, result.Error)
	output := result.Output.(map[string]interface{})
	assert.Equal(t, "hello workspace", output["content"])
	assert.Equal(t, false, output["truncated"])
}

func TestWriteFile_Append(t *testing.T) {
	te, root := setupExecutor(t)

	for _, content := range []string{"one\n", "two\n"} {
		result := te.Execute(context.Background(), "write_file", map[string]interface{}{
			"path":    "log.txt",
			"content": content,
			"append":  true,
		}, nil)
		require.True(t, result.Success, result.Error)
	}

	data, err := os.ReadFile(filepath.Join(root, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestReadFile_Truncation(t *testing.T) {
	te, root := setupExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), make([]byte, 1000), 0o644))

	result := te.Execute(context.Background(), "read_file", map[string]interface{}{
		"path":      "big.txt",
		"max_bytes": 100.0,
	}, nil)
	require.True(t, result.Success, result.Error)
	output := result.Output.(map[string]interface{})
	assert.Equal(t, true, output["truncated"])
	assert.Equal(t, 100, output["bytes"])
}

func TestEditFile(t *testing.T) {
	te, root := setupExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "code.go"), []byte("foo bar foo"), 0o644))

	t.Run("ambiguous match is rejected", func(t *testing.T) {
		result := te.Execute(context.Background(), "edit_file", map[string]interface{}{
			"path":    "code.go",
			"search":  "foo",
			"replace": "baz",
		}, nil)
		assert.False(t, result.Success)
	})

	t.Run("replace all", func(t *testing.T) {
		result := te.Execute(context.Background(), "edit_file", map[string]interface{}{
			"path":        "code.go",
			"search":      "foo",
			"replace":     "baz",
			"replace_all": true,
		}, nil)
		require.True(t, result.Success, result.Error)

		data, err := os.ReadFile(filepath.Join(root, "code.go"))
		require.NoError(t, err)
		assert.Equal(t, "baz bar baz", string(data))
	})

	t.Run("missing search text", func(t *testing.T) {
		result := te.Execute(context.Background(), "edit_file", map[string]interface{}{
			"path":    "code.go",
			"search":  "absent",
			"replace": "x",
		}, nil)
		assert.False(t, result.Success)
	})
}

func TestListDir(t *testing.T) {
	te, root := setupExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	result := te.Execute(context.Background(), "list_dir", map[string]interface{}{}, nil)
	require.True(t, result.Success, result.Error)
	output := result.Output.(map[string]interface{})
	entries := output["entries"].([]map[string]interface{})
	assert.Len(t, entries, 2)
}

func TestPathEscapes(t *testing.T) {
	te, _ := setupExecutor(t)

	for _, path := range []string{"../outside.txt", "/etc/passwd", "sub/../../escape"} {
		result := te.Execute(context.Background(), "read_file", map[string]interface{}{
			"path": path,
		}, nil)
		assert.False(t, result.Success, "path %s must be rejected", path)
	}
}
