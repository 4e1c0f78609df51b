package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCommand_PrintsChunks(t *testing.T) {
	dir := t.TempDir()
	policy := filepath.Join(dir, "missing.yaml")
	file := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello\nworld"), 0o644))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"chunk", file, "--policy", policy})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "text/plain")
	assert.Contains(t, lines[0], "strategy=recursive")
	assert.Contains(t, lines[1], "[0:11]")
	assert.Contains(t, lines[1], "hello world")
	assert.Equal(t, "1 chunks", lines[2])
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\n\n b"))
	long := strings.Repeat("é", previewRunes+5)
	assert.Equal(t, strings.Repeat("é", previewRunes)+"...", preview(long))
}
