package lookup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLookupFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "AWB.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLastReturnsFinalLine(t *testing.T) {
	path := writeLookupFile(t, "ID1\nID2\n")

	got, err := NewFile(path).Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ID2\n", got)
}

func TestLastWithoutTrailingNewline(t *testing.T) {
	path := writeLookupFile(t, "7301 2231 9981\n7301 2231 9982")

	got, err := NewFile(path).Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7301 2231 9982", got)
}

func TestLastSingleLine(t *testing.T) {
	path := writeLookupFile(t, "AWB-0001\n")

	got, err := NewFile(path).Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AWB-0001\n", got)
}

func TestLastBlankLastLine(t *testing.T) {
	// a blank final line still wins
	path := writeLookupFile(t, "ID1\n\n")

	got, err := NewFile(path).Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "\n", got)
}

func TestLastEmptyFile(t *testing.T) {
	path := writeLookupFile(t, "")

	_, err := NewFile(path).Last(context.Background())
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestLastMissingFile(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "missing.txt")).Last(context.Background())
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLinesPreservesOrder(t *testing.T) {
	path := writeLookupFile(t, "a\r\nb\nc")

	lines, err := NewFile(path).Lines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a\r\n", "b\n", "c"}, lines)
}

func TestLinesCancelled(t *testing.T) {
	path := writeLookupFile(t, "ID1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFile(path).Lines(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
