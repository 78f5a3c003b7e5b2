// Package lookup reads the AWB identifier returned on a positive match.
package lookup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrEmptyFile is returned when the lookup file has no lines
var ErrEmptyFile = errors.New("lookup file is empty")

// Source provides the identifier for a matched parcel
type Source interface {
	Lookup(ctx context.Context) (string, error)
}

// File reads identifiers from a plain text file, one per line
type File struct {
	Path string
}

// NewFile creates a lookup backed by the file at path
func NewFile(path string) *File {
	return &File{Path: path}
}

// Lookup returns the last line of the file. See Last.
func (f *File) Lookup(ctx context.Context) (string, error) {
	return f.Last(ctx)
}

// Last returns the final line exactly as stored, line terminator included.
// Earlier lines are read and discarded.
func (f *File) Last(ctx context.Context) (string, error) {
	lines, err := f.Lines(ctx)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%s: %w", f.Path, ErrEmptyFile)
	}
	return lines[len(lines)-1], nil
}

// Lines returns every line of the file with its terminator preserved.
// The final line may lack a terminator.
func (f *File) Lines(ctx context.Context) ([]string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lookup file: %w", err)
	}
	defer file.Close()

	return readLines(ctx, file)
}

func readLines(ctx context.Context, r io.Reader) ([]string, error) {
	reader := bufio.NewReader(r)
	var lines []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read lookup file: %w", err)
		}
	}
}
