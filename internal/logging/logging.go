// Package logging configures the standard logger for the CLI and server.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log lines go
type Options struct {
	// File enables rotating file output; empty logs to stderr
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Verbose    bool
}

var verbose atomic.Bool

// Setup points the standard logger at stderr or a rotating file.
// The returned closer flushes and closes the file, if any.
func Setup(opts Options) (io.Closer, error) {
	verbose.Store(opts.Verbose)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if opts.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB, // MB
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays, // days
		Compress:   true,
	}
	log.SetOutput(w)
	return w, nil
}

// Verbose reports whether debug lines are enabled
func Verbose() bool {
	return verbose.Load()
}

// SetVerbose toggles debug lines
func SetVerbose(v bool) {
	verbose.Store(v)
}

// Debugf logs with a [DEBUG] prefix when verbose output is enabled
func Debugf(format string, v ...any) {
	if !verbose.Load() {
		return
	}
	log.Output(2, "[DEBUG] "+fmt.Sprintf(format, v...))
}

// Printf logs unconditionally
func Printf(format string, v ...any) {
	log.Output(2, fmt.Sprintf(format, v...))
}
