package output

import (
	"context"
	"fmt"
	"os"
)

// FileWriter appends packet groups to a file, unmodified.
type FileWriter struct {
	f *os.File
}

// NewFileWriter opens (creating if needed, appending if present) the
// file named by a file: target's Path.
func NewFileWriter(t Target) (*FileWriter, error) {
	if t.Scheme != SchemeFile {
		return nil, fmt.Errorf("output: NewFileWriter requires a file: target, got scheme %d", t.Scheme)
	}
	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("output: open %s: %w", t.Path, err)
	}
	return &FileWriter{f: f}, nil
}

// Write appends data to the file.
func (w *FileWriter) Write(ctx context.Context, data []byte, pcrs []PCRMark) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := w.f.Write(data)
	return err
}

// Close closes the file.
func (w *FileWriter) Close() error {
	return w.f.Close()
}
