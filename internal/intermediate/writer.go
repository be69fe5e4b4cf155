// Package intermediate writes generated build inputs into the intermediate
// directory.
//
// Writes are idempotent: when the on-disk bytes already match, the file is
// left untouched so its timestamp survives. Concurrent builds of different
// configurations sharing an intermediate tree must not spuriously invalidate
// each other's compiled aggregates.
package intermediate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"unitybatch/internal/atomicfile"
	"unitybatch/internal/unity"
)

// Writer creates intermediate text files for the build graph.
type Writer struct {
	// Written counts files whose bytes actually changed this invocation.
	Written int

	// Skipped counts files left untouched because content was identical.
	Skipped int
}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// CreateIntermediateTextFile writes content to path unless the file already
// holds exactly those bytes, and returns a compile-unit handle.
//
// The write itself is atomic (temp file + rename) so a crash never leaves a
// half-written aggregate at the canonical path.
func (w *Writer) CreateIntermediateTextFile(path, content string) (unity.CompileUnit, error) {
	data := []byte(content)

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		w.Skipped++
		return unity.CompileUnit{Path: path}, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return unity.CompileUnit{}, fmt.Errorf("reading existing intermediate file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return unity.CompileUnit{}, fmt.Errorf("creating intermediate dir: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
		return unity.CompileUnit{}, fmt.Errorf("writing intermediate file: %w", err)
	}
	w.Written++
	return unity.CompileUnit{Path: path}, nil
}
