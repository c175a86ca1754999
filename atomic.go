package main

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
)

// atomicWriter replaces files by writing a temporary file in the destination
// directory, syncing it and renaming it into place. A crash at any point
// leaves either the old or the new file, never a partial one.
type atomicWriter struct {
	perm   os.FileMode
	rename func(oldpath, newpath string) error
}

func newAtomicWriter() *atomicWriter {
	return &atomicWriter{perm: 0644, rename: os.Rename}
}

// WriteFile streams write's output to path atomically
func (w *atomicWriter) WriteFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.perm)

	bw := bufio.NewWriterSize(tmp, 64*1024)
	if err := write(bw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := w.rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	// Best effort: persist the rename itself
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
