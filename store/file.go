package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File keeps the whole store in a single JSON document. Every write
// rewrites the document atomically, so it suits the small state this
// project persists.
type File struct {
	mu   sync.Mutex
	path string
	doc  fileDoc
}

type fileDoc struct {
	KV      map[string][]byte   `json:"kv"`
	Streams map[string][][]byte `json:"streams"`
}

// NewFile opens (or creates on first write) the document at path.
func NewFile(path string) (*File, error) {
	f := &File{
		path: path,
		doc: fileDoc{
			KV:      make(map[string][]byte),
			Streams: make(map[string][][]byte),
		},
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(b) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(b, &f.doc); err != nil {
		return nil, fmt.Errorf("parse store file %s: %w", path, err)
	}
	if f.doc.KV == nil {
		f.doc.KV = make(map[string][]byte)
	}
	if f.doc.Streams == nil {
		f.doc.Streams = make(map[string][][]byte)
	}
	return f, nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.doc.KV[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (f *File) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.doc.KV[key]
	f.doc.KV[key] = clone(value)
	if err := f.flush(); err != nil {
		if had {
			f.doc.KV[key] = prev
		} else {
			delete(f.doc.KV, key)
		}
		return err
	}
	return nil
}

func (f *File) Append(_ context.Context, stream string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.doc.Streams[stream])
	f.doc.Streams[stream] = append(f.doc.Streams[stream], clone(value))
	if err := f.flush(); err != nil {
		f.doc.Streams[stream] = f.doc.Streams[stream][:n]
		return err
	}
	return nil
}

func (f *File) Range(_ context.Context, stream string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	src := f.doc.Streams[stream]
	out := make([][]byte, len(src))
	for i, v := range src {
		out[i] = clone(v)
	}
	return out, nil
}

func (f *File) Close() error { return nil }

// flush must be called with f.mu held.
func (f *File) flush() error {
	b, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	// best-effort .bak of the previous generation
	if prev, err := os.ReadFile(f.path); err == nil {
		_ = os.WriteFile(f.path+".bak", prev, 0o600)
	}
	if err := writeFileAtomic(f.path, b, 0o600); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to path via tmp file + fsync + rename, then
// fsyncs the parent directory so the rename itself is durable.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
