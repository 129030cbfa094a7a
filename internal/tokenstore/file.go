package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsonx "cadbridge/internal/shared/json"
)

// File persists the record as JSON. Writes go through a temporary file and a
// rename so a crash never leaves a truncated token file.
type File struct {
	snapshot
	path string
}

// NewFile opens the store at path, creating its directory when needed.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("token file path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	store := &File{path: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the backing file.
func (f *File) Path() string {
	return f.path
}

func (f *File) Save(ctx context.Context, rec Record) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	rec, err := f.stamp(rec)
	if err != nil {
		return err
	}
	payload, err := jsonx.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	f.set(rec)
	return nil
}

func (f *File) Clear(ctx context.Context) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	f.clear()
	return nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read token file: %w", err)
	}
	var rec Record
	if err := jsonx.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode token file %s: %w", f.path, err)
	}
	if !rec.Token.IsZero() {
		f.set(rec)
	}
	return nil
}

var _ Store = (*File)(nil)
