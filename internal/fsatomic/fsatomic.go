// Package fsatomic persists small state files so that a reader only ever sees
// the previous complete contents or the new complete contents.
package fsatomic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ErrCorrupt is returned by LoadJSON when the file exists but does not decode.
var ErrCorrupt = errors.New("fsatomic: corrupt file")

// WriteFile replaces path with data. The bytes go to path+".tmp" first, are
// fsynced, and are renamed over path; the parent directory is synced around
// the rename. On failure the temp file is removed and path is untouched.
// If perm is 0, 0600 is used.
func WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0o600
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := fsyncDir(dir); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return fsyncDir(dir)
}

// SaveJSON writes v as indented JSON with a trailing newline via WriteFile.
func SaveJSON(ctx context.Context, path string, v any, perm fs.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFile(ctx, path, append(b, '\n'), perm)
}

// LoadJSON decodes path into v. It reports exists=false when the file is
// missing, and wraps ErrCorrupt when the contents do not decode. A stale
// path+".tmp" left by an interrupted write is removed first.
func LoadJSON(path string, v any) (bool, error) {
	_ = os.Remove(path + ".tmp")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return true, fmt.Errorf("%w: %s is empty", ErrCorrupt, path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return true, nil
}

// WithLock runs fn while holding an exclusive advisory lock on path+".lock".
func WithLock(path string, fn func() error) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	unlock, err := lockExclusive(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// rename retries briefly on Windows, where a destination held open by a
// reader makes the rename fail transiently.
func rename(from, to string) error {
	if runtime.GOOS != "windows" {
		return os.Rename(from, to)
	}
	var err error
	for i := 0; i < 5; i++ {
		if err = os.Rename(from, to); err == nil {
			return nil
		}
		_ = os.Remove(to)
		time.Sleep(time.Duration(10*(i+1)) * time.Millisecond)
	}
	return fmt.Errorf("rename %s: %w", to, err)
}

func fsyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
