package fsatomic

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Package fsatomic is the single write path for every file this daemon
// persists. All writes go through a temp file in the destination directory
// followed by an atomic rename, so readers (including the OS resolver for
// the hosts file) never observe a half-written file.

// WriteFile atomically replaces the file at path with data.
// The temp file is created in the same directory so the rename cannot
// cross filesystems.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	return nil
}

// SaveJSON marshals v with indentation and writes it atomically.
func SaveJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return WriteFile(path, b, 0o644)
}

// LoadJSON reads path into v. Returns os.ErrNotExist-wrapping errors
// unchanged so callers can treat a missing file as empty state.
func LoadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// SetFlag creates or removes a presence-flag file. The flag's only
// information is its existence; content is a single byte for visibility
// in directory listings.
func SetFlag(path string, on bool) error {
	if on {
		return WriteFile(path, []byte("1"), 0o644)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FlagSet reports whether the presence-flag file exists.
func FlagSet(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CopyFileOnce copies src to dst unless dst already exists. Used for the
// one-time hosts file backup.
func CopyFileOnce(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	b, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return WriteFile(dst, b, 0o644)
}
