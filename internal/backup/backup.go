// Package backup implements atomic single-file replacement with optional
// numbered backups, per the engine's file-replacement contract: writes
// land in a temp file in the same directory as the target (so the final
// rename is atomic on one filesystem), and a pre-existing file is backed
// up to "<path>.bak" or the smallest free "<path>.bak.<n>" before being
// overwritten.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Replacer stages a rewrite of a single file and either promotes it with
// an atomic rename or discards it, never leaving the original in a
// half-written state.
type Replacer struct {
	target  string
	dir     string
	tmp     *os.File
	tmpPath string
}

// NewReplacer opens a temp file alongside target, ready to receive the
// rewritten content. Callers write to Replacer.File(), then call Commit
// or Discard exactly once.
func NewReplacer(target string) (*Replacer, error) {
	dir := filepath.Dir(target)
	f, err := os.CreateTemp(dir, ".metaclean-tmp-*")
	if err != nil {
		return nil, fmt.Errorf("backup: create temp file in %s: %w", dir, err)
	}
	return &Replacer{target: target, dir: dir, tmp: f, tmpPath: f.Name()}, nil
}

// File returns the writer for the staged replacement content.
func (r *Replacer) File() *os.File { return r.tmp }

// Discard closes and removes the temp file without touching target. Safe
// to call after Commit (no-op) or on any failure path.
func (r *Replacer) Discard() {
	if r.tmp == nil {
		return
	}
	r.tmp.Close()
	os.Remove(r.tmpPath)
	r.tmp = nil
}

// Commit promotes the staged temp file onto target. If withBackup is
// true and target exists, the original is first copied to a free
// "<target>.bak[.N]" backup path before the rename. Returns the backup
// path used, or "" if no backup was made.
func (r *Replacer) Commit(withBackup bool) (backupPath string, err error) {
	if r.tmp == nil {
		return "", fmt.Errorf("backup: replacer already finalized")
	}
	defer func() {
		r.tmp = nil
	}()

	if err := r.tmp.Sync(); err != nil {
		r.tmp.Close()
		os.Remove(r.tmpPath)
		return "", fmt.Errorf("backup: sync temp file: %w", err)
	}
	if err := r.tmp.Close(); err != nil {
		os.Remove(r.tmpPath)
		return "", fmt.Errorf("backup: close temp file: %w", err)
	}

	if withBackup {
		if _, statErr := os.Stat(r.target); statErr == nil {
			backupPath, err = MakeBackup(r.target)
			if err != nil {
				os.Remove(r.tmpPath)
				return "", fmt.Errorf("backup: create backup of %s: %w", r.target, err)
			}
		}
	}

	if err := os.Rename(r.tmpPath, r.target); err != nil {
		os.Remove(r.tmpPath)
		return backupPath, fmt.Errorf("backup: rename temp file onto %s: %w", r.target, err)
	}
	return backupPath, nil
}

// MakeBackup copies path to the first free "<path>.bak" / "<path>.bak.N"
// sibling, preserving mtime and permissions, and returns the backup path.
func MakeBackup(path string) (string, error) {
	dst, err := freeBackupPath(path)
	if err != nil {
		return "", err
	}
	if err := copyPreservingMetadata(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// freeBackupPath returns "<path>.bak" if unused, else "<path>.bak.1",
// "<path>.bak.2", ... — the smallest n >= 1 that does not collide.
func freeBackupPath(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path) + ".bak"

	candidate, err := securejoin.SecureJoin(dir, base)
	if err != nil {
		return "", fmt.Errorf("backup: join backup path: %w", err)
	}
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	for n := 1; ; n++ {
		name := base + "." + strconv.Itoa(n)
		candidate, err := securejoin.SecureJoin(dir, name)
		if err != nil {
			return "", fmt.Errorf("backup: join backup path: %w", err)
		}
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}

// copyPreservingMetadata copies src to dst byte-for-byte and then applies
// src's mtime and permission bits to dst.
func copyPreservingMetadata(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("backup: open source %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("backup: stat source %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("backup: create backup %s: %w", dst, err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("backup: copy content to %s: %w", dst, err)
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("backup: chmod %s: %w", dst, err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("backup: chtimes %s: %w", dst, err)
	}
	return nil
}

// RemoveIfExists deletes path if present, ignoring a not-exist error; an
// empty path is a no-op. It suits removing a pre-created backup after a
// clean that changed nothing; no code in this module calls it.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backup: remove %s: %w", path, err)
	}
	return nil
}
