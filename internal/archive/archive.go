// Package archive moves the entire on-disk data root in and out of zip
// snapshots. Restore swaps the data root's *contents*, never the root
// directory itself: the root is commonly a mounted volume and cannot be
// renamed or recreated.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/klauspost/compress/flate"
)

// restoreGate serializes restores system-wide. The swap phase assumes no
// concurrent writer to the data root, and both the synchronous import path
// and the pull orchestrator funnel through here.
var restoreGate sync.Mutex

// Quiescer releases and reopens any open handles into the data root around
// the swap phase.
type Quiescer interface {
	Quiesce() error
	Resume() error
}

// TransferError is an ordinary restore failure. The data root is unchanged
// for extract-phase failures and fully rolled back for swap-phase failures.
type TransferError struct {
	Phase string
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("restore failed during %s: %v", e.Phase, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// CriticalStateError means the swap failed AND rolling the backup in also
// failed: the data root contents are indeterminate and an operator must
// intervene. Never treated as an ordinary failure.
type CriticalStateError struct {
	SwapErr    error
	RecoverErr error
}

func (e *CriticalStateError) Error() string {
	return fmt.Sprintf("CRITICAL: failed to swap data contents (%v) AND failed to restore backup (%v); data root may be in a mixed state",
		e.SwapErr, e.RecoverErr)
}

// Export packages every file and subdirectory under dataRoot into a zip
// archive, preserving relative paths. Writers are not paused: a concurrent
// write may produce a torn snapshot, which is an accepted limitation.
func Export(dataRoot string, w io.Writer) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	err := filepath.WalkDir(dataRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dataRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := zw.Create(rel + "/")
			return err
		}

		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:   rel,
			Method: zip.Deflate,
		})
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(fw, f)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("failed to archive data root: %w", err)
	}
	return zw.Close()
}

// Restore replaces the contents of dataRoot with the contents of the zip at
// zipPath. Four phases: stage the archive into an isolated temp directory,
// quiesce open handles, swap the data root contents through a temp backup,
// then commit or roll back. Staging and backup directories are removed on
// every exit path.
func Restore(dataRoot, zipPath string, q Quiescer) error {
	restoreGate.Lock()
	defer restoreGate.Unlock()

	// Phase 1: stage. Extraction failures leave the live root untouched.
	// Staged next to the data root so the swap renames stay on one
	// filesystem.
	stagingDir, err := os.MkdirTemp(filepath.Dir(dataRoot), "data_new_")
	if err != nil {
		return &TransferError{Phase: "stage", Err: err}
	}
	defer os.RemoveAll(stagingDir)

	if err := extract(zipPath, stagingDir); err != nil {
		return &TransferError{Phase: "stage", Err: err}
	}

	// Phase 2: quiesce. Open handles into the root would block the moves.
	if q != nil {
		if err := q.Quiesce(); err != nil {
			return &TransferError{Phase: "quiesce", Err: err}
		}
		defer func() {
			if err := q.Resume(); err != nil {
				log.Printf("[Archive] ⚠️ Failed to reopen handles after restore: %v", err)
			}
		}()
	}

	backupDir, err := os.MkdirTemp(filepath.Dir(dataRoot), "data_backup_")
	if err != nil {
		return &TransferError{Phase: "swap", Err: err}
	}
	defer os.RemoveAll(backupDir)

	// Phase 3: swap contents. The root itself is never renamed.
	rootEmptied := false
	swapErr := func() error {
		if err := moveContents(dataRoot, backupDir); err != nil {
			return fmt.Errorf("failed to move current data aside: %w", err)
		}
		rootEmptied = true
		if err := moveContents(stagingDir, dataRoot); err != nil {
			return fmt.Errorf("failed to move new data in: %w", err)
		}
		return nil
	}()

	// Phase 4: commit or roll back.
	if swapErr != nil {
		if recErr := rollback(dataRoot, backupDir, rootEmptied); recErr != nil {
			return &CriticalStateError{SwapErr: swapErr, RecoverErr: recErr}
		}
		return &TransferError{Phase: "swap", Err: swapErr}
	}
	return nil
}

// extract unpacks the zip into dst, rejecting entries that would escape it.
func extract(zipPath, dst string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	cleanDst := filepath.Clean(dst)
	for _, f := range zr.File {
		name := filepath.FromSlash(f.Name)
		target := filepath.Join(dst, name)
		// Join cleans the path; anything with escaping ".." segments or an
		// absolute name lands outside dst after the clean.
		if filepath.IsAbs(name) || (target != cleanDst && !strings.HasPrefix(target, cleanDst+string(os.PathSeparator))) {
			return fmt.Errorf("archive entry escapes extraction dir: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// renameEntry is swappable for fault injection in tests.
var renameEntry = os.Rename

// moveContents moves every top-level entry of src into dst. Rename is the
// fast path; when the two sides live on different filesystems (the data root
// is commonly a mounted volume, while staging and backup dirs sit next to it
// on the host filesystem) rename fails with EXDEV and the entry is copied
// and removed instead.
func moveContents(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		err := renameEntry(from, to)
		if err == nil {
			continue
		}
		if !errors.Is(err, syscall.EXDEV) {
			return err
		}
		if err := copyPath(from, to); err != nil {
			return err
		}
		if err := os.RemoveAll(from); err != nil {
			return err
		}
	}
	return nil
}

// copyPath copies a file or directory tree, preserving file modes.
func copyPath(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode().Perm())
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyPath(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// rollback clears whatever partial new content landed in the data root,
// then moves the backup contents back in. Entries still in the root are only
// cleared when the move-aside phase completed: before that point anything
// left in the root is original data that never reached the backup.
func rollback(dataRoot, backupDir string, rootEmptied bool) error {
	if rootEmptied {
		entries, err := os.ReadDir(dataRoot)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(dataRoot, entry.Name())); err != nil {
				return err
			}
		}
	}
	return moveContents(backupDir, dataRoot)
}
