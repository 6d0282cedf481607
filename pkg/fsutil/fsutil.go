// Package fsutil implements the crash-consistent file operations the
// store builds its write and delete paths on: write-to-temp-then-rename
// for publish (spec.md §4.2, §5 "atomicity of object/metadata writes"),
// and a two-phase rename-then-remove protocol for delete (spec.md §5
// "crash during delete leaves the store in a recoverable state").
//
// Both are grounded on the teacher's pkg/storage/local.Store.PutNar:
// os.CreateTemp under a tmp directory, io.Copy, close, os.Rename into
// place. fsutil generalizes that pattern to arbitrary destinations and
// adds the reverse (delete) side, which the teacher's store never
// needed because it never deletes objects out from under live readers.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
)

// ErrCrossDevice is returned when tmpDir and the publish destination do
// not share a filesystem, so os.Rename cannot be atomic (spec.md §4.2:
// "the temporary file and the final path must reside on the same
// filesystem for the rename to be atomic").
var ErrCrossDevice = errors.New("fsutil: temp directory and destination must be on the same filesystem")

// PublishResult carries what WriteAndPublish observed while streaming r
// to dst, for callers that need to do work (e.g. record a digest) with
// what was written without re-opening the file.
type PublishResult struct {
	// Written is the number of bytes copied from r.
	Written int64
}

// WriteAndPublish streams r into a temp file under tmpDir, runs through,
// closes, and atomically renames it to dst, creating dst's parent
// directory as needed. through, when non-nil, is also given every byte
// written (e.g. a digest.Pipeline) before the temp file is finalized.
//
// If dst already exists, WriteAndPublish returns os.ErrExist without
// touching it; callers wanting overwrite semantics must remove dst
// first under the appropriate lock.
func WriteAndPublish(tmpDir, dst string, r io.Reader, through io.Writer) (PublishResult, error) {
	if _, err := os.Stat(dst); err == nil {
		return PublishResult{}, fmt.Errorf("fsutil: %q: %w", dst, os.ErrExist)
	}

	return writeAndPublish(tmpDir, dst, r, through)
}

// WriteAndPublishOverwrite behaves like WriteAndPublish but replaces dst
// if it already exists, for callers that own dst's write serialization
// themselves (e.g. the refs subsystem rewriting a cid-refs file under
// the cid lock).
func WriteAndPublishOverwrite(tmpDir, dst string, r io.Reader) (PublishResult, error) {
	return writeAndPublish(tmpDir, dst, r, nil)
}

func writeAndPublish(tmpDir, dst string, r io.Reader, through io.Writer) (PublishResult, error) {
	if err := os.MkdirAll(tmpDir, 0o700); err != nil {
		return PublishResult{}, fmt.Errorf("fsutil: creating temp directory %q: %w", tmpDir, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return PublishResult{}, fmt.Errorf("fsutil: creating directory for %q: %w", dst, err)
	}

	// The uuid component gives refs/tmp and metadata/tmp entries
	// caller-independent uniqueness beyond os.CreateTemp's own random
	// suffix, since many distinct (pid, formatId)/(pid, cid) writers can
	// share the same destination base name across concurrent calls.
	f, err := os.CreateTemp(tmpDir, filepath.Base(dst)+"-"+uuid.NewString()+"-*.tmp")
	if err != nil {
		return PublishResult{}, fmt.Errorf("fsutil: creating temp file under %q: %w", tmpDir, err)
	}

	dest := io.Writer(f)
	if through != nil {
		dest = io.MultiWriter(f, through)
	}

	written, copyErr := io.Copy(dest, r)
	if copyErr != nil {
		f.Close()
		os.Remove(f.Name())

		return PublishResult{}, fmt.Errorf("fsutil: writing temp file: %w", copyErr)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())

		return PublishResult{}, fmt.Errorf("fsutil: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())

		return PublishResult{}, fmt.Errorf("fsutil: closing temp file: %w", err)
	}

	if err := os.Rename(f.Name(), dst); err != nil {
		os.Remove(f.Name())

		if isCrossDevice(err) {
			return PublishResult{}, fmt.Errorf("%w: %s -> %s", ErrCrossDevice, f.Name(), dst)
		}

		return PublishResult{}, fmt.Errorf("fsutil: publishing %q: %w", dst, err)
	}

	return PublishResult{Written: written}, nil
}

// IngestResult is what IngestToTemp observed while streaming into a
// temp file whose final, content-addressed destination is not known
// until after hashing (spec.md §4.2 steps 3-5).
type IngestResult struct {
	TempPath string
	Written  int64
}

// IngestToTemp streams r into a fresh temp file under tmpDir, also
// writing every byte to through (typically a digest.Pipeline), and
// fsyncs and closes it without renaming anywhere yet, since the object
// store does not know the final cid-derived path until the pipeline has
// seen the whole stream. On any error the temp file is removed.
func IngestToTemp(tmpDir, namePattern string, r io.Reader, through io.Writer) (IngestResult, error) {
	if err := os.MkdirAll(tmpDir, 0o700); err != nil {
		return IngestResult{}, fmt.Errorf("fsutil: creating temp directory %q: %w", tmpDir, err)
	}

	f, err := os.CreateTemp(tmpDir, namePattern)
	if err != nil {
		return IngestResult{}, fmt.Errorf("fsutil: creating temp file under %q: %w", tmpDir, err)
	}

	dest := io.Writer(f)
	if through != nil {
		dest = io.MultiWriter(f, through)
	}

	written, copyErr := io.Copy(dest, r)
	if copyErr != nil {
		f.Close()
		os.Remove(f.Name())

		return IngestResult{}, fmt.Errorf("fsutil: writing temp file: %w", copyErr)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())

		return IngestResult{}, fmt.Errorf("fsutil: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())

		return IngestResult{}, fmt.Errorf("fsutil: closing temp file: %w", err)
	}

	return IngestResult{TempPath: f.Name(), Written: written}, nil
}

// DiscardTemp removes a temp file produced by IngestToTemp that will
// not be published, e.g. on checksum/size mismatch.
func DiscardTemp(tempPath string) error {
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsutil: discarding temp file %q: %w", tempPath, err)
	}

	return nil
}

// PublishIfAbsent renames tempPath to dst if dst does not already
// exist, creating dst's parent directory as needed; otherwise it
// discards tempPath (spec.md §4.2 step 9: "the object already present;
// this is deduplication, not an error"). It reports whether this call
// performed the publish.
func PublishIfAbsent(tempPath, dst string) (published bool, err error) {
	if _, statErr := os.Stat(dst); statErr == nil {
		return false, DiscardTemp(tempPath)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		_ = DiscardTemp(tempPath)

		return false, fmt.Errorf("fsutil: creating directory for %q: %w", dst, err)
	}

	if err := os.Rename(tempPath, dst); err != nil {
		if os.IsExist(err) {
			_ = DiscardTemp(tempPath)

			return false, nil
		}

		_ = DiscardTemp(tempPath)

		if isCrossDevice(err) {
			return false, fmt.Errorf("%w: %s -> %s", ErrCrossDevice, tempPath, dst)
		}

		return false, fmt.Errorf("fsutil: publishing %q: %w", dst, err)
	}

	return true, nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError

	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

// deleteSuffix marks a path mid-deletion, so a crash between the two
// delete phases leaves unambiguous evidence of which state the store
// was in (spec.md §5).
const deleteSuffix = "_delete"

// BeginDelete renames path to path+"_delete", the first of the two
// phases of a crash-safe delete. It returns the renamed path. If path
// does not exist, it returns os.ErrNotExist.
func BeginDelete(path string) (string, error) {
	marked := path + deleteSuffix

	if err := os.Rename(path, marked); err != nil {
		return "", fmt.Errorf("fsutil: marking %q for deletion: %w", path, err)
	}

	return marked, nil
}

// CommitDelete removes the marked path produced by BeginDelete, the
// second and final phase of a crash-safe delete.
func CommitDelete(marked string) error {
	if err := os.Remove(marked); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsutil: removing %q: %w", marked, err)
	}

	return nil
}

// RollbackDelete reverses BeginDelete, renaming marked back to its
// original path. Used when a step between BeginDelete and CommitDelete
// fails and the object must remain retrievable.
func RollbackDelete(marked, original string) error {
	if err := os.Rename(marked, original); err != nil {
		return fmt.Errorf("fsutil: rolling back delete of %q: %w", original, err)
	}

	return nil
}

// ResumeInterruptedDelete finds a lingering path+"_delete" artifact
// left by a crash between BeginDelete and CommitDelete, and completes
// the deletion. It is a no-op, returning false, if no such artifact
// exists.
func ResumeInterruptedDelete(path string) (bool, error) {
	marked := path + deleteSuffix

	if _, err := os.Stat(marked); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("fsutil: checking %q: %w", marked, err)
	}

	return true, CommitDelete(marked)
}

// PruneEmptyDirs removes dir and then each empty parent up to but not
// including stopAt, tolerating a directory becoming non-empty under a
// concurrent writer (spec.md §4.4: "directory pruning is best-effort and
// must never fail or block an operation").
func PruneEmptyDirs(dir, stopAt string) {
	stopAt = filepath.Clean(stopAt)

	for {
		dir = filepath.Clean(dir)
		if dir == stopAt || dir == "." || dir == string(filepath.Separator) {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}

		if len(entries) > 0 {
			return
		}

		if err := os.Remove(dir); err != nil {
			return
		}

		dir = filepath.Dir(dir)
	}
}
