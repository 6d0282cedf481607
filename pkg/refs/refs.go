// Package refs implements the pid↔cid reference-file subsystem (spec.md
// §4.3): reading, writing, tagging, and untagging of PidRefsFile and
// CidRefsFile, the orphan statuses §4.3.2 defines, and the auto-repair
// rewrite spec.md §9 commits to for an interrupted tag.
//
// Every write goes through fsutil.WriteAndPublishOverwrite so a crash between
// the two halves of a tag (pid-refs written, cid-refs not yet) leaves
// the filesystem in one of the states spec.md §4.3.1's crash-consistency
// note describes, rather than a torn file.
package refs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DataONEorg/hashstore-go/pkg/fsutil"
)

// Status summarizes the cross-check findObject performs between a
// pid-refs file, its cid-refs file, and the object file (spec.md
// §4.3.2).
type Status string

const (
	// StatusOK means pid-refs, cid-refs, and the object file all agree.
	StatusOK Status = "OK"

	// StatusOrphanPid means the pid-refs file points at a cid whose
	// cid-refs file exists but does not list the pid (a missing cid-refs
	// file is StatusMissingRefs).
	StatusOrphanPid Status = "OrphanPid"

	// StatusOrphanRefs means both refs files agree but the object file
	// they point to is missing.
	StatusOrphanRefs Status = "OrphanRefs"

	// StatusMissingRefs means the pid-refs file exists but the cid-refs
	// file it names does not exist at all.
	StatusMissingRefs Status = "MissingRefs"
)

var (
	// ErrPidRefsFileNotFound is returned by ReadPidRefs when no pid-refs
	// file exists for the pid.
	ErrPidRefsFileNotFound = errors.New("refs: pid-refs file not found")

	// ErrPidAlreadyRefsOtherCid is returned by Tag when the pid is
	// already bound to a different cid.
	ErrPidAlreadyRefsOtherCid = errors.New("refs: pid already refs a different cid")

	// ErrHashStoreRefsAlreadyExist is returned by Tag when both the
	// pid-refs and cid-refs sides already fully reflect the requested
	// binding.
	ErrHashStoreRefsAlreadyExist = errors.New("refs: pid/cid binding already exists")
)

// ReadPidRefs returns the single cid recorded at path, or
// ErrPidRefsFileNotFound if the file does not exist.
func ReadPidRefs(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrPidRefsFileNotFound
		}

		return "", fmt.Errorf("refs: reading pid-refs %q: %w", path, err)
	}

	return strings.TrimSpace(string(b)), nil
}

// WritePidRefs writes cid as the sole line of the pid-refs file at path,
// via tmp-and-rename under tmpDir.
func WritePidRefs(tmpDir, path, cid string) error {
	_, err := fsutil.WriteAndPublishOverwrite(tmpDir, path, strings.NewReader(cid+"\n"))

	return err
}

// ReadCidRefs returns the ordered, de-duplicated set of pids recorded at
// path. A missing file is reported as an empty slice with no error,
// since an absent cid-refs file is itself meaningful state (spec.md
// invariant 3: "a CidRefsFile with zero pids must not exist").
func ReadCidRefs(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("refs: reading cid-refs %q: %w", path, err)
	}

	var pids []string

	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if _, ok := seen[line]; ok {
			continue
		}

		seen[line] = struct{}{}

		pids = append(pids, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("refs: scanning cid-refs %q: %w", path, err)
	}

	return pids, nil
}

// WriteCidRefs writes pids, one per line in the given order, to path via
// tmp-and-rename. If pids is empty, the cid-refs file is removed instead
// (invariant 3).
func WriteCidRefs(tmpDir, path string, pids []string) error {
	if len(pids) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("refs: removing emptied cid-refs %q: %w", path, err)
		}

		return nil
	}

	var buf bytes.Buffer

	for _, pid := range pids {
		buf.WriteString(pid)
		buf.WriteByte('\n')
	}

	_, err := fsutil.WriteAndPublishOverwrite(tmpDir, path, bytes.NewReader(buf.Bytes()))

	return err
}

// containsPid reports whether pid is present in pids.
func containsPid(pids []string, pid string) bool {
	for _, p := range pids {
		if p == pid {
			return true
		}
	}

	return false
}

// Tag implements tagObject's reference-file half (spec.md §4.3.1): the
// caller has already established the object file for cid exists and
// holds the cid lock. Tag writes pidRefsPath (if not already correct)
// and adds pid to cidRefsPath (if not already present), in that order,
// so a crash between the two writes leaves an orphan pid-refs file
// rather than a dangling cid-refs entry.
func Tag(tmpDir, pidRefsPath, cidRefsPath, pid, cid string) error {
	existingCid, err := ReadPidRefs(pidRefsPath)

	pidSideJustWritten := false

	switch {
	case errors.Is(err, ErrPidRefsFileNotFound):
		if err := WritePidRefs(tmpDir, pidRefsPath, cid); err != nil {
			return err
		}

		pidSideJustWritten = true
	case err != nil:
		return err
	case existingCid == cid:
		// pid-refs already correctly points at cid; nothing to write.
	case existingCid != cid:
		return fmt.Errorf("%w: pid refs %q, requested %q", ErrPidAlreadyRefsOtherCid, existingCid, cid)
	}

	pids, err := ReadCidRefs(cidRefsPath)
	if err != nil {
		return err
	}

	if containsPid(pids, pid) {
		if !pidSideJustWritten {
			// Both sides already reflected this binding before this call.
			return ErrHashStoreRefsAlreadyExist
		}

		return nil
	}

	return WriteCidRefs(tmpDir, cidRefsPath, append(pids, pid))
}

// Untag removes pid from the cid-refs file at cidRefsPath, returning the
// resulting pid set and whether it is now empty (the caller must then
// delete the object file per spec.md §4.3.4 step 5).
func Untag(tmpDir, cidRefsPath, pid string) (remaining []string, emptied bool, err error) {
	pids, err := ReadCidRefs(cidRefsPath)
	if err != nil {
		return nil, false, err
	}

	out := make([]string, 0, len(pids))

	for _, p := range pids {
		if p != pid {
			out = append(out, p)
		}
	}

	if err := WriteCidRefs(tmpDir, cidRefsPath, out); err != nil {
		return nil, false, err
	}

	return out, len(out) == 0, nil
}

// CheckStatus performs the findObject cross-check of spec.md §4.3.2
// given the cid-refs and object file paths and the pid expected to be a
// member of the cid-refs file.
func CheckStatus(cidRefsPath, objectPath, pid string) (Status, error) {
	pids, err := ReadCidRefs(cidRefsPath)
	if err != nil {
		return "", err
	}

	if pids == nil {
		return StatusMissingRefs, nil
	}

	if !containsPid(pids, pid) {
		return StatusOrphanPid, nil
	}

	if _, err := os.Stat(objectPath); err != nil {
		if os.IsNotExist(err) {
			return StatusOrphanRefs, nil
		}

		return "", fmt.Errorf("refs: checking object file %q: %w", objectPath, err)
	}

	return StatusOK, nil
}

// Repair rewrites the cid-refs file at cidRefsPath to include pid,
// implementing the auto-repair spec.md §9 commits to when findObject
// discovers an OrphanPid or MissingRefs condition left by an interrupted
// tag. A missing cid-refs file is created with pid as its only line.
func Repair(tmpDir, cidRefsPath, pid string) error {
	pids, err := ReadCidRefs(cidRefsPath)
	if err != nil {
		return err
	}

	if containsPid(pids, pid) {
		return nil
	}

	return WriteCidRefs(tmpDir, cidRefsPath, append(pids, pid))
}

// TmpDirFor returns the refs/tmp/ directory used by WriteAndPublishOverwrite,
// given the refs root (the directory containing pids/ and cids/).
func TmpDirFor(refsRoot string) string {
	return filepath.Join(refsRoot, "tmp")
}
