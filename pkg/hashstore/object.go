package hashstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DataONEorg/hashstore-go/pkg/descriptor"
	"github.com/DataONEorg/hashstore-go/pkg/digest"
	"github.com/DataONEorg/hashstore-go/pkg/fsutil"
	"github.com/DataONEorg/hashstore-go/pkg/lock"
	"github.com/DataONEorg/hashstore-go/pkg/refs"
)

// ObjectInfo is the immutable tuple spec.md §3 returns from ingestion
// calls.
type ObjectInfo struct {
	Pid        string
	Cid        string
	Size       int64
	HexDigests digest.HexDigests
}

// StoreObjectOptions carries storeObject's optional inputs (spec.md
// §4.2).
type StoreObjectOptions struct {
	AdditionalAlgorithm digest.Algorithm
	Checksum            string
	ChecksumAlgorithm   digest.Algorithm

	// ObjSize, when non-nil, must equal the number of bytes streamed.
	ObjSize *int64
}

// StoreObject implements spec.md §4.2: hash stream in one pass, publish
// under cid if absent (dedup otherwise), then tag pid to cid.
func (s *Store) StoreObject(ctx context.Context, pid string, r io.Reader, opts StoreObjectOptions) (ObjectInfo, error) {
	ctx, span := tracer.Start(
		ctx,
		"hashstore.StoreObject",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pid", pid)),
	)
	defer span.End()

	if err := validatePid(pid); err != nil {
		return ObjectInfo{}, err
	}

	if opts.Checksum != "" && opts.ChecksumAlgorithm == "" {
		return ObjectInfo{}, fmt.Errorf("hashstore: checksumAlgorithm required when checksum is set")
	}

	if opts.ChecksumAlgorithm != "" && !digest.IsSupported(opts.ChecksumAlgorithm) {
		return ObjectInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, opts.ChecksumAlgorithm)
	}

	if opts.AdditionalAlgorithm != "" && !digest.IsSupported(opts.AdditionalAlgorithm) {
		return ObjectInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, opts.AdditionalAlgorithm)
	}

	release, err := s.locks.TryAcquire(lock.KindPid, pid)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: pid %q", ErrRequestInProgress, pid)
	}

	defer release()

	extra := make([]digest.Algorithm, 0, 2)
	if opts.AdditionalAlgorithm != "" {
		extra = append(extra, opts.AdditionalAlgorithm)
	}

	if opts.ChecksumAlgorithm != "" {
		extra = append(extra, opts.ChecksumAlgorithm)
	}

	pipeline, err := digest.NewPipeline(extra...)
	if err != nil {
		return ObjectInfo{}, err
	}

	ingest, err := fsutil.IngestToTemp(s.layout.objectsTmp(), "store-*.tmp", r, pipeline)
	if err != nil {
		return ObjectInfo{}, err
	}

	if opts.ObjSize != nil && *opts.ObjSize != ingest.Written {
		_ = fsutil.DiscardTemp(ingest.TempPath)

		return ObjectInfo{}, fmt.Errorf("%w: expected %d, got %d", ErrSizeMismatch, *opts.ObjSize, ingest.Written)
	}

	sums := pipeline.Sums()

	if opts.Checksum != "" {
		got, _ := sums.Get(opts.ChecksumAlgorithm)
		if !strings.EqualFold(got, opts.Checksum) {
			_ = fsutil.DiscardTemp(ingest.TempPath)

			return ObjectInfo{}, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, opts.Checksum, got)
		}
	}

	cid, _ := sums.Get(s.layout.primary)

	objPath, err := s.layout.objectPath(cid)
	if err != nil {
		_ = fsutil.DiscardTemp(ingest.TempPath)

		return ObjectInfo{}, err
	}

	published, err := fsutil.PublishIfAbsent(ingest.TempPath, objPath)
	if err != nil {
		if errors.Is(err, fsutil.ErrCrossDevice) {
			return ObjectInfo{}, fmt.Errorf("%w: %w", ErrCrossDeviceMove, err)
		}

		return ObjectInfo{}, err
	}

	if published {
		if err := s.writeDigestsSidecar(cid, sums); err != nil {
			return ObjectInfo{}, err
		}
	}

	// A pid already bound to this same cid is deduplication, not an error.
	if err := s.tagObjectLocked(ctx, pid, cid); err != nil && !errors.Is(err, ErrHashStoreRefsAlreadyExist) {
		return ObjectInfo{}, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("pid", pid).
		Str("cid", cid).
		Int64("size", ingest.Written).
		Bool("published", published).
		Msg("object stored")

	return ObjectInfo{Pid: pid, Cid: cid, Size: ingest.Written, HexDigests: sums}, nil
}

func (s *Store) writeDigestsSidecar(cid string, sums digest.HexDigests) error {
	path, err := s.layout.digestsSidecarPath(cid)
	if err != nil {
		return err
	}

	return descriptor.SaveYAML(path, sums)
}

func (s *Store) readDigestsSidecar(cid string) (digest.HexDigests, error) {
	path, err := s.layout.digestsSidecarPath(cid)
	if err != nil {
		return nil, err
	}

	var sums digest.HexDigests
	if err := descriptor.LoadYAML(path, &sums); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}

		return nil, err
	}

	return sums, nil
}

// TagObject implements spec.md §4.3.1. It acquires the cid lock only and
// does not take the pid lock; StoreObject, which already holds the pid
// lock, binds through tagObjectLocked instead.
func (s *Store) TagObject(ctx context.Context, pid, cid string) error {
	_, span := tracer.Start(
		ctx,
		"hashstore.TagObject",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pid", pid), attribute.String("cid", cid)),
	)
	defer span.End()

	release, err := s.locks.Acquire(ctx, lock.KindCid, cid)
	if err != nil {
		return err
	}

	defer release()

	return s.tagObjectUnlocked(pid, cid)
}

// tagObjectLocked is TagObject's body for callers that already hold the
// pid lock (spec.md §4.3: "acquire cid lock in addition to any pid lock
// already held, in the fixed order pid-then-cid").
func (s *Store) tagObjectLocked(ctx context.Context, pid, cid string) error {
	release, err := s.locks.Acquire(ctx, lock.KindCid, cid)
	if err != nil {
		return err
	}

	defer release()

	return s.tagObjectUnlocked(pid, cid)
}

func (s *Store) tagObjectUnlocked(pid, cid string) error {
	pidRefsPath, err := s.layout.pidRefsPath(pid)
	if err != nil {
		return err
	}

	cidRefsPath, err := s.layout.cidRefsPath(cid)
	if err != nil {
		return err
	}

	err = refs.Tag(s.layout.refsTmp(), pidRefsPath, cidRefsPath, pid, cid)

	switch {
	case errors.Is(err, refs.ErrPidAlreadyRefsOtherCid):
		return fmt.Errorf("%w", ErrPidAlreadyRefsOtherCid)
	case errors.Is(err, refs.ErrHashStoreRefsAlreadyExist):
		return fmt.Errorf("%w", ErrHashStoreRefsAlreadyExist)
	default:
		return err
	}
}

// FindStatus mirrors refs.Status under the hashstore package so callers
// need not import pkg/refs directly.
type FindStatus = refs.Status

// FindResult is findObject's return value (spec.md §4.3.2).
type FindResult struct {
	Cid    string
	Status FindStatus
}

// FindObject implements spec.md §4.3.2, including the auto-repair
// rewrite spec.md §9 commits to when the cross-check finds an
// OrphanPid or MissingRefs status left by an interrupted tag; a
// repaired binding is reported as OK.
func (s *Store) FindObject(ctx context.Context, pid string) (FindResult, error) {
	_, span := tracer.Start(
		ctx,
		"hashstore.FindObject",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pid", pid)),
	)
	defer span.End()

	pidRefsPath, err := s.layout.pidRefsPath(pid)
	if err != nil {
		return FindResult{}, err
	}

	cid, err := refs.ReadPidRefs(pidRefsPath)
	if err != nil {
		if errors.Is(err, refs.ErrPidRefsFileNotFound) {
			return FindResult{}, ErrPidRefsFileNotFound
		}

		return FindResult{}, err
	}

	cidRefsPath, err := s.layout.cidRefsPath(cid)
	if err != nil {
		return FindResult{}, err
	}

	objPath, err := s.layout.objectPath(cid)
	if err != nil {
		return FindResult{}, err
	}

	status, err := refs.CheckStatus(cidRefsPath, objPath, pid)
	if err != nil {
		return FindResult{}, err
	}

	// Both StatusOrphanPid and StatusMissingRefs mean the pid-refs file
	// points at a cid whose cid-refs file doesn't list (or doesn't
	// have) the pid — the interrupted-tag crash spec.md §4.3.1 commits
	// to repairing by rewriting the cid-refs file from pid-refs.
	if status == refs.StatusOrphanPid || status == refs.StatusMissingRefs {
		release, lockErr := s.locks.Acquire(ctx, lock.KindCid, cid)
		if lockErr != nil {
			return FindResult{}, lockErr
		}

		repairErr := refs.Repair(s.layout.refsTmp(), cidRefsPath, pid)

		release()

		if repairErr != nil {
			return FindResult{}, repairErr
		}

		status = refs.StatusOK
	}

	return FindResult{Cid: cid, Status: status}, nil
}

// VerifyObject implements spec.md §4.3.3: on a size or checksum
// mismatch it also removes any pid↔cid binding the caller had
// provisionally established for info.Pid/info.Cid (spec.md §8.4
// "Verify post-hoc").
func (s *Store) VerifyObject(ctx context.Context, info ObjectInfo, checksum string, checksumAlgorithm digest.Algorithm, objSize int64) error {
	ctx, span := tracer.Start(
		ctx,
		"hashstore.VerifyObject",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pid", info.Pid), attribute.String("cid", info.Cid)),
	)
	defer span.End()

	if objSize != info.Size {
		s.untagTentativeBinding(ctx, info.Pid, info.Cid)

		return ErrSizeMismatch
	}

	got, ok := info.HexDigests.Get(checksumAlgorithm)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, checksumAlgorithm)
	}

	if !strings.EqualFold(got, checksum) {
		s.untagTentativeBinding(ctx, info.Pid, info.Cid)

		return ErrChecksumMismatch
	}

	return nil
}

// untagTentativeBinding removes the pid↔cid binding VerifyObject's
// caller had provisionally established, tolerating a binding that was
// never actually written (a caller may construct an ObjectInfo and
// verify it without having tagged it). Failure to untag is logged, not
// returned: the caller already has the mismatch error to act on, and
// spec.md does not make verifyObject's return value depend on cleanup
// succeeding.
func (s *Store) untagTentativeBinding(ctx context.Context, pid, cid string) {
	releasePid, err := s.locks.Acquire(ctx, lock.KindPid, pid)
	if err != nil {
		return
	}

	defer releasePid()

	pidRefsPath, err := s.layout.pidRefsPath(pid)
	if err != nil {
		return
	}

	boundCid, err := refs.ReadPidRefs(pidRefsPath)
	if err != nil || boundCid != cid {
		return
	}

	releaseCid, err := s.locks.Acquire(ctx, lock.KindCid, cid)
	if err != nil {
		return
	}

	defer releaseCid()

	cidRefsPath, err := s.layout.cidRefsPath(cid)
	if err != nil {
		return
	}

	objPath, err := s.layout.objectPath(cid)
	if err != nil {
		return
	}

	if err := s.deleteObjectBinding(pidRefsPath, cidRefsPath, objPath, pid); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("pid", pid).Str("cid", cid).
			Msg("failed to remove tentative binding after verify mismatch")
	}
}

// GetHexDigest implements spec.md §6's getHexDigest, resolved per
// SPEC_FULL.md §C against the digest set persisted at ingestion time.
func (s *Store) GetHexDigest(ctx context.Context, pid string, algorithm digest.Algorithm) (string, error) {
	found, err := s.FindObject(ctx, pid)
	if err != nil {
		return "", err
	}

	sums, err := s.readDigestsSidecar(found.Cid)
	if err != nil {
		return "", err
	}

	v, ok := sums.Get(algorithm)
	if !ok {
		return "", fmt.Errorf("%w: %q was not computed for this object", ErrUnsupportedAlgorithm, algorithm)
	}

	return v, nil
}

// RetrieveObject implements spec.md §6's retrieveObject: a read stream
// for pid's bound object. Reads do not take the pid lock (spec.md §5);
// a `_delete`-suffixed object file is treated as absent.
func (s *Store) RetrieveObject(ctx context.Context, pid string) (io.ReadCloser, error) {
	found, err := s.FindObject(ctx, pid)
	if err != nil {
		return nil, err
	}

	objPath, err := s.layout.objectPath(found.Cid)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}

		return nil, err
	}

	return f, nil
}

// DeleteObject implements spec.md §4.3.4: removes the pid↔cid binding
// for pid, and the object file itself once its last pid is removed.
func (s *Store) DeleteObject(ctx context.Context, pid string) error {
	_, span := tracer.Start(
		ctx,
		"hashstore.DeleteObject",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pid", pid)),
	)
	defer span.End()

	releasePid, err := s.locks.Acquire(ctx, lock.KindPid, pid)
	if err != nil {
		return err
	}

	defer releasePid()

	pidRefsPath, err := s.layout.pidRefsPath(pid)
	if err != nil {
		return err
	}

	cid, err := refs.ReadPidRefs(pidRefsPath)
	if err != nil {
		if errors.Is(err, refs.ErrPidRefsFileNotFound) {
			return ErrNotFound
		}

		return err
	}

	releaseCid, err := s.locks.Acquire(ctx, lock.KindCid, cid)
	if err != nil {
		return err
	}

	defer releaseCid()

	cidRefsPath, err := s.layout.cidRefsPath(cid)
	if err != nil {
		return err
	}

	objPath, err := s.layout.objectPath(cid)
	if err != nil {
		return err
	}

	return s.deleteObjectBinding(pidRefsPath, cidRefsPath, objPath, pid)
}

// DeleteObjectByCid implements spec.md §4.3.5: deletes the object and
// its now-empty cid-refs file; a no-op if pids still reference cid.
func (s *Store) DeleteObjectByCid(ctx context.Context, cid string) error {
	_, span := tracer.Start(
		ctx,
		"hashstore.DeleteObjectByCid",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("cid", cid)),
	)
	defer span.End()

	releaseCid, err := s.locks.Acquire(ctx, lock.KindCid, cid)
	if err != nil {
		return err
	}

	defer releaseCid()

	cidRefsPath, err := s.layout.cidRefsPath(cid)
	if err != nil {
		return err
	}

	pids, err := refs.ReadCidRefs(cidRefsPath)
	if err != nil {
		return err
	}

	if len(pids) > 0 {
		return nil
	}

	objPath, err := s.layout.objectPath(cid)
	if err != nil {
		return err
	}

	return s.deleteObjectFile(objPath)
}

// deleteObjectBinding runs the two-phase delete of spec.md §4.3.4 steps
// 3-7 for a single pid, with caller already holding both the pid and
// cid locks.
func (s *Store) deleteObjectBinding(pidRefsPath, cidRefsPath, objPath, pid string) (err error) {
	markedPidRefs, err := fsutil.BeginDelete(pidRefsPath)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = fsutil.RollbackDelete(markedPidRefs, pidRefsPath)
		}
	}()

	_, emptied, err := refs.Untag(s.layout.refsTmp(), cidRefsPath, pid)
	if err != nil {
		return err
	}

	if emptied {
		if delErr := s.deleteObjectFile(objPath); delErr != nil {
			return delErr
		}
	}

	if commitErr := fsutil.CommitDelete(markedPidRefs); commitErr != nil {
		return commitErr
	}

	fsutil.PruneEmptyDirs(filepath.Dir(pidRefsPath), s.layout.refsPidsDir())

	if emptied {
		fsutil.PruneEmptyDirs(filepath.Dir(cidRefsPath), s.layout.refsCidsDir())
	}

	return nil
}

// deleteObjectFile removes the object file via the two-phase rename
// protocol, then removes its digest sidecar directly and prunes empty
// directories.
func (s *Store) deleteObjectFile(objPath string) (err error) {
	markedObj, err := fsutil.BeginDelete(objPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return err
	}

	defer func() {
		if err != nil {
			_ = fsutil.RollbackDelete(markedObj, objPath)
		}
	}()

	if commitErr := fsutil.CommitDelete(markedObj); commitErr != nil {
		return commitErr
	}

	_ = os.Remove(objPath + ".digests")

	fsutil.PruneEmptyDirs(filepath.Dir(objPath), s.layout.objectsDir())

	return nil
}
