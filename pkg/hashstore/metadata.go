package hashstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DataONEorg/hashstore-go/pkg/fsutil"
	"github.com/DataONEorg/hashstore-go/pkg/lock"
)

// resolveFormatId applies the store's default metadata namespace
// (spec.md §4.4: "if called without a formatId, the store's default
// metadata namespace from the descriptor is used").
func (s *Store) resolveFormatId(formatId string) string {
	if formatId == "" {
		return s.descriptor.StoreMetadataNamespace
	}

	return formatId
}

// StoreMetadata implements spec.md §4.4's storeMetadata: writes stream
// to metadata/<shard(H(pid))>/<H(pid‖formatId)>, overwriting
// unconditionally. Concurrency is serialized per pid via the
// metadata-doc lock: the lock key is the literal pid, the same key
// deleteSingleMetadata and the bulk clear in DeleteMetadata use, so a
// StoreMetadata for one formatId and a `DeleteMetadata(pid, "")` that
// doesn't know any individual formatId up front can never race on the
// same pid's documents. Returns the metadata document's file name (its
// digest-derived id).
func (s *Store) StoreMetadata(ctx context.Context, pid string, formatId string, r io.Reader) (string, error) {
	formatId = s.resolveFormatId(formatId)

	_, span := tracer.Start(
		ctx,
		"hashstore.StoreMetadata",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pid", pid), attribute.String("format_id", formatId)),
	)
	defer span.End()

	if err := validatePid(pid); err != nil {
		return "", err
	}

	release, err := s.locks.Acquire(ctx, lock.KindMetadata, pid)
	if err != nil {
		return "", err
	}

	defer release()

	path, err := s.layout.metadataPath(pid, formatId)
	if err != nil {
		return "", err
	}

	if _, err := fsutil.WriteAndPublishOverwrite(s.layout.metadataTmp(), path, r); err != nil {
		return "", err
	}

	return filepath.Base(path), nil
}

// RetrieveMetadata implements spec.md §4.4's retrieveMetadata.
func (s *Store) RetrieveMetadata(_ context.Context, pid string, formatId string) (io.ReadCloser, error) {
	formatId = s.resolveFormatId(formatId)

	path, err := s.layout.metadataPath(pid, formatId)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}

		return nil, err
	}

	return f, nil
}

// DeleteMetadata implements spec.md §4.4's deleteMetadata: with
// formatId set, removes the single document; with formatId empty,
// removes every document under the pid's metadata directory.
func (s *Store) DeleteMetadata(ctx context.Context, pid string, formatId string) error {
	_, span := tracer.Start(
		ctx,
		"hashstore.DeleteMetadata",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pid", pid), attribute.String("format_id", formatId)),
	)
	defer span.End()

	if formatId != "" {
		return s.deleteSingleMetadata(ctx, pid, formatId)
	}

	dir, err := s.layout.metadataPidDir(pid)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("hashstore: listing metadata directory %q: %w", dir, err)
	}

	// One pid-wide lock acquisition covers the whole sweep: the bulk
	// path only ever sees digest-derived file names, never the literal
	// formatId each one was stored under, so it cannot take a
	// per-formatId lock. Locking on pid alone matches the key
	// StoreMetadata and deleteSingleMetadata acquire, so this still
	// serializes correctly against them.
	release, err := s.locks.Acquire(ctx, lock.KindMetadata, pid)
	if err != nil {
		return err
	}

	defer release()

	for _, e := range entries {
		err := os.Remove(filepath.Join(dir, e.Name()))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("hashstore: deleting metadata document %q: %w", e.Name(), err)
		}
	}

	fsutil.PruneEmptyDirs(dir, s.layout.metadataDir())

	return nil
}

func (s *Store) deleteSingleMetadata(ctx context.Context, pid, formatId string) error {
	release, err := s.locks.Acquire(ctx, lock.KindMetadata, pid)
	if err != nil {
		return err
	}

	defer release()

	path, err := s.layout.metadataPath(pid, formatId)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("hashstore: deleting metadata document %q: %w", path, err)
	}

	fsutil.PruneEmptyDirs(filepath.Dir(path), s.layout.metadataDir())

	return nil
}
