package hashstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Stats is the store-wide summary SPEC_FULL.md §C adds, generalizing
// the teacher's per-store object/nar counters to HashStore's objects/
// and metadata/ trees.
type Stats struct {
	ObjectCount   int64
	ObjectBytes   int64
	MetadataCount int64
	MetadataBytes int64
}

// Stats walks objects/ and metadata/ and reports counts and total
// sizes. It is read-only and takes no lock; per spec.md §5, reads
// tolerate concurrent writers, so a Stats call may undercount an object
// whose publish is still in flight.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	_, span := tracer.Start(ctx, "hashstore.Stats", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	var st Stats

	err := walkFiles(s.layout.objectsDir(), s.layout.objectsTmp(), func(path string, info fs.FileInfo) error {
		if strings.HasSuffix(path, ".digests") || strings.HasSuffix(path, "_delete") {
			return nil
		}

		st.ObjectCount++
		st.ObjectBytes += info.Size()

		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	err = walkFiles(s.layout.metadataDir(), s.layout.metadataTmp(), func(_ string, info fs.FileInfo) error {
		st.MetadataCount++
		st.MetadataBytes += info.Size()

		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	return st, nil
}

// ObjectVisitor is called by WalkObjects for each object file found.
type ObjectVisitor func(cid string, size int64) error

// WalkObjects enumerates every object file under objects/, generalizing
// the teacher's storage.NarStore Walk method to HashStore's
// content-addressed layout. It is the enumeration primitive SPEC_FULL.md
// §C describes for an offline garbage-collection sweep (spec.md §4.2's
// "object file becomes garbage-collectable by an offline sweep"); the
// sweep's delete decision is an external collaborator.
func (s *Store) WalkObjects(ctx context.Context, fn ObjectVisitor) error {
	_, span := tracer.Start(ctx, "hashstore.WalkObjects", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	return walkFiles(s.layout.objectsDir(), s.layout.objectsTmp(), func(path string, info fs.FileInfo) error {
		if strings.HasSuffix(path, ".digests") || strings.HasSuffix(path, "_delete") {
			return nil
		}

		cid, err := relCid(s.layout.objectsDir(), path)
		if err != nil {
			return err
		}

		return fn(cid, info.Size())
	})
}

// MetadataVisitor is called by WalkMetadata for each metadata document
// found.
type MetadataVisitor func(path string, size int64) error

// WalkMetadata enumerates every metadata document under metadata/.
func (s *Store) WalkMetadata(ctx context.Context, fn MetadataVisitor) error {
	_, span := tracer.Start(ctx, "hashstore.WalkMetadata", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	return walkFiles(s.layout.metadataDir(), s.layout.metadataTmp(), func(path string, info fs.FileInfo) error {
		rel, err := filepath.Rel(s.layout.metadataDir(), path)
		if err != nil {
			return err
		}

		return fn(rel, info.Size())
	})
}

// relCid reconstructs the cid from an object file's path relative to
// objectsDir by stripping the path separators, the inverse of
// shard.Layout.Path's token join.
func relCid(objectsDir, path string) (string, error) {
	rel, err := filepath.Rel(objectsDir, path)
	if err != nil {
		return "", err
	}

	return strings.ReplaceAll(rel, string(filepath.Separator), ""), nil
}

// walkFiles walks root, skipping skipDir entirely, calling fn for every
// regular file.
func walkFiles(root, skipDir string, fn func(path string, info fs.FileInfo) error) error {
	skipDir = filepath.Clean(skipDir)

	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if info.IsDir() {
			if filepath.Clean(path) == skipDir {
				return filepath.SkipDir
			}

			return nil
		}

		return fn(path, info)
	})
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	return err
}
