// Package hashstore implements the public API of spec.md: a
// content-addressed object store with a pid↔cid reference-file
// subsystem, a metadata document store, and process-wide per-identifier
// locking, built on pkg/digest, pkg/shard, pkg/descriptor, pkg/fsutil,
// pkg/lock, and pkg/refs.
//
// Grounded on the teacher's pkg/storage/local.Store: a single struct
// holding the store's root path, validated once at construction, with
// every operation opening an otel span and logging through
// zerolog.Ctx(ctx) the way local.Store's methods do.
package hashstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DataONEorg/hashstore-go/pkg/descriptor"
	"github.com/DataONEorg/hashstore-go/pkg/digest"
	"github.com/DataONEorg/hashstore-go/pkg/lock"
)

const otelPackageName = "github.com/DataONEorg/hashstore-go/pkg/hashstore"

//nolint:gochecknoglobals
var tracer trace.Tracer

//nolint:gochecknoinits
func init() {
	tracer = otel.Tracer(otelPackageName)
}

// Config is the caller-supplied configuration compared against (or
// written as) the on-disk descriptor on every New (spec.md §4.5).
type Config struct {
	// Path is the store's root directory. Must be absolute.
	Path string

	// Depth and Width define the shard Layout. Zero means "use
	// descriptor.Defaults' depth/width" (3 and 2). For an existing store
	// the resulting values must equal the recorded ones, or New fails
	// with ErrConfigMismatch.
	Depth int
	Width int

	// Algorithm is the store's primary algorithm, used to compute cid
	// and every H(pid) hash. Empty means "SHA-256".
	Algorithm digest.Algorithm

	// MetadataNamespace is the default formatId used when callers omit
	// one from StoreMetadata/RetrieveMetadata. DeleteMetadata without a
	// formatId removes every document of the pid instead.
	MetadataNamespace string
}

// Store is a single HashStore rooted at one directory. A Store value is
// safe for concurrent use by many goroutines within one process; per
// spec.md §5, exactly one process may write to a given store directory.
type Store struct {
	descriptor descriptor.Descriptor
	layout     layout
	locks      *lock.Registry
}

// ErrPathMustBeAbsolute mirrors the teacher's local.Store validation:
// the store root must be an absolute path.
var ErrPathMustBeAbsolute = errors.New("hashstore: store path must be absolute")

// New validates path, enforces the config invariant guard of spec.md
// §4.5 against path/hashstore.yaml, creates the fixed on-disk layout
// (objects/, metadata/, refs/ and their tmp/ subdirectories), and
// returns a ready Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	_, span := tracer.Start(
		ctx,
		"hashstore.New",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("store_path", cfg.Path)),
	)
	defer span.End()

	if cfg.Path == "" || cfg.Path[0] != '/' {
		return nil, ErrPathMustBeAbsolute
	}

	want := descriptor.Defaults(cfg.Path, cfg.MetadataNamespace)
	if cfg.Depth > 0 {
		want.StoreDepth = cfg.Depth
	}

	if cfg.Width > 0 {
		want.StoreWidth = cfg.Width
	}

	if cfg.Algorithm != "" {
		want.StoreAlgorithm = string(cfg.Algorithm)
	}

	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("hashstore: creating store root %q: %w", cfg.Path, err)
	}

	d, err := descriptor.EnsureInvariant(cfg.Path, want)
	if err != nil {
		switch {
		case errors.Is(err, descriptor.ErrConfigMismatch):
			return nil, fmt.Errorf("%w: %w", ErrConfigMismatch, err)
		case errors.Is(err, descriptor.ErrExistingUnmanagedData):
			return nil, fmt.Errorf("%w: %w", ErrExistingUnmanagedData, err)
		default:
			return nil, err
		}
	}

	s := &Store{
		descriptor: d,
		layout:     newLayout(d.StorePath, d.StoreDepth, d.StoreWidth, digest.Algorithm(d.StoreAlgorithm)),
		locks:      lock.New(),
	}

	if err := s.setupDirs(); err != nil {
		return nil, fmt.Errorf("hashstore: setting up store directories: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("store_path", d.StorePath).
		Int("store_depth", d.StoreDepth).
		Int("store_width", d.StoreWidth).
		Str("store_algorithm", d.StoreAlgorithm).
		Msg("hashstore opened")

	return s, nil
}

func (s *Store) setupDirs() error {
	dirs := []string{
		s.layout.objectsDir(), s.layout.objectsTmp(),
		s.layout.metadataDir(), s.layout.metadataTmp(),
		s.layout.refsPidsDir(), s.layout.refsCidsDir(), s.layout.refsTmp(),
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("error creating the directory %q: %w", d, err)
		}
	}

	return nil
}

// Descriptor returns the store's effective on-disk configuration.
func (s *Store) Descriptor() descriptor.Descriptor { return s.descriptor }

func validatePid(pid string) error {
	if pid == "" {
		return ErrInvalidPid
	}

	for _, r := range pid {
		if unicode.IsSpace(r) {
			return ErrInvalidPid
		}
	}

	return nil
}
