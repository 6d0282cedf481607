// Package descriptor implements the store's config invariant guard
// (spec.md §4.5): the on-disk hashstore.yaml descriptor that pins depth,
// width, algorithm, and namespace for the life of the store, and the
// comparison that refuses to start a store whose caller-supplied
// configuration disagrees with what was recorded on first run.
//
// spec.md §1 treats "configuration file serialization... only as a
// declarative invariant check" — there is deliberately no schema
// migration, no partial-update API, and no file watcher here, just
// load/compare/save. Encoding uses gopkg.in/yaml.v3, the same codec the
// teacher's cli-altsrc config-file sourcing pulls in.
package descriptor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/DataONEorg/hashstore-go/pkg/digest"
)

// FileName is the descriptor's fixed file name at the store root.
const FileName = "hashstore.yaml"

var (
	// ErrConfigMismatch is returned when an existing descriptor disagrees
	// with the caller-supplied configuration (spec.md invariant 6).
	ErrConfigMismatch = errors.New("descriptor: on-disk configuration does not match the requested configuration")

	// ErrExistingUnmanagedData is returned when the store root has files
	// but no descriptor (spec.md §4.5).
	ErrExistingUnmanagedData = errors.New("descriptor: store root contains data but no hashstore.yaml")
)

// Descriptor is the exact-keys record spec.md §6 defines.
type Descriptor struct {
	StorePath              string `yaml:"store_path"`
	StoreDepth             int    `yaml:"store_depth"`
	StoreWidth             int    `yaml:"store_width"`
	StoreAlgorithm         string `yaml:"store_algorithm"`
	StoreMetadataNamespace string `yaml:"store_metadata_namespace"`
}

// Defaults per spec.md §6: depth 3, width 2, algorithm "SHA-256".
func Defaults(storePath, metadataNamespace string) Descriptor {
	return Descriptor{
		StorePath:              storePath,
		StoreDepth:             3,
		StoreWidth:             2,
		StoreAlgorithm:         string(digest.SHA256),
		StoreMetadataNamespace: metadataNamespace,
	}
}

// Validate checks the structural requirements spec.md places on a
// descriptor, independent of whether one already exists on disk.
func (d Descriptor) Validate() error {
	if d.StorePath == "" {
		return fmt.Errorf("descriptor: store_path must not be empty")
	}

	if d.StoreDepth <= 0 {
		return fmt.Errorf("descriptor: store_depth must be > 0, got %d", d.StoreDepth)
	}

	if d.StoreWidth <= 0 {
		return fmt.Errorf("descriptor: store_width must be > 0, got %d", d.StoreWidth)
	}

	if !digest.IsSupported(digest.Algorithm(d.StoreAlgorithm)) {
		return fmt.Errorf("descriptor: %w: %q", digest.ErrUnsupportedAlgorithm, d.StoreAlgorithm)
	}

	if d.StoreMetadataNamespace == "" {
		return fmt.Errorf("descriptor: store_metadata_namespace must not be empty")
	}

	return nil
}

// EnsureInvariant implements spec.md §4.5 end to end: if hashstore.yaml
// exists at root, every field must equal want or ErrConfigMismatch is
// returned; if absent, root must contain no other files or
// ErrExistingUnmanagedData is returned, after which want is written and
// returned. The returned Descriptor is always the one now in effect.
func EnsureInvariant(root string, want Descriptor) (Descriptor, error) {
	if err := want.Validate(); err != nil {
		return Descriptor{}, err
	}

	path := filepath.Join(root, FileName)

	existing, err := Load(path)
	if err == nil {
		if existing != want {
			return Descriptor{}, fmt.Errorf("%w: on-disk=%+v requested=%+v", ErrConfigMismatch, existing, want)
		}

		return existing, nil
	}

	if !os.IsNotExist(err) {
		return Descriptor{}, err
	}

	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		return Descriptor{}, fmt.Errorf("descriptor: reading store root: %w", err)
	}

	if len(entries) > 0 {
		return Descriptor{}, ErrExistingUnmanagedData
	}

	if err := Save(path, want); err != nil {
		return Descriptor{}, err
	}

	return want, nil
}

// Load reads and parses a Descriptor from path.
func Load(path string) (Descriptor, error) {
	var d Descriptor

	b, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}

	if err := yaml.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("descriptor: parsing %q: %w", path, err)
	}

	return d, nil
}

// Save writes d to path, creating parent directories as needed.
func Save(path string, d Descriptor) error {
	return SaveYAML(path, d)
}

// SaveYAML marshals v as YAML and writes it to path directly, not via
// fsutil's tmp-and-rename publisher, so a crash mid-write can leave a
// partial file. Both the descriptor and the object digest sidecar are
// written with it.
func SaveYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("descriptor: creating directory for %q: %w", path, err)
	}

	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("descriptor: encoding: %w", err)
	}

	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("descriptor: writing %q: %w", path, err)
	}

	return nil
}

// LoadYAML reads and unmarshals the YAML document at path into v.
func LoadYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("descriptor: parsing %q: %w", path, err)
	}

	return nil
}
