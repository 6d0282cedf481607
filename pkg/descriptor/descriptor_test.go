package descriptor_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataONEorg/hashstore-go/pkg/descriptor"
)

func TestEnsureInvariant_FreshStoreWritesDescriptor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	want := descriptor.Defaults(root, "http://www.ns.test/v1")

	got, err := descriptor.EnsureInvariant(root, want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	loaded, err := descriptor.Load(filepath.Join(root, descriptor.FileName))
	require.NoError(t, err)
	assert.Equal(t, want, loaded)
}

func TestEnsureInvariant_MatchingReinstantiationSucceeds(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	want := descriptor.Defaults(root, "http://www.ns.test/v1")

	_, err := descriptor.EnsureInvariant(root, want)
	require.NoError(t, err)

	got, err := descriptor.EnsureInvariant(root, want)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEnsureInvariant_MismatchFails(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	want := descriptor.Defaults(root, "http://www.ns.test/v1")

	_, err := descriptor.EnsureInvariant(root, want)
	require.NoError(t, err)

	other := want
	other.StoreDepth = 2

	_, err = descriptor.EnsureInvariant(root, other)
	assert.ErrorIs(t, err, descriptor.ErrConfigMismatch)
}

func TestEnsureInvariant_ExistingUnmanagedDataFails(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "leftover.txt"), []byte("not managed by hashstore"), 0o600))

	_, err := descriptor.EnsureInvariant(root, descriptor.Defaults(root, "http://www.ns.test/v1"))
	assert.ErrorIs(t, err, descriptor.ErrExistingUnmanagedData)
}

func TestDescriptor_ValidateRejectsBadFields(t *testing.T) {
	t.Parallel()

	base := descriptor.Defaults("/tmp/store", "ns")

	cases := []struct {
		name    string
		mutator func(d *descriptor.Descriptor)
	}{
		{"empty path", func(d *descriptor.Descriptor) { d.StorePath = "" }},
		{"zero depth", func(d *descriptor.Descriptor) { d.StoreDepth = 0 }},
		{"zero width", func(d *descriptor.Descriptor) { d.StoreWidth = 0 }},
		{"bad algorithm", func(d *descriptor.Descriptor) { d.StoreAlgorithm = "sha256" }},
		{"empty namespace", func(d *descriptor.Descriptor) { d.StoreMetadataNamespace = "" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := base
			tc.mutator(&d)
			assert.Error(t, d.Validate())
		})
	}
}
