package hashstore_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/DataONEorg/hashstore-go/pkg/digest"
	"github.com/DataONEorg/hashstore-go/pkg/hashstore"
)

func newTestStore(t *testing.T) *hashstore.Store {
	t.Helper()

	root := t.TempDir()

	s, err := hashstore.New(context.Background(), hashstore.Config{
		Path:              root,
		MetadataNamespace: "http://ns.test/v1",
	})
	require.NoError(t, err)

	return s
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:])
}

// Scenario 1: store and retrieve.
func TestStoreObject_StoreAndRetrieve(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("sample dataset bytes")
	wantCid := sha256Hex(content)

	info, err := s.StoreObject(ctx, "jtao.1700.1", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, wantCid, info.Cid)
	assert.Equal(t, int64(len(content)), info.Size)

	found, err := s.FindObject(ctx, "jtao.1700.1")
	require.NoError(t, err)
	assert.Equal(t, wantCid, found.Cid)
	assert.Equal(t, hashstore.FindStatus("OK"), found.Status)

	rc, err := s.RetrieveObject(ctx, "jtao.1700.1")
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, content, got)
}

// Scenario 2: dedup two pids.
func TestStoreObject_DedupTwoPids(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("shared bytes across two identifiers")

	info1, err := s.StoreObject(ctx, "pid.a", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	info2, err := s.StoreObject(ctx, "pid.b", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	assert.Equal(t, info1.Cid, info2.Cid)

	foundA, err := s.FindObject(ctx, "pid.a")
	require.NoError(t, err)
	foundB, err := s.FindObject(ctx, "pid.b")
	require.NoError(t, err)
	assert.Equal(t, foundA.Cid, foundB.Cid)
}

// Scenario 3: checksum mismatch leaves no trace.
func TestStoreObject_ChecksumMismatchLeavesNoTrace(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("some content")

	_, err := s.StoreObject(ctx, "pid.checksum", bytes.NewReader(content), hashstore.StoreObjectOptions{
		Checksum:          "deadbeef",
		ChecksumAlgorithm: digest.SHA256,
	})
	require.ErrorIs(t, err, hashstore.ErrChecksumMismatch)

	_, err = s.FindObject(ctx, "pid.checksum")
	assert.ErrorIs(t, err, hashstore.ErrPidRefsFileNotFound)
}

func TestStoreObject_SizeMismatch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("twelve bytes")
	wrongSize := int64(len(content) + 1)

	_, err := s.StoreObject(ctx, "pid.size", bytes.NewReader(content), hashstore.StoreObjectOptions{
		ObjSize: &wrongSize,
	})
	require.ErrorIs(t, err, hashstore.ErrSizeMismatch)
}

// Scenario 4: verify post-hoc with an altered checksum returns
// ChecksumMismatch and removes the tentative pid↔cid binding.
func TestVerifyObject_ChecksumMismatchUntagsBinding(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("verify me")

	info, err := s.StoreObject(ctx, "pid.verify", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	_, err = s.FindObject(ctx, "pid.verify")
	require.NoError(t, err)

	err = s.VerifyObject(ctx, info, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", digest.SHA256, info.Size)
	require.ErrorIs(t, err, hashstore.ErrChecksumMismatch)

	_, err = s.FindObject(ctx, "pid.verify")
	assert.ErrorIs(t, err, hashstore.ErrPidRefsFileNotFound)
}

// Scenario 4: verify post-hoc with a wrong size also removes the
// tentative binding.
func TestVerifyObject_SizeMismatchUntagsBinding(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("verify me too")

	info, err := s.StoreObject(ctx, "pid.verify.size", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	err = s.VerifyObject(ctx, info, "", digest.SHA256, info.Size+1)
	require.ErrorIs(t, err, hashstore.ErrSizeMismatch)

	_, err = s.FindObject(ctx, "pid.verify.size")
	assert.ErrorIs(t, err, hashstore.ErrPidRefsFileNotFound)
}

// A matching checksum and size leave the binding untouched.
func TestVerifyObject_MatchLeavesBindingIntact(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("verified fine")

	info, err := s.StoreObject(ctx, "pid.verify.ok", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	got, ok := info.HexDigests.Get(digest.SHA256)
	require.True(t, ok)

	err = s.VerifyObject(ctx, info, got, digest.SHA256, info.Size)
	require.NoError(t, err)

	found, err := s.FindObject(ctx, "pid.verify.ok")
	require.NoError(t, err)
	assert.Equal(t, info.Cid, found.Cid)
}

// Scenario: an interrupted tag leaves a pid-refs file pointing at a cid
// whose cid-refs file was never created (spec.md §4.3.1's crash case).
// findObject must detect and repair this exactly as it does for an
// existing-but-incomplete cid-refs file.
func TestFindObject_RepairsMissingCidRefs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	s, err := hashstore.New(context.Background(), hashstore.Config{
		Path:              root,
		MetadataNamespace: "http://ns.test/v1",
	})
	require.NoError(t, err)

	ctx := context.Background()
	content := []byte("crash between pid-refs and cid-refs")

	_, err = s.StoreObject(ctx, "pid.crash", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	cidRefsDir := filepath.Join(root, "refs", "cids")

	var cidRefsFile string

	require.NoError(t, filepath.WalkDir(cidRefsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && cidRefsFile == "" {
			cidRefsFile = path
		}

		return nil
	}))

	require.NotEmpty(t, cidRefsFile, "expected a cid-refs file to exist after StoreObject")
	require.NoError(t, os.Remove(cidRefsFile))

	found, err := s.FindObject(ctx, "pid.crash")
	require.NoError(t, err)
	assert.Equal(t, hashstore.FindStatus("OK"), found.Status)
	assert.FileExists(t, cidRefsFile, "findObject must rewrite the cid-refs file to repair the binding")
}

// Scenario 5: delete one of two.
func TestDeleteObject_DeleteOneOfTwo(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("shared content for deletion test")

	_, err := s.StoreObject(ctx, "pid.a", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)
	_, err = s.StoreObject(ctx, "pid.b", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	require.NoError(t, s.DeleteObject(ctx, "pid.a"))

	_, err = s.FindObject(ctx, "pid.a")
	assert.ErrorIs(t, err, hashstore.ErrPidRefsFileNotFound)

	foundB, err := s.FindObject(ctx, "pid.b")
	require.NoError(t, err)
	assert.Equal(t, hashstore.FindStatus("OK"), foundB.Status)

	rc, err := s.RetrieveObject(ctx, "pid.b")
	require.NoError(t, err)
	_ = rc.Close()
}

func TestDeleteObject_LastPidRemovesObject(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("only one pid refs this")

	_, err := s.StoreObject(ctx, "pid.only", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	require.NoError(t, s.DeleteObject(ctx, "pid.only"))

	_, err = s.RetrieveObject(ctx, "pid.only")
	assert.ErrorIs(t, err, hashstore.ErrPidRefsFileNotFound)
}

func TestDeleteObject_UnknownPidFails(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	err := s.DeleteObject(context.Background(), "never-stored")
	assert.ErrorIs(t, err, hashstore.ErrNotFound)
}

// Scenario 6: metadata round-trip.
func TestMetadata_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	data := []byte("<metadata>science</metadata>")

	docID, err := s.StoreMetadata(ctx, "pid.x", "http://ns/v1", bytes.NewReader(data))
	require.NoError(t, err)
	assert.NotEmpty(t, docID)

	rc, err := s.RetrieveMetadata(ctx, "pid.x", "http://ns/v1")
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	require.NoError(t, s.DeleteMetadata(ctx, "pid.x", ""))

	_, err = s.RetrieveMetadata(ctx, "pid.x", "http://ns/v1")
	assert.ErrorIs(t, err, hashstore.ErrFileNotFound)
}

func TestMetadata_DefaultNamespace(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	data := []byte("default namespace doc")

	_, err := s.StoreMetadata(ctx, "pid.default", "", bytes.NewReader(data))
	require.NoError(t, err)

	rc, err := s.RetrieveMetadata(ctx, "pid.default", "")
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	_ = rc.Close()
	assert.Equal(t, data, got)
}

func TestGetHexDigest_ReturnsComputedAlgorithm(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("hash me several ways")

	_, err := s.StoreObject(ctx, "pid.digest", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	got, err := s.GetHexDigest(ctx, "pid.digest", digest.MD5)
	require.NoError(t, err)
	assert.Len(t, got, 32)

	_, err = s.GetHexDigest(ctx, "pid.digest", digest.SHA512_224)
	assert.ErrorIs(t, err, hashstore.ErrUnsupportedAlgorithm)
}

// P9: concurrent storeObject calls for distinct pids with identical
// content race harmlessly: every call gets the same cid and exactly one
// physical object file exists afterwards.
func TestStoreObject_ConcurrentDifferentPidsSameContentRaceHarmlessly(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("identical content raced across many pids")

	const n = 8

	var g errgroup.Group

	cids := make([]string, n)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			pid := fmt.Sprintf("race-pid-%d", i)

			info, err := s.StoreObject(ctx, pid, bytes.NewReader(content), hashstore.StoreObjectOptions{})
			cids[i] = info.Cid

			return err
		})
	}

	require.NoError(t, g.Wait())

	want := sha256Hex(content)

	for i := 0; i < n; i++ {
		assert.Equal(t, want, cids[i])
	}

	var total int64

	require.NoError(t, s.WalkObjects(ctx, func(cid string, size int64) error {
		total++

		assert.Equal(t, want, cid)

		return nil
	}))
	assert.Equal(t, int64(1), total, "exactly one physical object for identical content")
}

func TestStats_CountsObjectsAndMetadata(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("stats content")

	_, err := s.StoreObject(ctx, "pid.stats", bytes.NewReader(content), hashstore.StoreObjectOptions{})
	require.NoError(t, err)

	_, err = s.StoreMetadata(ctx, "pid.stats", "ns", bytes.NewReader([]byte("doc")))
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.ObjectCount)
	assert.Equal(t, int64(len(content)), st.ObjectBytes)
	assert.Equal(t, int64(1), st.MetadataCount)
}

func TestNew_RejectsRelativePath(t *testing.T) {
	t.Parallel()

	_, err := hashstore.New(context.Background(), hashstore.Config{Path: "relative/path"})
	assert.ErrorIs(t, err, hashstore.ErrPathMustBeAbsolute)
}

func TestNew_ExistingUnmanagedDataFails(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "junk"), []byte("x"), 0o600))

	_, err := hashstore.New(context.Background(), hashstore.Config{Path: root, MetadataNamespace: "http://ns.test/v1"})
	assert.ErrorIs(t, err, hashstore.ErrExistingUnmanagedData)
}

func TestNew_ReopenWithDifferentConfigFails(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	_, err := hashstore.New(context.Background(), hashstore.Config{Path: root, Depth: 3, Width: 2, MetadataNamespace: "http://ns.test/v1"})
	require.NoError(t, err)

	_, err = hashstore.New(context.Background(), hashstore.Config{Path: root, Depth: 2, Width: 2, MetadataNamespace: "http://ns.test/v1"})
	assert.ErrorIs(t, err, hashstore.ErrConfigMismatch)
}

func TestStoreObject_InvalidPid(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, err := s.StoreObject(context.Background(), "has space", bytes.NewReader([]byte("x")), hashstore.StoreObjectOptions{})
	assert.ErrorIs(t, err, hashstore.ErrInvalidPid)

	_, err = s.StoreObject(context.Background(), "", bytes.NewReader([]byte("x")), hashstore.StoreObjectOptions{})
	assert.ErrorIs(t, err, hashstore.ErrInvalidPid)
}
