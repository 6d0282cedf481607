package hashstore

import (
	"path/filepath"

	"github.com/DataONEorg/hashstore-go/pkg/digest"
	"github.com/DataONEorg/hashstore-go/pkg/shard"
)

// layout resolves every path spec.md §4.1/§6 names, given the store's
// root directory and its fixed shard Layout.
type layout struct {
	root   string
	shard  shard.Layout
	primary digest.Algorithm
}

func newLayout(root string, depth, width int, primary digest.Algorithm) layout {
	return layout{root: root, shard: shard.Layout{Depth: depth, Width: width}, primary: primary}
}

func (l layout) objectsDir() string  { return filepath.Join(l.root, "objects") }
func (l layout) objectsTmp() string  { return filepath.Join(l.objectsDir(), "tmp") }
func (l layout) metadataDir() string { return filepath.Join(l.root, "metadata") }
func (l layout) metadataTmp() string { return filepath.Join(l.metadataDir(), "tmp") }
func (l layout) refsDir() string     { return filepath.Join(l.root, "refs") }
func (l layout) refsPidsDir() string { return filepath.Join(l.refsDir(), "pids") }
func (l layout) refsCidsDir() string { return filepath.Join(l.refsDir(), "cids") }
func (l layout) refsTmp() string     { return filepath.Join(l.refsDir(), "tmp") }

// objectPath resolves objects/<shard(cid)>.
func (l layout) objectPath(cid string) (string, error) {
	rel, err := l.shard.Path(cid)
	if err != nil {
		return "", err
	}

	return filepath.Join(l.objectsDir(), rel), nil
}

// digestsSidecarPath resolves the SPEC_FULL.md §C digest-sidecar path
// objects/<shard(cid)>.digests.
func (l layout) digestsSidecarPath(cid string) (string, error) {
	objPath, err := l.objectPath(cid)
	if err != nil {
		return "", err
	}

	return objPath + ".digests", nil
}

// pidHash hashes pid with the store's primary algorithm, the H(pid)
// spec.md §4.1 uses throughout for pid-refs and metadata paths.
func (l layout) pidHash(pid string) (string, error) {
	return digest.HexDigestBytes(l.primary, []byte(pid))
}

// pidRefsPath resolves refs/pids/<shard(H(pid))>.
func (l layout) pidRefsPath(pid string) (string, error) {
	h, err := l.pidHash(pid)
	if err != nil {
		return "", err
	}

	rel, err := l.shard.Path(h)
	if err != nil {
		return "", err
	}

	return filepath.Join(l.refsPidsDir(), rel), nil
}

// cidRefsPath resolves refs/cids/<shard(cid)>.
func (l layout) cidRefsPath(cid string) (string, error) {
	rel, err := l.shard.Path(cid)
	if err != nil {
		return "", err
	}

	return filepath.Join(l.refsCidsDir(), rel), nil
}

// metadataPidDir resolves metadata/<shard(H(pid))>, the per-pid
// directory holding one file per formatId.
func (l layout) metadataPidDir(pid string) (string, error) {
	h, err := l.pidHash(pid)
	if err != nil {
		return "", err
	}

	rel, err := l.shard.Path(h)
	if err != nil {
		return "", err
	}

	return filepath.Join(l.metadataDir(), rel), nil
}

// metadataPath resolves metadata/<shard(H(pid))>/<H(pid‖formatId)>.
func (l layout) metadataPath(pid, formatId string) (string, error) {
	dir, err := l.metadataPidDir(pid)
	if err != nil {
		return "", err
	}

	docID, err := digest.HexDigestBytes(l.primary, []byte(pid+formatId))
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, docID), nil
}
