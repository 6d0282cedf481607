package digest

import (
	"encoding/hex"
	"hash"
	"io"
)

// HexDigests is the per-object digest map spec.md §3 describes: algorithm
// name (canonical dashed casing) to lower-case hex digest.
type HexDigests map[Algorithm]string

// Get returns the digest for a and reports whether it was computed.
func (h HexDigests) Get(a Algorithm) (string, bool) {
	v, ok := h[a]

	return v, ok
}

// Pipeline streams bytes through one hash.Hash per requested algorithm in
// lock-step, per spec.md §4.6 ("A single pass over the stream updates all
// required digest contexts concurrently"). It implements io.Writer so it
// can be composed with io.MultiWriter alongside the destination temp file,
// the way a single io.Copy drives both at once.
type Pipeline struct {
	hashers map[Algorithm]hash.Hash
	written int64
}

// NewPipeline constructs a Pipeline computing algs, always including
// Defaults and coalescing duplicates (spec.md §4.6: "Additional algorithms
// are added to the same pass and coalesced when equal to an algorithm
// already scheduled").
func NewPipeline(algs ...Algorithm) (*Pipeline, error) {
	p := &Pipeline{hashers: make(map[Algorithm]hash.Hash)}

	all := append(append([]Algorithm{}, Defaults...), algs...)

	for _, a := range all {
		if _, ok := p.hashers[a]; ok {
			continue
		}

		h, err := New(a)
		if err != nil {
			return nil, err
		}

		p.hashers[a] = h
	}

	return p, nil
}

// Write updates every scheduled hasher with p and never fails except on a
// hash.Hash implementation that itself violates io.Writer's contract
// (none of the ones New returns do).
func (p *Pipeline) Write(b []byte) (int, error) {
	for _, h := range p.hashers {
		// hash.Hash.Write never returns an error per its documented contract.
		_, _ = h.Write(b) //nolint:errcheck
	}

	p.written += int64(len(b))

	return len(b), nil
}

// Written returns the total number of bytes observed so far.
func (p *Pipeline) Written() int64 { return p.written }

// Sums returns the lower-case hex digest for every scheduled algorithm.
func (p *Pipeline) Sums() HexDigests {
	out := make(HexDigests, len(p.hashers))

	for a, h := range p.hashers {
		out[a] = hex.EncodeToString(h.Sum(nil))
	}

	return out
}

// HexDigest returns the lower-case hex digest for a single algorithm that
// was part of this pipeline.
func (p *Pipeline) HexDigest(a Algorithm) (string, bool) {
	h, ok := p.hashers[a]
	if !ok {
		return "", false
	}

	return hex.EncodeToString(h.Sum(nil)), true
}

// HexDigestOf is a convenience for computing a single digest over a full
// reader without constructing a Pipeline, used for hashing small in-memory
// values like a pid or a (pid, formatId) pair (spec.md §4.1).
func HexDigestOf(a Algorithm, r io.Reader) (string, error) {
	h, err := New(a)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HexDigestBytes hashes an in-memory byte slice with algorithm a.
func HexDigestBytes(a Algorithm, b []byte) (string, error) {
	h, err := New(a)
	if err != nil {
		return "", err
	}

	_, _ = h.Write(b) //nolint:errcheck

	return hex.EncodeToString(h.Sum(nil)), nil
}
