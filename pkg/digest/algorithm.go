// Package digest implements HashStore's single-pass, multi-algorithm
// hashing pipeline (spec.md §4.6) and the closed set of algorithms the
// store accepts anywhere a caller names one (spec.md §4.5, §6).
//
// Every algorithm in the supported set maps to Go's standard crypto/*
// packages except MD2, which the Go standard library and every dependency
// in the retrieval pack omit (it predates widespread use and isn't carried
// by golang.org/x/crypto either); pkg/digest/md2.go supplies a small
// RFC 1319 implementation in the same style as the stdlib hash
// packages it sits next to.
package digest

import (
	"crypto/md5"  //nolint:gosec // required by the supported-algorithm closed set
	"crypto/sha1" //nolint:gosec // required by the supported-algorithm closed set
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
)

// Algorithm is a canonically-cased algorithm name, e.g. "SHA-256".
// spec.md §6: "the core does not rewrite 'sha256' -> 'SHA-256'; callers
// doing so are responsible," so membership is matched case-sensitively
// against the Supported set.
type Algorithm string

// The closed set of algorithms spec.md §4.5/§6 allows anywhere one is
// named: as the store's primary algorithm, an additionalAlgorithm, or a
// checksumAlgorithm.
const (
	MD2        Algorithm = "MD2"
	MD5        Algorithm = "MD5"
	SHA1       Algorithm = "SHA-1"
	SHA256     Algorithm = "SHA-256"
	SHA384     Algorithm = "SHA-384"
	SHA512     Algorithm = "SHA-512"
	SHA512_224 Algorithm = "SHA-512/224"
	SHA512_256 Algorithm = "SHA-512/256"
)

// Defaults is the canonical default digest set every stored object carries
// (spec.md §3 "HexDigests", §4.6).
var Defaults = []Algorithm{MD5, SHA1, SHA256, SHA384, SHA512}

// Supported is the closed algorithm set of spec.md §4.5.
var Supported = []Algorithm{MD2, MD5, SHA1, SHA256, SHA384, SHA512, SHA512_224, SHA512_256}

// ErrUnsupportedAlgorithm is returned for any algorithm name outside the
// closed Supported set.
var ErrUnsupportedAlgorithm = errors.New("digest: unsupported algorithm")

// IsSupported reports whether a is one of the closed-set algorithm names.
func IsSupported(a Algorithm) bool {
	for _, s := range Supported {
		if s == a {
			return true
		}
	}

	return false
}

// New constructs a fresh hash.Hash for algorithm a, or
// ErrUnsupportedAlgorithm if a is not in the closed set.
func New(a Algorithm) (hash.Hash, error) {
	switch a {
	case MD2:
		return newMD2(), nil
	case MD5:
		return md5.New(), nil //nolint:gosec
	case SHA1:
		return sha1.New(), nil //nolint:gosec
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	case SHA512_224:
		return sha512.New512_224(), nil
	case SHA512_256:
		return sha512.New512_256(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, a)
	}
}
