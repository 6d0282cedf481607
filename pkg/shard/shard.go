// Package shard implements the deterministic digest-to-path mapping HashStore
// uses to bound fan-out per directory (spec.md §4.1). Grounded on the
// teacher's helper.FilePathWithSharding idea (referenced by
// pkg/narinfo/filepath.go and pkg/nar/filepath.go), generalized from the
// teacher's fixed one/two-character split to the configurable depth/width
// split spec.md §4.1 requires.
package shard

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrDigestTooShort is returned when a digest is shorter than depth*width,
// which would otherwise produce empty trailing tokens.
var ErrDigestTooShort = errors.New("shard: digest is shorter than depth*width")

// Layout captures the depth/width pair used to split a digest into a
// directory path.
type Layout struct {
	Depth int
	Width int
}

// Path splits the lower-case hex digest d into up to Depth tokens of Width
// characters each, joined with "/"; if Depth*Width < len(d), a final token
// holds the remainder. Empty tokens are never produced: Path fails with
// ErrDigestTooShort instead of silently truncating, so a caller can't race
// past a misconfigured store onto a flat, unbounded directory.
func (l Layout) Path(d string) (string, error) {
	if l.Depth <= 0 || l.Width <= 0 {
		return "", fmt.Errorf("shard: depth and width must be > 0, got depth=%d width=%d", l.Depth, l.Width)
	}

	need := l.Depth * l.Width
	if len(d) < need {
		return "", fmt.Errorf("%w: %q needs at least %d characters", ErrDigestTooShort, d, need)
	}

	tokens := make([]string, 0, l.Depth+1)

	for i := 0; i < l.Depth; i++ {
		tokens = append(tokens, d[i*l.Width:(i+1)*l.Width])
	}

	if rest := d[need:]; rest != "" {
		tokens = append(tokens, rest)
	}

	return filepath.Join(tokens...), nil
}

// A function that reverses Path back into the original digest is
// intentionally NOT provided: spec.md §4.1 states the scheme "is reversible
// only by hashing, never by parsing the path back into the pid."
