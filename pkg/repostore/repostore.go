// Package repostore maps a repository segment from a URL to an on-disk
// bare git directory, rejecting any path that would escape the configured
// base directory.
package repostore

import (
	"errors"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrNotFound is returned when the repository segment does not resolve to
// an existing directory under the base, whether because it doesn't exist
// or because it attempted to escape the base via "..", an absolute
// segment, or a symlink.
var ErrNotFound = errors.New("repostore: repository not found")

// Resolver maps repository segments to directories under a fixed base.
type Resolver struct {
	base string
}

// NewResolver canonicalises base once at construction; base must exist.
func NewResolver(base string) (*Resolver, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &Resolver{base: real}, nil
}

// Resolve returns the canonical absolute directory for segment, or
// ErrNotFound if it does not exist or would resolve outside the base.
// securejoin.SecureJoin resolves ".." and symlink components the same way
// the kernel would when the path is eventually opened, so a symlink
// planted inside the base that points outside it is rejected just as a
// literal ".." segment would be.
func (r *Resolver) Resolve(segment string) (string, error) {
	joined, err := securejoin.SecureJoin(r.base, segment)
	if err != nil {
		return "", ErrNotFound
	}

	// SecureJoin clamps a bare ".." (or ".", or "") to the base itself
	// instead of erroring, so a traversal-only segment would otherwise
	// resolve to the base directory rather than 404.
	if joined == r.base {
		return "", ErrNotFound
	}

	info, err := os.Stat(joined)
	if err != nil || !info.IsDir() {
		return "", ErrNotFound
	}

	return joined, nil
}

// Base returns the resolver's canonical base directory.
func (r *Resolver) Base() string {
	return r.base
}
