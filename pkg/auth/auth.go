// Package auth implements the policy-file-backed authenticator (C4):
// deciding a request's (may_read, may_write) pair from an Authorization
// header and a loaded access policy.
package auth

import (
	"encoding/base64"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/ini.v1"
)

// Permissions is the (may_read, may_write) pair C4 decides per request.
type Permissions struct {
	MayRead  bool
	MayWrite bool
}

// PublicReadOnly is returned for any request the authenticator cannot
// positively identify: absent credentials, malformed Basic auth, unknown
// user, or a bad password. may_read is always true; only may_write is
// ever conditional, mirroring the original's "whether may_read can ever be
// false is unclear" note.
var PublicReadOnly = Permissions{MayRead: true, MayWrite: false}

// Policy holds the parsed access-control file: a [users] section mapping
// username to password (plaintext or bcrypt hash depending on mode), and
// an [access] section mapping username to a comma-separated allow-list of
// repository segments grantable for write.
type Policy struct {
	mu              sync.RWMutex
	users           map[string]string
	access          map[string][]string
	legacyPlaintext bool
}

// LoadPolicy parses an INI file at path. legacyPlaintext selects whether
// stored passwords are compared by byte-equality (drop-in compatible with
// the original plaintext format) or as bcrypt hashes (the new default,
// per the REDESIGN FLAG resolving the source's open question about
// plaintext passwords).
func LoadPolicy(path string, legacyPlaintext bool) (*Policy, error) {
	p := &Policy{legacyPlaintext: legacyPlaintext}
	if err := p.reload(path); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads path and atomically swaps in the new policy, without
// disturbing in-flight requests using the old one or changing the
// Authenticate contract — the reload hook Design Notes calls for.
func (p *Policy) Reload(path string) error {
	return p.reload(path)
}

func (p *Policy) reload(path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}

	users := make(map[string]string)
	if sec, err := cfg.GetSection("users"); err == nil {
		for _, key := range sec.Keys() {
			users[key.Name()] = key.Value()
		}
	}

	access := make(map[string][]string)
	if sec, err := cfg.GetSection("access"); err == nil {
		for _, key := range sec.Keys() {
			repos := strings.Split(key.Value(), ",")
			for i := range repos {
				repos[i] = strings.TrimSpace(repos[i])
			}
			access[key.Name()] = repos
		}
	}

	p.mu.Lock()
	p.users = users
	p.access = access
	p.mu.Unlock()
	return nil
}

// Authenticate decides permissions for repo given an HTTP Authorization
// header value (which may be empty). Any decoding or lookup failure
// degrades to PublicReadOnly rather than erroring, matching the source.
func (p *Policy) Authenticate(authorizationHeader, repo string) Permissions {
	if authorizationHeader == "" {
		return PublicReadOnly
	}

	trimmed := strings.TrimSpace(authorizationHeader)
	if len(trimmed) < 5 || !strings.EqualFold(trimmed[:5], "basic") {
		return PublicReadOnly
	}

	encoded := strings.TrimSpace(trimmed[5:])
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return PublicReadOnly
	}

	user, pw, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return PublicReadOnly
	}

	p.mu.RLock()
	stored, known := p.users[user]
	allowList := p.access[user]
	p.mu.RUnlock()

	if !known || !p.passwordMatches(stored, pw) {
		return PublicReadOnly
	}

	for _, r := range allowList {
		if r == repo {
			return Permissions{MayRead: true, MayWrite: true}
		}
	}
	return PublicReadOnly
}

func (p *Policy) passwordMatches(stored, supplied string) bool {
	if p.legacyPlaintext {
		return stored == supplied
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
}

// HashPassword produces the bcrypt hash to store in a non-legacy policy
// file's [users] section.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
