package auth

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.ini")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}
	return path
}

func basicAuth(user, pw string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pw))
}

func TestAuthenticate_NoCredentials(t *testing.T) {
	path := writePolicy(t, "[users]\nalice=secret\n")
	p, err := LoadPolicy(path, true)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	got := p.Authenticate("", "repo.git")
	if got != PublicReadOnly {
		t.Errorf("expected PublicReadOnly, got %+v", got)
	}
}

func TestAuthenticate_GrantedWrite_LegacyPlaintext(t *testing.T) {
	// S2: alice=secret, access alice=repo.git.
	path := writePolicy(t, "[users]\nalice=secret\n\n[access]\nalice=repo.git\n")
	p, err := LoadPolicy(path, true)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	got := p.Authenticate(basicAuth("alice", "secret"), "repo.git")
	if !got.MayRead || !got.MayWrite {
		t.Errorf("expected read+write, got %+v", got)
	}
}

func TestAuthenticate_RepoNotInAllowList(t *testing.T) {
	// S3: same creds, [access] omits repo.git.
	path := writePolicy(t, "[users]\nalice=secret\n\n[access]\nalice=other.git\n")
	p, err := LoadPolicy(path, true)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	got := p.Authenticate(basicAuth("alice", "secret"), "repo.git")
	if got.MayWrite {
		t.Errorf("expected write denied, got %+v", got)
	}
	if !got.MayRead {
		t.Errorf("expected read still granted, got %+v", got)
	}
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	path := writePolicy(t, "[users]\nalice=secret\n\n[access]\nalice=repo.git\n")
	p, err := LoadPolicy(path, true)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	got := p.Authenticate(basicAuth("alice", "wrong"), "repo.git")
	if got.MayWrite {
		t.Errorf("expected write denied on bad password, got %+v", got)
	}
}

func TestAuthenticate_BcryptHashedPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	path := writePolicy(t, "[users]\nalice="+hash+"\n\n[access]\nalice=repo.git\n")
	p, err := LoadPolicy(path, false)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	got := p.Authenticate(basicAuth("alice", "secret"), "repo.git")
	if !got.MayWrite {
		t.Errorf("expected write granted with correct bcrypt password, got %+v", got)
	}

	got = p.Authenticate(basicAuth("alice", "wrong"), "repo.git")
	if got.MayWrite {
		t.Errorf("expected write denied with wrong bcrypt password, got %+v", got)
	}
}

func TestAuthenticate_MalformedAuthorizationHeader(t *testing.T) {
	path := writePolicy(t, "[users]\nalice=secret\n")
	p, err := LoadPolicy(path, true)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	got := p.Authenticate("Digest garbage", "repo.git")
	if got != PublicReadOnly {
		t.Errorf("expected PublicReadOnly for non-basic scheme, got %+v", got)
	}
}

func TestReload_PicksUpChangedAccessList(t *testing.T) {
	path := writePolicy(t, "[users]\nalice=secret\n\n[access]\nalice=other.git\n")
	p, err := LoadPolicy(path, true)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	if got := p.Authenticate(basicAuth("alice", "secret"), "repo.git"); got.MayWrite {
		t.Fatalf("expected write denied before reload, got %+v", got)
	}

	if err := os.WriteFile(path, []byte("[users]\nalice=secret\n\n[access]\nalice=repo.git\n"), 0o644); err != nil {
		t.Fatalf("rewriting policy file: %v", err)
	}
	if err := p.Reload(path); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if got := p.Authenticate(basicAuth("alice", "secret"), "repo.git"); !got.MayWrite {
		t.Errorf("expected write granted after reload, got %+v", got)
	}
}
