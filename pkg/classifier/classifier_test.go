package classifier

import "testing"

func TestClassifyRPC_UploadPack(t *testing.T) {
	got, err := ClassifyRPC("/repo.git/git-upload-pack")
	if err != nil {
		t.Fatalf("ClassifyRPC failed: %v", err)
	}
	if got.Repo != "repo.git" || got.RPC != UploadPack {
		t.Errorf("got %+v", got)
	}
}

func TestClassifyRPC_ReceivePack_TrimsSlashes(t *testing.T) {
	got, err := ClassifyRPC("//repo.git/git-receive-pack//")
	if err != nil {
		t.Fatalf("ClassifyRPC failed: %v", err)
	}
	if got.Repo != "repo.git" || got.RPC != ReceivePack {
		t.Errorf("got %+v", got)
	}
}

func TestClassifyRPC_UnknownCommand(t *testing.T) {
	_, err := ClassifyRPC("/repo.git/git-fsck")
	if err != ErrUnknownRPC {
		t.Errorf("expected ErrUnknownRPC, got %v", err)
	}
}

func TestClassifyInfoRefs_DefaultsToUploadPack(t *testing.T) {
	got, err := ClassifyInfoRefs("/repo.git/info/refs", "")
	if err != nil {
		t.Fatalf("ClassifyInfoRefs failed: %v", err)
	}
	if got.RPC != UploadPack {
		t.Errorf("expected default upload-pack, got %q", got.RPC)
	}
}

func TestClassifyInfoRefs_ExplicitService(t *testing.T) {
	got, err := ClassifyInfoRefs("/repo.git/info/refs", "git-receive-pack")
	if err != nil {
		t.Fatalf("ClassifyInfoRefs failed: %v", err)
	}
	if got.Repo != "repo.git" || got.RPC != ReceivePack {
		t.Errorf("got %+v", got)
	}
}

func TestClassifyInfoRefs_RejectsUnknownService(t *testing.T) {
	_, err := ClassifyInfoRefs("/repo.git/info/refs", "git-fsck")
	if err != ErrUnknownRPC {
		t.Errorf("expected ErrUnknownRPC, got %v", err)
	}
}
