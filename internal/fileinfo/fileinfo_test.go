package fileinfo

import (
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGetAbsentFile(t *testing.T) {
	dir := t.TempDir()
	info, err := Get(filepath.Join(dir, "missing.bin"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !info.Absent() {
		t.Fatalf("expected absent, got %+v", info)
	}
}

func TestGetAndClassifyCosend(t *testing.T) {
	dir := t.TempDir()
	full := []byte("the quick brown fox jumps over the lazy dog")
	path := write(t, dir, "f.bin", full)

	peerPrefixPath := write(t, dir, "partial.bin", full[:10])
	peer, err := Get(peerPrefixPath)
	if err != nil {
		t.Fatal(err)
	}

	decision, err := Classify(path, peer)
	if err != nil {
		t.Fatal(err)
	}
	if decision != CosendEligible {
		t.Fatalf("expected CosendEligible, got %v", decision)
	}
}

func TestClassifyMismatchIsResend(t *testing.T) {
	dir := t.TempDir()
	peer := Info{Size: 10, MD5: "deadbeefdeadbeefdeadbeefdeadbeef"}
	localPath := write(t, dir, "wrong.bin", []byte("0123456789"))
	decision, err := Classify(localPath, peer)
	if err != nil {
		t.Fatal(err)
	}
	if decision != Resend {
		t.Fatalf("expected Resend, got %v", decision)
	}
}

func TestClassifyPeerAbsentIsResend(t *testing.T) {
	dir := t.TempDir()
	localPath := write(t, dir, "any.bin", []byte("data"))
	decision, err := Classify(localPath, Info{})
	if err != nil {
		t.Fatal(err)
	}
	if decision != Resend {
		t.Fatalf("expected Resend, got %v", decision)
	}
}
