package main

import (
	"path/filepath"
	"testing"
)

func TestMkfsQcow2BackingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.qcow2")

	if err := runCLI(t, "mkfs", "--backing", "qcow2", path); err != nil {
		t.Fatalf("mkfs --backing qcow2: %v", err)
	}

	if err := runCLI(t, "fsck", path); err != nil {
		t.Fatalf("fsck on a fresh qcow2-backed volume: %v", err)
	}
}

func TestMkfsEncryptedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	if err := runCLI(t, "mkfs", "--encrypted", "--passphrase", "hunter2", path); err != nil {
		t.Fatalf("mkfs --encrypted: %v", err)
	}

	if err := runCLI(t, "fsck", "--passphrase", "hunter2", path); err != nil {
		t.Fatalf("fsck on an encrypted volume with the right passphrase: %v", err)
	}

	if err := runCLI(t, "fsck", "--passphrase", "wrong", path); err == nil {
		t.Fatal("expected fsck with the wrong passphrase to fail")
	}
}
