package main

import (
	"path/filepath"
	"testing"
)

func TestFsckCleanOnFreshVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	if err := runCLI(t, "mkfs", path); err != nil {
		t.Fatalf("mkfs: %v", err)
	}

	if err := runCLI(t, "fsck", path); err != nil {
		t.Fatalf("fsck on a freshly-formatted volume should find no violations: %v", err)
	}
}

func TestDumpOnFreshVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	if err := runCLI(t, "mkfs", path); err != nil {
		t.Fatalf("mkfs: %v", err)
	}

	if err := runCLI(t, "dump", path); err != nil {
		t.Fatalf("dump: %v", err)
	}
}

func TestShowOnFreshVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	if err := runCLI(t, "mkfs", "--name", "myvol", path); err != nil {
		t.Fatalf("mkfs: %v", err)
	}

	if err := runCLI(t, "show", path); err != nil {
		t.Fatalf("show: %v", err)
	}
}

func TestFsckRejectsMissingVolume(t *testing.T) {
	if err := runCLI(t, "fsck", filepath.Join(t.TempDir(), "nope.img")); err == nil {
		t.Fatal("expected fsck on a nonexistent path to fail")
	}
}
