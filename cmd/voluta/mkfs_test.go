package main

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var testInitOnce sync.Once

// runCLI executes rootCmd with a fresh set of flag defaults: cobra only
// overwrites flags actually present in args, so without this a value set
// by an earlier test (e.g. --backing) would otherwise leak into the next.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	testInitOnce.Do(commandInit)
	resetFlags()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func resetFlags() {
	flagMkfsName = ""
	flagMkfsSize = 0
	flagMkfsBacking = "file"
	flagMkfsForce = false
	flagMkfsEncrypted = false
	flagMkfsPassphrase = ""
	flagFsdReadOnly = false
	flagFsdDebug = false
	flagFsdPassphrase = ""
	flagShowPassphrase = ""
	flagDumpPassphrase = ""
	flagFsckPassphrase = ""
}

func TestMkfsCreatesVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	if err := runCLI(t, "mkfs", "--name", "testvol", path); err != nil {
		t.Fatalf("mkfs: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected volume file at %s: %v", path, err)
	}
}

func TestMkfsRefusesExistingWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	if err := runCLI(t, "mkfs", path); err != nil {
		t.Fatalf("first mkfs: %v", err)
	}

	if err := runCLI(t, "mkfs", path); err == nil {
		t.Fatal("expected second mkfs without --force to fail")
	}

	if err := runCLI(t, "mkfs", "--force", path); err != nil {
		t.Fatalf("mkfs --force: %v", err)
	}
}

func TestMkfsUnknownBacking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	if err := runCLI(t, "mkfs", "--backing", "nonsense", path); err == nil {
		t.Fatal("expected unknown --backing to fail")
	}
}
