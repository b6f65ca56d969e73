package main

import (
	"os"
	"testing"
)

func TestPassphraseForPrefersFlag(t *testing.T) {
	t.Setenv("VOLUTA_PASSPHRASE", "env-secret")

	if got := passphraseFor("flag-secret"); got != "flag-secret" {
		t.Fatalf("passphraseFor(flag) = %q, want flag value", got)
	}
}

func TestPassphraseForFallsBackToEnv(t *testing.T) {
	t.Setenv("VOLUTA_PASSPHRASE", "env-secret")

	if got := passphraseFor(""); got != "env-secret" {
		t.Fatalf("passphraseFor(\"\") = %q, want env value", got)
	}
}

func TestPassphraseForEmptyWithNoEnv(t *testing.T) {
	os.Unsetenv("VOLUTA_PASSPHRASE")

	if got := passphraseFor(""); got != "" {
		t.Fatalf("passphraseFor(\"\") = %q, want empty", got)
	}
}
