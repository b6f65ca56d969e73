// Package vcrypto derives the volume's master secret from a passphrase and
// turns (master secret, key slot, iv slot) triples into per-block AES-256-GCM
// ciphers. The AES/GCM call pattern is carried over from
// pkg/provisioners' Encrypt/Decrypt helpers; the KDF itself is Argon2id,
// with its cost parameters persisted alongside the salt so a volume
// remains openable even if the engine's defaults change later.
package vcrypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KDFParams are persisted (unencrypted) in the master record's reserved
// area so that an existing volume can always be reopened with the same
// passphrase, even if the engine's defaults change in a later release.
type KDFParams struct {
	Salt    [128]byte
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams are the parameters used by mkfs for new volumes.
func DefaultKDFParams() (KDFParams, error) {
	p := KDFParams{
		Time:    3,
		Memory:  64 * 1024, // 64 MiB
		Threads: 4,
	}
	if _, err := rand.Read(p.Salt[:]); err != nil {
		return KDFParams{}, fmt.Errorf("generating KDF salt: %w", err)
	}
	return p, nil
}

// MasterSecretSize is the length, in bytes, of the derived master secret.
const MasterSecretSize = 32

// DeriveMasterSecret runs Argon2id over the passphrase using the volume's
// persisted KDF parameters, producing the 256-bit master secret that wraps
// the super block's key/iv slot arrays.
func DeriveMasterSecret(passphrase string, p KDFParams) [MasterSecretSize]byte {
	out := argon2.IDKey([]byte(passphrase), p.Salt[:], p.Time, p.Memory, p.Threads, MasterSecretSize)
	var secret [MasterSecretSize]byte
	copy(secret[:], out)
	return secret
}
