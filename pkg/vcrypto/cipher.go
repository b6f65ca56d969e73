package vcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/hkdf"

	"io"

	"crypto/sha256"
)

// KeySlot and IVSlot are the raw 256-bit/128-bit values stored in the
// super block's key/iv arrays. They are generated at mkfs time with
// crypto/rand and are themselves only meaningful once run through Derive
// alongside the master secret.
type KeySlot [32]byte
type IVSlot [16]byte

// BlockCipher performs AES-256-GCM seal/open for a single block, using a
// key and nonce already derived for that block's LBA. This mirrors the
// aes.NewCipher + cipher.NewGCM pairing in pkg/provisioners'
// Encrypt/Decrypt, generalized from "one passphrase for an entire blob"
// to "one derived key per 64 KiB block".
type BlockCipher struct {
	gcm   cipher.AEAD
	nonce []byte
}

// Derive produces the per-block AES key and GCM nonce for a given LBA:
// key=derive(master, key_slot[bi]), iv=iv_slot[bi]. The derivation itself
// uses HKDF-SHA256 (golang.org/x/crypto/hkdf) over the
// master secret and key slot, keyed by the LBA so that two blocks which
// happen to round-robin onto the same slot (bi mod N) still get distinct
// subkeys.
func Derive(master [MasterSecretSize]byte, key KeySlot, iv IVSlot, lba uint64) (*BlockCipher, error) {
	info := make([]byte, 8)
	for i := 0; i < 8; i++ {
		info[i] = byte(lba >> (8 * uint(i)))
	}

	h := hkdf.New(sha256.New, append(master[:], key[:]...), iv[:8], info)
	subkey := make([]byte, 32)
	if _, err := io.ReadFull(h, subkey); err != nil {
		return nil, fmt.Errorf("deriving block key for lba %d: %w", lba, err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("constructing AES cipher for lba %d: %w", lba, err)
	}

	// IVSlot only has 8 bytes left after the first 8 seed the HKDF salt
	// above, so GCM runs with an 8-byte nonce rather than the default 12.
	gcm, err := cipher.NewGCMWithNonceSize(block, 8)
	if err != nil {
		return nil, fmt.Errorf("constructing GCM mode for lba %d: %w", lba, err)
	}

	return &BlockCipher{gcm: gcm, nonce: iv[8 : 8+gcm.NonceSize()]}, nil
}

// SealDetached encrypts plaintext into a new buffer, returning ciphertext of
// the same length and the authentication tag as two separate slices.
// Callers store the tag in the fixed trailer that follows the block header
// (pkg/vblock's CryptoTagSize) rather than inline with the ciphertext.
func (bc *BlockCipher) SealDetached(plaintext []byte) (ciphertext []byte, tag []byte) {
	sealed := bc.gcm.Seal(nil, bc.nonce, plaintext, nil)
	tagSize := bc.gcm.Overhead()
	return sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
}

// OpenDetached verifies tag against ciphertext and returns the recovered
// plaintext, or an error if the tag does not match (a tampered or corrupt
// block).
func (bc *BlockCipher) OpenDetached(ciphertext, tag []byte) ([]byte, error) {
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := bc.gcm.Open(nil, bc.nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("authenticating block: %w", err)
	}
	return plaintext, nil
}

// TagSize returns the length, in bytes, of the GCM authentication tag.
func (bc *BlockCipher) TagSize() int {
	return bc.gcm.Overhead()
}
