package vblock

import (
	"testing"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

func TestHeaderRoundTrip(t *testing.T) {
	body := []byte("hello voluta")
	h := SealHeader(vtype.VtypeData, 0, body)

	raw := EncodeBlock(h, nil, body)
	if len(raw) != vtype.BlockSize {
		t.Fatalf("EncodeBlock produced %d bytes, want %d", len(raw), vtype.BlockSize)
	}

	h2, _, body2, err := SplitBlock(raw)
	if err != nil {
		t.Fatalf("SplitBlock: %v", err)
	}
	if h2.Magic != vtype.HeaderMagic {
		t.Errorf("bad magic: %#x", h2.Magic)
	}
	if string(body2) != string(body) {
		t.Errorf("body mismatch: got %q want %q", body2, body)
	}
	if err := VerifyHeader(h2, body2); err != nil {
		t.Errorf("VerifyHeader failed on a freshly sealed block: %v", err)
	}
}

func TestVerifyHeaderDetectsCorruption(t *testing.T) {
	body := []byte("intact")
	h := SealHeader(vtype.VtypeInode, 0, body)

	corrupt := make([]byte, len(body))
	copy(corrupt, body)
	corrupt[0] ^= 0xFF

	if err := VerifyHeader(h, corrupt); err == nil {
		t.Errorf("VerifyHeader should have detected corruption")
	}
}

func TestSplitBlockRejectsBadMagic(t *testing.T) {
	raw := make([]byte, vtype.BlockSize)
	_, _, _, err := SplitBlock(raw)
	if err == nil {
		t.Errorf("SplitBlock should reject an all-zero block")
	}
	if vtype.KindOf(err) != vtype.ErrCorrupt {
		t.Errorf("expected ErrCorrupt, got %v", vtype.KindOf(err))
	}
}
