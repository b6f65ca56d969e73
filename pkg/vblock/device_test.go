package vblock

import (
	"path/filepath"
	"testing"

	"github.com/voluta-fs/voluta/pkg/vcrypto"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

func newTestDevice(t *testing.T, crypto *CryptoContext) *Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vol.img")
	fb, err := CreateFileBacking(path, vtype.MinAGCount*vtype.AGSize)
	if err != nil {
		t.Fatalf("CreateFileBacking: %v", err)
	}
	d, err := Open(fb, vtype.MinAGCount*vtype.BlocksPerAG, RDWR, crypto)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDeviceReadWritePlaintext(t *testing.T) {
	d := newTestDevice(t, nil)

	body := []byte("a data segment worth of bytes")
	if err := d.PutBlock(10, vtype.VtypeData, body, true); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	got, vt, err := d.ReadBlock(10)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if vt != vtype.VtypeData {
		t.Errorf("vtype = %v, want %v", vt, vtype.VtypeData)
	}
	if string(got) != string(body) {
		t.Errorf("body mismatch: got %q want %q", got, body)
	}
}

func TestDeviceReadWriteEncrypted(t *testing.T) {
	crypto := &CryptoContext{
		Keys: make([]vcrypto.KeySlot, vtype.SuperKeySlots),
		IVs:  make([]vcrypto.IVSlot, vtype.SuperIVSlots),
	}
	crypto.Keys[0] = vcrypto.KeySlot{1, 2, 3}
	crypto.IVs[0] = vcrypto.IVSlot{4, 5, 6}

	d := newTestDevice(t, crypto)

	body := []byte("confidential data segment")
	if err := d.PutBlock(42, vtype.VtypeData, body, false); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	got, _, err := d.ReadBlock(42)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("body mismatch: got %q want %q", got, body)
	}
}

func TestDeviceOutOfRange(t *testing.T) {
	d := newTestDevice(t, nil)
	if _, _, err := d.ReadBlock(-1); vtype.KindOf(err) != vtype.ErrInvalid {
		t.Errorf("expected ErrInvalid for negative lba, got %v", err)
	}
	if _, _, err := d.ReadBlock(d.NBlocks()); vtype.KindOf(err) != vtype.ErrInvalid {
		t.Errorf("expected ErrInvalid for lba == nblocks, got %v", err)
	}
}

func TestDeviceReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	fb, err := CreateFileBacking(path, vtype.MinAGCount*vtype.AGSize)
	if err != nil {
		t.Fatalf("CreateFileBacking: %v", err)
	}
	d, err := Open(fb, vtype.MinAGCount*vtype.BlocksPerAG, RDONLY, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.PutBlock(0, vtype.VtypeData, []byte("x"), false); vtype.KindOf(err) != vtype.ErrRofs {
		t.Errorf("expected ErrRofs, got %v", err)
	}
}
