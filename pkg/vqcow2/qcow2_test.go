package vqcow2

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.qcow2")

	b, err := Create(path, 64*1024*1024)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	if _, err := b.WriteAt(payload, 1<<20); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b2, err := Open(path, 2 /* os.O_RDWR */)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b2.Close()

	got := make([]byte, len(payload))
	if _, err := b2.ReadAt(got, 1<<20); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadAt after reopen mismatch")
	}
}

func TestUnwrittenRegionReadsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.qcow2")
	b, err := Create(path, 16*1024*1024)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer b.Close()

	buf := make([]byte, 8192)
	if _, err := b.ReadAt(buf, 3*1024*1024); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("byte %d = %#x, want 0 (unallocated cluster should read as a hole)", i, v)
		}
	}
}

func TestWriteSpanningMultipleClusters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.qcow2")
	b, err := Create(path, 16*1024*1024)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer b.Close()

	data := bytes.Repeat([]byte{0x42}, clusterSize*3)
	off := int64(clusterSize / 2)
	if _, err := b.WriteAt(data, off); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	got := make([]byte, len(data))
	if _, err := b.ReadAt(got, off); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("cross-cluster round trip mismatch")
	}
}
