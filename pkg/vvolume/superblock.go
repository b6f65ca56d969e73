package vvolume

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/voluta-fs/voluta/pkg/vcrypto"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

// MasterRecord is the unencrypted 1024-byte header at volume offset 0
// (LBA 0, invariant's "@voluta@" magic). It carries exactly what's needed
// to derive the master secret and bootstrap-decrypt the super block:
// everything else (key/iv slot arrays, inode-table root) lives encrypted
// in the super block itself. Field layout follows pkg/ext4/super.go's
// packed, hex-offset-commented struct.
type MasterRecord struct {
	Version      uint64
	UUID         [16]byte
	FSName       string // <= 64 bytes
	CreationTime int64  // unix nanoseconds
	Encrypted    bool
	KDF          vcrypto.KDFParams
	SuperIV      vcrypto.IVSlot // nonce material for the super block's own seal
	NAG          int64          // allocation group count, fixes the volume's total size
}

const maxFSNameLen = 64

func newMasterRecord(fsname string, nag int64, encrypted bool) (*MasterRecord, error) {
	if len(fsname) > maxFSNameLen {
		return nil, vtype.Errf(vtype.ErrInvalid, "fs name %q exceeds %d bytes", fsname, maxFSNameLen)
	}
	m := &MasterRecord{
		Version:   vtype.MasterRecordVersion,
		FSName:    fsname,
		Encrypted: encrypted,
		NAG:       nag,
	}
	id := uuid.New()
	copy(m.UUID[:], id[:])
	if _, err := rand.Read(m.SuperIV[:]); err != nil {
		return nil, err
	}
	kdf, err := vcrypto.DefaultKDFParams()
	if err != nil {
		return nil, err
	}
	m.KDF = kdf
	return m, nil
}

func (m *MasterRecord) encode() []byte {
	buf := make([]byte, vtype.MasterRecordSize)
	off := 0
	copy(buf[off:off+len(vtype.MasterRecordMagic)], vtype.MasterRecordMagic)
	off += len(vtype.MasterRecordMagic)
	binary.LittleEndian.PutUint64(buf[off:off+8], m.Version)
	off += 8
	copy(buf[off:off+16], m.UUID[:])
	off += 16
	buf[off] = byte(len(m.FSName))
	off++
	copy(buf[off:off+maxFSNameLen], m.FSName)
	off += maxFSNameLen
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(m.CreationTime))
	off += 8
	if m.Encrypted {
		buf[off] = 1
	}
	off++
	copy(buf[off:off+128], m.KDF.Salt[:])
	off += 128
	binary.LittleEndian.PutUint32(buf[off:off+4], m.KDF.Time)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.KDF.Memory)
	off += 4
	buf[off] = m.KDF.Threads
	off++
	copy(buf[off:off+16], m.SuperIV[:])
	off += 16
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(m.NAG))
	off += 8
	return buf
}

func decodeMasterRecord(buf []byte) (*MasterRecord, error) {
	if len(buf) < vtype.MasterRecordSize {
		return nil, vtype.Errf(vtype.ErrCorrupt, "master record too short: %d bytes", len(buf))
	}
	if string(buf[:len(vtype.MasterRecordMagic)]) != vtype.MasterRecordMagic {
		return nil, vtype.Errf(vtype.ErrCorrupt, "bad master record magic")
	}
	off := len(vtype.MasterRecordMagic)
	m := &MasterRecord{}
	m.Version = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	if m.Version != vtype.MasterRecordVersion {
		return nil, vtype.Errf(vtype.ErrCorrupt, "unsupported master record version %d", m.Version)
	}
	copy(m.UUID[:], buf[off:off+16])
	off += 16
	nameLen := int(buf[off])
	off++
	m.FSName = string(buf[off : off+nameLen])
	off += maxFSNameLen
	m.CreationTime = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	m.Encrypted = buf[off] == 1
	off++
	copy(m.KDF.Salt[:], buf[off:off+128])
	off += 128
	m.KDF.Time = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	m.KDF.Memory = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	m.KDF.Threads = buf[off]
	off++
	copy(m.SuperIV[:], buf[off:off+16])
	off += 16
	m.NAG = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	return m, nil
}

// SuperBlock is the encrypted (if the volume is) block at vtype.SuperLBA:
// the inode table root, ino allocation cursor, and the full key/iv slot
// arrays per-LBA encryption keys rotate through.
type SuperBlock struct {
	ItableRoot   vtype.VAddr
	FirstFreeIno uint64
	Keys         []vcrypto.KeySlot // len == vtype.SuperKeySlots
	IVs          []vcrypto.IVSlot  // len == vtype.SuperIVSlots
}

func newSuperBlock() (*SuperBlock, error) {
	sb := &SuperBlock{
		ItableRoot:   vtype.NilVAddr,
		FirstFreeIno: 2, // ino 1 is reserved for the volume root directory
		Keys:         make([]vcrypto.KeySlot, vtype.SuperKeySlots),
		IVs:          make([]vcrypto.IVSlot, vtype.SuperIVSlots),
	}
	for i := range sb.Keys {
		if _, err := rand.Read(sb.Keys[i][:]); err != nil {
			return nil, err
		}
	}
	for i := range sb.IVs {
		if _, err := rand.Read(sb.IVs[i][:]); err != nil {
			return nil, err
		}
	}
	return sb, nil
}

func (sb *SuperBlock) encode() []byte {
	buf := make([]byte, 8+8+len(sb.Keys)*32+len(sb.IVs)*16)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(sb.ItableRoot))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], sb.FirstFreeIno)
	off += 8
	for _, k := range sb.Keys {
		copy(buf[off:off+32], k[:])
		off += 32
	}
	for _, iv := range sb.IVs {
		copy(buf[off:off+16], iv[:])
		off += 16
	}
	return buf
}

func decodeSuperBlock(buf []byte) (*SuperBlock, error) {
	want := 8 + 8 + vtype.SuperKeySlots*32 + vtype.SuperIVSlots*16
	if len(buf) < want {
		return nil, vtype.Errf(vtype.ErrCorrupt, "super block too short: %d bytes, want %d", len(buf), want)
	}
	sb := &SuperBlock{
		Keys: make([]vcrypto.KeySlot, vtype.SuperKeySlots),
		IVs:  make([]vcrypto.IVSlot, vtype.SuperIVSlots),
	}
	off := 0
	sb.ItableRoot = vtype.VAddr(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	sb.FirstFreeIno = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	for i := range sb.Keys {
		copy(sb.Keys[i][:], buf[off:off+32])
		off += 32
	}
	for i := range sb.IVs {
		copy(sb.IVs[i][:], buf[off:off+16])
		off += 16
	}
	return sb, nil
}
