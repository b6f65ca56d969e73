package vblock

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

// HeaderSize is fixed at 16 bytes for every block.
const HeaderSize = 16

// CryptoTagSize is the width of the AES-GCM authentication tag trailer
// written immediately after every block's header when the volume is
// encrypted. Keeping it out of Header itself lets Header stay a fixed
// 16 bytes while still keeping the integrity tag attached to the header
// in spirit: the tag travels with the header, not interleaved with the
// (possibly large) body. See DESIGN.md for the reasoning.
const CryptoTagSize = 16

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// HeaderFlag bits.
const (
	FlagEncrypted uint8 = 1 << 0
	FlagUnwritten uint8 = 1 << 1
)

// Header is the 16-byte prologue of every meta-block and data block:
// magic, vtype, flags, body size, and a checksum. Csum
// holds a CRC-32C of the plaintext body with Csum itself zeroed during the
// computation; for encrypted volumes this is the checksum of the
// *plaintext*, recomputed on decrypt as a second integrity layer beneath
// AES-GCM's own tag.
type Header struct {
	Magic uint32
	Vtype uint8
	Flags uint8
	Size  uint16
	Csum  uint64
}

// Encode writes h in little-endian, fixed-size form.
func (h Header) Encode() [HeaderSize]byte {
	var out [HeaderSize]byte
	binary.LittleEndian.PutUint32(out[0:4], h.Magic)
	out[4] = h.Vtype
	out[5] = h.Flags
	binary.LittleEndian.PutUint16(out[6:8], h.Size)
	binary.LittleEndian.PutUint64(out[8:16], h.Csum)
	return out
}

// DecodeHeader parses the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, vtype.Errf(vtype.ErrCorrupt, "short header: %d bytes", len(buf))
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Vtype = buf[4]
	h.Flags = buf[5]
	h.Size = binary.LittleEndian.Uint16(buf[6:8])
	h.Csum = binary.LittleEndian.Uint64(buf[8:16])
	return h, nil
}

// checksumBody computes CRC-32C over body with the header's Csum field
// logically zeroed.
func checksumBody(h Header, body []byte) uint64 {
	h.Csum = 0
	hdr := h.Encode()
	crc := crc32.New(crc32cTable)
	crc.Write(hdr[:])
	crc.Write(body)
	return uint64(crc.Sum32())
}

// VerifyHeader recomputes the checksum of a decoded block and compares it
// against the stored one.
func VerifyHeader(h Header, body []byte) error {
	want := checksumBody(h, body)
	if want != h.Csum {
		return vtype.Errf(vtype.ErrIntegrity, "checksum mismatch: have %x want %x", h.Csum, want)
	}
	return nil
}

// SealHeader builds the header for body, stamps its Csum, and returns it.
func SealHeader(vt vtype.Vtype, flags uint8, body []byte) Header {
	h := Header{
		Magic: vtype.HeaderMagic,
		Vtype: uint8(vt),
		Flags: flags,
		Size:  uint16(len(body)),
	}
	h.Csum = checksumBody(h, body)
	return h
}

// EncodeBlock assembles a full BlockSize-sized on-disk image: header,
// optional crypto tag trailer (zeroed when absent), then the body,
// zero-padded out to BlockSize.
func EncodeBlock(h Header, tag []byte, body []byte) []byte {
	out := make([]byte, vtype.BlockSize)
	hdr := h.Encode()
	copy(out[0:HeaderSize], hdr[:])
	copy(out[HeaderSize:HeaderSize+CryptoTagSize], tag)
	copy(out[HeaderSize+CryptoTagSize:], body)
	return out
}

// SplitBlock reverses EncodeBlock, returning the decoded header, the crypto
// tag trailer and the body slice sized to h.Size.
func SplitBlock(raw []byte) (Header, []byte, []byte, error) {
	if len(raw) != vtype.BlockSize {
		return Header{}, nil, nil, vtype.Errf(vtype.ErrCorrupt, "block has wrong size: %d", len(raw))
	}
	h, err := DecodeHeader(raw[:HeaderSize])
	if err != nil {
		return Header{}, nil, nil, err
	}
	if h.Magic != vtype.HeaderMagic {
		return Header{}, nil, nil, vtype.Errf(vtype.ErrCorrupt, "bad header magic: %#x", h.Magic)
	}
	tag := raw[HeaderSize : HeaderSize+CryptoTagSize]
	bodyAll := raw[HeaderSize+CryptoTagSize:]
	bodyLimit := int(h.Size)
	if bodyLimit > len(bodyAll) {
		return Header{}, nil, nil, vtype.Errf(vtype.ErrCorrupt, "header size %d exceeds block capacity", h.Size)
	}
	return h, tag, bodyAll[:bodyLimit], nil
}

// zeroTrailer is reused to avoid reallocating CryptoTagSize zero bytes on
// every plaintext write.
var zeroTrailer = bytes.Repeat([]byte{0}, CryptoTagSize)
