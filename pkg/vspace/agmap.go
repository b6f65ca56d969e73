package vspace

import (
	"encoding/binary"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

// agMapEncodedSize is the number of body bytes an AGMap occupies: the
// index, the used-block-octet counter, and BkrefsPerAG packed bkref octets.
const agMapEncodedSize = 8 + 8 + vtype.BkrefsPerAG*vtype.BoctetsPerBlk

// AGMap is the in-memory, decoded form of one allocation group's map
// block (vtype VtypeAGMap, always block 0 of the group). Per-block
// confidentiality keys/IVs are not duplicated here: pkg/vblock already
// derives each block's cipher from its LBA against the super block's key
// and IV slot arrays, so the map only needs to track occupancy.
type AGMap struct {
	Index   int64
	NkbUsed int64
	Bkrefs  [vtype.BkrefsPerAG]Bkref
}

// NewAGMap returns a freshly materialised, entirely-free map for
// allocation group ag.
func NewAGMap(ag int64) *AGMap {
	return &AGMap{Index: ag}
}

// Encode packs m into a block-body-sized byte slice suitable for
// vblock.Device.PutBlock.
func (m *AGMap) Encode() []byte {
	buf := make([]byte, agMapEncodedSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Index))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.NkbUsed))
	off := 16
	for i := range m.Bkrefs {
		m.Bkrefs[i].encode(buf[off : off+vtype.BoctetsPerBlk])
		off += vtype.BoctetsPerBlk
	}
	return buf
}

// DecodeAGMap reverses Encode.
func DecodeAGMap(body []byte) (*AGMap, error) {
	if len(body) < agMapEncodedSize {
		return nil, vtype.Errf(vtype.ErrCorrupt, "ag map body too short: %d bytes", len(body))
	}
	m := &AGMap{
		Index:   int64(binary.LittleEndian.Uint64(body[0:8])),
		NkbUsed: int64(binary.LittleEndian.Uint64(body[8:16])),
	}
	off := 16
	for i := range m.Bkrefs {
		m.Bkrefs[i] = decodeBkref(body[off : off+vtype.BoctetsPerBlk])
		off += vtype.BoctetsPerBlk
	}
	return m, nil
}
