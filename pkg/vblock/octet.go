package vblock

import "github.com/voluta-fs/voluta/pkg/vtype"

// BodyCapacity is how many body bytes a sealed block carries once the
// header and crypto tag trailer are accounted for.
const BodyCapacity = vtype.BlockSize - HeaderSize - CryptoTagSize

// OctetPayloadSize is how much of BodyCapacity each of a block's
// BoctetsPerBlk octet slots gets. BodyCapacity divides BoctetsPerBlk
// evenly (65504 / 8 = 8188), so every slot is the same, fixed size —
// slightly under the nominal 8 KiB block-octet that is the
// space-accounting/refcnt granularity, since the header/tag have to come
// out of the physical block somewhere.
const OctetPayloadSize = BodyCapacity / vtype.BoctetsPerBlk

// ReadOctet returns the payload slot addressed by vaddr (an inode head or
// a file data segment): the block it lives in is read and verified as a
// whole, then the slot at vaddr's octet index is sliced out.
func (d *Device) ReadOctet(vaddr vtype.VAddr) ([]byte, vtype.Vtype, error) {
	body, vt, err := d.ReadBlock(vaddr.LBA())
	if err != nil {
		return nil, 0, err
	}
	start := vaddr.OctetIndex() * OctetPayloadSize
	if start+OctetPayloadSize > len(body) {
		return nil, 0, vtype.Errf(vtype.ErrCorrupt, "octet slot %d exceeds block body", vaddr.OctetIndex())
	}
	out := make([]byte, OctetPayloadSize)
	copy(out, body[start:start+OctetPayloadSize])
	return out, vt, nil
}

// WriteOctet writes payload into the slot addressed by vaddr via a
// read-modify-write of the whole physical block: every octet allocated in
// a given block shares one vtype (pkg/vspace only hands out octets within
// a block that is either empty or already hosting the same vtype), so the
// block's own header.Vtype stays meaningful.
func (d *Device) WriteOctet(vaddr vtype.VAddr, vt vtype.Vtype, payload []byte, flush bool) error {
	if len(payload) > OctetPayloadSize {
		return vtype.Errf(vtype.ErrInvalid, "octet payload too large: %d bytes", len(payload))
	}

	body := make([]byte, BodyCapacity)
	existing, existingVt, err := d.ReadBlock(vaddr.LBA())
	switch {
	case err == nil:
		copy(body, existing)
		vt = existingVt
	case vtype.KindOf(err) == vtype.ErrCorrupt:
		// First write into a never-initialised block.
	default:
		return err
	}

	start := vaddr.OctetIndex() * OctetPayloadSize
	copy(body[start:start+OctetPayloadSize], payload)
	for i := len(payload); i < OctetPayloadSize; i++ {
		body[start+i] = 0
	}

	return d.PutBlock(vaddr.LBA(), vt, body, flush)
}
