package smht

import "encoding/binary"

// HardDefragmentation compacts the data arena in place, sliding every
// allocated object down to the lowest free address available to it so
// that all free space ends up as one contiguous run at the top. It
// walks the bitmap once, left to right, tracking a write cursor (the
// lowest address not yet known to hold a relocated object) and a read
// cursor (the next block to inspect); whenever the two diverge, the
// object at read is copied down to write and every pointer into it is
// rewritten.
//
// Two kinds of pointer need rewriting, because objects reference each
// other in both directions: a payload's first eight bytes hold a
// backpointer to the header that owns it, and a header's key_offset /
// val_offset point forward into its payload. Moving a payload fixes up
// the owning header's offsets; moving a chain-node header fixes up the
// payload's backpointer and the predecessor node's linked_item.
func (t *Table) HardDefragmentation() {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := uint32(len(t.bitmap))
	var write, read uint32
	for read < n {
		if t.bitmap[read] == 0 {
			read++
			continue
		}

		size, isPayload := t.objectSizeAt(read)
		if write != read {
			t.relocate(read, write, size, isPayload)
			t.freeBlocks(read, size)
			t.reserveBlocks(write, size)
		}
		write += size
		read += size
	}
}

// objectSizeAt identifies the object occupying the block at idx and
// its size in blocks, by inspecting the first eight bytes: the top bit
// is set for a payload backpointer (see backpointerFor) and clear for
// a chain-node header, whose first eight bytes are keyOffset followed
// by keySize. Read little-endian, bit 63 is the top bit of keySize, so
// a genuine header would need a key of 2^31 bytes or more to collide
// with this, which never happens for any segment this package can
// address.
func (t *Table) objectSizeAt(idx uint32) (size uint32, isPayload bool) {
	abs := t.dataBase + t.blockByteOffset(idx)
	word := binary.LittleEndian.Uint64(t.region[abs : abs+8])
	if word&(1<<63) != 0 {
		headerOffsetFromTable := uint32(word & 0xFFFFFFFF)
		h := t.readHeaderAt(t.headerTableBase + headerOffsetFromTable)
		return payloadBlocks(h.keySize, h.valSize, t.blockSize), true
	}
	return headerBlocks(t.blockSize), false
}

// relocate copies the size-block object at oldIdx down to newIdx and
// repairs whichever cross-references point at it.
func (t *Table) relocate(oldIdx, newIdx, size uint32, isPayload bool) {
	oldAbs := t.dataBase + t.blockByteOffset(oldIdx)
	newAbs := t.dataBase + t.blockByteOffset(newIdx)
	byteLen := size * t.blockSize

	copy(t.region[newAbs:newAbs+byteLen], t.region[oldAbs:oldAbs+byteLen])
	clearFrom := newAbs + byteLen
	if clearFrom < oldAbs {
		clearFrom = oldAbs
	}
	if clearFrom < oldAbs+byteLen {
		clear(t.region[clearFrom : oldAbs+byteLen])
	}

	if isPayload {
		word := binary.LittleEndian.Uint64(t.region[newAbs : newAbs+8])
		headerOffsetFromTable := uint32(word & 0xFFFFFFFF)
		headerAbs := t.headerTableBase + headerOffsetFromTable
		h := t.readHeaderAt(headerAbs)
		delta := oldAbs - newAbs
		h.keyOffset -= delta
		h.valOffset -= delta
		t.writeHeaderAt(headerAbs, h)
		return
	}

	oldByteOffset := t.blockByteOffset(oldIdx)
	newByteOffset := t.blockByteOffset(newIdx)
	h := t.readHeaderAt(newAbs)

	payloadAbs := t.dataBase + (h.keyOffset - 8)
	binary.LittleEndian.PutUint64(t.region[payloadAbs:payloadAbs+8], backpointerFor(newAbs-t.headerTableBase))

	if parentAbs, ok := t.findParent(oldByteOffset); ok {
		parent := t.readHeaderAt(parentAbs)
		parent.linkedItem = newByteOffset
		t.writeHeaderAt(parentAbs, parent)
	}
}

// findParent walks every bucket's chain looking for the node whose
// linked_item names target, a chain-node header's byte offset from the
// data-arena base. It returns that node's own header address (which
// may be a bucket head or another chain node).
func (t *Table) findParent(target uint32) (uint32, bool) {
	for bucket := uint32(0); bucket < t.keyCount; bucket++ {
		headAbs := t.bucketHeaderAbs(bucket)
		h := t.readHeaderAt(headAbs)
		if h.empty() {
			continue
		}
		curAbs, cur := headAbs, h
		for {
			if cur.linkedItem == target {
				return curAbs, true
			}
			if cur.linkedItem == 0 {
				break
			}
			curAbs = t.dataBase + cur.linkedItem
			cur = t.readHeaderAt(curAbs)
		}
	}
	return 0, false
}
