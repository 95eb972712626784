package smht

// The bitmap is one byte per data-arena block: 0 free, 1 allocated.
// findBlock takes the process-shared mutex for its scan-and-mark;
// reserveBlocks and freeBlocks take no lock of their own — freeBlocks
// releases blocks the caller already owns, and reserveBlocks is called
// only by HardDefragmentation, which holds the mutex for its whole pass.

// findBlock scans the bitmap for the first run of n consecutive free
// blocks at index >= startOffset, marks the run allocated, and returns
// its starting block index. startOffset lets chain-node header
// allocations skip index 0, which is reserved so that a zero
// linked_item unambiguously means "no next node".
func (t *Table) findBlock(n, startOffset uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n == 0 {
		return 0, false
	}

	bitmap := t.bitmap
	limit := uint32(len(bitmap))
	if startOffset >= limit {
		return 0, false
	}

	var runStart, run uint32
	for i := startOffset; i < limit; i++ {
		if bitmap[i] != 0 {
			run = 0
			continue
		}
		if run == 0 {
			runStart = i
		}
		run++
		if run == n {
			for j := runStart; j < runStart+n; j++ {
				bitmap[j] = 1
			}
			return runStart, true
		}
	}
	return 0, false
}

// reserveBlocks marks n blocks starting at idx allocated, without
// scanning and without taking the mutex. Its one caller is
// HardDefragmentation, which marks the destination of each moved object
// while already holding the mutex.
func (t *Table) reserveBlocks(idx, n uint32) {
	for i := idx; i < idx+n; i++ {
		t.bitmap[i] = 1
	}
}

// freeBlocks marks n blocks starting at idx free again.
func (t *Table) freeBlocks(idx, n uint32) {
	for i := idx; i < idx+n; i++ {
		t.bitmap[i] = 0
	}
}

// blockByteOffset converts a block index into a byte offset from the
// data-arena base — the form stored in header.keyOffset/valOffset/
// linkedItem.
func (t *Table) blockByteOffset(idx uint32) uint32 {
	return idx * t.blockSize
}

// blockIndexOf is the inverse of blockByteOffset. Every byte offset
// this is applied to was produced by blockByteOffset in the first
// place, so the division is always exact.
func (t *Table) blockIndexOf(byteOffset uint32) uint32 {
	return byteOffset / t.blockSize
}
