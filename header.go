package smht

import "encoding/binary"

// header is the fixed-size record shared by the index table and every
// chain node placed in the data arena. All offsets are from the
// data-arena base, never raw addresses — the same bytes are mapped at
// different addresses in every attaching process.
type header struct {
	keyOffset  uint32
	keySize    uint32
	valOffset  uint32
	valSize    uint32
	linkedItem uint32
}

// headerSize is the on-the-wire size of a header record: five uint32
// fields, encoded explicitly rather than taken from unsafe.Sizeof so
// the layout never depends on struct padding rules.
const headerSize = 20

// headerBlocks is the number of bitmap blocks a single header record
// occupies, i.e. ceil(headerSize / blockSize).
func headerBlocks(blockSize uint32) uint32 {
	return ceilDiv(headerSize, blockSize)
}

func ceilDiv(n, d uint32) uint32 {
	return (n + d - 1) / d
}

// empty reports whether a header slot holds no entry. A zeroed bucket
// (val_offset == 0) is always empty; zero is never a valid val_offset
// because every stored value follows its payload's 8-byte backpointer
// and NUL-terminated key, so val_offset is at least 9.
func (h header) empty() bool {
	return h.valOffset == 0
}

func decodeHeader(b []byte) header {
	return header{
		keyOffset:  binary.LittleEndian.Uint32(b[0:4]),
		keySize:    binary.LittleEndian.Uint32(b[4:8]),
		valOffset:  binary.LittleEndian.Uint32(b[8:12]),
		valSize:    binary.LittleEndian.Uint32(b[12:16]),
		linkedItem: binary.LittleEndian.Uint32(b[16:20]),
	}
}

func (h header) encodeInto(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.keyOffset)
	binary.LittleEndian.PutUint32(b[4:8], h.keySize)
	binary.LittleEndian.PutUint32(b[8:12], h.valOffset)
	binary.LittleEndian.PutUint32(b[12:16], h.valSize)
	binary.LittleEndian.PutUint32(b[16:20], h.linkedItem)
}

// payloadBlocks returns the number of bitmap blocks needed for a
// payload carrying the given key/value sizes (NUL included), per
// spec invariant 4: ceil((8 + key_size + val_size) / block_size).
func payloadBlocks(keySize, valSize, blockSize uint32) uint32 {
	return ceilDiv(8+keySize+valSize, blockSize)
}
