// Package smht implements a shared-memory hash table: a hash index and
// a bitmap-backed data arena laid out inside one named, fixed-size
// shared-memory segment, addressed entirely by offset rather than raw
// pointer so the same bytes are meaningful in every process that
// attaches to them.
package smht

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/ArtUkrainskiy/smht/internal/metrics"
	"github.com/ArtUkrainskiy/smht/internal/pshared"
	"github.com/ArtUkrainskiy/smht/internal/segment"
)

// geometryStampSize is three uint32 fields (keyCount, dataCount,
// blockSize) written by the creating process directly after the
// process-shared mutex word, and checked by every subsequent attacher.
// This mirrors the cap/keySize/bucketSize compatibility check the
// reference map implementation this package is built from performs in
// its own init path; without it, two processes disagreeing about
// geometry would silently read garbage out of each other's offsets.
const geometryStampSize = 12

const serviceZoneSize = pshared.Size + geometryStampSize

// Table is a handle onto one attached shared-memory hash table. Every
// process that calls Open gets its own Table value; none of them own
// the underlying memory, and closing one does not affect the others.
type Table struct {
	seg    *segment.Segment
	region []byte

	keyCount  uint32
	dataCount uint32
	blockSize uint32

	headerTableBase uint32
	dataBase        uint32
	headerLen       uint32
	dataLen         uint32

	bitmap []byte

	mu      *pshared.Mutex
	hasher  func([]byte) uint32
	logger  *zap.Logger
	metrics *metrics.Collector

	closed bool
}

// Open attaches to the named shared-memory segment, creating and
// initializing it if it does not already exist. keyCount is the number
// of buckets in the index table; dataCount is the number of blocks in
// the data arena; blockSize is the size in bytes of one arena block.
// Every process attaching to the same name must pass the same three
// values — Open returns ErrSegmentSize if an existing segment's
// recorded geometry disagrees.
func Open(name string, keyCount, dataCount, blockSize int, opts ...Option) (*Table, error) {
	if keyCount <= 0 || dataCount <= 0 || blockSize <= 0 {
		return nil, ErrInvalidGeometry
	}

	cfg := newConfig(opts)
	kc, dc, bs := uint32(keyCount), uint32(dataCount), uint32(blockSize)

	headerLen := kc * headerSize
	dataLen := dc * bs
	memorySize := int64(serviceZoneSize) + int64(headerLen) + int64(dc) + int64(dataLen)

	seg, created, err := segment.Open(name, memorySize)
	if err != nil {
		return nil, err
	}

	region := seg.Data()
	t := &Table{
		seg:             seg,
		region:          region,
		keyCount:        kc,
		dataCount:       dc,
		blockSize:       bs,
		headerTableBase: serviceZoneSize,
		headerLen:       headerLen,
		dataLen:         dataLen,
		mu:              pshared.New(region[0:pshared.Size], cfg.logger),
		hasher:          cfg.hasher,
		logger:          cfg.logger,
		metrics:         cfg.metrics,
	}
	t.dataBase = t.headerTableBase + headerLen + dc
	t.bitmap = region[t.headerTableBase+headerLen : t.dataBase]

	geometry := region[pshared.Size : pshared.Size+geometryStampSize]
	if created {
		t.mu.Init()
		binary.LittleEndian.PutUint32(geometry[0:4], kc)
		binary.LittleEndian.PutUint32(geometry[4:8], dc)
		binary.LittleEndian.PutUint32(geometry[8:12], bs)
	} else {
		gotKC := binary.LittleEndian.Uint32(geometry[0:4])
		gotDC := binary.LittleEndian.Uint32(geometry[4:8])
		gotBS := binary.LittleEndian.Uint32(geometry[8:12])
		if gotKC != kc || gotDC != dc || gotBS != bs {
			_ = seg.Close()
			return nil, fmt.Errorf("%w: have (%d,%d,%d), want (%d,%d,%d)",
				ErrSegmentSize, gotKC, gotDC, gotBS, kc, dc, bs)
		}
	}

	if t.metrics != nil {
		t.metrics.IncAttached()
	}
	t.refreshMetrics()
	return t, nil
}

// Close detaches from the segment. It does not unlink the underlying
// shared-memory object, and it does not affect other processes still
// attached to it.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.metrics != nil {
		t.metrics.DecAttached()
	}
	return t.seg.Close()
}

// Set inserts or updates the value stored under key. It reports
// whether the write succeeded; it returns false when the arena has no
// room for the new payload (or, for a collision-chain insert, no room
// for a new chain-node header), mirroring the boolean return of the
// source this table's layout is modeled on.
func (t *Table) Set(key, val string) bool {
	if t.closed {
		t.logger.Warn("smht: operation on closed table", zap.Error(ErrClosed), zap.String("op", "Set"))
		return false
	}

	keyBytes := appendNUL(key)
	valBytes := appendNUL(val)
	K := uint32(len(keyBytes))
	V := uint32(len(valBytes))
	if uint64(8+K+V) > uint64(t.dataLen) {
		t.logger.Warn("smht: payload too large for arena", zap.Error(ErrKeyTooLarge),
			zap.Int("key_len", len(key)), zap.Int("val_len", len(val)))
		return false
	}

	B := payloadBlocks(K, V, t.blockSize)
	H := headerBlocks(t.blockSize)

	bucket := t.bucketFor(keyBytes[:K-1])
	headAbs := t.bucketHeaderAbs(bucket)
	h := t.readHeaderAt(headAbs)

	if h.empty() {
		idx, ok := t.findBlock(B, 0)
		if !ok {
			return false
		}
		t.commitPayload(headAbs, idx, keyBytes, valBytes, 0)
		t.refreshMetrics()
		return true
	}

	if t.keyMatches(h, keyBytes) {
		ok := t.replace(headAbs, h, keyBytes, valBytes)
		t.refreshMetrics()
		return ok
	}

	// Collision: the source only ever checks the bucket head for a
	// same-key match before appending a new chain node, so a key that
	// already exists deeper in the chain is not found here either — a
	// duplicate node is appended and the original stays reachable
	// first. Preserved as-is; see DESIGN.md.
	hdrIdx, ok := t.findBlock(H, H)
	if !ok {
		return false
	}
	dataIdx, ok := t.findBlock(B, 0)
	if !ok {
		t.freeBlocks(hdrIdx, H)
		return false
	}

	newHeaderAbs := t.dataBase + t.blockByteOffset(hdrIdx)

	tailAbs, tail := headAbs, h
	for tail.linkedItem != 0 {
		tailAbs = t.dataBase + tail.linkedItem
		tail = t.readHeaderAt(tailAbs)
	}
	tail.linkedItem = t.blockByteOffset(hdrIdx)
	t.writeHeaderAt(tailAbs, tail)

	t.commitPayload(newHeaderAbs, dataIdx, keyBytes, valBytes, 0)
	t.refreshMetrics()
	return true
}

// Get returns the value stored under key, or "" if no entry exists.
// "" is also a valid stored value for an empty string, matching the
// source's use of a pointer-to-empty-C-string as the not-found
// sentinel: callers that need to distinguish the two should track
// existence separately.
func (t *Table) Get(key string) string {
	if t.closed {
		t.logger.Warn("smht: operation on closed table", zap.Error(ErrClosed), zap.String("op", "Get"))
		return ""
	}

	queryKey := appendNUL(key)
	bucket := t.bucketFor(queryKey[:len(queryKey)-1])
	h := t.readHeaderAt(t.bucketHeaderAbs(bucket))
	if h.empty() {
		return ""
	}

	cur := h
	for {
		if t.keyMatches(cur, queryKey) {
			v := t.valAt(cur)
			return string(v[:len(v)-1])
		}
		if cur.linkedItem == 0 {
			return ""
		}
		cur = t.readHeaderAt(t.dataBase + cur.linkedItem)
	}
}

// Unset removes the entry stored under key, if any. The returned code
// mirrors the four-way classification of the source this is modeled
// on: 0 no entry found; 1 removed the bucket head, chain continues; 2
// removed the bucket head, chain was empty; 3 removed a chain node
// reached by walking the chain, that node's own chain continues; 4
// removed a chain node reached by walking the chain, that node was the
// last one.
func (t *Table) Unset(key string) int {
	if t.closed {
		t.logger.Warn("smht: operation on closed table", zap.Error(ErrClosed), zap.String("op", "Unset"))
		return 0
	}

	queryKey := appendNUL(key)
	bucket := t.bucketFor(queryKey[:len(queryKey)-1])
	headAbs := t.bucketHeaderAbs(bucket)
	h := t.readHeaderAt(headAbs)
	if h.empty() {
		return 0
	}

	var code int
	if t.keyMatches(h, queryKey) {
		if h.linkedItem == 0 {
			t.freePayloadOf(h)
			t.writeHeaderAt(headAbs, header{})
			code = 2
		} else {
			t.absorbNext(headAbs, h)
			code = 1
		}
		t.refreshMetrics()
		return code
	}

	prevAbs, prev := headAbs, h
	offset := h.linkedItem
	for offset != 0 {
		curAbs := t.dataBase + offset
		cur := t.readHeaderAt(curAbs)
		if t.keyMatches(cur, queryKey) {
			if cur.linkedItem != 0 {
				t.absorbNext(curAbs, cur)
				t.refreshMetrics()
				return 3
			}
			t.freePayloadOf(cur)
			t.freeHeaderBlocksOf(offset)
			t.writeHeaderAt(curAbs, header{})
			prev.linkedItem = 0
			t.writeHeaderAt(prevAbs, prev)
			t.refreshMetrics()
			return 4
		}
		prevAbs, prev = curAbs, cur
		offset = cur.linkedItem
	}
	return 0
}

// Clear empties every bucket and the entire data arena in one pass,
// leaving the process-shared mutex and geometry stamp untouched.
func (t *Table) Clear() {
	if t.closed {
		t.logger.Warn("smht: operation on closed table", zap.Error(ErrClosed), zap.String("op", "Clear"))
		return
	}
	t.mu.Lock()
	clear(t.region[t.headerTableBase:])
	t.mu.Unlock()
	t.refreshMetrics()
}

func (t *Table) refreshMetrics() {
	if t.metrics == nil {
		return
	}
	info := t.MemInfo()
	t.metrics.Refresh(info.FreeBytes, info.LongestFreeBlockBytes, info.LongestAllocatedBlockBytes, info.AllocatedRuns)
}

// --- header-table and data-arena addressing ---

func (t *Table) bucketFor(keyNoNUL []byte) uint32 {
	return t.hasher(keyNoNUL) % t.keyCount
}

func (t *Table) bucketHeaderAbs(bucket uint32) uint32 {
	return t.headerTableBase + bucket*headerSize
}

func (t *Table) readHeaderAt(abs uint32) header {
	return decodeHeader(t.region[abs : abs+headerSize])
}

func (t *Table) writeHeaderAt(abs uint32, h header) {
	h.encodeInto(t.region[abs : abs+headerSize])
}

func (t *Table) keyAt(h header) []byte {
	abs := t.dataBase + h.keyOffset
	return t.region[abs : abs+h.keySize]
}

func (t *Table) valAt(h header) []byte {
	abs := t.dataBase + h.valOffset
	return t.region[abs : abs+h.valSize]
}

func (t *Table) keyMatches(h header, queryKeyWithNUL []byte) bool {
	return bytes.Equal(t.keyAt(h), queryKeyWithNUL)
}

// commitPayload writes a payload into the block at idx and fills in
// the header record at headerAbs (the bucket head, or a chain node)
// to describe it.
func (t *Table) commitPayload(headerAbs uint32, idx uint32, keyBytes, valBytes []byte, linkedItem uint32) {
	byteOff := t.writePayload(idx, headerAbs, keyBytes, valBytes)
	t.writeHeaderAt(headerAbs, header{
		keyOffset:  byteOff + 8,
		keySize:    uint32(len(keyBytes)),
		valOffset:  byteOff + 8 + uint32(len(keyBytes)),
		valSize:    uint32(len(valBytes)),
		linkedItem: linkedItem,
	})
}

// writePayload writes the 8-byte owning-header backpointer followed by
// the NUL-terminated key and value into the block at idx, and returns
// that block's byte offset from the data-arena base.
func (t *Table) writePayload(idx uint32, headerAbs uint32, keyBytes, valBytes []byte) uint32 {
	byteOff := t.blockByteOffset(idx)
	blockAbs := t.dataBase + byteOff
	binary.LittleEndian.PutUint64(t.region[blockAbs:blockAbs+8], backpointerFor(headerAbs-t.headerTableBase))
	copy(t.region[blockAbs+8:], keyBytes)
	copy(t.region[blockAbs+8+uint32(len(keyBytes)):], valBytes)
	return byteOff
}

// backpointerFor packs a payload block's owning-header offset (from
// the header-table base) with the top bit set, marking this 8-byte
// word as a payload backpointer rather than a chain-node header's
// first field, which the defragmenter relies on to tell the two kinds
// of block apart without external bookkeeping.
func backpointerFor(headerOffsetFromTable uint32) uint64 {
	return uint64(headerOffsetFromTable) | (1 << 63)
}

func (t *Table) replace(headerAbs uint32, h header, keyBytes, valBytes []byte) bool {
	K := uint32(len(keyBytes))
	V := uint32(len(valBytes))
	oldBlocks := payloadBlocks(h.keySize, h.valSize, t.blockSize)
	newBlocks := payloadBlocks(K, V, t.blockSize)
	idx := t.blockIndexOf(h.keyOffset - 8)

	if oldBlocks == newBlocks {
		t.commitPayload(headerAbs, idx, keyBytes, valBytes, h.linkedItem)
		return true
	}

	t.freeBlocks(idx, oldBlocks)
	newIdx, ok := t.findBlock(newBlocks, 0)
	if !ok {
		// The old blocks are already free and the entry is lost if
		// reallocation fails here, exactly as in the source. See
		// DESIGN.md's Open Question notes.
		return false
	}
	t.commitPayload(headerAbs, newIdx, keyBytes, valBytes, h.linkedItem)
	return true
}

// absorbNext collapses node's successor into node's own slot: it frees
// node's payload and its successor's chain-node header storage, then
// copies the successor's fields into node so the bucket chain's shape
// is preserved one link shorter. The successor's payload backpointer
// is repointed at node's (now reused) header address.
func (t *Table) absorbNext(nodeAbs uint32, node header) {
	next := t.readHeaderAt(t.dataBase + node.linkedItem)
	t.freePayloadOf(node)
	t.freeHeaderBlocksOf(node.linkedItem)
	nextPayloadAbs := t.dataBase + (next.keyOffset - 8)
	binary.LittleEndian.PutUint64(t.region[nextPayloadAbs:nextPayloadAbs+8], backpointerFor(nodeAbs-t.headerTableBase))
	t.writeHeaderAt(nodeAbs, next)
}

func (t *Table) freePayloadOf(h header) {
	idx := t.blockIndexOf(h.keyOffset - 8)
	t.freeBlocks(idx, payloadBlocks(h.keySize, h.valSize, t.blockSize))
}

func (t *Table) freeHeaderBlocksOf(byteOffsetFromDataBase uint32) {
	idx := t.blockIndexOf(byteOffsetFromDataBase)
	t.freeBlocks(idx, headerBlocks(t.blockSize))
}

func appendNUL(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}
