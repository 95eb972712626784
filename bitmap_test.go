package smht

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ArtUkrainskiy/smht/internal/segment"
)

func newTestTable(t *testing.T, keyCount, dataCount, blockSize int) *Table {
	t.Helper()
	name := "smht-test-" + t.Name()
	table, err := Open(name, keyCount, dataCount, blockSize)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = table.Close()
		_ = unlinkTestSegment(name)
	})
	return table
}

func TestFindBlockFirstFit(t *testing.T) {
	table := newTestTable(t, 16, 32, 8)

	idx, ok := table.findBlock(4, 0)
	require.True(t, ok)
	require.EqualValues(t, 0, idx)

	idx2, ok := table.findBlock(2, 0)
	require.True(t, ok)
	require.EqualValues(t, 4, idx2)

	table.freeBlocks(0, 4)
	idx3, ok := table.findBlock(3, 0)
	require.True(t, ok)
	require.EqualValues(t, 0, idx3)
}

func TestFindBlockRespectsStartOffset(t *testing.T) {
	table := newTestTable(t, 16, 32, 8)

	idx, ok := table.findBlock(2, 3)
	require.True(t, ok)
	require.GreaterOrEqual(t, idx, uint32(3))
}

func TestFindBlockChainHeaderNeverAtZero(t *testing.T) {
	// headerBlocks(8) with headerSize=20 is ceil(20/8) = 3, so any
	// chain-node header allocation must start at offset >= 3, and in
	// particular never at bitmap index 0 — index 0 is reserved so a
	// zero linked_item always means "no next node".
	table := newTestTable(t, 16, 32, 8)
	h := headerBlocks(table.blockSize)
	require.GreaterOrEqual(t, h, uint32(1))

	idx, ok := table.findBlock(h, h)
	require.True(t, ok)
	require.NotZero(t, idx)
}

func TestFindBlockExhaustion(t *testing.T) {
	table := newTestTable(t, 16, 8, 8)

	idx, ok := table.findBlock(8, 0)
	require.True(t, ok)
	require.EqualValues(t, 0, idx)

	_, ok = table.findBlock(1, 0)
	require.False(t, ok)

	table.freeBlocks(2, 1)
	idx2, ok := table.findBlock(1, 0)
	require.True(t, ok)
	require.EqualValues(t, 2, idx2)
}

func unlinkTestSegment(name string) error {
	return segment.Unlink(name)
}
