package smht

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	table := newTestTable(t, 64, 256, 8)

	require.True(t, table.Set("foo", "bar"))
	require.Equal(t, "bar", table.Get("foo"))
	require.Equal(t, "", table.Get("missing"))
}

func TestSetOverwriteSameSize(t *testing.T) {
	table := newTestTable(t, 64, 256, 8)

	require.True(t, table.Set("k", "aaa"))
	require.True(t, table.Set("k", "bbb"))
	require.Equal(t, "bbb", table.Get("k"))
}

func TestSetOverwriteDifferentSize(t *testing.T) {
	table := newTestTable(t, 64, 256, 8)

	require.True(t, table.Set("k", "short"))
	require.True(t, table.Set("k", "a much longer value than before"))
	require.Equal(t, "a much longer value than before", table.Get("k"))

	require.True(t, table.Set("k", "tiny"))
	require.Equal(t, "tiny", table.Get("k"))
}

func TestSetAccountsBytesExactly(t *testing.T) {
	// block_size=8: a single "a"->"b" entry needs ceil((8+2+2)/8)=2 blocks.
	table := newTestTable(t, 16, 64, 8)
	free0 := table.FreeMemorySize()

	require.True(t, table.Set("a", "b"))
	free1 := table.FreeMemorySize()
	require.Equal(t, free0-int64(2*8), free1)

	code := table.Unset("a")
	require.Equal(t, 2, code)
	require.Equal(t, free0, table.FreeMemorySize())
}

func TestCollisionChainInsertAndLookup(t *testing.T) {
	table := newTestTable(t, 8, 256, 8)

	keys := collidingKeys(t, hashBucket, table.keyCount, "base", 3)
	for i, k := range keys {
		require.True(t, table.Set(k, fmt.Sprintf("v%d", i)), "set %q", k)
	}
	for i, k := range keys {
		require.Equal(t, fmt.Sprintf("v%d", i), table.Get(k), "get %q", k)
	}
}

func TestUnsetSingleItem(t *testing.T) {
	table := newTestTable(t, 64, 256, 8)

	require.True(t, table.Set("solo", "value"))
	require.Equal(t, 2, table.Unset("solo"))
	require.Equal(t, "", table.Get("solo"))
	require.Equal(t, 0, table.Unset("solo"))
}

func TestUnsetHeadWithChain(t *testing.T) {
	table := newTestTable(t, 8, 256, 8)
	keys := collidingKeys(t, hashBucket, table.keyCount, "head", 2)

	require.True(t, table.Set(keys[0], "first"))
	require.True(t, table.Set(keys[1], "second"))

	require.Equal(t, 1, table.Unset(keys[0]))
	require.Equal(t, "", table.Get(keys[0]))
	require.Equal(t, "second", table.Get(keys[1]))
}

func TestUnsetChainTerminalNode(t *testing.T) {
	table := newTestTable(t, 8, 256, 8)
	keys := collidingKeys(t, hashBucket, table.keyCount, "tail", 2)

	require.True(t, table.Set(keys[0], "first"))
	require.True(t, table.Set(keys[1], "second"))

	require.Equal(t, 4, table.Unset(keys[1]))
	require.Equal(t, "first", table.Get(keys[0]))
	require.Equal(t, "", table.Get(keys[1]))
}

func TestUnsetChainMiddleNode(t *testing.T) {
	table := newTestTable(t, 8, 512, 8)
	keys := collidingKeys(t, hashBucket, table.keyCount, "mid", 3)

	for i, k := range keys {
		require.True(t, table.Set(k, fmt.Sprintf("v%d", i)))
	}

	require.Equal(t, 3, table.Unset(keys[1]))
	require.Equal(t, "v0", table.Get(keys[0]))
	require.Equal(t, "", table.Get(keys[1]))
	require.Equal(t, "v2", table.Get(keys[2]))
}

func TestUnsetEntireChain(t *testing.T) {
	table := newTestTable(t, 8, 512, 8)
	keys := collidingKeys(t, hashBucket, table.keyCount, "chain", 4)

	for i, k := range keys {
		require.True(t, table.Set(k, fmt.Sprintf("v%d", i)))
	}
	for _, k := range keys {
		code := table.Unset(k)
		require.NotEqual(t, 0, code)
	}
	for _, k := range keys {
		require.Equal(t, "", table.Get(k))
	}
}

func TestClearEmptiesTable(t *testing.T) {
	table := newTestTable(t, 64, 256, 8)

	require.True(t, table.Set("a", "1"))
	require.True(t, table.Set("b", "2"))
	free0 := table.FreeMemorySize()

	table.Clear()

	require.Equal(t, "", table.Get("a"))
	require.Equal(t, "", table.Get("b"))
	require.Greater(t, table.FreeMemorySize(), free0)
}

func TestStormOfRandomKeys(t *testing.T) {
	table := newTestTable(t, 512, 8192, 16)
	rng := rand.New(rand.NewSource(1))

	const n = 1000
	keys := make([]string, n)
	vals := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = randomString(rng, 16)
		vals[i] = randomString(rng, 32)
		if !table.Set(keys[i], vals[i]) {
			t.Fatalf("arena full after %d inserts", i)
		}
	}
	for i := 0; i < n; i++ {
		require.Equal(t, vals[i], table.Get(keys[i]))
	}
	for i := 0; i < n; i++ {
		require.NotEqual(t, 0, table.Unset(keys[i]))
	}
	for i := 0; i < n; i++ {
		require.Equal(t, "", table.Get(keys[i]))
	}
}

func TestGeometryMismatchRejected(t *testing.T) {
	name := "smht-test-geometry-mismatch"
	t.Cleanup(func() { _ = unlinkTestSegment(name) })

	a, err := Open(name, 32, 128, 8)
	require.NoError(t, err)
	defer a.Close()

	_, err = Open(name, 32, 128, 16)
	require.ErrorIs(t, err, ErrSegmentSize)
}

func BenchmarkOpen(b *testing.B) {
	name := "smht-bench-open"
	defer func() { _ = unlinkTestSegmentB(name) }()

	for i := 0; i < b.N; i++ {
		table, err := Open(name, 1024, 4096, 32)
		if err != nil {
			b.Fatal(err)
		}
		table.Close()
	}
}

func BenchmarkSetGet(b *testing.B) {
	name := "smht-bench-setget"
	defer func() { _ = unlinkTestSegmentB(name) }()

	table, err := Open(name, 4096, 65536, 32)
	if err != nil {
		b.Fatal(err)
	}
	defer table.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", i%4096)
		table.Set(key, "benchmark-value")
		table.Get(key)
	}
}

// randomString reproduces the original test suite's RandomGenerator::
// getRandomString: n printable ASCII characters.
func randomString(rng *rand.Rand, n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(b)
}

// randomInt reproduces RandomGenerator::getRandomInt, whose min
// parameter the original silently ignores. Preserved here rather than
// "fixed" to something that honors min.
func randomInt(rng *rand.Rand, _min, max int) int {
	return rng.Intn(max)
}

// collidingKeys brute-forces n distinct keys that all hash to the same
// bucket as seed under hasher mod keyCount, the way the original test
// suite's findCollision helper forces chain-collision scenarios.
func collidingKeys(t *testing.T, hasher func([]byte) uint32, keyCount uint32, seed string, n int) []string {
	t.Helper()
	target := hasher([]byte(seed)) % keyCount
	out := []string{seed}
	for i := 0; len(out) < n; i++ {
		candidate := fmt.Sprintf("%s-%d", seed, i)
		if hasher([]byte(candidate))%keyCount == target {
			out = append(out, candidate)
		}
		if i > 1_000_000 {
			t.Fatalf("could not find %d colliding keys for seed %q", n, seed)
		}
	}
	return out
}

func unlinkTestSegmentB(name string) error {
	return unlinkTestSegment(name)
}
