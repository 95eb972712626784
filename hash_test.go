package smht

import "testing"

func TestHashBucketDeterministic(t *testing.T) {
	if hashBucket([]byte("hello")) != hashBucket([]byte("hello")) {
		t.Fatal("hashBucket is not deterministic for the same input")
	}
}

func TestHashBucketVariesAcrossSizes(t *testing.T) {
	inputs := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("ab"),
		[]byte("abc"),
		[]byte("abcd"),
		[]byte("abcde"),
		[]byte("abcdef"),
		[]byte("abcdefg"),
		[]byte("abcdefgh"),
		[]byte("abcdefghi"),
		[]byte("the quick brown fox jumps over the lazy dog"),
	}
	seen := make(map[uint32]int)
	for _, in := range inputs {
		seen[hashBucket(in)]++
	}
	if len(seen) < len(inputs)-1 {
		t.Fatalf("suspiciously many collisions across distinct lengths: %d distinct hashes for %d inputs", len(seen), len(inputs))
	}
}

func TestRotateLeft32(t *testing.T) {
	if got := rotateLeft32(1, 1); got != 2 {
		t.Fatalf("rotateLeft32(1,1) = %d, want 2", got)
	}
	if got := rotateLeft32(0x80000000, 1); got != 1 {
		t.Fatalf("rotateLeft32(0x80000000,1) = %#x, want 1", got)
	}
}
