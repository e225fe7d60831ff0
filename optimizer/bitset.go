package optimizer

import "math/bits"

// bitSet is a compact set of uint32 indices using a bitmap. Index spaces in
// contract modules are small and dense, which is exactly what this is good
// at.
type bitSet struct {
	words []uint64
}

func newBitSet(maxVal int) *bitSet {
	return &bitSet{words: make([]uint64, (maxVal+64)/64)}
}

func (b *bitSet) set(val uint32) {
	word := val / 64
	if int(word) >= len(b.words) {
		b.grow(int(word) + 1)
	}
	b.words[word] |= 1 << (val % 64)
}

func (b *bitSet) has(val uint32) bool {
	word := val / 64
	if int(word) >= len(b.words) {
		return false
	}
	return b.words[word]&(1<<(val%64)) != 0
}

func (b *bitSet) count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// grow expands the bitset to n words. Callers guarantee n > len(b.words).
func (b *bitSet) grow(n int) {
	words := make([]uint64, n)
	copy(words, b.words)
	b.words = words
}
