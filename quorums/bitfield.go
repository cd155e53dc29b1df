package quorums

import (
	"math/bits"
	"strings"
)

// AcceptorSet is a set of acceptors represented as a bitset over the dense
// directory indexes. All sets in one node share the same width (the
// directory size), which makes subset and intersection tests cheap word
// operations.
type AcceptorSet struct {
	words []uint64
}

// NewAcceptorSet returns an empty set sized for a directory of n acceptors.
func NewAcceptorSet(n int) AcceptorSet {
	return AcceptorSet{words: make([]uint64, (n+63)/64)}
}

// Add adds the acceptor with the given index to the set.
func (s AcceptorSet) Add(i int) {
	s.words[i/64] |= 1 << (i % 64)
}

// Contains reports whether the set contains the acceptor with the given index.
func (s AcceptorSet) Contains(i int) bool {
	return s.words[i/64]&(1<<(i%64)) != 0
}

// Len returns the number of acceptors in the set.
func (s AcceptorSet) Len() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// SubsetOf reports whether every acceptor in s is also in other.
func (s AcceptorSet) SubsetOf(other AcceptorSet) bool {
	for i, w := range s.words {
		if w&^other.words[i] != 0 {
			return false
		}
	}
	return true
}

// Intersect returns a new set containing the acceptors present in both sets.
func (s AcceptorSet) Intersect(other AcceptorSet) AcceptorSet {
	out := AcceptorSet{words: make([]uint64, len(s.words))}
	for i, w := range s.words {
		out.words[i] = w & other.words[i]
	}
	return out
}

// ForEach calls f with the index of every acceptor in the set, ascending.
func (s AcceptorSet) ForEach(f func(i int)) {
	for wi, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			f(wi*64 + b)
			w &= w - 1
		}
	}
}

// names formats the set's members for error messages and logs.
func (s AcceptorSet) names(resolve func(i int) string) string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	s.ForEach(func(i int) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(resolve(i))
	})
	sb.WriteByte('}')
	return sb.String()
}
