/*
NAME
  voiceset.go

DESCRIPTION
  voiceset.go implements Voiceset, a small fixed-size bitset recording
  which channels of a route table's source or destination side carry
  data, the type SrcVoicesMask and DstVoicesMask take and return.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package voiceset implements a small fixed-size bitset over channel
// (voice) indices, sized to a route table's channel count rather than
// general-purpose arbitrary-precision sets.
package voiceset

import "math/bits"

const wordBits = 64

// Voiceset is a bitset over voice indices [0, n). The zero value is the
// empty set.
type Voiceset struct {
	words []uint64
	n     int
}

// New returns an empty Voiceset sized to hold voice indices [0, n).
func New(n int) Voiceset {
	if n < 0 {
		n = 0
	}
	return Voiceset{words: make([]uint64, (n+wordBits-1)/wordBits), n: n}
}

// Set adds voice i to the set. It panics if i is out of range, the
// same contract area.Area.Sample uses for out-of-range frame indices.
func (v *Voiceset) Set(i int) {
	if i < 0 || i >= v.n {
		panic("voiceset: voice index out of range")
	}
	v.words[i/wordBits] |= 1 << uint(i%wordBits)
}

// Clear removes voice i from the set.
func (v *Voiceset) Clear(i int) {
	v.words[i/wordBits] &^= 1 << uint(i%wordBits)
}

// Has reports whether voice i is a member.
func (v Voiceset) Has(i int) bool {
	return v.words[i/wordBits]&(1<<uint(i%wordBits)) != 0
}

// Count returns the number of member voices.
func (v Voiceset) Count() int {
	n := 0
	for _, w := range v.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Len returns the size of the index space the Voiceset was created
// with, regardless of how many voices are currently members.
func (v Voiceset) Len() int { return v.n }
