/*
NAME
  area.go

DESCRIPTION
  area.go defines Area, the strided byte-backed view of one channel's
  samples, and the silence/iteration helpers the rate and
  route engines share.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package area describes where one channel's samples live in memory and
// provides the stride-walking helpers the rate and route engines share.
package area

import "github.com/kelpwave/pcmchain/pcm/format"

// Area describes one channel's samples: a byte slice, the bit offset of
// the first sample, and the bit stride between successive samples.
// Enabled means the source side carries data; Wanted means the
// destination side expects data.
type Area struct {
	Addr     []byte
	FirstBit int
	StepBit  int
	Enabled  bool
	Wanted   bool
}

// Aligned reports whether FirstBit and StepBit are both byte-aligned, as
// every transfer operation requires.
func (a Area) Aligned() bool {
	return a.FirstBit%8 == 0 && a.StepBit%8 == 0
}

// firstByte and step are Aligned's byte-domain equivalents, valid only
// once Aligned has been checked.
func (a Area) firstByte() int { return a.FirstBit / 8 }
func (a Area) step() int      { return a.StepBit / 8 }

// Sample returns the width-byte slice backing frame index i.
func (a Area) Sample(i, width int) []byte {
	off := a.firstByte() + i*a.step()
	return a.Addr[off : off+width]
}

// Silence writes f's neutral sample pattern into the first n frames of
// a: zero for signed formats, mid-scale for unsigned ones.
func Silence(a Area, n int, f format.LinearFormat) {
	width := int(f.Bytes)
	for i := 0; i < n; i++ {
		f.WriteSilence(a.Sample(i, width))
	}
}
