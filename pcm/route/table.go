/*
NAME
  table.go

DESCRIPTION
  table.go compiles a row-major weight matrix into a Table: one
  compiled Row per destination channel, each holding its dense list of
  non-zero (source, weight) pairs and the attenuation flag that decides
  which accumulation path the route engine's many-source kernel takes.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package route

import (
	"github.com/kelpwave/pcmchain/pcm/pcmerr"
	"github.com/kelpwave/pcmchain/pcm/voiceset"
)

// FULL is the transfer-table weight representing unity gain. It is a
// power of two so normalisation's attenuation divide reduces to a
// right shift.
const FULL = 1 << 16

// rowSrc is one compiled (source voice, weight) pair in a Row.
type rowSrc struct {
	voice  int
	weight uint32
}

// Row is one destination channel's compiled transfer-table entry: the
// dense list of sources with non-zero weight, and whether any of them
// is a true attenuation (non-zero, non-unit weight).
type Row struct {
	srcs []rowSrc
	att  bool
}

// Table is a compiled transfer table: one Row per destination voice.
type Table struct {
	rows      []Row
	srcVoices int
}

// BuildTable compiles the row-major weight matrix ttable (length
// srcVoices*dstVoices, entry [dst*srcVoices+src] in [0, FULL]) into a
// Table. A negative weight or a weight above FULL fails with EINVAL.
// Whether a row's weights sum above FULL is not checked; the route
// engine saturates the output instead.
func BuildTable(ttable []int32, srcVoices, dstVoices int) (*Table, error) {
	if srcVoices < 1 || dstVoices < 1 {
		return nil, pcmerr.EINVAL
	}
	if len(ttable) != srcVoices*dstVoices {
		return nil, pcmerr.EINVAL
	}

	rows := make([]Row, dstVoices)
	for d := 0; d < dstVoices; d++ {
		var row Row
		anyNonZero, anyNonFull := false, false
		for s := 0; s < srcVoices; s++ {
			w := ttable[d*srcVoices+s]
			if w < 0 || w > FULL {
				return nil, pcmerr.EINVAL
			}
			if w == 0 {
				continue
			}
			row.srcs = append(row.srcs, rowSrc{voice: s, weight: uint32(w)})
			anyNonZero = true
			if w != FULL {
				anyNonFull = true
			}
		}
		row.att = anyNonZero && anyNonFull
		rows[d] = row
	}
	return &Table{rows: rows, srcVoices: srcVoices}, nil
}

// SrcVoicesMask returns the union of every source voice feeding any
// destination voice set in dstMask.
func (t *Table) SrcVoicesMask(dstMask voiceset.Voiceset) voiceset.Voiceset {
	vm := voiceset.New(t.srcVoices)
	for d, row := range t.rows {
		if !dstMask.Has(d) {
			continue
		}
		for _, s := range row.srcs {
			vm.Set(s.voice)
		}
	}
	return vm
}

// DstVoicesMask sets destination voice d iff any of its sources is a
// member of srcMask.
func (t *Table) DstVoicesMask(srcMask voiceset.Voiceset) voiceset.Voiceset {
	vm := voiceset.New(len(t.rows))
	for d, row := range t.rows {
		for _, s := range row.srcs {
			if srcMask.Has(s.voice) {
				vm.Set(d)
				break
			}
		}
	}
	return vm
}
