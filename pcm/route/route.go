/*
NAME
  route.go

DESCRIPTION
  route.go implements the route/mix plug-in: for each destination
  channel, dispatch to a zero/one/many kernel compiled from its
  transfer-table row. The many-source kernel sums each active source's
  sign-extended, bit-width-scaled sample in a 64-bit signed
  accumulator; the accumulator note on Route explains the
  representation choice.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package route implements the attenuated channel-mixing plug-in:
// mapping M source channels to N destination channels through a
// sparse, per-destination weighted sum.
package route

import (
	"math"

	"github.com/kelpwave/pcmchain/pcm"
	"github.com/kelpwave/pcmchain/pcm/area"
	"github.com/kelpwave/pcmchain/pcm/format"
	"github.com/kelpwave/pcmchain/pcm/pcmerr"
	"github.com/kelpwave/pcmchain/pcm/voiceset"
)

// Route is the route/mix plug-in: a compiled Table plus the frozen
// source and destination sample formats it was built for.
//
// Accumulator note: summing raw offset-binary magnitudes and dividing
// the total by FULL corrupts the result whenever a weight is neither 0
// nor FULL, because offset-binary's additive bias (2^(bits-1)) is
// itself scaled by the weight during the multiply and no longer
// cancels during normalisation (one 16-bit source at weight FULL/2
// comes back sign-flipped). The many-source kernel therefore decodes
// each sample to a signed, 32-bit-scaled intermediate (sign bit at bit
// 31, magnitude zero-padded below it), accumulates and weights in
// ordinary signed 64-bit arithmetic, then narrows back down. The
// per-width left-align shifts are unchanged — DecodeToBits and
// EncodeFromBits apply them — and the result is correct for every
// weight, not just 0 and FULL.
type Route struct {
	table                *Table
	srcFormat, dstFormat format.LinearFormat

	// decode, encode, and conv are the per-format codecs, specialised
	// once at Build so the kernels carry no per-sample format dispatch.
	decode func([]byte) int32
	encode func([]byte, int32)
	conv   func(dstBuf, srcBuf []byte)

	// scratch backs transferRow's per-call active-source list, sized to
	// the widest row at Build so Transfer never allocates.
	scratch []rowSrc
}

// Build constructs a Route plug-in mixing srcVoices channels of
// srcFormat into dstVoices channels of dstFormat, both at rate, per
// ttable (row-major, length srcVoices*dstVoices). Both formats must be
// linear. The route engine never changes sample rate, so one shared
// rate covers both sides.
func Build(srcFormat, dstFormat format.LinearFormat, rate uint32, srcVoices, dstVoices int, ttable []int32) (*Route, error) {
	if !srcFormat.Valid() || !dstFormat.Valid() {
		return nil, pcmerr.EINVAL
	}
	table, err := BuildTable(ttable, srcVoices, dstVoices)
	if err != nil {
		return nil, err
	}
	return &Route{
		table:     table,
		srcFormat: srcFormat,
		dstFormat: dstFormat,
		decode:    format.DecodeToBitsFunc(srcFormat, 32),
		encode:    format.EncodeFromBitsFunc(dstFormat, 32),
		conv:      format.ConvFunc(srcFormat, dstFormat),
		scratch:   make([]rowSrc, 0, srcVoices),
	}, nil
}

// Transfer mixes frames frames of src into dst per the compiled table,
// returning frames unchanged: the route engine never changes frame
// count.
func (r *Route) Transfer(src, dst []area.Area, frames int) (int, error) {
	if src == nil || dst == nil {
		return 0, pcmerr.EFAULT
	}
	if frames == 0 {
		return 0, nil
	}
	if len(src) != r.table.srcVoices || len(dst) != len(r.table.rows) {
		return 0, pcmerr.EINVAL
	}
	for i := range src {
		if !src[i].Aligned() {
			return 0, pcmerr.EINVAL
		}
	}
	for i := range dst {
		if !dst[i].Aligned() {
			return 0, pcmerr.EINVAL
		}
	}

	for d := range r.table.rows {
		r.transferRow(&r.table.rows[d], src, &dst[d], frames)
	}
	return frames, nil
}

// Action is silently ignored: the route engine holds no per-channel
// state to reset, only the transfer table compiled at Build.
func (r *Route) Action(pcm.Action) error { return nil }

// Free releases Route's resources. Route owns no heap beyond its own
// struct and the slices the garbage collector already tracks, so Free
// is a no-op; it exists to satisfy pcm.Plugin.
func (r *Route) Free() {}

// SrcVoicesMask delegates to the compiled table.
func (r *Route) SrcVoicesMask(dstMask voiceset.Voiceset) voiceset.Voiceset {
	return r.table.SrcVoicesMask(dstMask)
}

// DstVoicesMask delegates to the compiled table.
func (r *Route) DstVoicesMask(srcMask voiceset.Voiceset) voiceset.Voiceset {
	return r.table.DstVoicesMask(srcMask)
}

// transferRow dispatches one destination row to its zero, one, or
// many kernel. The split is re-evaluated every call from which of the
// row's statically compiled sources are currently Enabled: a row whose
// sources are all disabled falls back to the zero kernel, one whose
// single surviving source carries unity weight to the one kernel.
func (r *Route) transferRow(row *Row, src []area.Area, dst *area.Area, frames int) {
	active := r.scratch[:0]
	for _, s := range row.srcs {
		if src[s.voice].Enabled {
			active = append(active, s)
		}
	}

	switch {
	case len(active) == 0:
		if dst.Wanted {
			area.Silence(*dst, frames, r.dstFormat)
		}
		dst.Enabled = false
	case len(active) == 1 && active[0].weight == FULL:
		r.convertOne(active[0], src[active[0].voice], dst, frames)
	default:
		r.mixMany(active, row.att, src, dst, frames)
	}
}

// convertOne is the one-source fast path: a direct per-format convert
// bypassing the weighted-sum accumulator entirely.
func (r *Route) convertOne(s rowSrc, srcArea area.Area, dst *area.Area, frames int) {
	dst.Enabled = true
	srcWidth := int(r.srcFormat.Bytes)
	dstWidth := int(r.dstFormat.Bytes)
	for i := 0; i < frames; i++ {
		r.conv(dst.Sample(i, dstWidth), srcArea.Sample(i, srcWidth))
	}
}

// mixMany is the many-source kernel: per frame, decode each active
// source to the 32-bit signed, left-aligned intermediate, sum it
// (weighted if att) in a 64-bit signed accumulator, divide by FULL
// when attenuated, saturate to the 32-bit signed range, and narrow
// back down to the destination format. See the accumulator note on
// Route for the representation choice.
func (r *Route) mixMany(active []rowSrc, att bool, src []area.Area, dst *area.Area, frames int) {
	dst.Enabled = true
	srcWidth := int(r.srcFormat.Bytes)
	dstWidth := int(r.dstFormat.Bytes)

	for i := 0; i < frames; i++ {
		var sum int64
		for _, s := range active {
			v := int64(r.decode(src[s.voice].Sample(i, srcWidth)))
			if att {
				sum += v * int64(s.weight)
			} else {
				sum += v
			}
		}
		if att {
			sum /= FULL
		}

		switch {
		case sum > math.MaxInt32:
			sum = math.MaxInt32
		case sum < math.MinInt32:
			sum = math.MinInt32
		}
		r.encode(dst.Sample(i, dstWidth), int32(sum))
	}
}
