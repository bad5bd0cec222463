/*
NAME
  rate.go

DESCRIPTION
  rate.go implements the rate-conversion plug-in: a two-tap
  linear interpolator with fractional phase arithmetic in Q21 fixed
  point, carrying two historical samples and a shared phase per channel
  across successive Transfer calls.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package rate implements linear-interpolation PCM rate conversion
// between two fixed, frozen-at-build sample rates.
package rate

import (
	"github.com/kelpwave/pcmchain/pcm"
	"github.com/kelpwave/pcmchain/pcm/area"
	"github.com/kelpwave/pcmchain/pcm/format"
	"github.com/kelpwave/pcmchain/pcm/pcmerr"
)

const (
	shift = 11
	bits  = 1 << shift // 2048
	mask  = bits - 1
)

// voiceState holds the two most recent source samples for one channel,
// already in the rate engine's common 16-bit representation.
type voiceState struct {
	lastS1, lastS2 int16
}

// Rate is the rate-conversion plug-in. It is built once for a fixed
// (srcFormat, srcRate) -> (dstFormat, dstRate) mapping and then mutated
// only by Transfer (phase and per-channel state) and Action.
type Rate struct {
	srcFormat, dstFormat format.LinearFormat
	channels             int
	pitch                uint32
	expand               bool // true: up-sampling (expand kernel); false: down-sampling (shrink kernel)
	pos                  uint32
	voices               []voiceState

	// decode and encode are the per-format codecs, specialised once at
	// Build so the kernels carry no per-sample format dispatch.
	decode func([]byte) int16
	encode func([]byte, int16)

	// oldSrcFrames and oldDstFrames memoise the last (n -> result) pair across SrcFrames
	// and DstFrames, exploiting their approximate linearity to answer
	// small multiples of a previous query without recomputing.
	oldSrcFrames, oldDstFrames int
}

// Build constructs a Rate plug-in converting channels channels of
// srcFormat at srcRate to dstFormat at dstRate. Both formats must be
// valid linear formats, channels must be at least 1, and the rates must
// differ.
func Build(srcFormat, dstFormat format.LinearFormat, channels int, srcRate, dstRate uint32) (*Rate, error) {
	if channels < 1 {
		return nil, pcmerr.EINVAL
	}
	if !srcFormat.Valid() || !dstFormat.Valid() {
		return nil, pcmerr.EINVAL
	}
	if srcRate == dstRate {
		return nil, pcmerr.EINVAL
	}

	r := &Rate{
		srcFormat: srcFormat,
		dstFormat: dstFormat,
		channels:  channels,
		voices:    make([]voiceState, channels),
		decode:    format.DecodeS16Func(srcFormat),
		encode:    format.EncodeS16Func(dstFormat),
	}
	if srcRate < dstRate {
		r.pitch = ((srcRate << shift) + dstRate/2) / dstRate
		r.expand = true
	} else {
		r.pitch = ((dstRate << shift) + srcRate/2) / srcRate
		r.expand = false
	}
	return r, nil
}

// scaleCache implements the halve/double memoisation shared by
// SrcFrames and DstFrames: given the cached (key, seed) pair and a new
// query n, it either derives n's paired value by repeatedly halving or
// doubling seed in lockstep with key until it lines up with n, or
// reports that no exact scaling relationship exists.
func scaleCache(key, n, seed int) (res int, ok bool) {
	frames1, res1 := n, seed
	for i := 0; i < 32 && key < frames1; i++ {
		frames1 >>= 1
		res1 <<= 1
	}
	for i := 0; i < 32 && key > frames1; i++ {
		frames1 <<= 1
		res1 >>= 1
	}
	if key == frames1 {
		return res1, true
	}
	return 0, false
}

// SrcFrames returns how many source frames produce n destination
// frames: the inverse of DstFrames.
func (r *Rate) SrcFrames(n int) (int, error) {
	if n <= 0 {
		return 0, pcmerr.EINVAL
	}
	var res int
	if r.expand {
		res = int((uint64(n)*uint64(r.pitch) + bits/2) >> shift)
	} else {
		res = int((uint64(n)<<shift + uint64(r.pitch)/2) / uint64(r.pitch))
	}
	if r.oldSrcFrames > 0 {
		if cached, ok := scaleCache(r.oldSrcFrames, n, r.oldDstFrames); ok {
			return cached, nil
		}
	}
	r.oldSrcFrames = n
	r.oldDstFrames = res
	return res, nil
}

// DstFrames returns how many destination frames n source frames
// produce: the forward direction.
func (r *Rate) DstFrames(n int) (int, error) {
	if n <= 0 {
		return 0, pcmerr.EINVAL
	}
	var res int
	if r.expand {
		res = int((uint64(n)<<shift + uint64(r.pitch)/2) / uint64(r.pitch))
	} else {
		res = int((uint64(n)*uint64(r.pitch) + bits/2) >> shift)
	}
	if r.oldDstFrames > 0 {
		if cached, ok := scaleCache(r.oldDstFrames, n, r.oldSrcFrames); ok {
			return cached, nil
		}
	}
	r.oldDstFrames = n
	r.oldSrcFrames = res
	return res, nil
}

// Transfer consumes n source frames of src and produces DstFrames(n)
// destination frames into dst, returning that count.
//
// Transfer does not clamp its output to a shorter dst; callers must
// supply dst with at least DstFrames(n) frames of capacity per channel.
func (r *Rate) Transfer(src, dst []area.Area, n int) (int, error) {
	if src == nil || dst == nil {
		return 0, pcmerr.EFAULT
	}
	if n == 0 {
		return 0, nil
	}
	if len(src) != r.channels || len(dst) != r.channels {
		return 0, pcmerr.EINVAL
	}
	for i := range src {
		if !src[i].Aligned() || !dst[i].Aligned() {
			return 0, pcmerr.EINVAL
		}
		if r.srcFormat.Bits() == 16 && src[i].StepBit%16 != 0 {
			return 0, pcmerr.EINVAL
		}
		if r.dstFormat.Bits() == 16 && dst[i].StepBit%16 != 0 {
			return 0, pcmerr.EINVAL
		}
	}

	dstFrames, err := r.DstFrames(n)
	if err != nil {
		return 0, err
	}

	if r.expand {
		r.expandTransfer(src, dst, n, dstFrames)
	} else {
		r.shrinkTransfer(src, dst, n, dstFrames)
	}
	return dstFrames, nil
}

// Action resets the rate engine's phase and per-channel state on
// Init, Prepare, Drain, and Flush; every other action is silently
// ignored.
func (r *Rate) Action(a pcm.Action) error {
	switch a {
	case pcm.Init, pcm.Prepare, pcm.Drain, pcm.Flush:
		r.pos = 0
		for i := range r.voices {
			r.voices[i] = voiceState{}
		}
	}
	return nil
}

// Free releases Rate's resources. Rate owns no heap beyond its own
// struct, so Free is a no-op; it exists to satisfy pcm.Plugin.
func (r *Rate) Free() {}

// advanceExpand computes the phase after processing dstFrames output
// frames from srcFrames input frames in the expand direction. It
// depends only on counts and the starting phase, never on sample
// values, so it is computed once per Transfer call rather than
// threaded through the per-channel loop. Output is therefore identical
// whatever order the channels run in, and the stored phase stays
// consistent even when the last channel happens to be disabled.
func advanceExpand(startPos, pitch uint32, dstFrames int) uint32 {
	pos := startPos
	if pos&^uint32(mask) != 0 {
		pos &= mask
	}
	for i := 0; i < dstFrames; i++ {
		if pos&^uint32(mask) != 0 {
			pos &= mask
		}
		pos += pitch
	}
	return pos
}

// advanceShrink is advanceExpand's counterpart for the shrink direction.
func advanceShrink(startPos, pitch uint32, srcFrames, dstFrames int) uint32 {
	pos := startPos
	srcFrames1, dstFrames1 := srcFrames, dstFrames
	for dstFrames1 > 0 {
		if srcFrames1 > 0 {
			srcFrames1--
		}
		if pos&^uint32(mask) != 0 {
			pos &= mask
			dstFrames1--
		}
		pos += pitch
	}
	return pos
}

// expandTransfer runs the up-sampling kernel over every channel.
func (r *Rate) expandTransfer(src, dst []area.Area, srcFrames, dstFrames int) {
	startPos := r.pos
	srcWidth := int(r.srcFormat.Bytes)
	dstWidth := int(r.dstFormat.Bytes)

	for ch := 0; ch < r.channels; ch++ {
		if !src[ch].Enabled {
			if dst[ch].Wanted {
				area.Silence(dst[ch], dstFrames, r.dstFormat)
			}
			dst[ch].Enabled = false
			continue
		}
		dst[ch].Enabled = true

		vs := &r.voices[ch]
		S1, S2 := vs.lastS1, vs.lastS2
		pos := startPos
		remainingSrc := srcFrames
		srcIdx, dstIdx := 0, 0

		if pos&^uint32(mask) != 0 {
			pos &= mask
			S1 = S2
			S2 = r.decode(src[ch].Sample(srcIdx, srcWidth))
			srcIdx++
			remainingSrc--
		}

		for i := 0; i < dstFrames; i++ {
			if pos&^uint32(mask) != 0 {
				pos &= mask
				S1 = S2
				if remainingSrc > 0 {
					S2 = r.decode(src[ch].Sample(srcIdx, srcWidth))
					srcIdx++
					remainingSrc--
				}
			}
			val := int32(S1) + (int32(S2)-int32(S1))*int32(pos)/bits
			if val < -32768 {
				val = -32768
			} else if val > 32767 {
				val = 32767
			}
			r.encode(dst[ch].Sample(dstIdx, dstWidth), int16(val))
			dstIdx++
			pos += r.pitch
		}

		vs.lastS1, vs.lastS2 = S1, S2
	}

	r.pos = advanceExpand(startPos, r.pitch, dstFrames)
}

// shrinkTransfer runs the down-sampling kernel over every channel. It
// never writes more than dstFrames output frames even if source frames
// remain unconsumed.
func (r *Rate) shrinkTransfer(src, dst []area.Area, srcFrames, dstFrames int) {
	startPos := r.pos
	srcWidth := int(r.srcFormat.Bytes)
	dstWidth := int(r.dstFormat.Bytes)

	for ch := 0; ch < r.channels; ch++ {
		if !src[ch].Enabled {
			if dst[ch].Wanted {
				area.Silence(dst[ch], dstFrames, r.dstFormat)
			}
			dst[ch].Enabled = false
			continue
		}
		dst[ch].Enabled = true

		vs := &r.voices[ch]
		S1, S2 := vs.lastS1, vs.lastS2
		pos := startPos
		remainingSrc := srcFrames
		remainingDst := dstFrames
		srcIdx, dstIdx := 0, 0

		for remainingDst > 0 {
			S1 = S2
			if remainingSrc > 0 {
				S2 = r.decode(src[ch].Sample(srcIdx, srcWidth))
				srcIdx++
				remainingSrc--
			}
			if pos&^uint32(mask) != 0 {
				pos &= mask
				val := int32(S1) + (int32(S2)-int32(S1))*int32(pos)/bits
				if val < -32768 {
					val = -32768
				} else if val > 32767 {
					val = 32767
				}
				r.encode(dst[ch].Sample(dstIdx, dstWidth), int16(val))
				dstIdx++
				remainingDst--
			}
			pos += r.pitch
		}

		vs.lastS1, vs.lastS2 = S1, S2
	}

	r.pos = advanceShrink(startPos, r.pitch, srcFrames, dstFrames)
}
