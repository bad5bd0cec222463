/*
NAME
  intbuffer.go

DESCRIPTION
  intbuffer.go adapts github.com/go-audio/audio.IntBuffer, the common
  in-memory representation used by the go-audio ecosystem (wav, flac
  decoders), into and out of the strided
  Area views the rate and route engines operate on.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package area

import (
	"github.com/go-audio/audio"

	"github.com/kelpwave/pcmchain/pcm/format"
)

// PackIntBuffer encodes buf's interleaved integer samples into a single
// byte buffer in format f and returns one strided Area per channel over
// it, each enabled and wanted. The returned byte slice is the Areas'
// shared backing store and must outlive them.
func PackIntBuffer(buf *audio.IntBuffer, f format.LinearFormat) ([]byte, []Area) {
	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	frameBytes := int(f.Bytes) * channels
	data := make([]byte, frames*frameBytes)

	for i, s := range buf.Data {
		ch := i % channels
		frame := i / channels
		off := frame*frameBytes + ch*int(f.Bytes)
		format.EncodeFromBits(f, data[off:off+int(f.Bytes)], int32(s), buf.SourceBitDepth)
	}

	areas := make([]Area, channels)
	for ch := range areas {
		areas[ch] = Area{
			Addr:     data,
			FirstBit: ch * int(f.Bytes) * 8,
			StepBit:  frameBytes * 8,
			Enabled:  true,
			Wanted:   true,
		}
	}
	return data, areas
}

// UnpackToIntBuffer is the inverse of PackIntBuffer: it decodes frames
// frames of channels-interleaved format-f samples from data back into an
// audio.IntBuffer at the given sample rate and bit depth.
func UnpackToIntBuffer(data []byte, f format.LinearFormat, channels, frames, sampleRate, bitDepth int) *audio.IntBuffer {
	out := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
		Data:           make([]int, frames*channels),
	}
	frameBytes := int(f.Bytes) * channels
	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < channels; ch++ {
			off := frame*frameBytes + ch*int(f.Bytes)
			v := format.DecodeToBits(f, data[off:off+int(f.Bytes)], bitDepth)
			out.Data[frame*channels+ch] = int(v)
		}
	}
	return out
}
