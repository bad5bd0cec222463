/*
NAME
  area_test.go

DESCRIPTION
  area_test.go tests the strided channel view: alignment checks, sample
  addressing, silence fills, and the go-audio IntBuffer adapters.

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
	"reflect"
	"testing"

	"github.com/go-audio/audio"

	"github.com/kelpwave/pcmchain/pcm/format"
)

var s16 = format.LinearFormat{Bytes: 2, Signed: true}

func TestAligned(t *testing.T) {
	tests := []struct {
		first, step int
		want        bool
	}{
		{0, 16, true},
		{16, 32, true},
		{3, 16, false},
		{0, 12, false},
	}
	for _, tt := range tests {
		a := Area{FirstBit: tt.first, StepBit: tt.step}
		if got := a.Aligned(); got != tt.want {
			t.Errorf("Aligned() with first=%d step=%d = %v, want %v", tt.first, tt.step, got, tt.want)
		}
	}
}

func TestSampleInterleavedStride(t *testing.T) {
	// Two interleaved 16-bit channels: the second channel's view starts
	// 16 bits in and strides a whole frame per sample.
	buf := []byte{0, 0, 1, 1, 2, 2, 3, 3}
	a := Area{Addr: buf, FirstBit: 16, StepBit: 32}
	if got := a.Sample(0, 2); got[0] != 1 || got[1] != 1 {
		t.Errorf("Sample(0) = %v, want [1 1]", got)
	}
	if got := a.Sample(1, 2); got[0] != 3 || got[1] != 3 {
		t.Errorf("Sample(1) = %v, want [3 3]", got)
	}
}

func TestSilenceSigned(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff, 0xff}
	a := Area{Addr: buf, StepBit: 16}
	Silence(a, 2, s16)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %#x after silence, want 0", i, b)
		}
	}
}

func TestSilenceUnsignedMidScale(t *testing.T) {
	u8 := format.LinearFormat{Bytes: 1}
	buf := []byte{0, 0}
	Silence(Area{Addr: buf, StepBit: 8}, 2, u8)
	if buf[0] != 0x80 || buf[1] != 0x80 {
		t.Fatalf("unsigned silence = %v, want [0x80 0x80]", buf)
	}
}

func TestIntBufferRoundTrip(t *testing.T) {
	in := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 48000},
		SourceBitDepth: 16,
		Data:           []int{1000, 2000, -500, 500, 32767, -32768},
	}
	data, areas := PackIntBuffer(in, s16)
	if len(areas) != 2 {
		t.Fatalf("PackIntBuffer returned %d areas, want 2", len(areas))
	}
	if got := format.DecodeS16(s16, areas[1].Sample(0, 2)); got != 2000 {
		t.Errorf("channel 1 frame 0 = %d, want 2000", got)
	}

	out := UnpackToIntBuffer(data, s16, 2, 3, 48000, 16)
	if !reflect.DeepEqual(out.Data, in.Data) {
		t.Errorf("round trip data = %v, want %v", out.Data, in.Data)
	}
	if out.Format.SampleRate != 48000 || out.Format.NumChannels != 2 {
		t.Errorf("round trip format = %+v", out.Format)
	}
}
