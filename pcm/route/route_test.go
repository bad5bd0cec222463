/*
NAME
  route_test.go

DESCRIPTION
  route_test.go tests the route/mix plug-in: table-build validation,
  the zero/one/many kernel dispatch and their worked-example outputs,
  the disabled-source silence contract, and the per-source accumulator
  correctness the many-source kernel depends on.

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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kelpwave/pcmchain/pcm/area"
	"github.com/kelpwave/pcmchain/pcm/format"
	"github.com/kelpwave/pcmchain/pcm/pcmerr"
	"github.com/kelpwave/pcmchain/pcm/voiceset"
)

var s16 = format.LinearFormat{Bytes: 2, Signed: true}

// mkArea allocates n frames of zeroed s16 samples and returns an Area
// over the backing slice.
func mkArea(n int) area.Area {
	return area.Area{Addr: make([]byte, n*2), StepBit: 16, Enabled: true, Wanted: true}
}

func s16Samples(vals ...int16) area.Area {
	a := mkArea(len(vals))
	for i, v := range vals {
		format.EncodeS16(s16, a.Sample(i, 2), v)
	}
	return a
}

func readS16(a area.Area, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = format.DecodeS16(s16, a.Sample(i, 2))
	}
	return out
}

func TestBuildTableRejectsZeroVoices(t *testing.T) {
	if _, err := Build(s16, s16, 8000, 0, 1, []int32{FULL}); err != pcmerr.EINVAL {
		t.Fatalf("Build with 0 src voices = %v, want EINVAL", err)
	}
}

func TestBuildTableRejectsBadWeight(t *testing.T) {
	if _, err := Build(s16, s16, 8000, 1, 1, []int32{-1}); err != pcmerr.EINVAL {
		t.Fatalf("Build with negative weight = %v, want EINVAL", err)
	}
	if _, err := Build(s16, s16, 8000, 1, 1, []int32{FULL + 1}); err != pcmerr.EINVAL {
		t.Fatalf("Build with weight > FULL = %v, want EINVAL", err)
	}
}

func TestBuildTableRejectsWrongLength(t *testing.T) {
	if _, err := Build(s16, s16, 8000, 2, 1, []int32{FULL}); err != pcmerr.EINVAL {
		t.Fatalf("Build with mismatched ttable length = %v, want EINVAL", err)
	}
}

func TestBuildTableRejectsInvalidFormat(t *testing.T) {
	bad := format.LinearFormat{Bytes: 5}
	if _, err := Build(bad, s16, 8000, 1, 1, []int32{FULL}); err != pcmerr.EINVAL {
		t.Fatalf("Build with invalid src format = %v, want EINVAL", err)
	}
}

// TestBuildAllowsOverUnityRowSum: a row whose weights sum above FULL
// is accepted at build time, with saturation deferred to Transfer.
func TestBuildAllowsOverUnityRowSum(t *testing.T) {
	if _, err := Build(s16, s16, 8000, 2, 1, []int32{FULL, FULL}); err != nil {
		t.Fatalf("Build with row sum 2*FULL = %v, want nil", err)
	}
}

// TestIdentityTableRoundTrips: an identity transfer table reproduces
// its input exactly.
func TestIdentityTableRoundTrips(t *testing.T) {
	r, err := Build(s16, s16, 8000, 2, 2, []int32{
		FULL, 0,
		0, FULL,
	})
	if err != nil {
		t.Fatal(err)
	}
	l := s16Samples(1000, -500, 32767, -32768)
	rr := s16Samples(2000, 500, -1, 1)
	dstL := mkArea(4)
	dstR := mkArea(4)

	n, err := r.Transfer([]area.Area{l, rr}, []area.Area{dstL, dstR}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("Transfer returned %d frames, want 4", n)
	}
	if got, want := readS16(dstL, 4), []int16{1000, -500, 32767, -32768}; !cmp.Equal(got, want) {
		t.Errorf("identity dst L = %v, want %v", got, want)
	}
	if got, want := readS16(dstR, 4), []int16{2000, 500, -1, 1}; !cmp.Equal(got, want) {
		t.Errorf("identity dst R = %v, want %v", got, want)
	}
}

// TestZeroRowSilences: a destination row with no non-zero weights is
// silenced.
func TestZeroRowSilences(t *testing.T) {
	r, err := Build(s16, s16, 8000, 1, 1, []int32{0})
	if err != nil {
		t.Fatal(err)
	}
	src := s16Samples(12345)
	dsts := []area.Area{mkArea(1)}

	if _, err := r.Transfer([]area.Area{src}, dsts, 1); err != nil {
		t.Fatal(err)
	}
	if got := readS16(dsts[0], 1)[0]; got != 0 {
		t.Errorf("zero-row output = %d, want 0 (silence)", got)
	}
	if dsts[0].Enabled {
		t.Error("zero-row dst Enabled = true, want false")
	}
}

// TestTwoSourceUnityDownmix: two unit-weight sources sum cleanly,
// including the zero-sum negative-sample case.
func TestTwoSourceUnityDownmix(t *testing.T) {
	r, err := Build(s16, s16, 8000, 2, 1, []int32{FULL, FULL})
	if err != nil {
		t.Fatal(err)
	}
	l := s16Samples(1000, -500)
	rr := s16Samples(2000, 500)
	dst := mkArea(2)

	if _, err := r.Transfer([]area.Area{l, rr}, []area.Area{dst}, 2); err != nil {
		t.Fatal(err)
	}
	if got, want := readS16(dst, 2), []int16{3000, 0}; !cmp.Equal(got, want) {
		t.Errorf("downmix = %v, want %v", got, want)
	}
}

// TestSplitHalvedWeight: a single source routed to two destinations at
// weight FULL/2 must not sign-flip.
func TestSplitHalvedWeight(t *testing.T) {
	// Two destination rows, each carrying the one source at a non-unity
	// (so att=true) weight, forces the many-source accumulator path even
	// though each row has a single active source.
	r, err := Build(s16, s16, 8000, 1, 2, []int32{
		FULL / 2,
		FULL / 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	src := s16Samples(0x4000, -0x4000)
	dstA := mkArea(2)
	dstB := mkArea(2)

	if _, err := r.Transfer([]area.Area{src}, []area.Area{dstA, dstB}, 2); err != nil {
		t.Fatal(err)
	}
	want := []int16{0x2000, -0x2000}
	if got := readS16(dstA, 2); !cmp.Equal(got, want) {
		t.Errorf("split dst A = %v, want %v", got, want)
	}
	if got := readS16(dstB, 2); !cmp.Equal(got, want) {
		t.Errorf("split dst B = %v, want %v", got, want)
	}
}

// TestDisabledSourceSilences: a disabled source drops out of the
// active list, so a row fed only by it falls back to the zero kernel
// and the destination is silenced.
func TestDisabledSourceSilences(t *testing.T) {
	r, err := Build(s16, s16, 8000, 1, 1, []int32{FULL})
	if err != nil {
		t.Fatal(err)
	}
	src := s16Samples(999)
	src.Enabled = false
	dsts := []area.Area{mkArea(1)}

	if _, err := r.Transfer([]area.Area{src}, dsts, 1); err != nil {
		t.Fatal(err)
	}
	if got := readS16(dsts[0], 1)[0]; got != 0 {
		t.Errorf("disabled-source dst = %d, want 0 (silence)", got)
	}
	if dsts[0].Enabled {
		t.Error("disabled-source dst Enabled = true, want false")
	}
}

// TestMixSaturatesAtFormatRange: a sum past the destination format's
// range clamps to its maximum instead of wrapping.
func TestMixSaturatesAtFormatRange(t *testing.T) {
	// Two unity-weight sources feeding one row forces the many-source
	// kernel (len(active) == 2), exercising saturation at the top of the
	// signed 16-bit range.
	r, err := Build(s16, s16, 8000, 2, 1, []int32{FULL, FULL})
	if err != nil {
		t.Fatal(err)
	}
	l := s16Samples(32000)
	rr := s16Samples(32000)
	dst := mkArea(1)

	if _, err := r.Transfer([]area.Area{l, rr}, []area.Area{dst}, 1); err != nil {
		t.Fatal(err)
	}
	if got := readS16(dst, 1)[0]; got != 32767 {
		t.Errorf("saturating sum = %d, want 32767", got)
	}
}

// TestManyKernelPerSourceOffset: the many-source kernel must read each
// source's samples from that source's own Area.FirstBit, not channel
// 0's, when sources are packed into one backing buffer at different
// offsets.
func TestManyKernelPerSourceOffset(t *testing.T) {
	r, err := Build(s16, s16, 8000, 2, 1, []int32{FULL, FULL})
	if err != nil {
		t.Fatal(err)
	}
	// Interleaved stereo buffer: L at byte offset 0, R at byte offset 2,
	// both with a stride of 4 bytes (2 channels x 2 bytes).
	buf := make([]byte, 8)
	format.EncodeS16(s16, buf[0:2], 100)
	format.EncodeS16(s16, buf[4:6], 300)
	format.EncodeS16(s16, buf[2:4], 200)
	format.EncodeS16(s16, buf[6:8], 400)
	l := area.Area{Addr: buf, FirstBit: 0, StepBit: 32, Enabled: true, Wanted: true}
	rr := area.Area{Addr: buf, FirstBit: 16, StepBit: 32, Enabled: true, Wanted: true}
	dst := mkArea(2)

	if _, err := r.Transfer([]area.Area{l, rr}, []area.Area{dst}, 2); err != nil {
		t.Fatal(err)
	}
	if got, want := readS16(dst, 2), []int16{300, 700}; !cmp.Equal(got, want) {
		t.Errorf("per-source offset mix = %v, want %v", got, want)
	}
}

// TestTransferRejectsMismatchedSrcCount exercises EINVAL on a src slice
// whose length doesn't match the compiled table's source voice count.
func TestTransferRejectsMismatchedSrcCount(t *testing.T) {
	r, err := Build(s16, s16, 8000, 2, 1, []int32{FULL, FULL})
	if err != nil {
		t.Fatal(err)
	}
	src := []area.Area{s16Samples(1)}
	dst := mkArea(1)
	if _, err := r.Transfer(src, []area.Area{dst}, 1); err != pcmerr.EINVAL {
		t.Fatalf("Transfer with wrong src count = %v, want EINVAL", err)
	}
}

func TestTransferRejectsNilSlices(t *testing.T) {
	r, err := Build(s16, s16, 8000, 1, 1, []int32{FULL})
	if err != nil {
		t.Fatal(err)
	}
	dst := mkArea(1)
	if _, err := r.Transfer(nil, []area.Area{dst}, 1); err != pcmerr.EFAULT {
		t.Fatalf("Transfer with nil src = %v, want EFAULT", err)
	}
}

func TestTransferRejectsMisalignedArea(t *testing.T) {
	r, err := Build(s16, s16, 8000, 1, 1, []int32{FULL})
	if err != nil {
		t.Fatal(err)
	}
	src := s16Samples(1)
	src.FirstBit = 3
	dst := mkArea(1)
	if _, err := r.Transfer([]area.Area{src}, []area.Area{dst}, 1); err != pcmerr.EINVAL {
		t.Fatalf("Transfer with misaligned src = %v, want EINVAL", err)
	}
}

// TestVoiceMasks checks SrcVoicesMask and DstVoicesMask against a
// compiled table with an asymmetric routing: row 0 takes only source 0,
// row 1 takes both sources.
func TestVoiceMasks(t *testing.T) {
	r, err := Build(s16, s16, 8000, 2, 2, []int32{
		FULL, 0,
		FULL / 2, FULL / 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	dstRow1Only := voiceset.New(2)
	dstRow1Only.Set(1)
	srcMask := r.SrcVoicesMask(dstRow1Only)
	if !srcMask.Has(0) || !srcMask.Has(1) {
		t.Errorf("SrcVoicesMask(row 1) = missing a source voice, want both")
	}

	dstRow0Only := voiceset.New(2)
	dstRow0Only.Set(0)
	srcMask0 := r.SrcVoicesMask(dstRow0Only)
	if !srcMask0.Has(0) || srcMask0.Has(1) {
		t.Errorf("SrcVoicesMask(row 0) = %v, want only voice 0", srcMask0)
	}

	srcVoice1Only := voiceset.New(2)
	srcVoice1Only.Set(1)
	dstMask := r.DstVoicesMask(srcVoice1Only)
	if dstMask.Has(0) || !dstMask.Has(1) {
		t.Errorf("DstVoicesMask(src 1) = %v, want only row 1", dstMask)
	}
}

// TestTableDiffIsStable confirms two tables compiled from identical
// inputs are structurally identical, used to sanity-check BuildTable's
// determinism with a structural diff instead of a field-by-field walk.
func TestTableDiffIsStable(t *testing.T) {
	t1, err := BuildTable([]int32{FULL, 0, 0, FULL}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := BuildTable([]int32{FULL, 0, 0, FULL}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(t1, t2, cmp.AllowUnexported(Table{}, Row{}, rowSrc{})); diff != "" {
		t.Errorf("identically-built tables differ (-got +want):\n%s", diff)
	}
}
