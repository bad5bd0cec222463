/*
NAME
  format.go

DESCRIPTION
  format.go defines LinearFormat, the derived linear-PCM sample
  descriptor the rate and route engines consume, and the sample codec:
  decode-to-common / encode-from-common for every supported
  (width, sign, endianness) combination, plus the codec_index and
  conv_index selectors used to dispatch those conversions.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package format describes linear-PCM sample layouts and converts samples
// to and from the two common intermediate representations the rate and
// route engines operate on: a signed 16-bit value (rate path) and a
// signed 32-bit left-aligned value (route path). It also provides an
// unsigned (offset-binary) 32-bit left-aligned codec.
package format

import "encoding/binary"

// LinearFormat describes one linear-PCM sample layout: width in bytes,
// signedness, and byte order. It is a value type, frozen once a plug-in
// is built.
type LinearFormat struct {
	Bytes     uint8 // 1, 2, 3 (packed), or 4
	Signed    bool
	BigEndian bool
}

// Bits returns the format's width in bits.
func (f LinearFormat) Bits() int { return int(f.Bytes) * 8 }

// Valid reports whether f has a supported byte width.
func (f LinearFormat) Valid() bool {
	switch f.Bytes {
	case 1, 2, 3, 4:
		return true
	default:
		return false
	}
}

// hostBigEndian records this process's native byte order, used to compute
// the endian_flag in CodecIndex.
var hostBigEndian = func() bool {
	buf := make([]byte, 2)
	binary.NativeEndian.PutUint16(buf, 1)
	return buf[0] == 0
}()

// numCodecIndices is the size of the codec_index space: 4 byte widths x
// 2 endian flags x 2 sign flags.
const numCodecIndices = 16

// CodecIndex implements codec_index = (bytes-1)*4 + endian_flag*2 +
// unsigned_flag, where endian_flag is 0 when f's byte order matches the
// host's and 1 otherwise (single-byte formats have no byte order, so
// endian_flag is always 0 for them).
func (f LinearFormat) CodecIndex() int {
	endianFlag := 0
	if f.Bytes > 1 && f.BigEndian != hostBigEndian {
		endianFlag = 1
	}
	unsignedFlag := 0
	if !f.Signed {
		unsignedFlag = 1
	}
	return (int(f.Bytes)-1)*4 + endianFlag*2 + unsignedFlag
}

// ConvIndex computes the conv_index of a (src, dst) format pair from the
// two formats' codec indices. The route engine's one-source fast path
// selects its converter with ConvFunc and does not consult this index.
func ConvIndex(src, dst LinearFormat) int {
	return src.CodecIndex()*numCodecIndices + dst.CodecIndex()
}

func mask(bits int) uint32 {
	if bits >= 32 {
		return 0xffffffff
	}
	return 1<<uint(bits) - 1
}

// readRawWidthBits reads f.Bytes bytes from buf as a plain unsigned
// integer in [0, 2^Bits()-1], honouring f's byte order.
func readRawWidthBits(f LinearFormat, buf []byte) uint32 {
	switch f.Bytes {
	case 1:
		return uint32(buf[0])
	case 2:
		if f.BigEndian {
			return uint32(binary.BigEndian.Uint16(buf))
		}
		return uint32(binary.LittleEndian.Uint16(buf))
	case 3:
		if f.BigEndian {
			return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
		}
		return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
	case 4:
		if f.BigEndian {
			return binary.BigEndian.Uint32(buf)
		}
		return binary.LittleEndian.Uint32(buf)
	default:
		panic("format: invalid byte width")
	}
}

// writeRawWidthBits is the inverse of readRawWidthBits.
func writeRawWidthBits(f LinearFormat, buf []byte, raw uint32) {
	switch f.Bytes {
	case 1:
		buf[0] = byte(raw)
	case 2:
		if f.BigEndian {
			binary.BigEndian.PutUint16(buf, uint16(raw))
		} else {
			binary.LittleEndian.PutUint16(buf, uint16(raw))
		}
	case 3:
		if f.BigEndian {
			buf[0] = byte(raw >> 16)
			buf[1] = byte(raw >> 8)
			buf[2] = byte(raw)
		} else {
			buf[0] = byte(raw)
			buf[1] = byte(raw >> 8)
			buf[2] = byte(raw >> 16)
		}
	case 4:
		if f.BigEndian {
			binary.BigEndian.PutUint32(buf, raw)
		} else {
			binary.LittleEndian.PutUint32(buf, raw)
		}
	default:
		panic("format: invalid byte width")
	}
}

// rawUnsignedWidth returns the sample's width-bit magnitude in the
// unsigned (offset-binary) domain: MSB set means a large positive value,
// regardless of whether f itself is a signed or unsigned format. Signed
// formats are converted into this domain by flipping the MSB.
func rawUnsignedWidth(f LinearFormat, buf []byte) uint32 {
	raw := readRawWidthBits(f, buf)
	if f.Signed {
		raw ^= 1 << uint(f.Bits()-1)
	}
	return raw
}

// writeRawUnsignedWidth is the inverse of rawUnsignedWidth.
func writeRawUnsignedWidth(f LinearFormat, buf []byte, u uint32) {
	u &= mask(f.Bits())
	if f.Signed {
		u ^= 1 << uint(f.Bits()-1)
	}
	writeRawWidthBits(f, buf, u)
}

// signExtend sign-extends the low bits-wide two's complement value v to
// a full int32.
func signExtend(v int32, bits int) int32 {
	shift := uint(32 - bits)
	return (v << shift) >> shift
}

// decodeWidthSigned decodes one sample of format f to its mathematically
// signed value at its own width (e.g. -128..127 for an 8-bit format).
func decodeWidthSigned(f LinearFormat, buf []byte) int32 {
	raw := readRawWidthBits(f, buf)
	if !f.Signed {
		raw ^= 1 << uint(f.Bits()-1)
	}
	return signExtend(int32(raw), f.Bits())
}

// encodeWidthSigned is the inverse of decodeWidthSigned.
func encodeWidthSigned(f LinearFormat, buf []byte, v int32) {
	raw := uint32(v) & mask(f.Bits())
	if !f.Signed {
		raw ^= 1 << uint(f.Bits()-1)
	}
	writeRawWidthBits(f, buf, raw)
}

func rescale(v int32, fromBits, toBits int) int32 {
	shift := toBits - fromBits
	if shift >= 0 {
		return v << uint(shift)
	}
	return v >> uint(-shift)
}

// DecodeToBits decodes one sample of format f and rescales it to a
// signed value occupying the top bits-wide two's complement range
// (e.g. bits=16 widens an 8-bit sample by <<8 and narrows a 24-bit
// sample by >>8).
func DecodeToBits(f LinearFormat, buf []byte, bits int) int32 {
	return rescale(decodeWidthSigned(f, buf), f.Bits(), bits)
}

// EncodeFromBits is the inverse of DecodeToBits.
func EncodeFromBits(f LinearFormat, buf []byte, v int32, bits int) {
	encodeWidthSigned(f, buf, rescale(v, bits, f.Bits()))
}

// DecodeS16 decodes one sample of format f to the rate engine's common
// signed 16-bit representation.
func DecodeS16(f LinearFormat, buf []byte) int16 {
	return int16(DecodeToBits(f, buf, 16))
}

// EncodeS16 is the inverse of DecodeS16.
func EncodeS16(f LinearFormat, buf []byte, s int16) {
	EncodeFromBits(f, buf, int32(s), 16)
}

// DecodeMagnitude decodes one sample of format f to its raw unsigned
// magnitude at its own width (0..2^Bits()-1), in the offset-binary
// domain (MSB set means a large positive value for every format).
func DecodeMagnitude(f LinearFormat, buf []byte) uint32 {
	return rawUnsignedWidth(f, buf)
}

// EncodeMagnitude is the inverse of DecodeMagnitude.
func EncodeMagnitude(f LinearFormat, buf []byte, v uint32) {
	writeRawUnsignedWidth(f, buf, v)
}

// DecodeU32LeftAligned decodes one sample of format f to an unsigned
// (offset-binary) 32-bit representation, the sample's MSB placed in
// bit 31. The route engine uses the signed DecodeToBits representation
// instead. Lossless and round-trips exactly for every
// supported width, since it is a pure shift of the native magnitude.
func DecodeU32LeftAligned(f LinearFormat, buf []byte) uint32 {
	return rawUnsignedWidth(f, buf) << uint(32-f.Bits())
}

// EncodeU32LeftAligned is the inverse of DecodeU32LeftAligned.
func EncodeU32LeftAligned(f LinearFormat, buf []byte, v uint32) {
	writeRawUnsignedWidth(f, buf, v>>uint(32-f.Bits()))
}

// silenceMagnitude returns this format's neutral (silent) sample in the
// offset-binary domain writeRawUnsignedWidth takes: mid-scale for every
// format, which writeRawUnsignedWidth stores as zero for signed formats
// and as mid-scale for unsigned ones.
func (f LinearFormat) silenceMagnitude() uint32 {
	return 1 << uint(f.Bits()-1)
}

// WriteSilence writes f's neutral sample pattern into buf.
func (f LinearFormat) WriteSilence(buf []byte) {
	writeRawUnsignedWidth(f, buf, f.silenceMagnitude())
}

// reader returns a monomorphic raw-sample reader for f's width and byte
// order, chosen once so the returned func carries no per-call dispatch.
func reader(f LinearFormat) func([]byte) uint32 {
	switch {
	case f.Bytes == 1:
		return func(buf []byte) uint32 { return uint32(buf[0]) }
	case f.Bytes == 2 && f.BigEndian:
		return func(buf []byte) uint32 { return uint32(binary.BigEndian.Uint16(buf)) }
	case f.Bytes == 2:
		return func(buf []byte) uint32 { return uint32(binary.LittleEndian.Uint16(buf)) }
	case f.Bytes == 3 && f.BigEndian:
		return func(buf []byte) uint32 { return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]) }
	case f.Bytes == 3:
		return func(buf []byte) uint32 { return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 }
	case f.Bytes == 4 && f.BigEndian:
		return binary.BigEndian.Uint32
	default:
		return binary.LittleEndian.Uint32
	}
}

// writer is reader's encode-side counterpart.
func writer(f LinearFormat) func([]byte, uint32) {
	switch {
	case f.Bytes == 1:
		return func(buf []byte, raw uint32) { buf[0] = byte(raw) }
	case f.Bytes == 2 && f.BigEndian:
		return func(buf []byte, raw uint32) { binary.BigEndian.PutUint16(buf, uint16(raw)) }
	case f.Bytes == 2:
		return func(buf []byte, raw uint32) { binary.LittleEndian.PutUint16(buf, uint16(raw)) }
	case f.Bytes == 3 && f.BigEndian:
		return func(buf []byte, raw uint32) {
			buf[0] = byte(raw >> 16)
			buf[1] = byte(raw >> 8)
			buf[2] = byte(raw)
		}
	case f.Bytes == 3:
		return func(buf []byte, raw uint32) {
			buf[0] = byte(raw)
			buf[1] = byte(raw >> 8)
			buf[2] = byte(raw >> 16)
		}
	case f.Bytes == 4 && f.BigEndian:
		return binary.BigEndian.PutUint32
	default:
		return binary.LittleEndian.PutUint32
	}
}

// DecodeToBitsFunc returns DecodeToBits specialised for (f, bits): the
// raw reader, sign handling, and shifts are resolved once so the inner
// loops of the engines pay no per-sample format dispatch.
func DecodeToBitsFunc(f LinearFormat, bits int) func([]byte) int32 {
	rd := reader(f)
	var xor uint32
	if !f.Signed {
		xor = 1 << uint(f.Bits()-1)
	}
	up := uint(32 - f.Bits())
	down := uint(32 - bits)
	return func(buf []byte) int32 {
		return int32((rd(buf)^xor)<<up) >> down
	}
}

// EncodeFromBitsFunc is DecodeToBitsFunc's encode-side counterpart.
func EncodeFromBitsFunc(f LinearFormat, bits int) func([]byte, int32) {
	wr := writer(f)
	var xor uint32
	if !f.Signed {
		xor = 1 << uint(f.Bits()-1)
	}
	m := mask(f.Bits())
	shift := bits - f.Bits()
	return func(buf []byte, v int32) {
		if shift >= 0 {
			v >>= uint(shift)
		} else {
			v <<= uint(-shift)
		}
		wr(buf, (uint32(v)&m)^xor)
	}
}

// DecodeS16Func and EncodeS16Func specialise the rate engine's common
// 16-bit representation the same way.
func DecodeS16Func(f LinearFormat) func([]byte) int16 {
	d := DecodeToBitsFunc(f, 16)
	return func(buf []byte) int16 { return int16(d(buf)) }
}

func EncodeS16Func(f LinearFormat) func([]byte, int16) {
	e := EncodeFromBitsFunc(f, 16)
	return func(buf []byte, s int16) { e(buf, int32(s)) }
}

// ConvFunc returns a direct sample converter from src to dst, selected
// once at build time and invoked per-frame without further dispatch,
// keeping per-format selection out of the inner loop.
func ConvFunc(src, dst LinearFormat) func(dstBuf, srcBuf []byte) {
	rd := reader(src)
	wr := writer(dst)
	var sxor, dxor uint32
	if src.Signed {
		sxor = 1 << uint(src.Bits()-1)
	}
	if dst.Signed {
		dxor = 1 << uint(dst.Bits()-1)
	}
	up := uint(32 - src.Bits())
	down := uint(32 - dst.Bits())
	m := mask(dst.Bits())
	return func(dstBuf, srcBuf []byte) {
		u := (rd(srcBuf) ^ sxor) << up
		wr(dstBuf, ((u>>down)&m)^dxor)
	}
}
