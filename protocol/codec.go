package protocol

import (
	"encoding/binary"
	"math"
)

// U32Size is the wire size of an unsigned 32-bit length field.
const U32Size = 4

// SampleSize is the wire size of one float64 sample.
const SampleSize = 8

// PutU32 writes v little-endian into b, which must be at least
// U32Size bytes.
func PutU32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

// U32 reads a little-endian uint32 from b, which must be at least
// U32Size bytes.
func U32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// FrameBytes returns the wire size of a frame of width samples.
func FrameBytes(width int) int {
	return width * SampleSize
}

// EncodeFrame appends the little-endian IEEE-754 encoding of samples
// to dst and returns the extended slice. Pass a slice with adequate
// capacity (FrameBytes(len(samples))) to avoid allocation.
func EncodeFrame(dst []byte, samples []float64) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(s))
	}
	return dst
}

// DecodeFrame decodes len(b)/SampleSize little-endian float64 samples
// into dst, which must have at least that length. It returns the
// number of samples decoded. Trailing bytes short of a full sample are
// ignored; callers read exact frame sizes so that case indicates a bug
// upstream, not a wire condition.
func DecodeFrame(dst []float64, b []byte) int {
	n := len(b) / SampleSize
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*SampleSize:]))
	}
	return n
}
