// Package signal converts interleaved 16-bit little-endian PCM bytes to
// and from int samples. It allows to:
//   - decode bytes into int16 or int samples
//   - encode int samples of any supported bit depth into 16-bit bytes
//   - encode float32 and float64 samples into 16-bit bytes
package signal

import (
	"encoding/binary"
	"math"
)

// SampleSize is the size of 16-bit sample in bytes.
const SampleSize = 2

const (
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth24 is 24 bit depth.
	BitDepth24 = BitDepth(24)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// BitDepth contains values required for bit depth conversion.
type BitDepth int

// shift is used when ints are reduced to 16 bit.
func (bitDepth BitDepth) shift() int {
	if bitDepth <= BitDepth16 {
		return 0
	}
	return int(bitDepth - BitDepth16)
}

// Int16s decodes p into dst. Dst is reallocated if it's too small. Trailing
// odd byte is ignored.
func Int16s(p []byte, dst []int16) []int16 {
	n := len(p) / SampleSize
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(p[i*SampleSize:]))
	}
	return dst
}

// Ints decodes p into dst. Dst is reallocated if it's too small.
func Ints(p []byte, dst []int) []int {
	n := len(p) / SampleSize
	if cap(dst) < n {
		dst = make([]int, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = int(int16(binary.LittleEndian.Uint16(p[i*SampleSize:])))
	}
	return dst
}

// Bytes encodes int samples of provided bit depth into 16-bit bytes.
func Bytes(ints []int, bitDepth BitDepth) []byte {
	shift := bitDepth.shift()
	p := make([]byte, len(ints)*SampleSize)
	for i, v := range ints {
		binary.LittleEndian.PutUint16(p[i*SampleSize:], uint16(int16(v>>shift)))
	}
	return p
}

// FromFloat64 encodes float64 samples in range [-1, 1] into 16-bit bytes.
// Values out of range are clipped.
func FromFloat64(floats []float64) []byte {
	p := make([]byte, len(floats)*SampleSize)
	for i, v := range floats {
		v = math.Max(-1, math.Min(1, v))
		binary.LittleEndian.PutUint16(p[i*SampleSize:], uint16(int16(v*math.MaxInt16)))
	}
	return p
}

// FromFloat32 encodes float32 samples in range [-1, 1] into 16-bit bytes.
// Values out of range are clipped.
func FromFloat32(floats []float32) []byte {
	p := make([]byte, len(floats)*SampleSize)
	for i, v := range floats {
		v = max(-1, min(1, v))
		binary.LittleEndian.PutUint16(p[i*SampleSize:], uint16(int16(v*math.MaxInt16)))
	}
	return p
}
