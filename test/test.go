// Package test contains helper functions usefull for testing pcmfeed packages.
package test

import (
	"encoding/binary"
	"math"

	"pipelined.dev/pcmfeed"
	"pipelined.dev/pcmfeed/signal"
)

// Sequence returns frames of interleaved 16-bit little-endian samples.
// Every sample of frame i holds value of start+i, wrapped to int16, so the
// order of written frames can be checked with Index.
func Sequence(start, frames, channels int) []byte {
	frameSize := pcmfeed.SampleSize * channels
	buf := make([]byte, frames*frameSize)
	for i := 0; i < frames; i++ {
		v := uint16(int16(start + i))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(buf[i*frameSize+c*pcmfeed.SampleSize:], v)
		}
	}
	return buf
}

// Index returns values of the first channel of every frame.
func Index(buf []byte, channels int) []int16 {
	samples := signal.Int16s(buf, nil)
	result := make([]int16, 0, len(samples)/channels)
	for i := 0; i+channels <= len(samples); i += channels {
		result = append(result, samples[i])
	}
	return result
}

// Sine returns frames of sine wave with provided frequency and amplitude
// in range [0, 1].
func Sine(f pcmfeed.Format, frequency, amplitude float64, frames int) []byte {
	floats := make([]float64, frames*f.Channels)
	for i := 0; i < frames; i++ {
		v := amplitude * math.Sin(2*math.Pi*frequency*float64(i)/float64(f.SampleRate))
		for c := 0; c < f.Channels; c++ {
			floats[i*f.Channels+c] = v
		}
	}
	return signal.FromFloat64(floats)
}
