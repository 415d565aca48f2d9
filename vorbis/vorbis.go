// Package vorbis decodes ogg vorbis files into 16-bit PCM frames which
// can be fed to the player.
package vorbis

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"pipelined.dev/pcmfeed"
	"pipelined.dev/pcmfeed/signal"
)

type (
	// Reader reads frames from ogg vorbis file.
	Reader struct {
		closer  io.Closer
		decoder decoder
		format  pcmfeed.Format
		floats  []float32
	}

	// decoder is satisfied by *oggvorbis.Reader.
	decoder interface {
		SampleRate() int
		Channels() int
		Read([]float32) (int, error)
	}
)

// Open opens ogg vorbis file for reading.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := oggvorbis.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("ogg vorbis is not valid %v: %w", path, err)
	}
	return newReader(file, d), nil
}

func newReader(closer io.Closer, d decoder) *Reader {
	return &Reader{
		closer:  closer,
		decoder: d,
		format: pcmfeed.Format{
			SampleRate: d.SampleRate(),
			Channels:   d.Channels(),
		},
	}
}

// Format returns format of decoded frames.
func (r *Reader) Format() pcmfeed.Format {
	return r.format
}

// Read decodes up to frames frames. It returns io.EOF when there is
// nothing left to read.
func (r *Reader) Read(frames int) ([]byte, error) {
	samples := frames * r.format.Channels
	if cap(r.floats) < samples {
		r.floats = make([]float32, samples)
	}
	r.floats = r.floats[:samples]

	var n int
	for n < samples {
		read, err := r.decoder.Read(r.floats[n:])
		n += read
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if read == 0 {
			break
		}
	}
	n -= n % r.format.Channels
	if n == 0 {
		return nil, io.EOF
	}
	return signal.FromFloat32(r.floats[:n]), nil
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.closer.Close()
}
