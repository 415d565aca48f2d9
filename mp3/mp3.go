// Package mp3 provides player backend which encodes played samples into
// mp3 file and reader which decodes mp3 files into player format.
package mp3

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"pipelined.dev/pcmfeed"
)

// channels is the number of channels go-mp3 always decodes to.
const channels = 2

type (
	// Reader reads frames from mp3 file.
	Reader struct {
		closer  io.Closer
		decoder decoder
		format  pcmfeed.Format
		buf     []byte
	}

	// decoder is satisfied by *mp3.Decoder.
	decoder interface {
		io.Reader
		SampleRate() int
	}
)

// Open opens mp3 file for reading.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mp3 is not valid %v: %w", path, err)
	}
	return newReader(file, d), nil
}

func newReader(closer io.Closer, d decoder) *Reader {
	return &Reader{
		closer:  closer,
		decoder: d,
		format: pcmfeed.Format{
			SampleRate: d.SampleRate(),
			Channels:   channels,
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
	frameSize := r.format.FrameSize()
	size := frames * frameSize
	if cap(r.buf) < size {
		r.buf = make([]byte, size)
	}
	r.buf = r.buf[:size]
	n, err := io.ReadFull(r.decoder, r.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	n -= n % frameSize
	if n == 0 {
		return nil, io.EOF
	}
	// buffer is reused on the next read
	result := make([]byte, n)
	copy(result, r.buf[:n])
	return result, nil
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.closer.Close()
}
