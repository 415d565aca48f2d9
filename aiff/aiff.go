// Package aiff provides player backend which records played samples into
// aiff file and reader which decodes aiff files into player format.
package aiff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"

	"pipelined.dev/pcmfeed"
	"pipelined.dev/pcmfeed/signal"
)

// DefaultMinBufferFrames is reported as minimal buffer size.
const DefaultMinBufferFrames = 1024

const bitDepth = int(signal.BitDepth16)

var (
	// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
	ErrUnsupportedBitDepth = errors.New("only 16, 24 and 32 bit depth is supported")
	// ErrInvalidFile is returned when file is not aiff.
	ErrInvalidFile = errors.New("aiff is not valid")
)

type (
	// Backend creates aiff files. Every opened sink truncates the file.
	Backend struct {
		Path string
	}

	// Sink encodes written frames into aiff file.
	Sink struct {
		format pcmfeed.Format

		m       sync.Mutex
		file    *os.File
		encoder *aiff.Encoder
		ib      *audio.IntBuffer
		closed  bool
	}

	// Reader decodes aiff file into 16-bit frames.
	Reader struct {
		file     *os.File
		decoder  *aiff.Decoder
		format   pcmfeed.Format
		bitDepth signal.BitDepth
		ib       *audio.IntBuffer
	}
)

// MinBufferFrames returns fixed minimal buffer size.
func (Backend) MinBufferFrames(pcmfeed.Format) (int, error) {
	return DefaultMinBufferFrames, nil
}

// Open creates the file and aiff encoder.
func (b Backend) Open(f pcmfeed.Format, bufferFrames int) (pcmfeed.Sink, error) {
	file, err := os.Create(b.Path)
	if err != nil {
		return nil, err
	}
	return &Sink{
		format:  f,
		file:    file,
		encoder: aiff.NewEncoder(file, f.SampleRate, bitDepth, f.Channels),
		ib: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: f.Channels,
				SampleRate:  f.SampleRate,
			},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// Write encodes all whole frames.
func (s *Sink) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	frames := len(p) / s.format.FrameSize()
	s.ib.Data = signal.Ints(p[:frames*s.format.FrameSize()], s.ib.Data)
	if err := s.encoder.Write(s.ib); err != nil {
		return 0, err
	}
	return frames, nil
}

// Play does nothing.
func (s *Sink) Play() error {
	return nil
}

// Pause does nothing.
func (s *Sink) Pause() error {
	return nil
}

// Stop does nothing, encoded frames are kept in the file.
func (s *Sink) Stop() error {
	return nil
}

// Flush does nothing.
func (s *Sink) Flush() error {
	return nil
}

// Close finalizes aiff header and closes the file.
func (s *Sink) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.encoder.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("close aiff encoder: %w", err)
	}
	return s.file.Close()
}

// Open opens aiff file for reading. Only PCM files with 16, 24 or 32 bit
// depth are supported.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	decoder := aiff.NewDecoder(file)
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, path)
	}
	decoder.ReadInfo()
	depth := signal.BitDepth(decoder.BitDepth)
	switch depth {
	case signal.BitDepth16, signal.BitDepth24, signal.BitDepth32:
	default:
		file.Close()
		return nil, ErrUnsupportedBitDepth
	}
	format := decoder.Format()
	if format == nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, path)
	}
	return &Reader{
		file:     file,
		decoder:  decoder,
		bitDepth: depth,
		format: pcmfeed.Format{
			SampleRate: format.SampleRate,
			Channels:   format.NumChannels,
		},
		ib: &audio.IntBuffer{
			Format:         format,
			SourceBitDepth: int(depth),
		},
	}, nil
}

// Format returns format of decoded frames.
func (r *Reader) Format() pcmfeed.Format {
	return r.format
}

// Read decodes up to frames frames. It returns io.EOF when there is
// nothing left to read.
func (r *Reader) Read(frames int) ([]byte, error) {
	samples := frames * r.format.Channels
	if cap(r.ib.Data) < samples {
		r.ib.Data = make([]int, samples)
	}
	r.ib.Data = r.ib.Data[:samples]
	n, err := r.decoder.PCMBuffer(r.ib)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	n -= n % r.format.Channels
	if n == 0 {
		return nil, io.EOF
	}
	return signal.Bytes(r.ib.Data[:n], r.bitDepth), nil
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}
