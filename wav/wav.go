// Package wav provides player backend which records played samples into
// wav file and reader which decodes wav files into player format.
package wav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/pcmfeed"
	"pipelined.dev/pcmfeed/signal"
)

const (
	// DefaultMinBufferFrames is reported as minimal buffer size if backend
	// doesn't define it.
	DefaultMinBufferFrames = 1024
	bitDepth               = int(signal.BitDepth16)
	pcmFormat              = 1
)

// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
var ErrUnsupportedBitDepth = errors.New("only 16, 24 and 32 bit depth is supported")

type (
	// Backend creates wav files. Every opened sink truncates the file.
	Backend struct {
		Path string
		// MinFrames is reported as minimal buffer size.
		MinFrames int
		// Realtime makes sink consume frames at the sample rate, like a
		// playback device does.
		Realtime bool
	}

	// Sink encodes written frames into wav file.
	Sink struct {
		format       pcmfeed.Format
		bufferFrames int
		realtime     bool
		file         *os.File
		encoder      *wav.Encoder
		ib           *audio.IntBuffer

		m sync.Mutex
		// written is number of frames written since the last stop.
		written uint64
		// played is number of frames played before the last pause.
		played  uint64
		started time.Time
	}

	// Reader decodes wav file into 16-bit frames.
	Reader struct {
		file     *os.File
		decoder  *wav.Decoder
		format   pcmfeed.Format
		bitDepth int
		ib       *audio.IntBuffer
	}
)

// MinBufferFrames returns configured minimal buffer size.
func (b Backend) MinBufferFrames(pcmfeed.Format) (int, error) {
	if b.MinFrames == 0 {
		return DefaultMinBufferFrames, nil
	}
	return b.MinFrames, nil
}

// Open creates the file and wav encoder.
func (b Backend) Open(f pcmfeed.Format, bufferFrames int) (pcmfeed.Sink, error) {
	file, err := os.Create(b.Path)
	if err != nil {
		return nil, err
	}
	return &Sink{
		format:       f,
		bufferFrames: bufferFrames,
		realtime:     b.Realtime,
		file:         file,
		encoder:      wav.NewEncoder(file, f.SampleRate, bitDepth, f.Channels, pcmFormat),
		ib: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: f.Channels,
				SampleRate:  f.SampleRate,
			},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// Write encodes frames. Realtime sink accepts frames only while its
// buffer has free space, otherwise it waits until frames are played or
// context is done.
func (s *Sink) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var t *time.Timer
	for {
		s.m.Lock()
		if s.free() > 0 {
			break
		}
		s.m.Unlock()
		poll := max(s.format.DurationOf(int64(s.bufferFrames))/4, time.Millisecond)
		if t == nil {
			t = time.NewTimer(poll)
			defer t.Stop()
		} else {
			t.Reset(poll)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.C:
		}
	}
	defer s.m.Unlock()
	frames := min(len(p)/s.format.FrameSize(), s.free())

	s.ib.Data = signal.Ints(p[:frames*s.format.FrameSize()], s.ib.Data)
	if err := s.encoder.Write(s.ib); err != nil {
		return 0, err
	}
	s.written += uint64(frames)
	return frames, nil
}

// free returns number of frames sink can accept.
func (s *Sink) free() int {
	if !s.realtime {
		return math.MaxInt
	}
	return s.bufferFrames - int(s.written-s.position())
}

// Position returns number of played frames as wrapping counter. Sink
// which is not realtime plays frames as soon as they're written.
func (s *Sink) Position() (uint32, error) {
	s.m.Lock()
	defer s.m.Unlock()
	return uint32(s.position()), nil
}

func (s *Sink) position() uint64 {
	if !s.realtime {
		return s.written
	}
	played := s.played
	if !s.started.IsZero() {
		played += uint64(s.format.FramesOf(time.Since(s.started)))
	}
	return min(played, s.written)
}

// Play starts the clock of realtime sink.
func (s *Sink) Play() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.started.IsZero() {
		s.started = time.Now()
	}
	return nil
}

// Pause stops the clock of realtime sink.
func (s *Sink) Pause() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.played = s.position()
	s.started = time.Time{}
	return nil
}

// Stop resets position. Encoded frames are kept in the file.
func (s *Sink) Stop() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.played = 0
	s.written = 0
	s.started = time.Time{}
	return nil
}

// Flush does nothing, encoded frames cannot be discarded.
func (s *Sink) Flush() error {
	return nil
}

// Close finalizes wav header and closes the file.
func (s *Sink) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	if err := s.encoder.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return s.file.Close()
}

// Open opens wav file for reading. Only PCM files with 16, 24 or 32 bit
// depth are supported.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		if err := file.Close(); err != nil {
			return nil, fmt.Errorf("wav is not valid, failed to close the file %v: %w", path, err)
		}
		return nil, fmt.Errorf("wav is not valid: %v", path)
	}
	depth := int(decoder.BitDepth)
	switch signal.BitDepth(depth) {
	case signal.BitDepth16, signal.BitDepth24, signal.BitDepth32:
	default:
		file.Close()
		return nil, ErrUnsupportedBitDepth
	}
	return &Reader{
		file:     file,
		decoder:  decoder,
		bitDepth: depth,
		format: pcmfeed.Format{
			SampleRate: int(decoder.SampleRate),
			Channels:   decoder.Format().NumChannels,
		},
		ib: &audio.IntBuffer{
			Format:         decoder.Format(),
			SourceBitDepth: depth,
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
	// prune to whole frames
	n -= n % r.format.Channels
	if n == 0 {
		return nil, io.EOF
	}
	return signal.Bytes(r.ib.Data[:n], signal.BitDepth(r.bitDepth)), nil
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}
