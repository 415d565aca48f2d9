package mp3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/viert/lame"

	"pipelined.dev/pcmfeed"
)

const (
	// DefaultBitRate is used if backend doesn't define it.
	DefaultBitRate = 192
	// DefaultQuality is used if backend doesn't define it.
	DefaultQuality = 2
	// DefaultMinBufferFrames is reported as minimal buffer size.
	DefaultMinBufferFrames = 1152
)

type (
	// Backend encodes played samples into mp3 file with lame. Every
	// opened sink truncates the file.
	Backend struct {
		Path    string
		BitRate int
		Quality int
	}

	// Sink encodes written frames into mp3 file.
	Sink struct {
		format pcmfeed.Format

		m      sync.Mutex
		file   *os.File
		writer *lame.LameWriter
		closed bool
	}
)

// MinBufferFrames returns the size of mp3 frame.
func (Backend) MinBufferFrames(pcmfeed.Format) (int, error) {
	return DefaultMinBufferFrames, nil
}

// Open creates the file and lame encoder.
func (b Backend) Open(f pcmfeed.Format, bufferFrames int) (pcmfeed.Sink, error) {
	file, err := os.Create(b.Path)
	if err != nil {
		return nil, err
	}
	bitRate, quality := b.BitRate, b.Quality
	if bitRate == 0 {
		bitRate = DefaultBitRate
	}
	if quality == 0 {
		quality = DefaultQuality
	}

	w := lame.NewWriter(file)
	w.Encoder.SetBitrate(bitRate)
	w.Encoder.SetQuality(quality)
	w.Encoder.SetNumChannels(f.Channels)
	w.Encoder.SetInSamplerate(f.SampleRate)
	if f.Channels == 2 {
		w.Encoder.SetMode(lame.JOINT_STEREO)
	}
	w.Encoder.SetVBR(lame.VBR_RH)
	w.Encoder.InitParams()
	return &Sink{
		format: f,
		file:   file,
		writer: w,
	}, nil
}

// Write encodes frames. Encoder never blocks, so all whole frames are
// accepted.
func (s *Sink) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	frameSize := s.format.FrameSize()
	p = p[:len(p)-len(p)%frameSize]
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	n, err := s.writer.Write(p)
	return n / frameSize, err
}

// Play does nothing.
func (s *Sink) Play() error {
	return nil
}

// Pause does nothing.
func (s *Sink) Pause() error {
	return nil
}

// Stop does nothing, written frames are already encoded.
func (s *Sink) Stop() error {
	return nil
}

// Flush does nothing.
func (s *Sink) Flush() error {
	return nil
}

// Close flushes the encoder and closes the file.
func (s *Sink) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.writer.Close()
	if ferr := s.file.Close(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	if err != nil {
		return fmt.Errorf("close mp3 encoder: %w", err)
	}
	return nil
}
