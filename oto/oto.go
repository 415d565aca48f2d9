// Package oto provides player backend which plays samples with oto.
//
// Oto allows a single context per process, so format of the first opened
// sink is used until the process exits. Formats that differ from it are
// reported as unsupported.
package oto

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"pipelined.dev/pcmfeed"
	"pipelined.dev/pcmfeed/internal/ring"
)

// DefaultLatency is the buffer size of oto context.
const DefaultLatency = 50 * time.Millisecond

// shared is the process oto context.
var shared struct {
	once sync.Once
	*oto.Context
	format pcmfeed.Format
	err    error
}

// Backend opens oto players.
type Backend struct {
	// Latency is used as oto context buffer size and as minimal player
	// buffer. DefaultLatency is used if it's zero.
	Latency time.Duration
}

// Sink writes frames into ring buffer that oto player reads from.
type Sink struct {
	format      pcmfeed.Format
	ring        *ring.Buffer
	bufferBytes int

	m      sync.Mutex
	player *oto.Player
	// last is the last reported position.
	last uint32
}

func (b Backend) latency() time.Duration {
	if b.Latency == 0 {
		return DefaultLatency
	}
	return b.Latency
}

// otoContext initializes oto context on first use.
func (b Backend) otoContext(f pcmfeed.Format) (*oto.Context, error) {
	shared.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   f.SampleRate,
			ChannelCount: f.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   b.latency(),
		})
		if err != nil {
			shared.err = fmt.Errorf("oto audio not available: %w", err)
			return
		}
		<-ready
		shared.Context = ctx
		shared.format = f
	})
	if shared.err != nil {
		return nil, shared.err
	}
	if shared.format != f {
		return nil, nil
	}
	return shared.Context, nil
}

// MinBufferFrames returns number of frames played during the backend
// latency. Zero is returned if format differs from the format of oto
// context.
func (b Backend) MinBufferFrames(f pcmfeed.Format) (int, error) {
	ctx, err := b.otoContext(f)
	if err != nil || ctx == nil {
		return 0, err
	}
	return f.FramesOf(b.latency()), nil
}

// Open creates paused oto player.
func (b Backend) Open(f pcmfeed.Format, bufferFrames int) (pcmfeed.Sink, error) {
	ctx, err := b.otoContext(f)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, fmt.Errorf("oto context is initialized with %v", shared.format)
	}
	s := Sink{
		format:      f,
		ring:        ring.New(bufferFrames, f.FrameSize()),
		bufferBytes: bufferFrames * f.FrameSize(),
	}
	s.player = s.newPlayer(ctx)
	return &s, nil
}

// Write copies frames into ring buffer. It blocks while ring is full.
func (s *Sink) Write(ctx context.Context, p []byte) (int, error) {
	frames, underflow, err := s.ring.Write(ctx, p)
	if err != nil {
		return frames, err
	}
	if underflow {
		return frames, pcmfeed.ErrUnderflow
	}
	return frames, nil
}

// Position returns number of frames played by oto player.
func (s *Sink) Position() (uint32, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if err := s.player.Err(); err != nil {
		return s.last, err
	}
	played := int64(s.ring.Frames()) - int64(s.player.BufferedSize()/s.format.FrameSize())
	// position never goes back, otherwise it's counted as wrap
	if pos := uint32(max(played, 0)); pos-s.last < 1<<31 {
		s.last = pos
	}
	return s.last, nil
}

// Play starts the oto player.
func (s *Sink) Play() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.player.Play()
	return s.player.Err()
}

// Pause pauses the oto player.
func (s *Sink) Pause() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.player.Pause()
	return s.player.Err()
}

// Stop closes the oto player and replaces it with a new one. Position is
// reset.
func (s *Sink) Stop() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.player.Pause()
	err := s.player.Close()
	s.ring.Reset()
	s.last = 0
	s.player = s.newPlayer(shared.Context)
	return err
}

func (s *Sink) newPlayer(ctx *oto.Context) *oto.Player {
	player := ctx.NewPlayer(s.ring)
	player.SetBufferSize(s.bufferBytes)
	return player
}

// Flush discards frames in the ring buffer.
func (s *Sink) Flush() error {
	s.ring.Discard()
	return nil
}

// Close closes the oto player. Oto context is kept.
func (s *Sink) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.ring.Discard()
	return s.player.Close()
}
