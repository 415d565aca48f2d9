// Package mock provides in-memory backend and sink for testing players.
package mock

import (
	"context"
	"sync"
	"time"

	"pipelined.dev/pcmfeed"
)

const defaultMinBufferFrames = 256

// Backend opens in-memory sinks. Zero value is ready to use.
type Backend struct {
	// MinFrames is returned as minimal buffer size. Default value is used
	// if it's zero. Negative values are returned as is.
	MinFrames int
	// ErrorOnMinBuffer is returned by MinBufferFrames if set.
	ErrorOnMinBuffer error
	// ErrorOnOpen is returned by Open if set.
	ErrorOnOpen error
	// Sink is used as a template for every opened sink.
	Sink Sink
	// Positioner makes opened sinks expose their play position.
	Positioner bool

	m     sync.Mutex
	sinks []*Sink
}

// MinBufferFrames implements pcmfeed.Backend.
func (b *Backend) MinBufferFrames(pcmfeed.Format) (int, error) {
	if b.ErrorOnMinBuffer != nil {
		return 0, b.ErrorOnMinBuffer
	}
	if b.MinFrames == 0 {
		return defaultMinBufferFrames, nil
	}
	return b.MinFrames, nil
}

// Open implements pcmfeed.Backend.
func (b *Backend) Open(f pcmfeed.Format, bufferFrames int) (pcmfeed.Sink, error) {
	if b.ErrorOnOpen != nil {
		return nil, b.ErrorOnOpen
	}
	s := &Sink{
		Block:        b.Sink.Block,
		MaxFrames:    b.Sink.MaxFrames,
		Latency:      b.Sink.Latency,
		ErrorOnWrite: b.Sink.ErrorOnWrite,
		format:       f,
		bufferFrames: bufferFrames,
	}
	s.cond = sync.NewCond(&s.m)
	b.m.Lock()
	b.sinks = append(b.sinks, s)
	b.m.Unlock()
	if b.Positioner {
		return &PositionSink{Sink: s}, nil
	}
	return s, nil
}

// Sinks returns all sinks opened by backend.
func (b *Backend) Sinks() []*Sink {
	b.m.Lock()
	defer b.m.Unlock()
	return append([]*Sink(nil), b.sinks...)
}

// Last returns the most recently opened sink or nil.
func (b *Backend) Last() *Sink {
	b.m.Lock()
	defer b.m.Unlock()
	if len(b.sinks) == 0 {
		return nil
	}
	return b.sinks[len(b.sinks)-1]
}

// Counters of sink calls.
type Counters struct {
	Writes  int
	Plays   int
	Pauses  int
	Stops   int
	Flushes int
	Closes  int
	// WritesAfterClose counts writes that happened after Close.
	WritesAfterClose int
}

// Sink records written samples.
type Sink struct {
	// Block makes writes wait until a value is received from the channel or
	// write context is done.
	Block chan struct{}
	// MaxFrames limits the number of frames accepted by single write.
	MaxFrames int
	// Latency is added to every write.
	Latency time.Duration
	// ErrorOnWrite is called before every write. If it returns an error,
	// nothing is written.
	ErrorOnWrite func(call int) error
	// UnderflowOnWrite is called before every write. If it returns true,
	// frames are written and pcmfeed.ErrUnderflow is returned.
	UnderflowOnWrite func(call int) bool

	format       pcmfeed.Format
	bufferFrames int

	m        sync.Mutex
	cond     *sync.Cond
	data     []byte
	counters Counters
	closed   bool
	// position is the number of frames consumed by device.
	position uint32
	// resident is the number of frames written, but not consumed.
	resident int
}

// Write implements pcmfeed.Sink.
func (s *Sink) Write(ctx context.Context, p []byte) (int, error) {
	s.m.Lock()
	s.counters.Writes++
	call := s.counters.Writes
	if s.closed {
		s.counters.WritesAfterClose++
	}
	s.m.Unlock()

	if s.ErrorOnWrite != nil {
		if err := s.ErrorOnWrite(call); err != nil {
			return 0, err
		}
	}
	if s.Block != nil {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.Block:
		}
	}
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.C:
		}
	}

	frames := len(p) / s.format.FrameSize()
	if s.MaxFrames > 0 && frames > s.MaxFrames {
		frames = s.MaxFrames
	}
	s.m.Lock()
	defer s.m.Unlock()
	s.data = append(s.data, p[:frames*s.format.FrameSize()]...)
	s.resident += frames
	s.cond.Broadcast()
	if s.UnderflowOnWrite != nil && s.UnderflowOnWrite(call) {
		return frames, pcmfeed.ErrUnderflow
	}
	return frames, nil
}

// Play implements pcmfeed.Sink.
func (s *Sink) Play() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.counters.Plays++
	return nil
}

// Pause implements pcmfeed.Sink.
func (s *Sink) Pause() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.counters.Pauses++
	return nil
}

// Stop implements pcmfeed.Sink. Position is reset.
func (s *Sink) Stop() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.counters.Stops++
	s.position = 0
	s.resident = 0
	return nil
}

// Flush implements pcmfeed.Sink.
func (s *Sink) Flush() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.counters.Flushes++
	s.resident = 0
	return nil
}

// Close implements pcmfeed.Sink.
func (s *Sink) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.counters.Closes++
	s.closed = true
	return nil
}

// Data returns copy of all written bytes.
func (s *Sink) Data() []byte {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]byte(nil), s.data...)
}

// Frames returns the number of written frames.
func (s *Sink) Frames() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.data) / s.format.FrameSize()
}

// Counters returns a snapshot of call counters.
func (s *Sink) Counters() Counters {
	s.m.Lock()
	defer s.m.Unlock()
	return s.counters
}

// BufferFrames returns buffer size sink was opened with.
func (s *Sink) BufferFrames() int {
	return s.bufferFrames
}

// WaitFrames blocks until at least n frames are written or timeout
// expires. It returns false on timeout.
func (s *Sink) WaitFrames(n int, timeout time.Duration) bool {
	expired := false
	t := time.AfterFunc(timeout, func() {
		s.m.Lock()
		expired = true
		s.cond.Broadcast()
		s.m.Unlock()
	})
	defer t.Stop()

	s.m.Lock()
	defer s.m.Unlock()
	for len(s.data)/s.format.FrameSize() < n {
		if expired {
			return false
		}
		s.cond.Wait()
	}
	return true
}

// Consume simulates device playing up to n resident frames. Position
// wraps at 2^32 frames. It returns the number of consumed frames.
func (s *Sink) Consume(n int) int {
	s.m.Lock()
	defer s.m.Unlock()
	n = min(n, s.resident)
	s.resident -= n
	s.position += uint32(n)
	return n
}

// Resident returns the number of frames written, but not consumed.
func (s *Sink) Resident() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.resident
}

// PositionSink is a sink which exposes its play position.
type PositionSink struct {
	*Sink
}

// Position implements pcmfeed.Positioner.
func (s *PositionSink) Position() (uint32, error) {
	s.m.Lock()
	defer s.m.Unlock()
	return s.position, nil
}
