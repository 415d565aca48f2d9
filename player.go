package pcmfeed

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pipelined.dev/pcmfeed/internal/chunk"
	"pipelined.dev/pcmfeed/internal/queue"
	"pipelined.dev/pcmfeed/internal/state"
	"pipelined.dev/pcmfeed/internal/watermark"
	"pipelined.dev/pcmfeed/metric"
)

// Player streams fed PCM samples to the sink and asks the host for more
// samples before the queue runs dry. Player is safe for concurrent use.
//
// Every Setup creates a new independent session with its own queue,
// playback goroutine and sink. Release tears the session down.
type Player struct {
	name         string
	backend      Backend
	log          Logger
	chunkFrames  int
	bufferFrames int
	minInterval  time.Duration
	drainNotify  bool
	polling      bool
	pollInterval time.Duration
	onFeed       func(int)
	onError      func(error)

	m         sync.RWMutex
	state     state.State
	threshold int
	s         *session
}

// session is a single setup of the player.
type session struct {
	uid        string
	format     Format
	sink       Sink
	queue      *queue.Queue
	watermark  *watermark.Controller
	dispatcher *dispatcher
	worker     *worker
	meter      *metric.Meter
	chunkBytes int

	notifications atomic.Uint64
	writeErrors   atomic.Uint64
}

// Stats is a snapshot of player counters.
type Stats struct {
	ID              string
	State           state.State
	Format          Format
	Threshold       int
	RemainingFrames int
	// QueuedChunks is the number of chunks waiting for the sink.
	QueuedChunks int
	// BufferFrames is the size of the sink buffer.
	BufferFrames int
	// FedFrames is the number of frames handed to the sink since the last
	// stop.
	FedFrames uint64
	// WrittenFrames is the total number of frames written since setup.
	WrittenFrames uint64
	// SinkFrames is the number of frames resident in the sink buffer. It's
	// negative if the sink does not expose its position.
	SinkFrames int64
	// PositionWraps is the number of times the sink position counter
	// wrapped since the last stop.
	PositionWraps uint64
	Notifications uint64
	WriteErrors   uint64
}

// New creates a new player and applies provided options. Returned player
// must be set up before it can be fed.
func New(backend Backend, options ...Option) (*Player, error) {
	p := &Player{
		name:         "pcmfeed",
		backend:      backend,
		log:          defaultLogger,
		chunkFrames:  DefaultChunkFrames,
		threshold:    DefaultFeedThreshold,
		minInterval:  watermark.DefaultMinInterval,
		polling:      true,
		pollInterval: DefaultPollInterval,
	}
	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Setup opens the sink for provided format and starts the playback
// goroutine in suspended state. Existing session is released first. If
// setup fails, nothing is left running and player is uninitialized.
func (p *Player) Setup(f Format) (err error) {
	p.m.Lock()
	defer p.m.Unlock()
	if p.s != nil {
		p.release()
	}
	defer func() {
		if err != nil {
			p.state = state.Uninitialized
		}
	}()

	if err := f.Validate(); err != nil {
		return err
	}
	minFrames, err := p.backend.MinBufferFrames(f)
	if err != nil {
		return fmt.Errorf("%w: min buffer size: %w", ErrInvalidConfig, err)
	}
	if minFrames <= 0 {
		return fmt.Errorf("%w: unusable min buffer size %d for %v", ErrInvalidConfig, minFrames, f)
	}
	bufferFrames := p.bufferFrames
	if bufferFrames == 0 {
		bufferFrames = 2 * max(minFrames, p.chunkFrames)
	}
	bufferFrames = max(bufferFrames, minFrames)

	sink, err := p.backend.Open(f, bufferFrames)
	if err != nil {
		return fmt.Errorf("%w: open sink: %w", ErrInvalidConfig, err)
	}

	s := &session{
		uid:    newUID(),
		format: f,
		sink:   sink,
		queue:  queue.New(f.FrameSize()),
		watermark: watermark.New(p.threshold,
			watermark.WithMinInterval(p.minInterval),
			watermark.WithDrain(p.drainNotify),
		),
		dispatcher: newDispatcher(p.onFeed, p.onError),
		meter:      metric.New(p.name),
		chunkBytes: p.chunkFrames * f.FrameSize(),
	}
	s.worker = &worker{
		format:       f,
		queue:        s.queue,
		sink:         sink,
		bufferFrames: bufferFrames,
		chunkFrames:  p.chunkFrames,
		pollInterval: p.pollInterval,
		meter:        s.meter,
		log:          p.log,
		observe:      s.observe,
		report: func(err error) {
			s.writeErrors.Add(1)
			p.log.Warn(p.prefix(s), err)
			s.dispatcher.postError(err)
		},
	}
	if positioner, ok := sink.(Positioner); ok && p.polling {
		s.worker.positioner = positioner
	}
	s.worker.start()

	p.s = s
	p.state, _ = state.Transition(p.state, state.Setup)
	p.log.Info(p.prefix(s), "setup ", f, " buffer ", bufferFrames, " frames")
	return nil
}

// Play starts the playback. Host is notified immediately if the queue is
// at or below the feed threshold.
func (p *Player) Play() error {
	p.m.Lock()
	defer p.m.Unlock()
	s, err := p.transition(state.Play)
	if err != nil || s == nil {
		return err
	}
	if err := s.sink.Play(); err != nil {
		return fmt.Errorf("play sink: %w", err)
	}
	s.worker.resume()
	p.state = state.Playing
	p.log.Debug(p.prefix(s), "play")
	s.observe(s.queue.RemainingFrames())
	return nil
}

// Pause suspends the playback. Queued samples are kept.
func (p *Player) Pause() error {
	p.m.Lock()
	defer p.m.Unlock()
	s, err := p.transition(state.Pause)
	if err != nil || s == nil {
		return err
	}
	s.worker.suspend()
	p.state = state.Ready
	p.log.Debug(p.prefix(s), "pause")
	if err := s.sink.Pause(); err != nil {
		return fmt.Errorf("pause sink: %w", err)
	}
	return nil
}

// Stop suspends the playback, discards queued samples and resets the play
// position.
func (p *Player) Stop() error {
	p.m.Lock()
	defer p.m.Unlock()
	if !p.state.Active() {
		return ErrNotSetUp
	}
	s := p.s
	s.worker.suspend()
	s.worker.drain()
	p.state = state.Ready
	err := errors.Join(s.sink.Stop(), s.sink.Flush())
	s.worker.reset()
	s.watermark.Reset()
	p.log.Debug(p.prefix(s), "stop")
	if err != nil {
		return fmt.Errorf("stop sink: %w", err)
	}
	return nil
}

// Clear discards queued samples. Samples already written to the sink are
// not affected.
func (p *Player) Clear() error {
	p.m.RLock()
	defer p.m.RUnlock()
	if !p.state.Active() {
		return ErrNotSetUp
	}
	p.s.worker.drain()
	p.log.Debug(p.prefix(p.s), "clear")
	return nil
}

// Feed queues interleaved 16-bit little-endian PCM samples. Buffer must
// hold whole frames. It's copied, so caller can reuse it after Feed
// returns.
func (p *Player) Feed(buffer []byte) error {
	p.m.RLock()
	defer p.m.RUnlock()
	if !p.state.Active() {
		return ErrNotSetUp
	}
	s := p.s
	frameSize := s.format.FrameSize()
	if len(buffer) == 0 || len(buffer)%frameSize != 0 {
		return fmt.Errorf("%w: buffer of %d bytes is not a multiple of %d bytes frame", ErrInvalidArgument, len(buffer), frameSize)
	}
	remaining := s.queue.Push(chunk.Split(buffer, s.chunkBytes, frameSize)...)
	if s.watermark.Feed(remaining) {
		s.notify(remaining)
	}
	return nil
}

// SetFeedThreshold sets the number of queued frames at or below which the
// host is asked for more samples. Sentinel value asks after every write.
// Threshold is kept across setups.
func (p *Player) SetFeedThreshold(frames int) error {
	if !watermark.Valid(frames) {
		return fmt.Errorf("%w: feed threshold %d", ErrInvalidArgument, frames)
	}
	p.m.Lock()
	defer p.m.Unlock()
	p.threshold = frames
	if p.s != nil {
		p.s.watermark.SetThreshold(frames)
	}
	return nil
}

// RemainingFrames returns number of queued frames not yet written to the
// sink.
func (p *Player) RemainingFrames() int {
	p.m.RLock()
	defer p.m.RUnlock()
	if p.s == nil {
		return 0
	}
	return p.s.queue.RemainingFrames()
}

// State returns current state of the player.
func (p *Player) State() state.State {
	p.m.RLock()
	defer p.m.RUnlock()
	return p.state
}

// Stats returns a snapshot of player counters.
func (p *Player) Stats() Stats {
	p.m.RLock()
	defer p.m.RUnlock()
	stats := Stats{
		State:      p.state,
		Threshold:  p.threshold,
		SinkFrames: -1,
	}
	if s := p.s; s != nil {
		stats.ID = s.uid
		stats.Format = s.format
		stats.Threshold = s.watermark.Threshold()
		stats.RemainingFrames = s.queue.RemainingFrames()
		stats.QueuedChunks = s.queue.Len()
		s.worker.position(&stats)
		stats.Notifications = s.notifications.Load()
		stats.WriteErrors = s.writeErrors.Load()
	}
	return stats
}

// Release stops the playback goroutine, closes the sink and drops pending
// notifications. It's safe to call Release multiple times. No sink write
// happens after Release returns.
func (p *Player) Release() {
	p.m.Lock()
	defer p.m.Unlock()
	p.release()
}

func (p *Player) release() {
	if p.s != nil {
		s := p.s
		s.worker.stop()
		s.dispatcher.close()
		if err := errors.Join(s.sink.Stop(), s.sink.Close()); err != nil {
			p.log.Warn(p.prefix(s), "release sink: ", err)
		}
		p.s = nil
		p.log.Info(p.prefix(s), "released")
	}
	p.state, _ = state.Transition(p.state, state.Release)
}

// transition applies event to the state. Nil session is returned when
// event doesn't change the state.
func (p *Player) transition(e state.Event) (*session, error) {
	next, err := state.Transition(p.state, e)
	if err != nil {
		return nil, ErrNotSetUp
	}
	if next == p.state {
		return nil, nil
	}
	return p.s, nil
}

// observe runs the watermark check.
func (s *session) observe(remaining int) {
	if s.watermark.Observe(remaining) {
		s.notify(remaining)
	}
}

func (s *session) notify(remaining int) {
	s.notifications.Add(1)
	s.meter.Notify()
	s.dispatcher.postFeed(remaining)
}

// String returns player name and id of the current session.
func (p *Player) String() string {
	p.m.RLock()
	defer p.m.RUnlock()
	return p.prefix(p.s)
}

func (p *Player) prefix(s *session) string {
	if s == nil {
		return p.name + " "
	}
	return fmt.Sprintf("%v %v ", p.name, s.uid)
}
