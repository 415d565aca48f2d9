package pcmfeed_test

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"pipelined.dev/pcmfeed"
	"pipelined.dev/pcmfeed/internal/state"
	"pipelined.dev/pcmfeed/mock"
	"pipelined.dev/pcmfeed/test"
)

const timeout = 2 * time.Second

var (
	stereo = pcmfeed.Format{SampleRate: 44100, Channels: 2}
	mono   = pcmfeed.Format{SampleRate: 22050, Channels: 1}
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// feeds collects feed requests delivered to the host.
type feeds struct {
	c chan int
}

func newFeeds() *feeds {
	return &feeds{c: make(chan int, 1024)}
}

func (f *feeds) handle(remaining int) {
	f.c <- remaining
}

// next returns the next delivered request or false on timeout.
func (f *feeds) next(t *testing.T, d time.Duration) (int, bool) {
	t.Helper()
	select {
	case v := <-f.c:
		return v, true
	case <-time.After(d):
		return 0, false
	}
}

func TestConservation(t *testing.T) {
	tests := []struct {
		description string
		format      pcmfeed.Format
		chunkFrames int
		maxFrames   int
		buffers     int
		frames      int
	}{
		{
			description: "stereo single chunk",
			format:      stereo,
			chunkFrames: 1024,
			buffers:     1,
			frames:      100,
		},
		{
			description: "stereo many chunks",
			format:      stereo,
			chunkFrames: 7,
			buffers:     10,
			frames:      100,
		},
		{
			description: "mono short writes",
			format:      mono,
			chunkFrames: 16,
			maxFrames:   3,
			buffers:     5,
			frames:      50,
		},
	}
	for _, test := range tests {
		b := &mock.Backend{Sink: mock.Sink{MaxFrames: test.maxFrames}}
		p, err := pcmfeed.New(b, pcmfeed.WithChunkFrames(test.chunkFrames))
		assert.Nil(t, err, test.description)
		assert.Nil(t, p.Setup(test.format), test.description)
		assert.Nil(t, p.Play(), test.description)

		total := test.buffers * test.frames
		for i := 0; i < test.buffers; i++ {
			assert.Nil(t, p.Feed(sequence(i*test.frames, test.frames, test.format)), test.description)
		}
		assert.True(t, b.Last().WaitFrames(total, timeout), test.description)

		data := b.Last().Data()
		assert.Equal(t, 0, len(data)%test.format.FrameSize(), test.description)
		assert.Equal(t, index(0, total), indexOf(data, test.format), test.description)

		assert.Eventually(t, func() bool {
			return p.Stats().FedFrames == uint64(total)
		}, timeout, time.Millisecond, test.description)
		stats := p.Stats()
		assert.Equal(t, 0, stats.RemainingFrames, test.description)
		assert.Equal(t, test.format, stats.Format, test.description)
		assert.Equal(t, state.Playing, stats.State, test.description)
		assert.NotEmpty(t, stats.ID, test.description)
		assert.Equal(t, int64(-1), stats.SinkFrames, test.description)
		p.Release()
	}
}

func TestConcurrentFeed(t *testing.T) {
	b := &mock.Backend{}
	p, err := pcmfeed.New(b, pcmfeed.WithChunkFrames(8))
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Play())

	feeders, buffers, frames := 4, 20, 16
	var wg sync.WaitGroup
	for i := 0; i < feeders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < buffers; j++ {
				assert.Nil(t, p.Feed(make([]byte, frames*stereo.FrameSize())))
			}
		}()
	}
	wg.Wait()
	total := feeders * buffers * frames
	assert.True(t, b.Last().WaitFrames(total, timeout))
	assert.Equal(t, total, b.Last().Frames())
}

func TestEdgeNotification(t *testing.T) {
	f := newFeeds()
	b := &mock.Backend{}
	p, err := pcmfeed.New(b,
		pcmfeed.WithFeedThreshold(100),
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithFeedHandler(f.handle),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))

	assert.Nil(t, p.Feed(sequence(0, 40, stereo)))
	remaining, ok := f.next(t, timeout)
	assert.True(t, ok)
	assert.Equal(t, 40, remaining)

	// draining below threshold doesn't fire again
	assert.Nil(t, p.Play())
	assert.True(t, b.Last().WaitFrames(40, timeout))
	_, ok = f.next(t, 50*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), p.Stats().Notifications)

	// next feed re-arms
	assert.Nil(t, p.Feed(sequence(40, 40, stereo)))
	remaining, ok = f.next(t, timeout)
	assert.True(t, ok)
	assert.Equal(t, 40, remaining)
}

func TestThresholdCrossing(t *testing.T) {
	f := newFeeds()
	b := &mock.Backend{}
	p, err := pcmfeed.New(b,
		pcmfeed.WithFeedThreshold(50),
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithFeedHandler(f.handle),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(mono))

	assert.Nil(t, p.Feed(sequence(0, 200, mono)))
	_, ok := f.next(t, 50*time.Millisecond)
	assert.False(t, ok)

	assert.Nil(t, p.Play())
	remaining, ok := f.next(t, timeout)
	assert.True(t, ok)
	assert.LessOrEqual(t, remaining, 50)
	assert.True(t, b.Last().WaitFrames(200, timeout))
	_, ok = f.next(t, 50*time.Millisecond)
	assert.False(t, ok)
}

func TestSetFeedThreshold(t *testing.T) {
	f := newFeeds()
	b := &mock.Backend{}
	p, err := pcmfeed.New(b,
		pcmfeed.WithFeedThreshold(0),
		pcmfeed.WithFeedHandler(f.handle),
	)
	assert.Nil(t, err)
	defer p.Release()

	// threshold is kept across setups
	assert.Nil(t, p.SetFeedThreshold(500))
	assert.Nil(t, p.Setup(stereo))
	assert.Equal(t, 500, p.Stats().Threshold)

	assert.Nil(t, p.Feed(sequence(0, 1000, stereo)))
	_, ok := f.next(t, 50*time.Millisecond)
	assert.False(t, ok)

	// raising threshold above remaining fires on the next observation
	assert.Nil(t, p.SetFeedThreshold(2000))
	assert.Nil(t, p.Feed(sequence(1000, 10, stereo)))
	remaining, ok := f.next(t, timeout)
	assert.True(t, ok)
	assert.Equal(t, 1010, remaining)

	err = p.SetFeedThreshold(-2)
	assert.True(t, errors.Is(err, pcmfeed.ErrInvalidArgument))
	assert.Equal(t, 2000, p.Stats().Threshold)
}

func TestSentinelRateLimit(t *testing.T) {
	interval := 20 * time.Millisecond
	b := &mock.Backend{Sink: mock.Sink{Latency: time.Millisecond}}
	p, err := pcmfeed.New(b,
		pcmfeed.WithName("sentinel"),
		pcmfeed.WithFeedThreshold(pcmfeed.Sentinel),
		pcmfeed.WithMinNotifyInterval(interval),
		pcmfeed.WithChunkFrames(10),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))

	frames := 1000
	start := time.Now()
	assert.Nil(t, p.Feed(sequence(0, frames, stereo)))
	assert.Nil(t, p.Play())
	assert.True(t, b.Last().WaitFrames(frames, 10*timeout))
	elapsed := time.Since(start)

	notifications := p.Stats().Notifications
	assert.GreaterOrEqual(t, notifications, uint64(2))
	assert.LessOrEqual(t, notifications, uint64(elapsed/interval)+3)
}

func TestDrainNotify(t *testing.T) {
	f := newFeeds()
	b := &mock.Backend{}
	p, err := pcmfeed.New(b,
		pcmfeed.WithFeedThreshold(100),
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithDrainNotify(true),
		pcmfeed.WithFeedHandler(f.handle),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 40, stereo)))
	remaining, ok := f.next(t, timeout)
	assert.True(t, ok)
	assert.Equal(t, 40, remaining)

	assert.Nil(t, p.Play())
	remaining, ok = f.next(t, timeout)
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)
	_, ok = f.next(t, 50*time.Millisecond)
	assert.False(t, ok)
}

func TestStreaming(t *testing.T) {
	total, block := 1000, 100
	b := &mock.Backend{}
	var (
		p   *pcmfeed.Player
		fed int
	)
	p, err := pcmfeed.New(b,
		pcmfeed.WithFeedThreshold(50),
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithFeedHandler(func(int) {
			// handler is never called concurrently
			if fed >= total {
				return
			}
			assert.Nil(t, p.Feed(sequence(fed, block, stereo)))
			fed += block
		}),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Play())

	assert.True(t, b.Last().WaitFrames(total, timeout))
	assert.Equal(t, index(0, total), indexOf(b.Last().Data(), stereo))
}

func TestPause(t *testing.T) {
	b := &mock.Backend{}
	p, err := pcmfeed.New(b, pcmfeed.WithChunkFrames(10))
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))

	// nothing is written until play
	assert.Nil(t, p.Feed(sequence(0, 100, stereo)))
	assert.False(t, b.Last().WaitFrames(1, 20*time.Millisecond))
	assert.Equal(t, 100, p.RemainingFrames())

	assert.Nil(t, p.Play())
	assert.Nil(t, p.Play())
	assert.True(t, b.Last().WaitFrames(100, timeout))
	assert.Nil(t, p.Pause())
	assert.Nil(t, p.Pause())
	assert.Equal(t, state.Ready, p.State())

	// samples fed while paused are kept
	assert.Nil(t, p.Feed(sequence(100, 50, stereo)))
	assert.Equal(t, 50, p.RemainingFrames())
	assert.Nil(t, p.Play())
	assert.True(t, b.Last().WaitFrames(150, timeout))
	assert.Equal(t, index(0, 150), indexOf(b.Last().Data(), stereo))

	counters := b.Last().Counters()
	assert.Equal(t, 2, counters.Plays)
	assert.Equal(t, 1, counters.Pauses)
}

func TestStopAndClear(t *testing.T) {
	b := &mock.Backend{}
	p, err := pcmfeed.New(b)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))

	assert.Nil(t, p.Feed(sequence(0, 100, stereo)))
	assert.Equal(t, 100, p.RemainingFrames())
	assert.Nil(t, p.Clear())
	assert.Equal(t, 0, p.RemainingFrames())

	assert.Nil(t, p.Feed(sequence(0, 100, stereo)))
	assert.Nil(t, p.Play())
	assert.True(t, b.Last().WaitFrames(100, timeout))
	assert.Nil(t, p.Feed(sequence(100, 100, stereo)))
	assert.Nil(t, p.Stop())
	assert.Equal(t, 0, p.RemainingFrames())
	assert.Equal(t, state.Ready, p.State())
	assert.Equal(t, uint64(0), p.Stats().FedFrames)

	counters := b.Last().Counters()
	assert.Equal(t, 1, counters.Stops)
	assert.Equal(t, 1, counters.Flushes)

	// player can be played again after stop
	assert.Nil(t, p.Feed(sequence(1000, 10, stereo)))
	assert.Nil(t, p.Play())
	assert.Eventually(t, func() bool {
		return p.Stats().FedFrames == 10
	}, timeout, time.Millisecond)
}

func TestStopDiscardsPendingWrite(t *testing.T) {
	block := make(chan struct{})
	b := &mock.Backend{Sink: mock.Sink{Block: block}}
	p, err := pcmfeed.New(b, pcmfeed.WithChunkFrames(10))
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 100, stereo)))
	assert.Nil(t, p.Play())
	assert.Eventually(t, func() bool {
		return b.Last().Counters().Writes > 0
	}, timeout, time.Millisecond)

	assert.Nil(t, p.Stop())
	assert.Equal(t, 0, p.RemainingFrames())
	assert.Equal(t, 0, b.Last().Frames())
}

func TestRelease(t *testing.T) {
	block := make(chan struct{})
	b := &mock.Backend{Sink: mock.Sink{Block: block}}
	p, err := pcmfeed.New(b, pcmfeed.WithChunkFrames(10))
	assert.Nil(t, err)
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 100, stereo)))
	assert.Nil(t, p.Play())
	assert.Eventually(t, func() bool {
		return b.Last().Counters().Writes > 0
	}, timeout, time.Millisecond)

	// release while write is pending
	p.Release()
	p.Release()
	assert.Equal(t, state.Released, p.State())
	assert.Equal(t, 0, p.RemainingFrames())

	counters := b.Last().Counters()
	assert.Equal(t, 1, counters.Closes)
	assert.Equal(t, 0, counters.WritesAfterClose)
	assert.Equal(t, 0, b.Last().Frames())

	assert.True(t, errors.Is(p.Feed(sequence(0, 10, stereo)), pcmfeed.ErrNotSetUp))
	assert.True(t, errors.Is(p.Play(), pcmfeed.ErrNotSetUp))

	// setup after release starts a new session
	assert.Nil(t, p.Setup(stereo))
	assert.Equal(t, state.Ready, p.State())
	assert.Equal(t, 2, len(b.Sinks()))
	p.Release()
}

func TestReleaseFromHandler(t *testing.T) {
	b := &mock.Backend{}
	released := make(chan struct{})
	var p *pcmfeed.Player
	p, err := pcmfeed.New(b,
		pcmfeed.WithFeedThreshold(100),
		pcmfeed.WithFeedHandler(func(int) {
			p.Release()
			close(released)
		}),
	)
	assert.Nil(t, err)
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 10, stereo)))

	select {
	case <-released:
	case <-time.After(timeout):
		t.Fatal("handler was not called")
	}
	assert.Equal(t, state.Released, p.State())
}

func TestSetupReplacesSession(t *testing.T) {
	b := &mock.Backend{}
	p, err := pcmfeed.New(b)
	assert.Nil(t, err)
	defer p.Release()

	assert.Nil(t, p.Setup(stereo))
	first := p.Stats().ID
	assert.Nil(t, p.Feed(sequence(0, 10, stereo)))
	assert.Nil(t, p.Setup(mono))
	assert.NotEqual(t, first, p.Stats().ID)
	assert.Equal(t, 0, p.RemainingFrames())
	assert.Equal(t, 1, b.Sinks()[0].Counters().Closes)
}

func TestNotSetUp(t *testing.T) {
	p, err := pcmfeed.New(&mock.Backend{})
	assert.Nil(t, err)
	defer p.Release()

	assert.Equal(t, state.Uninitialized, p.State())
	assert.True(t, errors.Is(p.Feed(sequence(0, 10, stereo)), pcmfeed.ErrNotSetUp))
	assert.True(t, errors.Is(p.Play(), pcmfeed.ErrNotSetUp))
	assert.True(t, errors.Is(p.Pause(), pcmfeed.ErrNotSetUp))
	assert.True(t, errors.Is(p.Stop(), pcmfeed.ErrNotSetUp))
	assert.True(t, errors.Is(p.Clear(), pcmfeed.ErrNotSetUp))
	assert.Equal(t, 0, p.RemainingFrames())
	assert.Nil(t, p.SetFeedThreshold(pcmfeed.Sentinel))
}

func TestInvalidArgument(t *testing.T) {
	p, err := pcmfeed.New(&mock.Backend{})
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))

	tests := []struct {
		description string
		buffer      []byte
	}{
		{
			description: "nil buffer",
		},
		{
			description: "empty buffer",
			buffer:      []byte{},
		},
		{
			description: "partial frame",
			buffer:      make([]byte, 3),
		},
		{
			description: "partial last frame",
			buffer:      make([]byte, 10*stereo.FrameSize()+2),
		},
	}
	for _, test := range tests {
		err := p.Feed(test.buffer)
		assert.True(t, errors.Is(err, pcmfeed.ErrInvalidArgument), test.description)
	}
	assert.Equal(t, 0, p.RemainingFrames())

	_, err = pcmfeed.New(&mock.Backend{}, pcmfeed.WithChunkFrames(0))
	assert.True(t, errors.Is(err, pcmfeed.ErrInvalidArgument))
	_, err = pcmfeed.New(&mock.Backend{}, pcmfeed.WithFeedThreshold(-5))
	assert.True(t, errors.Is(err, pcmfeed.ErrInvalidArgument))
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		description string
		backend     *mock.Backend
		format      pcmfeed.Format
	}{
		{
			description: "unsupported channels",
			backend:     &mock.Backend{},
			format:      pcmfeed.Format{SampleRate: 44100, Channels: 3},
		},
		{
			description: "zero sample rate",
			backend:     &mock.Backend{},
			format:      pcmfeed.Format{Channels: 1},
		},
		{
			description: "unusable min buffer",
			backend:     &mock.Backend{MinFrames: -1},
			format:      stereo,
		},
		{
			description: "min buffer error",
			backend:     &mock.Backend{ErrorOnMinBuffer: errors.New("min buffer")},
			format:      stereo,
		},
		{
			description: "open error",
			backend:     &mock.Backend{ErrorOnOpen: errors.New("open")},
			format:      stereo,
		},
	}
	for _, test := range tests {
		p, err := pcmfeed.New(test.backend)
		assert.Nil(t, err, test.description)
		err = p.Setup(test.format)
		assert.True(t, errors.Is(err, pcmfeed.ErrInvalidConfig), test.description)
		assert.Equal(t, state.Uninitialized, p.State(), test.description)
		assert.True(t, errors.Is(p.Feed(sequence(0, 10, stereo)), pcmfeed.ErrNotSetUp), test.description)
		assert.Equal(t, 0, len(test.backend.Sinks()), test.description)
		p.Release()
	}
}

func TestBufferFrames(t *testing.T) {
	tests := []struct {
		description  string
		minFrames    int
		chunkFrames  int
		bufferFrames int
		expected     int
	}{
		{
			description: "default",
			minFrames:   256,
			chunkFrames: 1024,
			expected:    2048,
		},
		{
			description: "min buffer dominates",
			minFrames:   4096,
			chunkFrames: 1024,
			expected:    8192,
		},
		{
			description:  "explicit",
			minFrames:    256,
			chunkFrames:  1024,
			bufferFrames: 512,
			expected:     512,
		},
		{
			description:  "explicit below min",
			minFrames:    256,
			chunkFrames:  1024,
			bufferFrames: 100,
			expected:     256,
		},
	}
	for _, test := range tests {
		b := &mock.Backend{MinFrames: test.minFrames}
		options := []pcmfeed.Option{pcmfeed.WithChunkFrames(test.chunkFrames)}
		if test.bufferFrames > 0 {
			options = append(options, pcmfeed.WithBufferFrames(test.bufferFrames))
		}
		p, err := pcmfeed.New(b, options...)
		assert.Nil(t, err, test.description)
		assert.Nil(t, p.Setup(stereo), test.description)
		assert.Equal(t, test.expected, b.Last().BufferFrames(), test.description)
		p.Release()
	}
}

func TestWriteError(t *testing.T) {
	sinkErr := errors.New("device lost")
	errs := make(chan error, 10)
	b := &mock.Backend{Sink: mock.Sink{
		ErrorOnWrite: func(call int) error {
			if call == 1 {
				return sinkErr
			}
			return nil
		},
	}}
	p, err := pcmfeed.New(b,
		pcmfeed.WithName("write-error"),
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithErrorHandler(func(err error) {
			errs <- err
		}),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 30, stereo)))
	assert.Nil(t, p.Play())

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, pcmfeed.ErrSinkWrite))
		assert.True(t, errors.Is(err, sinkErr))
		var writeErr *pcmfeed.WriteError
		assert.True(t, errors.As(err, &writeErr))
		assert.Equal(t, 10, writeErr.Frames)
	case <-time.After(timeout):
		t.Fatal("error was not reported")
	}

	// playback continues with the next chunk
	assert.True(t, b.Last().WaitFrames(20, timeout))
	assert.Equal(t, index(10, 20), indexOf(b.Last().Data(), stereo))
	assert.Equal(t, uint64(1), p.Stats().WriteErrors)
}

func TestUnderflow(t *testing.T) {
	b := &mock.Backend{Sink: mock.Sink{
		MaxFrames: 5,
		UnderflowOnWrite: func(call int) bool {
			return call == 1
		},
	}}
	errs := make(chan error, 10)
	p, err := pcmfeed.New(b,
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithErrorHandler(func(err error) {
			errs <- err
		}),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 20, stereo)))
	assert.Nil(t, p.Play())

	// underflow is not a failure, rest of chunk is written
	assert.True(t, b.Last().WaitFrames(20, timeout))
	assert.Equal(t, index(0, 20), indexOf(b.Last().Data(), stereo))
	assert.Equal(t, 0, len(errs))
}

func TestPolling(t *testing.T) {
	b := &mock.Backend{MinFrames: 10, Positioner: true}
	p, err := pcmfeed.New(b,
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithBufferFrames(20),
		pcmfeed.WithPollInterval(time.Millisecond),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 100, stereo)))
	assert.Nil(t, p.Play())

	sink := b.Last()
	// sink buffer is full
	assert.True(t, sink.WaitFrames(20, timeout))
	assert.False(t, sink.WaitFrames(21, 20*time.Millisecond))
	assert.Eventually(t, func() bool {
		return p.Stats().SinkFrames == 20
	}, timeout, time.Millisecond)
	assert.Equal(t, 80, p.RemainingFrames())

	// device plays, room is topped up
	for played := 0; played < 100; {
		played += sink.Consume(10)
		assert.True(t, sink.WaitFrames(min(played+20, 100), timeout))
	}
	assert.Equal(t, index(0, 100), indexOf(sink.Data(), stereo))
	assert.LessOrEqual(t, sink.Resident(), 20)
}

func TestPollingDisabled(t *testing.T) {
	b := &mock.Backend{MinFrames: 10, Positioner: true}
	p, err := pcmfeed.New(b,
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithBufferFrames(20),
		pcmfeed.WithPolling(false),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 100, stereo)))
	assert.Nil(t, p.Play())

	// writes are not limited by the sink position
	assert.True(t, b.Last().WaitFrames(100, timeout))
	assert.Equal(t, int64(-1), p.Stats().SinkFrames)
}

func TestString(t *testing.T) {
	p, err := pcmfeed.New(&mock.Backend{}, pcmfeed.WithName("player"))
	assert.Nil(t, err)
	defer p.Release()
	assert.Equal(t, "player ", p.String())
	assert.Nil(t, p.Setup(stereo))
	assert.Equal(t, "player "+p.Stats().ID+" ", p.String())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, 4, stereo.FrameSize())
	assert.Equal(t, 2, mono.FrameSize())
	assert.Equal(t, time.Second, stereo.DurationOf(44100))
	assert.Equal(t, 22050, mono.FramesOf(time.Second))
	assert.Equal(t, "44100Hz/2ch", stereo.String())
}

func sequence(start, frames int, f pcmfeed.Format) []byte {
	return test.Sequence(start, frames, f.Channels)
}

func indexOf(data []byte, f pcmfeed.Format) []int16 {
	return test.Index(data, f.Channels)
}

func index(start, frames int) []int16 {
	result := make([]int16, frames)
	for i := range result {
		result[i] = int16(start + i)
	}
	return result
}

func TestStopDuringShortWrites(t *testing.T) {
	entered, hold := make(chan struct{}), make(chan struct{})
	b := &mock.Backend{Sink: mock.Sink{
		MaxFrames: 1,
		ErrorOnWrite: func(call int) error {
			if call == 2 {
				close(entered)
				<-hold
			}
			return nil
		},
	}}
	p, err := pcmfeed.New(b, pcmfeed.WithChunkFrames(10))
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 10, stereo)))
	assert.Nil(t, p.Play())
	receive(t, entered)

	assert.Nil(t, p.Stop())
	sink := b.Last()
	atStop := sink.Frames()
	close(hold)

	// only the write in progress completes, the rest of chunk is dropped
	assert.False(t, sink.WaitFrames(atStop+2, 50*time.Millisecond))
	assert.LessOrEqual(t, sink.Frames(), atStop+1)
	assert.Equal(t, 0, p.RemainingFrames())
}

func TestPauseDuringShortWrites(t *testing.T) {
	entered, hold := make(chan struct{}), make(chan struct{})
	b := &mock.Backend{Sink: mock.Sink{
		MaxFrames: 1,
		ErrorOnWrite: func(call int) error {
			if call == 2 {
				close(entered)
				<-hold
			}
			return nil
		},
	}}
	p, err := pcmfeed.New(b, pcmfeed.WithChunkFrames(10))
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 10, stereo)))
	assert.Nil(t, p.Play())
	receive(t, entered)

	assert.Nil(t, p.Pause())
	close(hold)

	// rest of chunk is returned to the queue
	assert.Eventually(t, func() bool {
		return p.RemainingFrames() == 8
	}, timeout, time.Millisecond)
	sink := b.Last()
	assert.Equal(t, 2, sink.Frames())

	assert.Nil(t, p.Play())
	assert.True(t, sink.WaitFrames(10, timeout))
	assert.Equal(t, index(0, 10), indexOf(sink.Data(), stereo))
}

func TestUnderflowWithoutFrames(t *testing.T) {
	b := &mock.Backend{Sink: mock.Sink{
		ErrorOnWrite: func(int) error {
			return pcmfeed.ErrUnderflow
		},
	}}
	errs := make(chan error, 10)
	p, err := pcmfeed.New(b,
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithErrorHandler(func(err error) {
			errs <- err
		}),
	)
	assert.Nil(t, err)
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 20, stereo)))
	assert.Nil(t, p.Play())

	err = receive(t, errs)
	assert.True(t, errors.Is(err, pcmfeed.ErrSinkWrite))
	assert.True(t, errors.Is(err, io.ErrShortWrite))
	assert.True(t, errors.Is(err, pcmfeed.ErrUnderflow))

	released := make(chan struct{})
	go func() {
		p.Release()
		close(released)
	}()
	receive(t, released)
	assert.Equal(t, 0, b.Last().Frames())
}

func TestSetupFailureAfterSetup(t *testing.T) {
	p, err := pcmfeed.New(&mock.Backend{})
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Equal(t, state.Ready, p.State())

	err = p.Setup(pcmfeed.Format{SampleRate: 44100, Channels: 3})
	assert.True(t, errors.Is(err, pcmfeed.ErrInvalidConfig))
	assert.Equal(t, state.Uninitialized, p.State())
	assert.True(t, errors.Is(p.Feed(sequence(0, 10, stereo)), pcmfeed.ErrNotSetUp))

	p.Release()
	assert.NotNil(t, p.Setup(pcmfeed.Format{}))
	assert.Equal(t, state.Uninitialized, p.State())
	assert.Nil(t, p.Setup(stereo))
	assert.Equal(t, state.Ready, p.State())
}

func TestStats(t *testing.T) {
	b := &mock.Backend{MinFrames: 10, Positioner: true}
	p, err := pcmfeed.New(b,
		pcmfeed.WithChunkFrames(10),
		pcmfeed.WithBufferFrames(20),
		pcmfeed.WithFeedThreshold(30),
	)
	assert.Nil(t, err)
	defer p.Release()
	assert.Nil(t, p.Setup(stereo))
	assert.Nil(t, p.Feed(sequence(0, 35, stereo)))

	stats := p.Stats()
	assert.Equal(t, state.Ready, stats.State)
	assert.Equal(t, 30, stats.Threshold)
	assert.Equal(t, 35, stats.RemainingFrames)
	assert.Equal(t, 4, stats.QueuedChunks)
	assert.Equal(t, 20, stats.BufferFrames)
	assert.Equal(t, int64(0), stats.SinkFrames)
	assert.Equal(t, uint64(0), stats.PositionWraps)

	assert.Nil(t, p.SetFeedThreshold(5))
	assert.Equal(t, 5, p.Stats().Threshold)
}

// receive returns the next value from channel or fails on timeout.
func receive[T any](t *testing.T, c chan T) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(timeout):
		t.Fatal("timeout")
	}
	var v T
	return v
}
