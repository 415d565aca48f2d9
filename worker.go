package pcmfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"pipelined.dev/pcmfeed/internal/chunk"
	"pipelined.dev/pcmfeed/internal/position"
	"pipelined.dev/pcmfeed/internal/queue"
	"pipelined.dev/pcmfeed/metric"
)

type workerStatus uint

const (
	suspended workerStatus = iota
	running
	stopped
)

// worker drains the queue into the sink in a dedicated goroutine.
type worker struct {
	format       Format
	queue        *queue.Queue
	sink         Sink
	positioner   Positioner
	bufferFrames int
	chunkFrames  int
	pollInterval time.Duration
	meter        *metric.Meter
	log          Logger
	// observe is called after every write with remaining frames.
	observe func(remaining int)
	// report is called when write fails.
	report func(error)

	m         sync.Mutex
	resumed   *sync.Cond
	status    workerStatus
	runCtx    context.Context
	cancelRun context.CancelFunc
	// fed counts frames handed to the sink since the last reset.
	fed     uint64
	written uint64
	tracker position.Tracker
	done    chan struct{}
}

// start runs the worker goroutine in suspended state.
func (w *worker) start() {
	w.resumed = sync.NewCond(&w.m)
	w.status = suspended
	w.done = make(chan struct{})
	go w.run()
}

func (w *worker) run() {
	defer close(w.done)
	// sink writes are real-time calls
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		ctx, ok := w.wait()
		if !ok {
			return
		}
		if w.positioner != nil && !w.waitRoom(ctx, w.chunkFrames) {
			continue
		}
		c, gen, err := w.queue.Pop(ctx)
		if err != nil {
			// suspended or stopped
			continue
		}
		if !w.commit(c, gen) {
			continue
		}
		w.write(ctx, c, gen)
	}
}

// wait blocks while worker is suspended. It returns false when worker is
// stopped.
func (w *worker) wait() (context.Context, bool) {
	w.m.Lock()
	defer w.m.Unlock()
	for w.status == suspended {
		w.resumed.Wait()
	}
	if w.status == stopped {
		return nil, false
	}
	return w.runCtx, true
}

// commit decides if popped chunk can be written. Chunk is returned to the
// queue if worker was suspended and discarded if queue was cleared.
func (w *worker) commit(c chunk.Chunk, gen uint64) bool {
	w.m.Lock()
	defer w.m.Unlock()
	if w.queue.Generation() != gen {
		return false
	}
	if w.status != running {
		if w.status == suspended {
			w.queue.Unshift(c, gen)
		}
		return false
	}
	return true
}

// waitRoom polls sink position until it has room for frames. Chunks stay
// queued while sink is full. It returns false if context is done.
func (w *worker) waitRoom(ctx context.Context, frames int) bool {
	var t *time.Timer
	for !w.hasRoom(frames) {
		if t == nil {
			t = time.NewTimer(w.pollInterval)
			defer t.Stop()
		} else {
			t.Reset(w.pollInterval)
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
	return ctx.Err() == nil
}

// hasRoom reads the sink position under the lock, so observations reach
// the tracker in order.
func (w *worker) hasRoom(frames int) bool {
	w.m.Lock()
	pos, err := w.positioner.Position()
	if err != nil {
		w.m.Unlock()
		w.log.Warn("sink position: ", err)
		return true
	}
	occupancy := w.tracker.Occupancy(w.fed, pos)
	w.m.Unlock()
	// chunk larger than the whole buffer goes into an empty sink
	return occupancy == 0 || int64(w.bufferFrames)-occupancy >= int64(frames)
}

// write hands chunk to the sink. Short writes are retried until all
// frames are written. If context is done, the rest of chunk is returned to
// the queue, so it's kept on pause and dropped after the queue is cleared.
func (w *worker) write(ctx context.Context, c chunk.Chunk, gen uint64) {
	frameSize := w.format.FrameSize()
	data := c.Bytes()
	for len(data) > 0 {
		if ctx.Err() != nil {
			w.queue.Unshift(chunk.New(data, frameSize), gen)
			return
		}
		start := time.Now()
		n, err := w.sink.Write(ctx, data)
		if n > len(data)/frameSize {
			n = len(data) / frameSize
		}
		if n > 0 {
			w.advance(n, gen)
			w.meter.Write(int64(n), w.format.DurationOf(int64(n)), time.Since(start))
			data = data[n*frameSize:]
		}

		switch {
		case err == nil && n > 0:
			continue
		case err == nil:
			err = io.ErrShortWrite
		case errors.Is(err, ErrUnderflow):
			w.meter.Underrun()
			w.log.Debug("sink underflow")
			if n > 0 {
				continue
			}
			err = fmt.Errorf("%w: %w", io.ErrShortWrite, err)
		case ctx.Err() != nil:
			continue
		}
		w.meter.WriteError()
		w.report(&WriteError{Frames: len(data) / frameSize, Err: err})
		break
	}
	w.observe(w.queue.RemainingFrames())
}

// advance counts written frames. Frames of cleared generation are not
// counted as fed, because sink position was reset.
func (w *worker) advance(frames int, gen uint64) {
	w.m.Lock()
	defer w.m.Unlock()
	w.written += uint64(frames)
	if w.queue.Generation() == gen {
		w.fed += uint64(frames)
	}
}

// resume starts draining the queue.
func (w *worker) resume() {
	w.m.Lock()
	defer w.m.Unlock()
	if w.status != suspended {
		return
	}
	w.runCtx, w.cancelRun = context.WithCancel(context.Background())
	w.status = running
	w.resumed.Broadcast()
}

// suspend stops draining the queue. Pending queue wait is cancelled, but
// write in progress is not awaited.
func (w *worker) suspend() {
	w.m.Lock()
	defer w.m.Unlock()
	if w.status != running {
		return
	}
	w.status = suspended
	w.cancelRun()
}

// drain discards queued chunks. Chunks that are popped, but not written
// yet, are discarded as well.
func (w *worker) drain() {
	w.m.Lock()
	defer w.m.Unlock()
	w.queue.Clear()
}

// reset forgets position state. It must be called after drain, when sink
// is stopped.
func (w *worker) reset() {
	w.m.Lock()
	defer w.m.Unlock()
	w.fed = 0
	w.tracker.Reset()
}

// stop terminates the worker and waits for it to return. No sink write
// happens after stop returns.
func (w *worker) stop() {
	w.m.Lock()
	if w.status == running {
		w.cancelRun()
	}
	w.status = stopped
	w.resumed.Broadcast()
	w.m.Unlock()
	<-w.done
}

// position fills stats with frames fed since the last reset, frames
// resident in the sink and wraps of sink position. Sink frames is negative
// if sink does not expose its position.
func (w *worker) position(stats *Stats) {
	w.m.Lock()
	defer w.m.Unlock()
	stats.FedFrames, stats.WrittenFrames = w.fed, w.written
	stats.BufferFrames = w.bufferFrames
	stats.SinkFrames = -1
	if w.positioner != nil {
		if pos, err := w.positioner.Position(); err == nil {
			stats.SinkFrames = w.tracker.Occupancy(w.fed, pos)
		}
	}
	stats.PositionWraps = w.tracker.Overflows()
}
