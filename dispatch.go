package pcmfeed

import (
	"sync"
	"sync/atomic"
)

// event is posted to the host.
type event struct {
	feed      bool
	remaining int
	err       error
}

// dispatcher delivers events to host handlers in its own goroutine, so
// the playback goroutine never waits for the host. Pending feed requests
// are coalesced: only the latest remaining value is delivered.
type dispatcher struct {
	onFeed  func(remaining int)
	onError func(error)

	m       sync.Mutex
	pending []event

	// wake has buffer of one so posting never blocks.
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	handling atomic.Bool
	once     sync.Once
}

func newDispatcher(onFeed func(int), onError func(error)) *dispatcher {
	d := dispatcher{
		onFeed:  onFeed,
		onError: onError,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return &d
}

// postFeed posts feed request. If a feed request is still pending, its
// value is replaced.
func (d *dispatcher) postFeed(remaining int) {
	d.m.Lock()
	coalesced := false
	for i := range d.pending {
		if d.pending[i].feed {
			d.pending[i].remaining = remaining
			coalesced = true
			break
		}
	}
	if !coalesced {
		d.pending = append(d.pending, event{feed: true, remaining: remaining})
	}
	d.m.Unlock()
	d.signal()
}

// postError posts error report. Errors are never coalesced.
func (d *dispatcher) postError(err error) {
	d.m.Lock()
	d.pending = append(d.pending, event{err: err})
	d.m.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}

		d.m.Lock()
		events := d.pending
		d.pending = nil
		d.m.Unlock()

		for _, e := range events {
			if !d.deliver(e) {
				return
			}
		}
	}
}

// deliver calls the handler. It returns false if dispatcher is closed.
func (d *dispatcher) deliver(e event) bool {
	d.handling.Store(true)
	defer d.handling.Store(false)
	// close either sees handling or handler is not called
	select {
	case <-d.stop:
		return false
	default:
	}
	if e.feed {
		if d.onFeed != nil {
			d.onFeed(e.remaining)
		}
		return true
	}
	if d.onError != nil {
		d.onError(e.err)
	}
	return true
}

// close stops the delivery and drops pending events. It waits for the
// dispatcher goroutine unless a handler is running, since close can be
// called from the handler itself. No handler call starts after close
// returns.
func (d *dispatcher) close() {
	d.once.Do(func() {
		close(d.stop)
	})
	if d.handling.Load() {
		return
	}
	<-d.done
}
