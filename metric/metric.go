// Package metric publishes player counters with expvar.
package metric

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const playersLabel = "pcmfeed.players"

const (
	// FrameCounter measures number of frames written to the sink.
	FrameCounter = "Frames"
	// ChunkCounter measures number of chunk writes.
	ChunkCounter = "Chunks"
	// DurationCounter counts what's the duration of written signal.
	DurationCounter = "Duration"
	// LatencyCounter measures duration of the last sink write.
	LatencyCounter = "Latency"
	// NotificationCounter measures number of feed requests sent to host.
	NotificationCounter = "Notifications"
	// WriteErrorCounter measures number of failed sink writes.
	WriteErrorCounter = "WriteErrors"
	// UnderrunCounter measures number of sink underruns.
	UnderrunCounter = "Underruns"
	// InstanceCounter counts number of setups.
	InstanceCounter = "Instances"
)

var (
	players = metrics{
		m: make(map[string]*Meter),
	}

	counters = []string{
		FrameCounter,
		ChunkCounter,
		DurationCounter,
		LatencyCounter,
		NotificationCounter,
		WriteErrorCounter,
		UnderrunCounter,
		InstanceCounter,
	}
)

// Get metrics values for provided player name.
func Get(name string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(name, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// GetAll returns counters for all measured players.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	players.Lock()
	defer players.Unlock()
	for name := range players.m {
		m[name] = Get(name)
	}
	return m
}

// Meter captures counters of a single player. Meters are shared by players
// with the same name. Nil meter is a no-op.
type Meter struct {
	frames        *expvar.Int
	chunks        *expvar.Int
	notifications *expvar.Int
	writeErrors   *expvar.Int
	underruns     *expvar.Int
	instances     *expvar.Int
	latency       *duration
	duration      *duration
}

// New returns meter for the player name. Every call counts a new
// instance.
func New(name string) *Meter {
	m := players.get(name)
	m.instances.Add(1)
	return m
}

// Write captures a sink write of frames which took provided time to
// complete. d is the duration of written signal.
func (m *Meter) Write(frames int64, d, took time.Duration) {
	if m == nil {
		return
	}
	m.latency.set(took)
	m.chunks.Add(1)
	m.frames.Add(frames)
	m.duration.add(d)
}

// Notify counts a feed request.
func (m *Meter) Notify() {
	if m == nil {
		return
	}
	m.notifications.Add(1)
}

// WriteError counts a failed write.
func (m *Meter) WriteError() {
	if m == nil {
		return
	}
	m.writeErrors.Add(1)
}

// Underrun counts a sink underrun.
func (m *Meter) Underrun() {
	if m == nil {
		return
	}
	m.underruns.Add(1)
}

type metrics struct {
	sync.Mutex
	m map[string]*Meter
}

func (m *metrics) get(name string) *Meter {
	m.Lock()
	defer m.Unlock()
	if meter, ok := m.m[name]; ok {
		return meter
	}
	meter := newMeter(name)
	m.m[name] = meter
	return meter
}

func newMeter(name string) *Meter {
	m := Meter{
		frames:        expvar.NewInt(key(name, FrameCounter)),
		chunks:        expvar.NewInt(key(name, ChunkCounter)),
		notifications: expvar.NewInt(key(name, NotificationCounter)),
		writeErrors:   expvar.NewInt(key(name, WriteErrorCounter)),
		underruns:     expvar.NewInt(key(name, UnderrunCounter)),
		instances:     expvar.NewInt(key(name, InstanceCounter)),
		latency:       &duration{},
		duration:      &duration{},
	}
	expvar.Publish(key(name, LatencyCounter), m.latency)
	expvar.Publish(key(name, DurationCounter), m.duration)
	return &m
}

func key(name, counter string) string {
	return fmt.Sprintf("%s.%s.%s", playersLabel, name, counter)
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(atomic.LoadInt64(&v.d)).String())
}

func (v *duration) add(delta time.Duration) {
	atomic.AddInt64(&v.d, int64(delta))
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}
