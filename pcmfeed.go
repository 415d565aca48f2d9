package pcmfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// SampleSize is the size of a single 16-bit signed PCM sample in bytes.
const SampleSize = 2

// Format describes the raw interleaved PCM stream fed into the player. It
// cannot be changed while the sink is open.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSize returns the size of one frame in bytes.
func (f Format) FrameSize() int {
	return SampleSize * f.Channels
}

// DurationOf returns time duration of frames for this format.
func (f Format) DurationOf(frames int64) time.Duration {
	return time.Duration(float64(frames) / float64(f.SampleRate) * float64(time.Second))
}

// FramesOf returns number of frames played during d.
func (f Format) FramesOf(d time.Duration) int {
	return int(d.Seconds() * float64(f.SampleRate))
}

// Validate checks that format can be played.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: channels must be 1 or 2, got %d", ErrInvalidConfig, f.Channels)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

type (
	// Backend opens sinks. Backend is selected when player is created and
	// the player never branches on the platform specifics.
	Backend interface {
		// MinBufferFrames returns the minimal internal buffer size of the
		// sink for the format. Zero or negative value means that format is
		// not supported.
		MinBufferFrames(Format) (int, error)
		// Open returns the sink with internal buffer of bufferFrames. The
		// sink must be paused after open.
		Open(f Format, bufferFrames int) (Sink, error)
	}

	// Sink plays PCM frames. Write is only called from the playback
	// goroutine, but control methods can be called concurrently with a
	// pending Write.
	Sink interface {
		// Write blocks until p is accepted by the sink or context is done.
		// It returns number of whole frames written. ErrUnderflow can be
		// returned along with all frames written if the sink had run dry
		// before this write.
		Write(ctx context.Context, p []byte) (int, error)
		// Play starts or resumes the playback.
		Play() error
		// Pause suspends the playback, buffered frames are kept.
		Pause() error
		// Stop suspends the playback and resets the play position.
		Stop() error
		// Flush discards frames buffered inside the sink.
		Flush() error
		// Close releases all resources of the sink.
		Close() error
	}

	// Positioner is implemented by sinks which expose their play-head as a
	// wrapping 32-bit frame counter. When sink implements it, the player
	// tops up the sink only while there is free space in its buffer.
	Positioner interface {
		Position() (uint32, error)
	}
)

// Logger is a global interface for player loggers.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
	Warn(...interface{})
}

// newUID returns new unique id value.
func newUID() string {
	return xid.New().String()
}

type silentLogger struct{}

func (silentLogger) Debug(args ...interface{}) {}

func (silentLogger) Info(args ...interface{}) {}

func (silentLogger) Warn(args ...interface{}) {}

var defaultLogger silentLogger
