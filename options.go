package pcmfeed

import (
	"fmt"
	"time"

	"pipelined.dev/pcmfeed/internal/watermark"
)

const (
	// DefaultFeedThreshold is the number of queued frames at or below
	// which the host is asked for more samples.
	DefaultFeedThreshold = 8000
	// DefaultChunkFrames bounds the size of a single sink write.
	DefaultChunkFrames = 1024
	// DefaultPollInterval is used to wait for free space in sinks which
	// expose their play position.
	DefaultPollInterval = 5 * time.Millisecond
	// Sentinel threshold requests samples after every write, but not more
	// often than the minimal notify interval.
	Sentinel = watermark.Sentinel
)

// Option provides a way to set functional parameters to player.
type Option func(p *Player) error

// WithLogger sets logger to Player. If this option is not provided, silent
// logger is used.
func WithLogger(logger Logger) Option {
	return func(p *Player) error {
		p.log = logger
		return nil
	}
}

// WithName sets name to Player. Name is used in logs and metrics.
func WithName(n string) Option {
	return func(p *Player) error {
		p.name = n
		return nil
	}
}

// WithChunkFrames sets maximal number of frames written to the sink at
// once. Smaller chunks make the watermark check more frequent.
func WithChunkFrames(frames int) Option {
	return func(p *Player) error {
		if frames <= 0 {
			return fmt.Errorf("%w: chunk frames must be positive, got %d", ErrInvalidArgument, frames)
		}
		p.chunkFrames = frames
		return nil
	}
}

// WithBufferFrames sets the size of sink internal buffer. It's never less
// than the minimal size reported by backend. By default it's twice the
// maximum of chunk size and minimal size.
func WithBufferFrames(frames int) Option {
	return func(p *Player) error {
		if frames <= 0 {
			return fmt.Errorf("%w: buffer frames must be positive, got %d", ErrInvalidArgument, frames)
		}
		p.bufferFrames = frames
		return nil
	}
}

// WithFeedThreshold sets the initial feed threshold.
func WithFeedThreshold(frames int) Option {
	return func(p *Player) error {
		if !watermark.Valid(frames) {
			return fmt.Errorf("%w: feed threshold %d", ErrInvalidArgument, frames)
		}
		p.threshold = frames
		return nil
	}
}

// WithMinNotifyInterval limits the rate of notifications when Sentinel
// threshold is used.
func WithMinNotifyInterval(d time.Duration) Option {
	return func(p *Player) error {
		p.minInterval = d
		return nil
	}
}

// WithDrainNotify enables a distinct notification when the queue is
// drained to zero.
func WithDrainNotify(enabled bool) Option {
	return func(p *Player) error {
		p.drainNotify = enabled
		return nil
	}
}

// WithPolling enables or disables position polling for sinks which
// implement Positioner. It's enabled by default.
func WithPolling(enabled bool) Option {
	return func(p *Player) error {
		p.polling = enabled
		return nil
	}
}

// WithPollInterval sets how often the sink position is polled while its
// buffer is full.
func WithPollInterval(d time.Duration) Option {
	return func(p *Player) error {
		if d <= 0 {
			return fmt.Errorf("%w: poll interval must be positive, got %v", ErrInvalidArgument, d)
		}
		p.pollInterval = d
		return nil
	}
}

// WithFeedHandler sets the handler for feed requests. Handler is called
// from the player's notification goroutine with the number of queued
// frames.
func WithFeedHandler(fn func(remainingFrames int)) Option {
	return func(p *Player) error {
		p.onFeed = fn
		return nil
	}
}

// WithErrorHandler sets the handler for errors that happen during
// playback, such as *WriteError.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Player) error {
		p.onError = fn
		return nil
	}
}
