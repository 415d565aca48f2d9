// Package portaudio provides player backend which plays samples with
// portaudio blocking output streams.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"pipelined.dev/pcmfeed"
	"pipelined.dev/pcmfeed/signal"
)

type (
	// Backend opens output streams on the device. Default output device is
	// used if Device is nil.
	Backend struct {
		Device *portaudio.DeviceInfo
	}

	// Sink represets portaudio output stream.
	Sink struct {
		format pcmfeed.Format
		// poll is used to wait for free space in stream buffer.
		poll time.Duration

		m       sync.Mutex
		stream  *portaudio.Stream
		buf     []int16
		started bool
	}
)

// Devices returns output devices known to portaudio.
func Devices() ([]*portaudio.DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	result := make([]*portaudio.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			result = append(result, d)
		}
	}
	return result, nil
}

// MinBufferFrames returns number of frames played during the low output
// latency of the device. Zero is returned if format is not supported.
func (b Backend) MinBufferFrames(f pcmfeed.Format) (int, error) {
	if err := portaudio.Initialize(); err != nil {
		return 0, err
	}
	defer portaudio.Terminate()

	device, err := b.device()
	if err != nil {
		return 0, err
	}
	params := b.parameters(device, f, device.DefaultLowOutputLatency)
	if err := portaudio.IsFormatSupported(params, &[]int16{}); err != nil {
		return 0, nil
	}
	return f.FramesOf(device.DefaultLowOutputLatency), nil
}

// Open initializes portaudio and opens stopped output stream with latency
// of bufferFrames.
func (b Backend) Open(f pcmfeed.Format, bufferFrames int) (pcmfeed.Sink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	device, err := b.device()
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	latency := f.DurationOf(int64(bufferFrames))
	s := Sink{
		format: f,
		poll:   max(latency/4, time.Millisecond),
		buf:    make([]int16, 0, bufferFrames*f.Channels),
	}
	s.stream, err = portaudio.OpenStream(b.parameters(device, f, latency), &s.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	return &s, nil
}

func (b Backend) device() (*portaudio.DeviceInfo, error) {
	if b.Device != nil {
		return b.Device, nil
	}
	return portaudio.DefaultOutputDevice()
}

func (b Backend) parameters(device *portaudio.DeviceInfo, f pcmfeed.Format, latency time.Duration) portaudio.StreamParameters {
	params := portaudio.LowLatencyParameters(nil, device)
	params.Output.Channels = f.Channels
	params.Output.Latency = latency
	params.SampleRate = float64(f.SampleRate)
	return params
}

// Write converts samples and writes as many frames as stream can accept
// without blocking. If stream buffer is full, it waits until there is
// free space or context is done.
func (s *Sink) Write(ctx context.Context, p []byte) (int, error) {
	frameSize := s.format.FrameSize()
	frames := len(p) / frameSize
	var t *time.Timer
	for {
		available, err := s.available()
		if err != nil {
			return 0, err
		}
		if available > 0 {
			frames = min(frames, available, cap(s.buf)/s.format.Channels)
			break
		}
		if t == nil {
			t = time.NewTimer(s.poll)
			defer t.Stop()
		} else {
			t.Reset(s.poll)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.C:
		}
	}

	s.m.Lock()
	defer s.m.Unlock()
	s.buf = signal.Int16s(p[:frames*frameSize], s.buf)
	if err := s.stream.Write(); err != nil {
		if errors.Is(err, portaudio.OutputUnderflowed) {
			return frames, pcmfeed.ErrUnderflow
		}
		return 0, err
	}
	return frames, nil
}

func (s *Sink) available() (int, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if !s.started {
		return 0, nil
	}
	return s.stream.AvailableToWrite()
}

// Play starts the stream.
func (s *Sink) Play() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.started {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Pause stops the stream after buffered frames are played.
func (s *Sink) Pause() error {
	s.m.Lock()
	defer s.m.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.stream.Stop()
}

// Stop aborts the stream, buffered frames are discarded.
func (s *Sink) Stop() error {
	s.m.Lock()
	defer s.m.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.stream.Abort()
}

// Flush does nothing, stream buffer is discarded by Stop.
func (s *Sink) Flush() error {
	return nil
}

// Close closes the stream and terminates portaudio.
func (s *Sink) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	err := s.stream.Close()
	if terr := portaudio.Terminate(); terr != nil {
		err = errors.Join(err, terr)
	}
	if err != nil {
		return fmt.Errorf("close portaudio stream: %w", err)
	}
	return nil
}
