package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pipelined.dev/pcmfeed"
	"pipelined.dev/pcmfeed/aiff"
	"pipelined.dev/pcmfeed/log"
	"pipelined.dev/pcmfeed/mp3"
	"pipelined.dev/pcmfeed/oto"
	"pipelined.dev/pcmfeed/portaudio"
	"pipelined.dev/pcmfeed/vorbis"
	"pipelined.dev/pcmfeed/wav"
)

const (
	portaudioBackend = "portaudio"
	otoBackend       = "oto"
	wavBackend       = "wav"
	mp3Backend       = "mp3"
	aiffBackend      = "aiff"
)

// source decodes input file into 16-bit frames.
type source interface {
	Format() pcmfeed.Format
	Read(frames int) ([]byte, error)
	Close() error
}

type playCommand struct {
	in        string
	out       string
	backend   string
	threshold int
	chunk     int
	block     int
	realtime  bool
	logLevel  string
}

func (cmd *playCommand) Name() string {
	return "play"
}

func (cmd *playCommand) Help() string {
	return "Play wav, aiff, mp3 or ogg file, feeding samples on player requests"
}

func (cmd *playCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.in, "in", "", "input wav, aiff, mp3 or ogg file to play (required)")
	fs.StringVar(&cmd.backend, "backend", portaudioBackend, "playback backend: portaudio, oto, wav, aiff or mp3")
	fs.StringVar(&cmd.out, "out", "", "output file for wav, aiff and mp3 backends")
	fs.IntVar(&cmd.threshold, "threshold", pcmfeed.DefaultFeedThreshold, "feed threshold in frames, -1 requests after every write")
	fs.IntVar(&cmd.chunk, "chunk", pcmfeed.DefaultChunkFrames, "maximal frames per sink write")
	fs.IntVar(&cmd.block, "block", 4096, "frames fed on every request")
	fs.BoolVar(&cmd.realtime, "realtime", true, "consume frames at sample rate with wav backend")
	fs.StringVar(&cmd.logLevel, "log-level", logrus.InfoLevel.String(), "log level")
}

// Validate checks that required flags are set.
func (cmd *playCommand) Validate() error {
	var messages []string
	if cmd.in == "" {
		messages = append(messages, "missing -in required flag")
	}
	switch cmd.backend {
	case portaudioBackend, otoBackend:
	case wavBackend, aiffBackend, mp3Backend:
		if cmd.out == "" {
			messages = append(messages, fmt.Sprintf("missing -out flag required by %v backend", cmd.backend))
		}
	default:
		messages = append(messages, fmt.Sprintf("unknown backend %q", cmd.backend))
	}
	if cmd.block <= 0 {
		messages = append(messages, "-block must be positive")
	}
	if len(messages) > 0 {
		return errors.New(strings.Join(messages, "\n"))
	}
	return nil
}

func (cmd *playCommand) newBackend() pcmfeed.Backend {
	switch cmd.backend {
	case otoBackend:
		return oto.Backend{}
	case wavBackend:
		return wav.Backend{Path: cmd.out, Realtime: cmd.realtime}
	case aiffBackend:
		return aiff.Backend{Path: cmd.out}
	case mp3Backend:
		return mp3.Backend{Path: cmd.out}
	default:
		return portaudio.Backend{}
	}
}

// open returns source for the input file, decoder is chosen by extension.
func (cmd *playCommand) open() (source, error) {
	switch strings.ToLower(filepath.Ext(cmd.in)) {
	case ".aif", ".aiff":
		return aiff.Open(cmd.in)
	case ".mp3":
		return mp3.Open(cmd.in)
	case ".ogg", ".oga":
		return vorbis.Open(cmd.in)
	default:
		return wav.Open(cmd.in)
	}
}

func (cmd *playCommand) Run() error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	logger := log.GetLogger()
	if err := log.SetLevel(logger, cmd.logLevel); err != nil {
		return err
	}

	r, err := cmd.open()
	if err != nil {
		return err
	}
	defer r.Close()

	f := feeder{
		reader: r,
		block:  cmd.block,
		log:    logger,
		done:   make(chan struct{}),
	}
	p, err := pcmfeed.New(cmd.newBackend(),
		pcmfeed.WithName("play"),
		pcmfeed.WithLogger(logger),
		pcmfeed.WithFeedThreshold(cmd.threshold),
		pcmfeed.WithChunkFrames(cmd.chunk),
		pcmfeed.WithDrainNotify(true),
		pcmfeed.WithFeedHandler(f.handle),
		pcmfeed.WithErrorHandler(func(err error) {
			logger.Warn("playback: ", err)
		}),
	)
	if err != nil {
		return err
	}
	f.player = p
	defer p.Release()

	if err := p.Setup(r.Format()); err != nil {
		return err
	}
	if err := f.feed(); err != nil {
		return err
	}
	if err := p.Play(); err != nil {
		return err
	}
	logger.Infof("playing %v with %v backend", cmd.in, cmd.backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	var playErr error
	select {
	case <-f.done:
		playErr = f.err
		if playErr == nil {
			waitPlayed(ctx, p)
		}
	case <-ctx.Done():
		logger.Info("interrupted")
	}
	if err := p.Stop(); err != nil {
		return err
	}
	stats := p.Stats()
	logger.WithFields(logrus.Fields{
		"id":            stats.ID,
		"format":        stats.Format.String(),
		"written":       stats.WrittenFrames,
		"notifications": stats.Notifications,
		"writeErrors":   stats.WriteErrors,
	}).Info("done")
	return playErr
}

// waitPlayed waits until frames written to the sink are played, so stop
// doesn't discard the tail. If sink doesn't expose its position, it waits
// for the duration of the sink buffer.
func waitPlayed(ctx context.Context, p *pcmfeed.Player) {
	stats := p.Stats()
	bufferDuration := stats.Format.DurationOf(int64(stats.BufferFrames))
	if stats.SinkFrames < 0 {
		t := time.NewTimer(bufferDuration)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		return
	}

	// device might stall, so waiting is limited
	deadline := time.NewTimer(2*bufferDuration + time.Second)
	defer deadline.Stop()
	ticker := time.NewTicker(pcmfeed.DefaultPollInterval)
	defer ticker.Stop()
	for p.Stats().SinkFrames > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

// feeder reads the file on player requests. Handler calls are serialized
// by the player.
type feeder struct {
	player *pcmfeed.Player
	reader source
	block  int
	log    *logrus.Logger

	eof  bool
	err  error
	once sync.Once
	done chan struct{}
}

func (f *feeder) handle(remaining int) {
	f.log.Debugf("feed request, %d frames remaining", remaining)
	if !f.eof {
		if err := f.feed(); err != nil {
			f.err = err
			f.finish()
			return
		}
	}
	// nothing was fed since the queue was drained
	if f.eof && remaining == 0 {
		f.finish()
	}
}

// feed reads the next block and feeds it to the player.
func (f *feeder) feed() error {
	buf, err := f.reader.Read(f.block)
	if errors.Is(err, io.EOF) {
		f.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return f.player.Feed(buf)
}

func (f *feeder) finish() {
	f.once.Do(func() {
		close(f.done)
	})
}
