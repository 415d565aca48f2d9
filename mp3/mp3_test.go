package mp3

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/pcmfeed"
	"pipelined.dev/pcmfeed/test"
)

// mockDecoder returns predefined pcm bytes like go-mp3 decoder does.
type mockDecoder struct {
	*bytes.Reader
	sampleRate int
	err        error
}

func (d *mockDecoder) SampleRate() int {
	return d.sampleRate
}

func (d *mockDecoder) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	// decoder returns at most one mp3 frame per call
	return d.Reader.Read(p[:min(len(p), 1152*4)])
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func TestRead(t *testing.T) {
	tests := []struct {
		description string
		frames      int
		block       int
		expected    []int
	}{
		{
			description: "whole blocks",
			frames:      3000,
			block:       1000,
			expected:    []int{1000, 1000, 1000},
		},
		{
			description: "last short block",
			frames:      2500,
			block:       2000,
			expected:    []int{2000, 500},
		},
	}
	for _, test := range tests {
		data := sequence(test.frames)
		// trailing partial frame is dropped
		data = append(data, 0, 0, 0)
		r := newReader(nopCloser{}, &mockDecoder{
			Reader:     bytes.NewReader(data),
			sampleRate: 44100,
		})
		assert.Equal(t, pcmfeed.Format{SampleRate: 44100, Channels: 2}, r.Format(), test.description)

		var result []byte
		var blocks []int
		for {
			buf, err := r.Read(test.block)
			if errors.Is(err, io.EOF) {
				break
			}
			assert.NoError(t, err, test.description)
			blocks = append(blocks, len(buf)/4)
			result = append(result, buf...)
		}
		assert.Equal(t, test.expected, blocks, test.description)
		assert.Equal(t, data[:test.frames*4], result, test.description)
		assert.NoError(t, r.Close())
	}
}

func TestReadError(t *testing.T) {
	decodeErr := errors.New("decode error")
	r := newReader(nopCloser{}, &mockDecoder{
		Reader:     bytes.NewReader(nil),
		sampleRate: 44100,
		err:        decodeErr,
	})
	_, err := r.Read(10)
	assert.ErrorIs(t, err, decodeErr)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mp3"))
	assert.Error(t, err)
}

func sequence(frames int) []byte {
	return test.Sequence(0, frames, 2)
}
