package chunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/pcmfeed/internal/chunk"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		description string
		size        int
		maxChunk    int
		frameSize   int
		expected    []int
	}{
		{
			description: "empty",
			size:        0,
			maxChunk:    16,
			frameSize:   4,
		},
		{
			description: "single chunk",
			size:        8,
			maxChunk:    16,
			frameSize:   4,
			expected:    []int{8},
		},
		{
			description: "exact multiple",
			size:        32,
			maxChunk:    16,
			frameSize:   4,
			expected:    []int{16, 16},
		},
		{
			description: "remainder",
			size:        36,
			maxChunk:    16,
			frameSize:   4,
			expected:    []int{16, 16, 4},
		},
		{
			description: "mono frames",
			size:        10,
			maxChunk:    4,
			frameSize:   2,
			expected:    []int{4, 4, 2},
		},
		{
			description: "unbounded",
			size:        12,
			maxChunk:    0,
			frameSize:   2,
			expected:    []int{12},
		},
	}
	for _, test := range tests {
		buf := make([]byte, test.size)
		for i := range buf {
			buf[i] = byte(i)
		}
		chunks := chunk.Split(buf, test.maxChunk, test.frameSize)
		assert.Equal(t, len(test.expected), len(chunks), test.description)

		var joined []byte
		for i, c := range chunks {
			assert.Equal(t, test.expected[i], c.Len(), test.description)
			assert.Equal(t, test.expected[i]/test.frameSize, c.Frames(), test.description)
			joined = append(joined, c.Bytes()...)
		}
		if test.size > 0 {
			assert.Equal(t, buf, joined, test.description)
		}
	}
}

func TestSplitCopies(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	chunks := chunk.Split(buf, 2, 2)
	buf[0] = 9
	assert.Equal(t, byte(1), chunks[0].Bytes()[0])
}
