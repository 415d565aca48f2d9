// Package ring provides a bounded byte buffer between the playback
// goroutine and a pull-model audio device.
package ring

import (
	"context"
	"sync"
)

// Buffer holds whole frames. Writer blocks while buffer is full, reader
// never blocks and gets silence when buffer is empty.
type Buffer struct {
	frameSize int

	m    sync.Mutex
	cond *sync.Cond
	data []byte
	// start is the index of the first unread byte.
	start int
	size  int
	// read counts frames read from the buffer, silence excluded.
	read      uint64
	underflow bool
}

// New returns buffer for frames of frameSize bytes.
func New(frames, frameSize int) *Buffer {
	b := Buffer{
		frameSize: frameSize,
		data:      make([]byte, frames*frameSize),
	}
	b.cond = sync.NewCond(&b.m)
	return &b
}

// Write copies p into buffer, waiting for free space if needed. Only whole
// frames are copied. If context is done, number of frames copied so far is
// returned with context error. Underflow is reported if reader ran out of
// frames since the previous write.
func (b *Buffer) Write(ctx context.Context, p []byte) (frames int, underflow bool, err error) {
	stop := context.AfterFunc(ctx, func() {
		b.m.Lock()
		b.cond.Broadcast()
		b.m.Unlock()
	})
	defer stop()

	b.m.Lock()
	defer b.m.Unlock()
	underflow = b.underflow
	b.underflow = false
	p = p[:len(p)-len(p)%b.frameSize]
	for len(p) > 0 {
		for b.size == len(b.data) {
			if err := ctx.Err(); err != nil {
				return frames, underflow, err
			}
			b.cond.Wait()
		}
		free := len(b.data) - b.size
		n := min(free, len(p))
		end := (b.start + b.size) % len(b.data)
		copied := copy(b.data[end:], p[:n])
		copy(b.data, p[copied:n])
		b.size += n
		frames += n / b.frameSize
		p = p[n:]
	}
	return frames, underflow, nil
}

// Read implements io.Reader. It fills p with buffered bytes and pads it
// with silence.
func (b *Buffer) Read(p []byte) (int, error) {
	b.m.Lock()
	defer b.m.Unlock()
	n := min(b.size, len(p))
	copied := copy(p[:n], b.data[b.start:])
	copy(p[copied:n], b.data)
	b.start = (b.start + n) % len(b.data)
	b.size -= n
	b.read += uint64(n / b.frameSize)
	if n < len(p) {
		clear(p[n:])
		// silence before the first frame is not an underflow
		b.underflow = b.read > 0
	}
	b.cond.Broadcast()
	return len(p), nil
}

// Reset discards buffered frames and read counter.
func (b *Buffer) Reset() {
	b.m.Lock()
	defer b.m.Unlock()
	b.start = 0
	b.size = 0
	b.read = 0
	b.underflow = false
	b.cond.Broadcast()
}

// Discard discards buffered frames. Read counter is kept.
func (b *Buffer) Discard() {
	b.m.Lock()
	defer b.m.Unlock()
	b.start = 0
	b.size = 0
	b.cond.Broadcast()
}

// Frames returns number of frames read from the buffer.
func (b *Buffer) Frames() uint64 {
	b.m.Lock()
	defer b.m.Unlock()
	return b.read
}

// Buffered returns number of frames in the buffer.
func (b *Buffer) Buffered() int {
	b.m.Lock()
	defer b.m.Unlock()
	return b.size / b.frameSize
}
