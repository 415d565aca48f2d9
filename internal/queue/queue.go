// Package queue provides an ordered buffer of chunks awaiting the sink.
package queue

import (
	"context"
	"sync"

	"pipelined.dev/pcmfeed/internal/chunk"
)

// Queue is a FIFO of chunks. Any number of goroutines can push while a
// single consumer pops. Total queued bytes is always a multiple of the
// frame size because chunks hold whole frames.
type Queue struct {
	frameSize int

	m          sync.Mutex
	chunks     []chunk.Chunk
	bytes      int
	generation uint64

	// pushed is signalled on every push. It has buffer of one so pushers
	// never block.
	pushed chan struct{}
}

// New returns an empty queue for frames of frameSize bytes.
func New(frameSize int) *Queue {
	return &Queue{
		frameSize: frameSize,
		pushed:    make(chan struct{}, 1),
	}
}

// Push appends chunks and returns remaining frames right after the push.
func (q *Queue) Push(chunks ...chunk.Chunk) int {
	q.m.Lock()
	for _, c := range chunks {
		if c.IsEmpty() {
			continue
		}
		q.chunks = append(q.chunks, c)
		q.bytes += c.Len()
	}
	remaining := q.bytes / q.frameSize
	q.m.Unlock()

	select {
	case q.pushed <- struct{}{}:
	default:
	}
	return remaining
}

// Pop removes the head chunk. If queue is empty, it blocks until a chunk
// is pushed or context is done. Returned generation must be used to put
// the chunk back with Unshift.
func (q *Queue) Pop(ctx context.Context) (chunk.Chunk, uint64, error) {
	for {
		q.m.Lock()
		if len(q.chunks) > 0 {
			c := q.chunks[0]
			q.chunks[0] = chunk.Chunk{}
			q.chunks = q.chunks[1:]
			q.bytes -= c.Len()
			gen := q.generation
			q.m.Unlock()
			return c, gen, nil
		}
		q.m.Unlock()

		select {
		case <-q.pushed:
		case <-ctx.Done():
			return chunk.Chunk{}, 0, ctx.Err()
		}
	}
}

// Unshift puts a popped chunk back to the head of the queue. Chunk is
// discarded and false returned if queue was cleared since it was popped.
func (q *Queue) Unshift(c chunk.Chunk, generation uint64) bool {
	q.m.Lock()
	defer q.m.Unlock()
	if generation != q.generation {
		return false
	}
	q.chunks = append([]chunk.Chunk{c}, q.chunks...)
	q.bytes += c.Len()
	return true
}

// Clear discards all queued chunks and starts a new generation.
func (q *Queue) Clear() {
	q.m.Lock()
	defer q.m.Unlock()
	for i := range q.chunks {
		q.chunks[i] = chunk.Chunk{}
	}
	q.chunks = q.chunks[:0]
	q.bytes = 0
	q.generation++
}

// Generation returns the number of times queue was cleared.
func (q *Queue) Generation() uint64 {
	q.m.Lock()
	defer q.m.Unlock()
	return q.generation
}

// RemainingFrames returns number of queued frames. Frames already written
// to the sink are not counted.
func (q *Queue) RemainingFrames() int {
	q.m.Lock()
	defer q.m.Unlock()
	return q.bytes / q.frameSize
}

// Len returns number of queued chunks.
func (q *Queue) Len() int {
	q.m.Lock()
	defer q.m.Unlock()
	return len(q.chunks)
}
