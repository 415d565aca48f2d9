// Package chunk splits fed PCM buffers into bounded pieces.
package chunk

// Chunk is an immutable span of whole PCM frames. Chunks are never re-split
// once they are queued.
type Chunk struct {
	data   []byte
	frames int
}

// New wraps data which must hold whole frames of frameSize bytes.
func New(data []byte, frameSize int) Chunk {
	return Chunk{
		data:   data,
		frames: len(data) / frameSize,
	}
}

// Bytes returns chunk data. It must not be modified.
func (c Chunk) Bytes() []byte {
	return c.data
}

// Len returns the length of chunk in bytes.
func (c Chunk) Len() int {
	return len(c.data)
}

// Frames returns number of frames in the chunk.
func (c Chunk) Frames() int {
	return c.frames
}

// IsEmpty returns true if chunk has no data.
func (c Chunk) IsEmpty() bool {
	return len(c.data) == 0
}

// Split copies buffer and breaks it into ordered chunks of maxChunkBytes. The
// last chunk holds the remainder. maxChunkBytes must be a multiple of
// frameSize, otherwise chunks would split frames.
func Split(buffer []byte, maxChunkBytes, frameSize int) []Chunk {
	if len(buffer) == 0 {
		return nil
	}
	if maxChunkBytes <= 0 {
		maxChunkBytes = len(buffer)
	}
	// single copy, chunks share the backing array
	data := make([]byte, len(buffer))
	copy(data, buffer)

	chunks := make([]Chunk, 0, (len(data)+maxChunkBytes-1)/maxChunkBytes)
	for len(data) > 0 {
		n := maxChunkBytes
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, New(data[:n:n], frameSize))
		data = data[n:]
	}
	return chunks
}
