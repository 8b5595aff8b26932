package vad

// Buffer accumulates raw audio bytes and slices them into complete
// fixed-duration chunks for the detector. One Buffer per live session.
type Buffer struct {
	chunkBytes int
	data       []byte
}

func NewBuffer(chunkBytes int) *Buffer {
	return &Buffer{chunkBytes: chunkBytes}
}

func (b *Buffer) Add(p []byte) {
	b.data = append(b.data, p...)
}

// NextChunk returns the oldest complete chunk, or nil if none is buffered.
func (b *Buffer) NextChunk() []byte {
	if len(b.data) < b.chunkBytes {
		return nil
	}
	chunk := make([]byte, b.chunkBytes)
	copy(chunk, b.data[:b.chunkBytes])
	b.data = b.data[b.chunkBytes:]
	return chunk
}

func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

func (b *Buffer) Len() int { return len(b.data) }
