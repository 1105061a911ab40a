package audio

import "time"

// Chunker accumulates PCM and releases it in fixed-duration chunks. It is not
// safe for concurrent use.
type Chunker struct {
	size int
	buf  []byte
}

// NewChunker returns a Chunker emitting chunks of d of audio in format f.
// The chunk size is rounded down to a whole number of sample frames.
func NewChunker(f Format, d time.Duration) *Chunker {
	frameBytes := 2 * f.Channels
	if frameBytes <= 0 {
		frameBytes = 2
	}
	size := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	size -= size % frameBytes
	if size <= 0 {
		size = frameBytes
	}
	return &Chunker{size: size}
}

// Size returns the chunk size in bytes.
func (c *Chunker) Size() int { return c.size }

// Write appends pcm and returns every complete chunk now available.
func (c *Chunker) Write(pcm []byte) [][]byte {
	c.buf = append(c.buf, pcm...)
	var out [][]byte
	for len(c.buf) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buf[:c.size])
		out = append(out, chunk)
		c.buf = c.buf[c.size:]
	}
	return out
}

// Flush returns whatever partial chunk is buffered and resets the chunker.
func (c *Chunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	out := c.buf
	c.buf = nil
	return out
}

// Reset discards buffered audio.
func (c *Chunker) Reset() { c.buf = nil }
