package ffmpeg

import (
	"errors"
	"io"
	"os"
	"time"
)

// ErrTimeout is returned by ChunkReader.Next when a chunk was not complete
// before the timeout. Bytes read so far are kept for the next call.
var ErrTimeout = errors.New("timed out waiting for chunk")

// ChunkReader splits a raw stream (rawvideo frames, PCM blocks) into
// fixed-size chunks.
type ChunkReader struct {
	f       *os.File
	size    int
	timeout time.Duration

	buf    []byte
	filled int

	deadlines bool
}

// NewChunkReader reads size-byte chunks from f. A zero timeout blocks
// until each chunk is complete.
func NewChunkReader(f *os.File, size int, timeout time.Duration) *ChunkReader {
	return &ChunkReader{
		f:         f,
		size:      size,
		timeout:   timeout,
		deadlines: timeout > 0,
	}
}

// Next returns the next complete chunk in a freshly allocated slice.
func (c *ChunkReader) Next() ([]byte, error) {
	if c.buf == nil {
		c.buf = make([]byte, c.size)
	}
	if c.deadlines {
		if err := c.f.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			// Not every file supports deadlines; fall back to blocking reads.
			c.deadlines = false
		}
	}

	for c.filled < c.size {
		n, err := c.f.Read(c.buf[c.filled:])
		c.filled += n
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, ErrTimeout
			}
			if errors.Is(err, io.EOF) && c.filled > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	chunk := c.buf
	c.buf = nil
	c.filled = 0
	return chunk, nil
}
