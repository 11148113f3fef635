// Package buffer implements gumdrop's per-Connection byte queue (spec §3:
// "outbound plaintext queue (ordered)... back-pressure flag"). It started
// life as the teacher's request/response body spooler (memory, spilling to
// a temp file past a threshold); here it additionally tracks a read offset
// so bytes can be drained in FIFO order as the reactor writes them to the
// wire, and a watermark so a Connection's send path can report would-block
// back-pressure before the backlog grows unbounded (spec §4.D).
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/gumdrop/gumdrop/pkg/errors"
)

const (
	// DefaultMemoryLimit is the default memory threshold before spilling to disk.
	DefaultMemoryLimit = 4 * 1024 * 1024 // 4MB
)

// Buffer is an ordered byte queue: Write appends, Drain removes from the
// front. Data accumulates in memory until limit is exceeded, then spills to
// a temp file so an oversized backlog (e.g. a slow WebSocket peer) never
// grows the process's resident memory without bound.
type Buffer struct {
	buf        bytes.Buffer
	file       *os.File
	path       string
	readOffset int64 // bytes already drained from the spilled file
	size       int64 // total bytes ever written
	consumed   int64 // total bytes ever drained
	limit      int64
	watermark  int64 // back-pressure threshold; 0 disables
	mu         sync.Mutex
	closed     bool
}

// New creates a new Buffer with the provided memory limit. Watermark
// back-pressure is disabled; use NewQueue for a Connection's outbound
// queue, which needs it.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// NewQueue builds a Buffer for use as a Connection's outbound byte queue:
// limit bounds how much is kept in memory before spilling to disk, and
// watermark is the pending-byte threshold past which ExceedsWatermark
// reports back-pressure (spec §4.D: "if the outbound cleartext queue
// exceeds a watermark, the handler's send operation returns would-block").
func NewQueue(limit, watermark int64) *Buffer {
	b := New(limit)
	b.watermark = watermark
	return b
}

// Pending returns the number of bytes written but not yet drained.
func (b *Buffer) Pending() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size - b.consumed
}

// ExceedsWatermark reports whether the undrained backlog exceeds the
// configured watermark. Always false when no watermark was configured.
func (b *Buffer) ExceedsWatermark() bool {
	if b.watermark <= 0 {
		return false
	}
	return b.Pending() > b.watermark
}

// Peek returns up to max bytes from the front of the queue, in write
// order, without removing them. Pair with Consume once the caller has
// actually handed the bytes off (e.g. to a socket write that might
// itself reject them under back-pressure).
func (b *Buffer) Peek(max int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if max <= 0 {
		return nil, nil
	}

	if b.file != nil {
		chunk := make([]byte, max)
		n, err := b.file.ReadAt(chunk, b.readOffset)
		if err != nil && err != io.EOF {
			return chunk[:n], errors.NewIOError("peeking spilled buffer", err)
		}
		return chunk[:n], nil
	}

	avail := b.buf.Bytes()
	n := max
	if n > len(avail) {
		n = len(avail)
	}
	out := make([]byte, n)
	copy(out, avail[:n])
	return out, nil
}

// Consume advances the read offset by n bytes, as returned by a prior
// Peek. It is an error to consume more than the last Peek returned.
func (b *Buffer) Consume(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if b.file != nil {
		b.readOffset += int64(n)
	} else {
		b.buf.Next(n)
	}
	b.consumed += int64(n)
	return nil
}

// Drain removes and returns up to max bytes from the front of the queue,
// in write order (Peek immediately followed by Consume). Returns fewer
// than max bytes (including zero) if that's all that's buffered; never
// blocks.
func (b *Buffer) Drain(max int) ([]byte, error) {
	out, err := b.Peek(max)
	if err != nil {
		return out, err
	}
	if len(out) > 0 {
		_ = b.Consume(len(out))
	}
	return out, nil
}

// NewWithData creates a new buffer with existing data.
func NewWithData(data []byte) *Buffer {
	b := &Buffer{
		limit: DefaultMemoryLimit,
		size:  int64(len(data)),
	}
	b.buf.Write(data)
	return b
}

// Write stores the provided bytes, spilling to disk once above the configured
// memory threshold.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Check if closed
	if b.closed {
		return 0, errors.NewIOError("buffer is closed", nil)
	}

	b.size += int64(len(p))

	// If still under limit and no file yet, write to memory
	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	// Need to spill to disk
	if b.file == nil {
		tmp, err := os.CreateTemp("", "rawhttp-buffer-*.tmp")
		if err != nil {
			return 0, errors.NewIOError("creating temp file", err)
		}

		// Store file reference immediately to ensure cleanup if Close() is called
		b.file = tmp
		b.path = tmp.Name()

		// Write existing buffer content to file
		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				// Close will clean up the file
				b.Close()
				return 0, errors.NewIOError("writing to temp file", err)
			}
		}

		b.buf.Reset()
	}

	// Write new data to file
	n, err := b.file.Write(p)
	if err != nil {
		return n, errors.NewIOError("writing to temp file", err)
	}
	return n, nil
}

// Bytes returns the in-memory data. If the payload spilled to disk this will be
// empty.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Path returns the filesystem path backing the spilled payload.
func (b *Buffer) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Size returns the total number of bytes written.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled returns true if the buffer has spilled to disk.
func (b *Buffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader provides a fresh reader for the stored data.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.NewIOError("buffer is closed", nil)
	}

	if b.file != nil {
		// Sync file to ensure all data is written
		if err := b.file.Sync(); err != nil {
			return nil, errors.NewIOError("syncing temp file", err)
		}

		// Open a new reader
		f, err := os.Open(b.path)
		if err != nil {
			return nil, errors.NewIOError("opening temp file for reading", err)
		}
		return f, nil
	}

	// Return in-memory data
	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close flushes and closes the underlying file, if any, and removes the temp file.
// Safe for concurrent calls and idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Already closed, make it idempotent
	if b.closed {
		return nil
	}

	b.closed = true

	if b.file != nil {
		err := b.file.Close()
		// Always try to remove the temp file
		if removeErr := os.Remove(b.path); removeErr != nil && err == nil {
			err = errors.NewIOError("removing temp file", removeErr)
		}
		b.file = nil
		b.path = ""
		if err != nil {
			return errors.NewIOError("closing temp file", err)
		}
	}
	return nil
}

// Reset clears the buffer and prepares it for reuse.
func (b *Buffer) Reset() error {
	if err := b.Close(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Reset()
	b.size = 0
	b.consumed = 0
	b.readOffset = 0
	b.closed = false // Allow reuse after reset
	return nil
}
