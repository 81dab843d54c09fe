package ustream

import (
	"io"
	"sync"
)

const DefaultBufferSize = 16 * 1024 * 1024

// RingBuffer is a bounded byte pipe. Writes block while it is full and reads
// block while it is empty. After CloseWrite readers drain the remaining bytes
// and then get the close error, io.EOF by default.
type RingBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	data  []byte
	start int
	size  int

	writeErr error // set once the writer is done
	readErr  error // set once the reader is gone
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}

	b := &RingBuffer{data: make([]byte, size)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *RingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for len(p) > 0 {
		for b.size == len(b.data) && b.readErr == nil && b.writeErr == nil {
			b.cond.Wait()
		}

		if b.readErr != nil {
			return written, b.readErr
		}
		if b.writeErr != nil {
			return written, io.ErrClosedPipe
		}

		end := (b.start + b.size) % len(b.data)
		free := len(b.data) - b.size
		if end+free > len(b.data) {
			free = len(b.data) - end
		}

		n := copy(b.data[end:end+free], p)
		b.size += n
		written += n
		p = p[n:]

		b.cond.Broadcast()
	}

	return written, nil
}

func (b *RingBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == 0 && b.writeErr == nil && b.readErr == nil {
		b.cond.Wait()
	}

	if b.readErr != nil {
		return 0, b.readErr
	}

	if b.size == 0 {
		return 0, b.writeErr
	}

	n := b.size
	if n > len(p) {
		n = len(p)
	}
	if b.start+n > len(b.data) {
		n = len(b.data) - b.start
	}

	copy(p, b.data[b.start:b.start+n])
	b.start = (b.start + n) % len(b.data)
	b.size -= n

	b.cond.Broadcast()
	return n, nil
}

// Len returns the number of buffered bytes.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// CloseWrite marks the end of data, err is returned to readers after the
// buffer drained. A nil err means io.EOF.
func (b *RingBuffer) CloseWrite(err error) {
	if err == nil {
		err = io.EOF
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writeErr == nil {
		b.writeErr = err
	}
	b.cond.Broadcast()
}

// Close releases both sides, pending and future writes fail.
func (b *RingBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.readErr == nil {
		b.readErr = io.ErrClosedPipe
	}
	b.cond.Broadcast()
	return nil
}
