package io

import (
	"bytes"
	"errors"
	"io"
)

var (
	ErrSizeLEZero         = errors.New("size less then or equal to zero")
	ErrAvailableNotEnough = errors.New("available not enough")
	ErrNegativeCount      = errors.New("negative count")
)

// TransitionFunc is invoked when a buffer state flips.
type TransitionFunc func(bool)

// Buffer is a growable circular byte buffer.
//
// Buffered() never exceeds Size(). Writes never fail: when the data does not
// fit, the backing storage is reallocated to at least the required size and
// the byte order is preserved. Storage never shrinks.
//
// Two transitions are reported: "readable" flips when Buffered() moves
// between zero and non-zero, "writable" flips when Available() moves between
// zero and non-zero.
type Buffer struct {
	buf        []byte
	r          int // offset of the first buffered byte
	n          int // buffered byte count
	onReadable TransitionFunc
	onWritable TransitionFunc
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		panic(ErrSizeLEZero)
	}

	return &Buffer{
		buf: make([]byte, size),
	}
}

// OnReadable sets the callback fired when the buffer gains its first byte or
// loses its last one.
func (b *Buffer) OnReadable(fn TransitionFunc) { b.onReadable = fn }

// OnWritable sets the callback fired when the buffer becomes full or stops
// being full.
func (b *Buffer) OnWritable(fn TransitionFunc) { b.onWritable = fn }

func (b *Buffer) Size() int {
	return len(b.buf)
}

func (b *Buffer) Buffered() int {
	return b.n
}

func (b *Buffer) Available() int {
	return len(b.buf) - b.n
}

func (b *Buffer) state() (readable, writable bool) {
	return b.n > 0, b.n < len(b.buf)
}

func (b *Buffer) notify(readable, writable bool) {
	if r := b.n > 0; r != readable && b.onReadable != nil {
		b.onReadable(r)
	}
	if w := b.n < len(b.buf); w != writable && b.onWritable != nil {
		b.onWritable(w)
	}
}

// Grow makes sure at least n more bytes can be written without reallocating.
func (b *Buffer) Grow(n int) {
	if n < 0 {
		panic(ErrNegativeCount)
	}
	if n <= b.Available() {
		return
	}

	readable, writable := b.state()
	b.resize(b.n + n)
	b.notify(readable, writable)
}

func (b *Buffer) resize(need int) {
	size := len(b.buf) * 2
	if size < need {
		size = need
	}
	buf := make([]byte, size)
	b.copyOut(buf)
	b.buf = buf
	b.r = 0
}

// copyOut copies the buffered bytes, oldest first, into dst.
func (b *Buffer) copyOut(dst []byte) int {
	end := b.r + b.n
	if end <= len(b.buf) {
		return copy(dst, b.buf[b.r:end])
	}
	c := copy(dst, b.buf[b.r:])
	return c + copy(dst[c:], b.buf[:end-len(b.buf)])
}

// Trim moves the buffered bytes to the front of the storage.
func (b *Buffer) Trim() {
	if b.r == 0 {
		return
	}

	if b.r+b.n <= len(b.buf) {
		copy(b.buf, b.buf[b.r:b.r+b.n])
	} else {
		buf := make([]byte, len(b.buf))
		b.copyOut(buf)
		b.buf = buf
	}
	b.r = 0
}

// Bytes returns the buffered bytes as one slice. The slice aliases the
// buffer storage and is valid until the next mutation.
func (b *Buffer) Bytes() []byte {
	if b.r+b.n > len(b.buf) {
		b.Trim()
	}
	return b.buf[b.r : b.r+b.n]
}

// IndexByte returns the offset of the first c among the buffered bytes, or -1.
func (b *Buffer) IndexByte(c byte) int {
	end := b.r + b.n
	if end <= len(b.buf) {
		return bytes.IndexByte(b.buf[b.r:end], c)
	}

	head := b.buf[b.r:]
	if i := bytes.IndexByte(head, c); i >= 0 {
		return i
	}
	if i := bytes.IndexByte(b.buf[:end-len(b.buf)], c); i >= 0 {
		return len(head) + i
	}
	return -1
}

// Drain discards up to n bytes from the front and returns the count removed.
func (b *Buffer) Drain(n int) (drained int, err error) {
	if n < 0 {
		return 0, ErrNegativeCount
	}
	if n == 0 || b.n == 0 {
		return 0, nil
	}

	readable, writable := b.state()
	drained = n
	if drained > b.n {
		drained = b.n
	}
	b.r += drained
	if b.r >= len(b.buf) {
		b.r -= len(b.buf)
	}
	b.n -= drained
	if b.n == 0 {
		b.r = 0
	}
	b.notify(readable, writable)
	return
}

func (b *Buffer) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.n == 0 {
		return 0, io.EOF
	}

	n = b.copyOut(p)
	b.Drain(n)
	return
}

// Write appends p, growing the storage if needed. It always consumes p.
func (b *Buffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	readable, writable := b.state()
	if len(p) > b.Available() {
		b.resize(b.n + len(p))
	}

	w := b.r + b.n
	if w >= len(b.buf) {
		w -= len(b.buf)
	}
	tail := len(b.buf) - w
	if tail > len(p) {
		tail = len(p)
	}
	c := copy(b.buf[w:w+tail], p)
	copy(b.buf, p[c:])
	b.n += len(p)
	b.notify(readable, writable)
	return len(p), nil
}

// ReadFrom performs a single Read from reader into the free space.
func (b *Buffer) ReadFrom(reader io.Reader) (n int, err error) {
	if b.Available() == 0 {
		return 0, ErrAvailableNotEnough
	}

	b.Trim()
	readable, writable := b.state()
	n, err = reader.Read(b.buf[b.n:])
	if n > 0 {
		b.n += n
		b.notify(readable, writable)
	}
	return
}

// WriteTo performs a single Write of every buffered byte and drains what the
// writer accepted.
func (b *Buffer) WriteTo(writer io.Writer) (n int, err error) {
	if b.n == 0 {
		return 0, nil
	}

	n, err = writer.Write(b.Bytes())
	if n > 0 {
		b.Drain(n)
	}
	return
}
