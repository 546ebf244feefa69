package io

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitions struct {
	readable []bool
	writable []bool
}

func watch(b *Buffer) *transitions {
	t := &transitions{}
	b.OnReadable(func(v bool) { t.readable = append(t.readable, v) })
	b.OnWritable(func(v bool) { t.writable = append(t.writable, v) })
	return t
}

func TestBufferWriteDrain(t *testing.T) {
	b := NewBuffer(8)
	tr := watch(b)

	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 3, b.Buffered())
	require.Equal(t, 5, b.Available())
	require.Equal(t, []bool{true}, tr.readable)
	require.Empty(t, tr.writable)

	drained, err := b.Drain(2)
	require.NoError(t, err)
	require.Equal(t, 2, drained)
	require.Equal(t, []byte("c"), b.Bytes())

	drained, _ = b.Drain(10)
	require.Equal(t, 1, drained)
	require.Equal(t, 0, b.Buffered())
	require.Equal(t, []bool{true, false}, tr.readable)

	_, err = b.Drain(-1)
	require.ErrorIs(t, err, ErrNegativeCount)
}

func TestBufferWrapAround(t *testing.T) {
	b := NewBuffer(8)
	b.Write([]byte("123456"))
	b.Drain(4)
	b.Write([]byte("abcde"))

	require.Equal(t, 8, b.Size(), "wrapped write must reuse freed space")
	require.Equal(t, 7, b.Buffered())
	require.Equal(t, 5, b.IndexByte('d'))
	require.Equal(t, 0, b.IndexByte('5'))
	require.Equal(t, -1, b.IndexByte('x'))
	require.Equal(t, []byte("56abcde"), b.Bytes())
}

func TestBufferGrowPreservesOrder(t *testing.T) {
	b := NewBuffer(4)
	tr := watch(b)

	b.Write([]byte("wxyz"))
	require.Equal(t, []bool{false}, tr.writable)
	b.Drain(2)
	require.Equal(t, []bool{false, true}, tr.writable)

	b.Write([]byte("0123456789"))
	require.GreaterOrEqual(t, b.Size(), 12)
	require.Equal(t, []byte("yz0123456789"), b.Bytes())

	size := b.Size()
	b.Drain(b.Buffered())
	require.Equal(t, size, b.Size(), "capacity never shrinks")
}

func TestBufferGrowReportsWritable(t *testing.T) {
	b := NewBuffer(2)
	tr := watch(b)

	b.Write([]byte("ab"))
	require.Equal(t, 0, b.Available())
	b.Grow(6)
	require.GreaterOrEqual(t, b.Available(), 6)
	require.Equal(t, []bool{false, true}, tr.writable)
	require.Equal(t, []byte("ab"), b.Bytes())
}

type shortWriter struct {
	limit int
	out   bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		p = p[:w.limit]
	}
	return w.out.Write(p)
}

func TestBufferWriteToPartial(t *testing.T) {
	b := NewBuffer(16)
	b.Write([]byte("hello world"))

	w := &shortWriter{limit: 5}
	n, err := b.WriteTo(w)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte(" world"), b.Bytes())

	w.limit = 100
	n, err = b.WriteTo(w)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "hello world", w.out.String())
	require.Equal(t, 0, b.Buffered())
}

func TestBufferReadFrom(t *testing.T) {
	b := NewBuffer(4)
	tr := watch(b)

	n, err := b.ReadFrom(bytes.NewReader([]byte("abcdefgh")))
	require.NoError(t, err)
	require.Equal(t, 4, n, "a single read is bounded by free capacity")
	require.Equal(t, []bool{true}, tr.readable)
	require.Equal(t, []bool{false}, tr.writable)

	_, err = b.ReadFrom(bytes.NewReader([]byte("x")))
	require.True(t, errors.Is(err, ErrAvailableNotEnough))

	p := make([]byte, 3)
	n, _ = b.Read(p)
	assert.Equal(t, "abc", string(p[:n]))

	n, err = b.ReadFrom(bytes.NewReader(nil))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}
