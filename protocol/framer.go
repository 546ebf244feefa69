package protocol

import (
	"errors"

	"github.com/Godyy/go-market/io"
)

var (
	ErrMessageTooLarge = errors.New("message too large")
)

const DefaultFramerBuffSize = 1024

// Framer extracts complete messages from a byte stream.
//
// Bytes stay in the buffer until a terminator confirms a whole message; the
// message and its terminator are then consumed together, so a partial
// message never leaves the Framer and the next message is never consumed
// early.
type Framer struct {
	buf        *io.Buffer
	maxMsgSize int
}

// NewFramer frames the bytes of buf. A maxMsgSize of zero means unbounded.
func NewFramer(buf *io.Buffer, maxMsgSize int) *Framer {
	if buf == nil {
		buf = io.NewBuffer(DefaultFramerBuffSize)
	}
	return &Framer{buf: buf, maxMsgSize: maxMsgSize}
}

// Write stages more stream bytes.
func (f *Framer) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *Framer) Buffered() int { return f.buf.Buffered() }

// Buffer returns the underlying buffer.
func (f *Framer) Buffer() *io.Buffer { return f.buf }

// Next returns the next complete message, or ok == false when none is
// buffered yet. ErrMessageTooLarge is returned when more than the maximum
// message size is buffered without a terminator.
func (f *Framer) Next() (msg *Message, ok bool, err error) {
	i := f.buf.IndexByte(Terminator)
	if i < 0 {
		if f.maxMsgSize > 0 && f.buf.Buffered() > f.maxMsgSize {
			return nil, false, ErrMessageTooLarge
		}
		return nil, false, nil
	}
	if f.maxMsgSize > 0 && i > f.maxMsgSize {
		return nil, false, ErrMessageTooLarge
	}

	msg = Decode(f.buf.Bytes()[:i])
	f.buf.Drain(i + 1)
	return msg, true, nil
}
