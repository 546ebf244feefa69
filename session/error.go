package session

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/socket"
)

var (
	ErrUnknownNetwork = socket.ErrUnknownNetwork

	// Define errors that occur while configuring or driving a server.
	ErrBuffSize     = errors.New("buffer size error")
	ErrMaxMsgSize   = errors.New("max message size error")
	ErrIdleGrace    = errors.New("idle grace error")
	ErrNotListening = errors.New("server not listening")
	ErrListening    = errors.New("server already listening")
	ErrServerClosed = errors.New("server closed")
	ErrNilRegistry  = errors.New("nil registry")
	ErrNilMessage   = errors.New("nil message")
	ErrClientClosed = errors.New("client closed")
)

type ErrorType int8

const (
	ErrorType_Read    = ErrorType(1)
	ErrorType_Write   = ErrorType(2)
	ErrorType_Socket  = ErrorType(3)
	ErrorType_Framing = ErrorType(4)
)

var (
	errorTypeStrings = [...]string{
		ErrorType_Read:    "ReadError",
		ErrorType_Write:   "WriteError",
		ErrorType_Socket:  "SocketError",
		ErrorType_Framing: "FramingError",
	}
)

func (e ErrorType) String() string { return errorTypeStrings[e] }

// Error represent errors that tear a session down.
type Error struct {
	errType ErrorType
	err     error
}

func (e *Error) Type() ErrorType { return e.errType }

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.errType.String(), e.err.Error())
}

func (e *Error) Unwrap() error { return e.err }

func newError(t ErrorType, e error) *Error {
	if e == nil {
		panic("nil internal error")
	}
	return &Error{errType: t, err: e}
}

// if error represent certain operation is timeout.
func isTimeout(e error) bool {
	var ne net.Error
	if xerrors.As(e, &ne) {
		return ne.Timeout()
	}
	return false
}
