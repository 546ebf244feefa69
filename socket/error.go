package socket

import (
	"errors"
	"io"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrWouldBlock     = errors.New("operation would block")
	ErrLoopRunning    = errors.New("loop already running")
	ErrLoopStopped    = errors.New("loop stopped")
	ErrLoopClosed     = errors.New("loop closed")
	ErrTaskQueueFull  = errors.New("task queue full")
	ErrPeerShutdown   = errors.New("peer shutdown")
	ErrInvalidFd      = errors.New("invalid file descriptor")
	ErrConnClosed     = errors.New("connection closed")
)

func isWouldBlock(e error) bool {
	return e == unix.EAGAIN || e == unix.EWOULDBLOCK
}

// IsConnRST reports whether e represents a connection reset by the peer.
func IsConnRST(e error) bool {
	var errno syscall.Errno
	if xerrors.As(e, &errno) {
		return errno == syscall.ECONNRESET || errno == syscall.EPIPE
	}
	return false
}

// IsEOF reports whether e represents an orderly close by the peer.
func IsEOF(e error) bool {
	return e == io.EOF
}

// socketError fetches and clears the pending error of fd.
func socketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return xerrors.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if v == 0 {
		return nil
	}
	return syscall.Errno(v)
}
