package socket

import (
	"io"
	"net/netip"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Conn is an accepted non-blocking TCP socket.
//
// Read reports ErrWouldBlock when nothing is pending and io.EOF when the peer
// closed its side. Write may be partial and returns (0, nil) when the socket
// send buffer is full.
type Conn struct {
	fd   int
	peer netip.AddrPort
}

func newConn(fd int, peer netip.AddrPort) *Conn {
	return &Conn{fd: fd, peer: peer}
}

func (c *Conn) Fd() int { return c.fd }

// RemoteAddr returns the peer address, stable for the life of the socket.
func (c *Conn) RemoteAddr() netip.AddrPort { return c.peer }

func (c *Conn) Read(p []byte) (int, error) {
	if c.fd < 0 {
		return 0, ErrConnClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, xerrors.Errorf("read %s: %w", c.peer, err)
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.fd < 0 {
		return 0, ErrConnClosed
	}

	for {
		n, err := unix.Write(c.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, nil
		case err != nil:
			return 0, xerrors.Errorf("write %s: %w", c.peer, err)
		}
		return n, nil
	}
}

// Close releases the descriptor. Closing twice is a no-op.
func (c *Conn) Close() error {
	if c.fd < 0 {
		return nil
	}
	fd := c.fd
	c.fd = -1
	return unix.Close(fd)
}
