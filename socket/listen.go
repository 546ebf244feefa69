package socket

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Listener is a non-blocking listening TCP socket meant to be registered
// with a Loop.
type Listener struct {
	network string
	addr    netip.AddrPort
	fd      int
}

// Listen opens a listening socket. A zero port picks an ephemeral one;
// Addr reports the bound address.
func Listen(network, addr string) (*Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, ErrUnknownNetwork
	}

	tcpAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); network != "tcp6" && (tcpAddr.IP == nil || ip4 != nil) {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, xerrors.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := setupListener(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, xerrors.Errorf("getsockname: %w", err)
	}

	return &Listener{network: network, addr: sockaddrToAddrPort(bound), fd: fd}, nil
}

func setupListener(fd int, sa unix.Sockaddr) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return xerrors.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return xerrors.Errorf("set nonblock: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return xerrors.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return xerrors.Errorf("listen: %w", err)
	}
	return nil
}

// Accept returns the next pending connection, already non-blocking, or
// ErrWouldBlock when none is pending.
func (l *Listener) Accept() (*Conn, error) {
	if l.fd < 0 {
		return nil, ErrInvalidFd
	}

	for {
		fd, sa, err := unix.Accept(l.fd)
		switch {
		case err == unix.EINTR || err == unix.ECONNABORTED:
			continue
		case isWouldBlock(err):
			return nil, ErrWouldBlock
		case err != nil:
			return nil, xerrors.Errorf("accept: %w", err)
		}

		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			return nil, xerrors.Errorf("set nonblock: %w", err)
		}
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		return newConn(fd, sockaddrToAddrPort(sa)), nil
	}
}

func (l *Listener) Fd() int { return l.fd }

func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	fd := l.fd
	l.fd = -1
	return unix.Close(fd)
}

// Network returns name of the network. ("tcp", "tcp4")
func (l *Listener) Network() string {
	return l.network
}

func (l *Listener) Addr() netip.AddrPort {
	return l.addr
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return netip.AddrPort{}
}
