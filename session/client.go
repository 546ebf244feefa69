package session

import (
	"net"
	"net/netip"
	"time"

	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/protocol"
)

// Client is a blocking agent connection for tools and tests. It is not safe
// for concurrent use.
type Client struct {
	conn           net.Conn
	framer         *protocol.Framer
	sendTimeout    time.Duration
	receiveTimeout time.Duration
	encoded        []byte
}

func ConnectTCP(network, addr string) (*Client, error) {
	return ConnectTCPTimeout(network, addr, 0)
}

func ConnectTCPTimeout(network, addr string, timeout time.Duration) (c *Client, e error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		if conn, err := net.DialTimeout(network, addr, timeout); err == nil {
			c = &Client{conn: conn, framer: protocol.NewFramer(nil, 0)}
		} else {
			e = err
		}

	default:
		e = ErrUnknownNetwork
	}

	return
}

func (c *Client) SetSendTimeout(t time.Duration) { c.sendTimeout = t }

func (c *Client) SetReceiveTimeout(t time.Duration) { c.receiveTimeout = t }

// LocalAddr returns the address the server knows this client by.
func (c *Client) LocalAddr() netip.AddrPort {
	ap := c.conn.LocalAddr().(*net.TCPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Send writes one request.
func (c *Client) Send(msg *protocol.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	c.encoded = protocol.AppendMessage(c.encoded[:0], msg)
	return c.Write(c.encoded)
}

// Write sends raw stream bytes.
func (c *Client) Write(p []byte) error {
	if c.conn == nil {
		return ErrClientClosed
	}
	if c.sendTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	}
	if _, err := c.conn.Write(p); err != nil {
		return xerrors.Errorf("send: %w", err)
	}
	return nil
}

// Receive blocks until one complete response arrives.
func (c *Client) Receive() (*protocol.Message, error) {
	if c.conn == nil {
		return nil, ErrClientClosed
	}

	for {
		msg, ok, err := c.framer.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}

		buf := c.framer.Buffer()
		if buf.Available() == 0 {
			buf.Grow(buf.Size())
		}
		if c.receiveTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.receiveTimeout))
		}
		if n, err := buf.ReadFrom(c.conn); n == 0 && err != nil {
			if isTimeout(err) {
				return nil, xerrors.Errorf("receive timeout: %w", err)
			}
			return nil, err
		}
	}
}

// Call sends msg and waits for its response.
func (c *Client) Call(msg *protocol.Message) (*protocol.Message, error) {
	if err := c.Send(msg); err != nil {
		return nil, err
	}
	return c.Receive()
}

func (c *Client) Close() error {
	if c.conn == nil {
		return ErrClientClosed
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
