package socket

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func acceptOne(t *testing.T, l *Listener) *Conn {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		c, err := l.Accept()
		if err == nil {
			return c
		}
		require.ErrorIs(t, err, ErrWouldBlock)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no connection accepted")
	return nil
}

func TestListenAcceptReadWrite(t *testing.T) {
	l, err := Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	require.NotZero(t, l.Addr().Port())
	require.Equal(t, "tcp4", l.Network())

	_, err = l.Accept()
	require.ErrorIs(t, err, ErrWouldBlock)

	client, err := net.Dial("tcp4", l.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	conn := acceptOne(t, l)
	defer conn.Close()
	require.Equal(t, client.LocalAddr().String(), conn.RemoteAddr().String())

	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)

	n, err := conn.Write([]byte("pong"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	got := make([]byte, 4)
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	require.Equal(t, "pong", string(got))

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, err = conn.Read(buf)
		return err == nil
	}, waitTimeout, time.Millisecond)
	require.Equal(t, "ping", string(buf[:n]))

	client.Close()
	require.Eventually(t, func() bool {
		_, err = conn.Read(buf)
		return IsEOF(err)
	}, waitTimeout, time.Millisecond)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, ErrConnClosed)
}

func TestListenUnknownNetwork(t *testing.T) {
	_, err := Listen("udp", "127.0.0.1:0")
	require.ErrorIs(t, err, ErrUnknownNetwork)
}
