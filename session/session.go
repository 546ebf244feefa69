package session

import (
	"strconv"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/io"
	"github.com/Godyy/go-market/market"
	"github.com/Godyy/go-market/metrics"
	"github.com/Godyy/go-market/protocol"
	"github.com/Godyy/go-market/socket"
)

// close reasons, reported as the metrics.Reason tag.
const (
	close_RemoteClose = "remote session closed"
	close_ConnReset   = "connection reset"
	close_Error       = "socket error"
	close_Idle        = "idle"
	close_Shutdown    = "server shutdown"
	close_Oversize    = "message too large"
)

const sessionInterest = socket.EventType_Readable | socket.EventType_Error |
	socket.EventType_Shutdown | socket.EventType_Idle

// Session is the server side of one agent connection. It only runs on the
// loop goroutine.
type Session struct {
	id     socket.ID
	srv    *Server
	conn   *socket.Conn
	peer   market.PeerAddress
	in     *io.Buffer
	out    *io.Buffer
	framer *protocol.Framer

	encoded    []byte
	lastActive time.Time
	removable  bool
	reason     string
}

func newSession(srv *Server, conn *socket.Conn) *Session {
	s := &Session{
		srv:        srv,
		conn:       conn,
		peer:       conn.RemoteAddr(),
		in:         io.NewBuffer(srv.opts.receiveBuffSize),
		out:        io.NewBuffer(srv.opts.sendBuffSize),
		lastActive: time.Now(),
	}
	s.framer = protocol.NewFramer(s.in, srv.opts.maxMsgSize)
	return s
}

// attach registers the session and ties its channels to its interests: a
// full inbound channel stops reads, a non-empty outbound channel asks for
// writes.
func (s *Session) attach(loop *socket.Loop) {
	s.id = loop.Register(s.conn.Fd(), sessionInterest, s.srv)
	s.in.OnWritable(func(writable bool) {
		if writable {
			loop.Enable(s.id, socket.EventType_Readable)
		} else {
			loop.Disable(s.id, socket.EventType_Readable)
		}
	})
	s.out.OnReadable(func(readable bool) {
		if readable {
			loop.Enable(s.id, socket.EventType_Writable)
		} else {
			loop.Disable(s.id, socket.EventType_Writable)
		}
	})
}

// detach drops every interest before the descriptor is closed.
func (s *Session) detach(loop *socket.Loop) error {
	loop.Deregister(s.id)
	s.in.OnWritable(nil)
	s.out.OnReadable(nil)
	return s.conn.Close()
}

func (s *Session) ID() socket.ID { return s.id }

func (s *Session) Peer() market.PeerAddress { return s.peer }

func (s *Session) handleEvent(evt socket.Event) {
	switch evt.Type {
	case socket.EventType_Readable:
		s.onReadable()
	case socket.EventType_Writable:
		s.onWritable()
	case socket.EventType_Idle:
		s.onIdle(time.Now())
	case socket.EventType_Error:
		s.onError(evt.Err)
	case socket.EventType_Shutdown:
		s.onShutdown(evt.Err)
	}
}

func (s *Session) onReadable() {
	n, err := s.in.ReadFrom(s.conn)
	if n > 0 {
		s.lastActive = time.Now()
		stats.Record(s.srv.ctx, metrics.BytesRead.M(int64(n)))
	}

	switch {
	case err == nil:
	case xerrors.Is(err, socket.ErrWouldBlock), xerrors.Is(err, io.ErrAvailableNotEnough):
	case socket.IsEOF(err):
		log.Debugw("peer closed", "peer", s.peer)
		s.markRemovable(close_RemoteClose)
		return
	case socket.IsConnRST(err):
		s.markRemovable(close_ConnReset)
		return
	default:
		log.Warnw("session read failed", "peer", s.peer, "err", newError(ErrorType_Read, err))
		s.markRemovable(close_Error)
		return
	}

	s.process()
	s.reserve()
}

func (s *Session) onWritable() {
	n, err := s.out.WriteTo(s.conn)
	if n > 0 {
		s.lastActive = time.Now()
		stats.Record(s.srv.ctx, metrics.BytesWritten.M(int64(n)))
	}
	if err != nil {
		if socket.IsConnRST(err) {
			s.markRemovable(close_ConnReset)
		} else {
			log.Warnw("session write failed", "peer", s.peer, "err", newError(ErrorType_Write, err))
			s.markRemovable(close_Error)
		}
		return
	}

	// every response is out, pick up requests left in the inbound channel.
	if s.out.Buffered() == 0 {
		s.process()
		s.reserve()
	}
}

func (s *Session) onIdle(now time.Time) {
	s.process()
	s.reserve()

	grace := s.srv.opts.idleGrace
	if grace <= 0 || s.removable {
		return
	}
	if s.in.Buffered() == 0 && s.out.Buffered() == 0 && now.Sub(s.lastActive) > grace {
		log.Infow("closing idle session", "peer", s.peer, "idle", now.Sub(s.lastActive))
		s.markRemovable(close_Idle)
	}
}

func (s *Session) onError(err error) {
	reason := close_Error
	if socket.IsConnRST(err) {
		reason = close_ConnReset
	}
	log.Warnw("session socket error", "peer", s.peer, "err", newError(ErrorType_Socket, err))
	s.markRemovable(reason)
}

func (s *Session) onShutdown(err error) {
	if xerrors.Is(err, socket.ErrLoopStopped) {
		s.flush()
		s.markRemovable(close_Shutdown)
		return
	}
	log.Debugw("peer hung up", "peer", s.peer, "err", err)
	s.markRemovable(close_RemoteClose)
}

// flush writes pending responses until the socket stops accepting them.
func (s *Session) flush() {
	for s.out.Buffered() > 0 {
		n, err := s.out.WriteTo(s.conn)
		if n == 0 || err != nil {
			return
		}
		stats.Record(s.srv.ctx, metrics.BytesWritten.M(int64(n)))
	}
}

// process dispatches buffered requests. A peer that is not a listener yet
// gets at most one request handled per call. A listener's bytes move to the
// registry staging area and every complete request staged is handled.
func (s *Session) process() {
	if s.removable {
		return
	}

	registry := s.srv.registry
	if !registry.IsAlreadyListener(s.peer) {
		msg, ok, err := s.framer.Next()
		if err != nil {
			s.fail(err)
			return
		}
		if ok {
			s.dispatch(msg)
		}
		return
	}

	if s.in.Buffered() > 0 {
		data := s.in.Bytes()
		if err := registry.AddStagedData(s.peer, data); err != nil {
			s.fail(err)
			return
		}
		s.in.Drain(len(data))
	}
	for !s.removable {
		msg, ok, err := registry.GetMessage(s.peer)
		if err != nil {
			s.fail(err)
			return
		}
		if !ok {
			return
		}
		s.dispatch(msg)
	}
}

// reserve grows a full inbound channel that holds no complete request.
func (s *Session) reserve() {
	if s.removable || s.in.Available() > 0 || s.in.IndexByte(protocol.Terminator) >= 0 {
		return
	}
	if limit := s.srv.opts.maxMsgSize; limit > 0 && s.in.Buffered() >= limit {
		s.fail(protocol.ErrMessageTooLarge)
		return
	}
	s.in.Grow(s.in.Size())
}

func (s *Session) fail(err error) {
	reason := close_Error
	if xerrors.Is(err, protocol.ErrMessageTooLarge) {
		reason = close_Oversize
	}
	log.Warnw("session framing failed", "peer", s.peer, "err", newError(ErrorType_Framing, err))
	s.markRemovable(reason)
}

func (s *Session) dispatch(req *protocol.Message) {
	ctx, _ := tag.New(s.srv.ctx, tag.Upsert(metrics.Method, req.Method.String()))
	stop := metrics.Timer(ctx, metrics.DispatchDuration)
	resp := s.srv.dispatcher.Dispatch(s.peer, req)
	stop()

	status := "ok"
	if code, _, failed := resp.Status(); failed {
		status = strconv.Itoa(code)
	}
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(metrics.Status, status)}, metrics.MessagesDispatched.M(1))

	s.encoded = protocol.AppendMessage(s.encoded[:0], resp)
	s.out.Write(s.encoded)
}

func (s *Session) markRemovable(reason string) {
	if s.removable {
		return
	}
	s.removable = true
	s.reason = reason
}
