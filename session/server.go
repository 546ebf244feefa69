package session

import (
	"context"
	"net/netip"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/market"
	"github.com/Godyy/go-market/metrics"
	"github.com/Godyy/go-market/protocol"
	"github.com/Godyy/go-market/socket"
)

var log = logging.Logger("session")

const (
	DefaultSendBuffSize    = 8192
	DefaultReceiveBuffSize = 8192

	// accepts handled per readable firing of the listener.
	maxAcceptsPerEvent = 64
)

type options struct {
	sendBuffSize    int
	receiveBuffSize int
	maxMsgSize      int
	idleGrace       time.Duration
	idleInterval    time.Duration
	dispatcherOpts  []market.Option
}

type Option func(*options) error

// WithSendBuffer sets the initial outbound channel capacity of a session.
func WithSendBuffer(size int) Option {
	return func(o *options) error {
		if size <= 0 {
			return ErrBuffSize
		}
		o.sendBuffSize = size
		return nil
	}
}

// WithReceiveBuffer sets the initial inbound channel capacity of a session.
func WithReceiveBuffer(size int) Option {
	return func(o *options) error {
		if size <= 0 {
			return ErrBuffSize
		}
		o.receiveBuffSize = size
		return nil
	}
}

// WithMaxMessage bounds the bytes of one request. Zero means unbounded.
func WithMaxMessage(size int) Option {
	return func(o *options) error {
		if size < 0 {
			return ErrMaxMsgSize
		}
		o.maxMsgSize = size
		return nil
	}
}

// WithIdleGrace tears down sessions idle for longer than d with nothing
// pending. Zero disables it.
func WithIdleGrace(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return ErrIdleGrace
		}
		o.idleGrace = d
		return nil
	}
}

// WithIdleInterval sets how long the loop waits before an idle round.
func WithIdleInterval(d time.Duration) Option {
	return func(o *options) error {
		o.idleInterval = d
		return nil
	}
}

func WithDispatcherOptions(opts ...market.Option) Option {
	return func(o *options) error {
		o.dispatcherOpts = append(o.dispatcherOpts, opts...)
		return nil
	}
}

// Server accepts agent connections and drives their sessions from a single
// loop goroutine. Only Terminate and Invoke may be called while Serve runs.
type Server struct {
	opts       options
	ctx        context.Context
	loop       *socket.Loop
	listener   *socket.Listener
	registry   market.Registry
	dispatcher *market.Dispatcher
	sessions   map[socket.ID]*Session
	closed     bool
}

func NewServer(registry market.Registry, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}

	s := &Server{
		opts: options{
			sendBuffSize:    DefaultSendBuffSize,
			receiveBuffSize: DefaultReceiveBuffSize,
			idleInterval:    socket.DefaultIdleInterval,
		},
		ctx:      context.Background(),
		registry: registry,
		sessions: make(map[socket.ID]*Session),
	}
	for _, opt := range opts {
		if err := opt(&s.opts); err != nil {
			return nil, err
		}
	}

	loop, err := socket.NewLoop(socket.WithIdleInterval(s.opts.idleInterval))
	if err != nil {
		return nil, xerrors.Errorf("new loop: %w", err)
	}
	s.loop = loop
	s.dispatcher = market.NewDispatcher(registry, s, s.opts.dispatcherOpts...)
	return s, nil
}

// Listen binds the listening socket. It must be called before Serve.
func (s *Server) Listen(network, addr string) error {
	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return ErrListening
	}

	l, err := socket.Listen(network, addr)
	if err != nil {
		return xerrors.Errorf("listen %s %s: %w", network, addr, err)
	}
	s.listener = l
	s.loop.Register(l.Fd(), socket.EventType_Readable|socket.EventType_Error|socket.EventType_Shutdown, (*acceptor)(s))
	log.Infow("listening", "network", network, "addr", l.Addr())
	return nil
}

// Addr returns the bound address, or the zero value before Listen.
func (s *Server) Addr() netip.AddrPort {
	if s.listener == nil {
		return netip.AddrPort{}
	}
	return s.listener.Addr()
}

// Serve runs the loop until Terminate is called or ctx is done. Pending
// responses are flushed best effort and every session is torn down before
// it returns.
func (s *Server) Serve(ctx context.Context) error {
	if s.closed {
		return ErrServerClosed
	}
	if s.listener == nil {
		return ErrNotListening
	}

	err := s.loop.Run(ctx)
	for _, sess := range s.sessions {
		s.reap(sess)
	}
	log.Infow("server stopped", "addr", s.listener.Addr())
	return err
}

// Terminate stops the server. Safe for concurrent use.
func (s *Server) Terminate() {
	s.loop.Stop()
}

// Invoke runs fn on the loop goroutine and waits for it to return.
func (s *Server) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := s.loop.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the number of live sessions. Loop goroutine only.
func (s *Server) Sessions() int { return len(s.sessions) }

// Close releases the listener and the loop. Serve must have returned.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var result *multierror.Error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			result = multierror.Append(result, xerrors.Errorf("close listener: %w", err))
		}
	}
	if err := s.loop.Close(); err != nil {
		result = multierror.Append(result, xerrors.Errorf("close loop: %w", err))
	}
	return result.ErrorOrNil()
}

// HandleEvent drives the session owning id, then reaps it if the callback
// marked it removable.
func (s *Server) HandleEvent(id socket.ID, evt socket.Event) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	sess.handleEvent(evt)
	if sess.removable {
		s.reap(sess)
	}
}

// reap tears a session down: interests first, then the descriptor, then
// the listener binding of its peer.
func (s *Server) reap(sess *Session) {
	if _, ok := s.sessions[sess.id]; !ok {
		return
	}
	delete(s.sessions, sess.id)

	if err := sess.detach(s.loop); err != nil {
		log.Debugw("close session", "peer", sess.peer, "err", err)
	}
	if err := s.registry.DeleteListener(sess.peer, protocol.NewMessage(protocol.Disconnect)); err != nil {
		log.Debugw("delete listener", "peer", sess.peer, "err", err)
	}

	reason := sess.reason
	if reason == "" {
		reason = close_Shutdown
	}
	_ = stats.RecordWithTags(s.ctx, []tag.Mutator{tag.Upsert(metrics.Reason, reason)}, metrics.ConnectionsClosed.M(1))
	log.Debugw("session closed", "peer", sess.peer, "reason", reason)
}

func (s *Server) accept() {
	for i := 0; i < maxAcceptsPerEvent; i++ {
		conn, err := s.listener.Accept()
		if err != nil {
			if !xerrors.Is(err, socket.ErrWouldBlock) {
				log.Warnw("accept failed", "addr", s.listener.Addr(), "err", err)
			}
			return
		}

		sess := newSession(s, conn)
		sess.attach(s.loop)
		s.sessions[sess.id] = sess
		stats.Record(s.ctx, metrics.ConnectionsOpened.M(1))
		log.Debugw("session accepted", "peer", sess.peer, "id", sess.id)
	}
}

// acceptor is the loop handler of the listening socket.
type acceptor Server

func (a *acceptor) HandleEvent(id socket.ID, evt socket.Event) {
	s := (*Server)(a)
	switch evt.Type {
	case socket.EventType_Readable:
		s.accept()
	case socket.EventType_Error:
		log.Errorw("listener error", "addr", s.listener.Addr(), "err", evt.Err)
	case socket.EventType_Shutdown:
		log.Debugw("listener shutdown", "addr", s.listener.Addr())
	}
}
