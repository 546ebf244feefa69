package socket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/container/queue"
)

var log = logging.Logger("socket")

const (
	DefaultIdleInterval  = 250 * time.Millisecond
	DefaultTaskQueueSize = 1024
)

// ID identifies a registered entry. IDs are never reused by a Loop.
type ID uint64

type entry struct {
	fd       int
	interest EventType
	handler  Handler
}

// Loop is a single-threaded readiness dispatcher over a dynamic set of
// sockets, built on poll(2).
//
// Every method except Post and Stop must be called from the goroutine
// running Run, or before Run starts.
type Loop struct {
	entries      map[ID]*entry
	order        []ID
	nextID       ID
	idleInterval time.Duration
	lastIdle     time.Time
	tasks        *queue.ChanQueue[func()]
	wakeR, wakeW int
	running      int32
	stopping     int32
	closed       bool

	pollFds []unix.PollFd
	polled  []ID
}

type LoopOption func(*Loop)

// WithIdleInterval sets how often Idle is delivered, busy or not.
func WithIdleInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.idleInterval = d
		}
	}
}

func NewLoop(opts ...LoopOption) (*Loop, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, xerrors.Errorf("wake pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, xerrors.Errorf("wake pipe: %w", err)
		}
	}

	l := &Loop{
		entries:      make(map[ID]*entry),
		idleInterval: DefaultIdleInterval,
		tasks:        queue.NewChanQueue[func()](DefaultTaskQueueSize),
		wakeR:        p[0],
		wakeW:        p[1],
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Register adds fd with an initial interest set and returns its ID.
func (l *Loop) Register(fd int, interest EventType, h Handler) ID {
	l.nextID++
	id := l.nextID
	l.entries[id] = &entry{fd: fd, interest: interest & EventType_All, handler: h}
	l.order = append(l.order, id)
	return id
}

// Deregister drops every interest of id. No further event is delivered for
// it, even later in the current poll round.
func (l *Loop) Deregister(id ID) {
	if _, ok := l.entries[id]; !ok {
		return
	}
	delete(l.entries, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *Loop) Registered(id ID) bool {
	_, ok := l.entries[id]
	return ok
}

func (l *Loop) Enable(id ID, t EventType) {
	if e, ok := l.entries[id]; ok {
		e.interest |= t & EventType_All
	}
}

func (l *Loop) Disable(id ID, t EventType) {
	if e, ok := l.entries[id]; ok {
		e.interest &^= t
	}
}

// Interest returns the current interest set of id.
func (l *Loop) Interest(id ID) EventType {
	if e, ok := l.entries[id]; ok {
		return e.interest
	}
	return 0
}

// Len returns the number of registered entries.
func (l *Loop) Len() int { return len(l.entries) }

// Post queues fn to run on the loop goroutine. Safe for concurrent use.
func (l *Loop) Post(fn func()) error {
	if atomic.LoadInt32(&l.stopping) != 0 {
		return ErrLoopStopped
	}
	if !l.tasks.TryPush(fn) {
		log.Warnw("task queue full", "size", l.tasks.Size())
		return ErrTaskQueueFull
	}
	l.wake()
	return nil
}

// Stop asks Run to deliver Shutdown to every interested entry and return.
// Safe for concurrent use and idempotent.
func (l *Loop) Stop() {
	if atomic.CompareAndSwapInt32(&l.stopping, 0, 1) {
		l.wake()
	}
}

func (l *Loop) wake() {
	unix.Write(l.wakeW, []byte{0})
}

// Run dispatches readiness events until Stop is called or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if l.closed {
		return ErrLoopClosed
	}
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return ErrLoopRunning
	}
	defer atomic.StoreInt32(&l.running, 0)

	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()

	l.lastIdle = time.Now()

	for {
		l.runTasks()
		if atomic.LoadInt32(&l.stopping) != 0 {
			l.shutdown()
			return nil
		}
		if err := l.poll(); err != nil {
			l.shutdown()
			return err
		}
	}
}

func (l *Loop) runTasks() {
	for {
		fn, ok := l.tasks.Pop(false)
		if !ok {
			return
		}
		fn()
	}
}

func (l *Loop) poll() error {
	l.pollFds = append(l.pollFds[:0], unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
	l.polled = l.polled[:0]
	for _, id := range l.order {
		e := l.entries[id]
		var events int16
		if e.interest&EventType_Readable != 0 {
			events |= unix.POLLIN
		}
		if e.interest&EventType_Writable != 0 {
			events |= unix.POLLOUT
		}
		// poll(2) reports errors and hangups even with no requested events.
		if events == 0 && e.interest&(EventType_Error|EventType_Shutdown) == 0 {
			continue
		}
		l.pollFds = append(l.pollFds, unix.PollFd{Fd: int32(e.fd), Events: events})
		l.polled = append(l.polled, id)
	}

	timeout := l.idleInterval - time.Since(l.lastIdle)
	if timeout < 0 {
		timeout = 0
	}
	n, err := unix.Poll(l.pollFds, int((timeout+time.Millisecond-1)/time.Millisecond))
	if err != nil && err != unix.EINTR {
		return xerrors.Errorf("poll: %w", err)
	}

	if n > 0 {
		if l.pollFds[0].Revents != 0 {
			l.drainWake()
		}
		for i, pfd := range l.pollFds[1:] {
			if pfd.Revents != 0 {
				l.dispatch(l.polled[i], int(pfd.Fd), pfd.Revents)
			}
		}
	}

	// Idle sweeps are periodic, whatever traffic other sockets see.
	if now := time.Now(); now.Sub(l.lastIdle) >= l.idleInterval {
		l.lastIdle = now
		l.deliverAll(Event{Type: EventType_Idle})
	}
	return nil
}

func (l *Loop) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (l *Loop) dispatch(id ID, fd int, revents int16) {
	switch {
	case revents&unix.POLLNVAL != 0:
		l.deliver(id, Event{Type: EventType_Error, Err: ErrInvalidFd})
		return
	case revents&unix.POLLERR != 0:
		err := socketError(fd)
		if err == nil {
			err = ErrPeerShutdown
		}
		l.deliver(id, Event{Type: EventType_Error, Err: err})
		return
	case revents&unix.POLLIN != 0:
		if !l.deliver(id, Event{Type: EventType_Readable}) {
			return
		}
	case revents&unix.POLLHUP != 0:
		l.deliver(id, Event{Type: EventType_Shutdown, Err: ErrPeerShutdown})
		return
	}

	if revents&unix.POLLOUT != 0 {
		l.deliver(id, Event{Type: EventType_Writable})
	}
}

// deliver calls the handler of id if it is still registered and interested.
// It returns false once id is gone.
func (l *Loop) deliver(id ID, evt Event) bool {
	e, ok := l.entries[id]
	if !ok {
		return false
	}
	if e.interest&evt.Type != 0 {
		e.handler.HandleEvent(id, evt)
	}
	_, ok = l.entries[id]
	return ok
}

func (l *Loop) deliverAll(evt Event) {
	ids := append([]ID(nil), l.order...)
	for _, id := range ids {
		l.deliver(id, evt)
	}
}

func (l *Loop) shutdown() {
	log.Debugw("loop stopping", "entries", len(l.entries), "tasks", l.tasks.Len())
	l.deliverAll(Event{Type: EventType_Shutdown, Err: ErrLoopStopped})
	l.runTasks()
}

// Close releases the wake pipe. Entries still registered are left to their
// owners.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	atomic.StoreInt32(&l.stopping, 1)

	var result *multierror.Error
	if err := unix.Close(l.wakeR); err != nil {
		result = multierror.Append(result, xerrors.Errorf("close wake reader: %w", err))
	}
	if err := unix.Close(l.wakeW); err != nil {
		result = multierror.Append(result, xerrors.Errorf("close wake writer: %w", err))
	}
	return result.ErrorOrNil()
}
