package queue

// ChanQueue is a bounded FIFO backed by a buffered channel. It is safe for
// concurrent producers and consumers.
type ChanQueue[T any] struct {
	ch chan T
}

func (q *ChanQueue[T]) Size() int {
	return cap(q.ch)
}

// Len returns the number of queued items.
func (q *ChanQueue[T]) Len() int {
	return len(q.ch)
}

// TryPush queues o unless the queue is full.
func (q *ChanQueue[T]) TryPush(o T) bool {
	select {
	case q.ch <- o:
		return true
	default:
		return false
	}
}

// Pop removes the oldest item. Without wait it returns immediately with
// ok == false when the queue is empty.
func (q *ChanQueue[T]) Pop(wait bool) (o T, ok bool) {
	if !wait {
		select {
		case o, ok = <-q.ch:
		default:
		}
	} else {
		o, ok = <-q.ch
	}
	return
}

func NewChanQueue[T any](size int) *ChanQueue[T] {
	if size <= 0 {
		panic("invalid size")
	}
	return &ChanQueue[T]{ch: make(chan T, size)}
}
