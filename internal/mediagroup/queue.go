package mediagroup

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded FIFO of payloads handed from followers to the group leader.
// Push never blocks; Pop blocks until an item arrives, the wait elapses or ctx is done.
type Queue struct {
	mu     sync.Mutex
	items  []Payload
	signal chan struct{}
}

func newQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends a payload and wakes a waiting consumer.
func (q *Queue) Push(p Payload) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len reports the number of queued payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) tryPop() (Payload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Payload{}, false
	}
	p := q.items[0]
	q.items[0] = Payload{}
	q.items = q.items[1:]
	return p, true
}

// Pop removes the oldest payload, waiting at most wait for one to arrive.
// It returns false on timeout or context cancellation.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (Payload, bool) {
	if p, ok := q.tryPop(); ok {
		return p, true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Payload{}, false
		case <-timer.C:
			// An item may have landed between the last check and the deadline.
			return q.tryPop()
		case <-q.signal:
			if p, ok := q.tryPop(); ok {
				return p, true
			}
		}
	}
}
