package conn

import (
	"sync"

	"github.com/leagueofsolvers/satclient/protocol"
)

// sendQueue is the bounded outbound message queue. Messages enqueued while
// the connection is down are held until reconnection. On overflow the
// oldest non-critical message is dropped; a pending result submission is
// never dropped, even if that temporarily exceeds the bound.
type sendQueue struct {
	mu    sync.Mutex
	items []protocol.Message
	limit int

	// wake is signalled (non-blocking) on every push so the write loop
	// can flush.
	wake chan struct{}

	dropped int64
}

func newSendQueue(limit int) *sendQueue {
	if limit <= 0 {
		limit = 64
	}
	return &sendQueue{
		limit: limit,
		wake:  make(chan struct{}, 1),
	}
}

// critical reports whether msg must survive queue overflow.
func critical(msg protocol.Message) bool {
	_, ok := msg.(*protocol.SubmitResult)
	return ok
}

// push enqueues msg, evicting the oldest non-critical entry on overflow.
// Returns true when an eviction happened.
func (q *sendQueue) push(msg protocol.Message) bool {
	q.mu.Lock()
	evicted := false
	if len(q.items) >= q.limit {
		for i, held := range q.items {
			if !critical(held) {
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.dropped++
				evicted = true
				break
			}
		}
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return evicted
}

// pop removes and returns the head of the queue.
func (q *sendQueue) pop() (protocol.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

// requeueFront puts msg back at the head after a failed write so it is
// retransmitted first after reconnect.
func (q *sendQueue) requeueFront(msg protocol.Message) {
	q.mu.Lock()
	q.items = append([]protocol.Message{msg}, q.items...)
	q.mu.Unlock()
}

// kick wakes the write loop without enqueuing, used on reconnect to flush
// held messages.
func (q *sendQueue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// len returns the current queue depth.
func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// droppedCount returns the number of evicted messages.
func (q *sendQueue) droppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
