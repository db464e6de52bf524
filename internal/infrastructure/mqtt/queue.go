package mqtt

import (
	"context"
	"sync/atomic"
)

// Message is a single inbound publication. Immutable once enqueued.
type Message struct {
	Topic   string
	Payload []byte
}

// defaultQueueSize bounds the inbound queue when config leaves it unset.
// Very high on purpose; it is insurance against abnormal situations,
// not a working buffer.
const defaultQueueSize = 50000

// inboundQueue is the bounded handoff between paho's network goroutine
// and the single consumer. Enqueue never blocks: when the queue is
// full the newest message is dropped and counted. FIFO order is
// preserved because paho invokes the message handler sequentially.
type inboundQueue struct {
	ch chan Message

	received atomic.Uint64
	dropped  atomic.Uint64
	maxDepth atomic.Int64
}

func newInboundQueue(capacity int) *inboundQueue {
	if capacity < 1 {
		capacity = defaultQueueSize
	}
	return &inboundQueue{
		ch: make(chan Message, capacity),
	}
}

// enqueue adds m to the queue, applying the drop-newest policy.
// Safe to call from any goroutine. Returns false if m was dropped.
func (q *inboundQueue) enqueue(m Message) bool {
	q.received.Add(1)
	select {
	case q.ch <- m:
		q.recordDepth(int64(len(q.ch)))
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// next blocks until a message is available or ctx is done.
func (q *inboundQueue) next(ctx context.Context) (Message, error) {
	select {
	case m := <-q.ch:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (q *inboundQueue) recordDepth(depth int64) {
	for {
		cur := q.maxDepth.Load()
		if depth <= cur || q.maxDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

func (q *inboundQueue) depth() int    { return len(q.ch) }
func (q *inboundQueue) capacity() int { return cap(q.ch) }
