package message

import (
	"container/heap"
	"sync"
)

// Queue is an unbounded, thread-safe priority queue of messages.
//
// Messages drain by priority (High first) and, inside one priority, in the
// order they were enqueued. Unbounded so plugin workers and the consumer loop
// never block each other on enqueue.
//
// A signal channel (buffered, size 1) lets the consumer wait with select
// alongside a context, as in:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // TryDequeue
//	}
type Queue struct {
	mu     sync.Mutex
	items  messageHeap
	clock  *Clock
	closed bool
	signal chan struct{}
}

// NewQueue creates an empty queue stamping sequence numbers from clock.
// A nil clock gets a fresh one.
func NewQueue(clock *Clock) *Queue {
	if clock == nil {
		clock = NewClock()
	}
	return &Queue{
		items:  make(messageHeap, 0, 64),
		clock:  clock,
		signal: make(chan struct{}, 1),
	}
}

// Enqueue stamps m with the next sequence number and adds it.
// Returns false if the queue is closed.
func (q *Queue) Enqueue(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	heap.Push(&q.items, m.withSeq(q.clock.Next()))

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the next message without blocking.
func (q *Queue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Message{}, false
	}
	return heap.Pop(&q.items).(Message), true
}

// Wait returns the availability signal. It is closed when the queue closes.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further enqueues and wakes waiters.
// Messages already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// messageHeap implements heap.Interface ordered by (priority, seq).
type messageHeap []Message

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) {
	*h = append(*h, x.(Message))
}

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	// Clear the slot so the payload can be collected.
	old[n-1] = Message{}
	*h = old[:n-1]
	return m
}
