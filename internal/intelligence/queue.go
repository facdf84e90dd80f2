package intelligence

import (
	"container/heap"
	"context"
	"sync"

	commonerrors "lead-intelligence/internal/common/errors"
	"lead-intelligence/internal/common/metrics"
	"lead-intelligence/internal/models"
)

type queueItem struct {
	event *models.LeadEvent
	seq   uint64
}

type eventHeap []*queueItem

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority > h[j].event.Priority
	}
	// FIFO within the same priority band.
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(*queueItem))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue is a bounded queue that releases events highest-priority
// first, FIFO within a priority band. Enqueue never blocks; at capacity it
// rejects immediately so publishers get backpressure instead of latency.
type PriorityQueue struct {
	mu       sync.Mutex
	items    eventHeap
	seq      uint64
	capacity int
	closed   bool

	// One token per queued item. Buffered to capacity so Enqueue's token
	// send can never block while the heap holds the item.
	tokens chan struct{}
}

// NewPriorityQueue creates a queue holding at most capacity events.
func NewPriorityQueue(capacity int) *PriorityQueue {
	q := &PriorityQueue{
		items:    make(eventHeap, 0, capacity),
		capacity: capacity,
		tokens:   make(chan struct{}, capacity),
	}
	heap.Init(&q.items)
	return q
}

// Enqueue adds an event or rejects it when the queue is full or closed.
func (q *PriorityQueue) Enqueue(event *models.LeadEvent) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return commonerrors.NewQueueClosedError()
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		metrics.EventsRejected.WithLabelValues("capacity_exceeded").Inc()
		return commonerrors.NewCapacityExceededError(q.capacity)
	}

	q.seq++
	heap.Push(&q.items, &queueItem{event: event, seq: q.seq})
	depth := len(q.items)
	// Buffered to capacity, so this send cannot block while the heap
	// holds the item; doing it under the lock keeps Close from closing
	// the channel mid-send.
	q.tokens <- struct{}{}
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	return nil
}

// Dequeue blocks until an event is available, the context is cancelled, or
// the queue has been closed and drained.
func (q *PriorityQueue) Dequeue(ctx context.Context) (*models.LeadEvent, error) {
	select {
	case _, ok := <-q.tokens:
		if !ok {
			return nil, commonerrors.NewQueueClosedError()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	q.mu.Lock()
	item := heap.Pop(&q.items).(*queueItem)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	return item.event, nil
}

// Len reports the number of queued events.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues. Queued events remain dequeuable until
// the token channel drains, then Dequeue returns QueueClosed.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.tokens)
}
