package ws

import "sync"

// frame is one pre-serialized envelope waiting to be written. Control
// frames (connected, subscribed, errors, pings) are exempt from the
// drop-oldest policy.
type frame struct {
	data    []byte
	control bool
}

// sendQueue is a fixed-capacity FIFO that favors freshness: when full, the
// oldest domain frame is evicted to make room for the new one. Length
// never exceeds capacity. A single writer goroutine drains it.
type sendQueue struct {
	mu       sync.Mutex
	items    []frame
	capacity int
	dropped  uint64
	closed   bool

	// wake has capacity 1; push signals, the writer drains.
	wake chan struct{}
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{
		items:    make([]frame, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// push enqueues a frame, evicting the oldest domain frame when full.
// A control frame arriving at capacity jumps ahead of queued domain
// frames instead of being dropped.
func (q *sendQueue) push(fr frame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	if len(q.items) >= q.capacity {
		evicted := q.evictOldestDomain()
		if !evicted {
			// Queue entirely control frames; only another control frame
			// may displace the oldest one, and it joins at the tail so
			// control frames keep their enqueue order.
			if !fr.control {
				q.dropped++
				q.mu.Unlock()
				q.signal()
				return nil
			}
			q.items = q.items[1:]
			q.dropped++
		} else if fr.control {
			q.insertAfterControls(fr)
			q.mu.Unlock()
			q.signal()
			return nil
		}
	}

	q.items = append(q.items, fr)
	q.mu.Unlock()
	q.signal()
	return nil
}

// insertAfterControls places fr behind every queued control frame and
// ahead of the remaining domain frames, so control frames jump domain
// traffic without reordering among themselves. Caller holds mu.
func (q *sendQueue) insertAfterControls(fr frame) {
	idx := 0
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].control {
			idx = i + 1
			break
		}
	}
	q.items = append(q.items, frame{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = fr
}

// evictOldestDomain removes the oldest non-control frame. Caller holds mu.
func (q *sendQueue) evictOldestDomain() bool {
	for i, it := range q.items {
		if !it.control {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.dropped++
			return true
		}
	}
	return false
}

func (q *sendQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes the head frame without blocking.
func (q *sendQueue) pop() (frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return frame{}, false
	}
	fr := q.items[0]
	q.items = q.items[1:]
	return fr, true
}

// close marks the queue dead; subsequent pushes fail and the writer drains
// out.
func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.signal()
}

func (q *sendQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *sendQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
