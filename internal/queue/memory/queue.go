// Package memory provides the in-process job queue used by the dispatcher.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = intel.ErrQueueClosed
)

// Queue is a bounded two-lane queue. Items with positive priority go to the
// high lane, which Dequeue always drains first.
type Queue struct {
	high    chan intel.QueueItem
	low     chan intel.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue whose lanes each hold capacity items.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		high: make(chan intel.QueueItem, capacity),
		low:  make(chan intel.QueueItem, capacity),
	}
}

// Enqueue adds an item without blocking. A full lane returns ErrQueueFull.
func (q *Queue) Enqueue(ctx context.Context, item intel.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	lane := q.low
	if item.Priority > 0 {
		lane = q.high
	}
	select {
	case lane <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue pops the next item, preferring the high lane and respecting
// context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (intel.QueueItem, error) {
	high, low := q.high, q.low
	for {
		if high != nil {
			select {
			case item, ok := <-high:
				if ok {
					return item, nil
				}
				high = nil
				continue
			default:
			}
		}
		if high == nil && low == nil {
			return intel.QueueItem{}, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return intel.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case item, ok := <-high:
			if !ok {
				high = nil
				continue
			}
			return item, nil
		case item, ok := <-low:
			if !ok {
				low = nil
				continue
			}
			return item, nil
		}
	}
}

// Len reports the number of waiting items across both lanes.
func (q *Queue) Len() int {
	return len(q.high) + len(q.low)
}

// Close closes both lanes for shutdown. Items already queued are still
// delivered.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.high)
	close(q.low)
	q.closed = true
}
