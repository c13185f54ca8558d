package recorder

import (
	"context"

	"github.com/affbridge/affbridge/internal/models"
)

// Queue is the bounded MPMC buffer between request handlers and the drain
// workers. Push never blocks; a full queue rejects the record.
type Queue interface {
	Push(rec models.ClickRecord) bool
	// Pop blocks until a record is available or the context is done.
	Pop(ctx context.Context) (models.ClickRecord, bool)
	Len() int
}

// memoryQueue is the in-process queue used when no Redis URL is configured.
type memoryQueue struct {
	ch chan models.ClickRecord
}

// NewMemoryQueue builds an in-process queue with the given capacity.
func NewMemoryQueue(capacity int) Queue {
	if capacity <= 0 {
		capacity = 10000
	}
	return &memoryQueue{ch: make(chan models.ClickRecord, capacity)}
}

func (q *memoryQueue) Push(rec models.ClickRecord) bool {
	select {
	case q.ch <- rec:
		return true
	default:
		return false
	}
}

func (q *memoryQueue) Pop(ctx context.Context) (models.ClickRecord, bool) {
	select {
	case rec := <-q.ch:
		return rec, true
	case <-ctx.Done():
		// Drain what is left before giving up so Close loses nothing
		// that was already queued.
		select {
		case rec := <-q.ch:
			return rec, true
		default:
			return models.ClickRecord{}, false
		}
	}
}

func (q *memoryQueue) Len() int {
	return len(q.ch)
}
