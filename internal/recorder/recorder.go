// Package recorder drains click records to the link store asynchronously so
// the landing and bridge responses never wait on a database write.
package recorder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/models"
	"github.com/affbridge/affbridge/internal/observability"
	"github.com/affbridge/affbridge/internal/store"
)

// Sink receives drained click records. *store.LinkStore is the production
// implementation.
type Sink interface {
	RecordClick(ctx context.Context, rec models.ClickRecord) error
}

// EventSink receives a best-effort copy of each persisted record for
// analytics. Failures are logged, never retried.
type EventSink interface {
	RecordClickEvent(ctx context.Context, rec models.ClickRecord) error
}

// Options tunes a Recorder.
type Options struct {
	Workers      int
	WriteTimeout time.Duration
}

// Recorder owns the click queue and its worker pool. Producers only append;
// loss under overload is acceptable because click counts are approximate by
// design of the validity pipeline.
type Recorder struct {
	queue     Queue
	sink      Sink
	analytics EventSink
	logger    *zap.Logger
	metrics   observability.MetricsRegistry

	workers      int
	writeTimeout time.Duration

	dropped atomic.Int64
	closed  atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Recorder over the given queue and sink. analytics may be nil.
func New(queue Queue, sink Sink, analytics EventSink, metrics observability.MetricsRegistry, logger *zap.Logger, opts Options) *Recorder {
	if logger == nil {
		logger = zap.L()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	return &Recorder{
		queue:        queue,
		sink:         sink,
		analytics:    analytics,
		logger:       logger,
		metrics:      metrics,
		workers:      workers,
		writeTimeout: writeTimeout,
	}
}

// Start launches the worker pool.
func (r *Recorder) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Enqueue schedules a click record. It never blocks: when the queue is full
// or the recorder is shutting down the record is dropped and counted.
func (r *Recorder) Enqueue(rec models.ClickRecord) {
	if r.closed.Load() || !r.queue.Push(rec) {
		r.dropped.Add(1)
		r.metrics.IncrementDroppedClicks()
		return
	}
	r.metrics.SetClickQueueDepth(r.queue.Len())
}

// Depth returns the current queue depth.
func (r *Recorder) Depth() int {
	return r.queue.Len()
}

// Dropped returns the count of records lost to overflow or retry exhaustion.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		rec, ok := r.queue.Pop(ctx)
		if !ok {
			return
		}
		r.deliver(rec)
		r.metrics.SetClickQueueDepth(r.queue.Len())
	}
}

// deliver writes one record with bounded retries: 100ms, 500ms, 2s between
// attempts, then the record is dropped and counted.
func (r *Recorder) deliver(rec models.ClickRecord) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.RandomizationFactor = 0
	policy.Multiplier = 5
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		defer cancel()
		err := r.sink.RecordClick(ctx, rec)
		if errors.Is(err, store.ErrNotFound) {
			// The link vanished between serve and drain; retrying cannot help.
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(policy, 3)); err != nil {
		r.dropped.Add(1)
		r.metrics.IncrementDroppedClicks()
		r.logger.Warn("click record dropped after retries",
			zap.String("slug", rec.Slug), zap.Error(err))
		return
	}

	if r.analytics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		if err := r.analytics.RecordClickEvent(ctx, rec); err != nil {
			r.logger.Debug("analytics click event failed", zap.Error(err))
		}
		cancel()
	}
}

// Close stops intake, drains the queue within the deadline and stops the
// workers. Records still queued past the deadline are abandoned.
func (r *Recorder) Close(ctx context.Context) error {
	r.closed.Store(true)

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
drain:
	for r.queue.Len() > 0 {
		select {
		case <-ctx.Done():
			break drain
		case <-tick.C:
		}
	}

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return ctx.Err()
}
