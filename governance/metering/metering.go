// Package metering implements the metering queue (C15): a sub-5µs
// fire-and-forget enqueue of usage events, batched and drained to an
// external billing sink.
package metering

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a single billable usage record.
type Event struct {
	TenantID  string
	AgentID   string
	Operation string
	Quantity  float64
	At        time.Time
}

// BillingSink receives batched usage events.
type BillingSink interface {
	Record(ctx context.Context, events []Event) error
}

// Queue is C15. Structurally identical in shape to audit.Queue (bounded
// channel, drop-oldest, background batch drain) but kept as its own package
// since usage events have a distinct schema and billing sinks are a
// different external dependency than audit sinks.
type Queue struct {
	ch            chan Event
	sink          BillingSink
	batchSize     int
	flushInterval time.Duration
	dropped       int64
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// Config configures a Queue.
type Config struct {
	Sink          BillingSink
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// New constructs a Queue. QueueSize defaults to 50000, BatchSize to 200,
// FlushInterval to 500ms.
func New(cfg Config) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 50000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	return &Queue{
		ch:            make(chan Event, cfg.QueueSize),
		sink:          cfg.Sink,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stop:          make(chan struct{}),
	}
}

// Enqueue is the fire-and-forget entry point; O(1), drop-oldest on full.
func (q *Queue) Enqueue(e Event) {
	select {
	case q.ch <- e:
	default:
		select {
		case <-q.ch:
			atomic.AddInt64(&q.dropped, 1)
		default:
		}
		select {
		case q.ch <- e:
		default:
			atomic.AddInt64(&q.dropped, 1)
		}
	}
}

// Dropped returns the count of events dropped due to a full queue.
func (q *Queue) Dropped() int64 {
	return atomic.LoadInt64(&q.dropped)
}

// Start launches the background batching worker.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.flushInterval)
		defer ticker.Stop()
		batch := make([]Event, 0, q.batchSize)
		flush := func() {
			if len(batch) == 0 {
				return
			}
			_ = q.sink.Record(ctx, batch)
			batch = batch[:0]
		}
		for {
			select {
			case <-ctx.Done():
				flush()
				return
			case <-q.stop:
				flush()
				return
			case e := <-q.ch:
				batch = append(batch, e)
				if len(batch) >= q.batchSize {
					flush()
				}
			case <-ticker.C:
				flush()
			}
		}
	}()
}

// Stop halts the worker after flushing whatever is already batched.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
}
