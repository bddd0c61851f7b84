// Package audit implements the audit sink (C14): a fire-and-forget, bounded,
// drop-oldest queue flushed to one or more external backends through
// circuit-breaker-protected writes.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/agentbus/governance/breaker"
)

// RoutingLane records which lane (fast/deliberation) an audited message
// took, as a plain string to avoid an import cycle with governance/router.
type RoutingLane string

// Entry is the AuditEntry data model.
type Entry struct {
	MessageID          string
	Decision           string
	PolicyFingerprint  string
	Score              float64
	RoutingLane        RoutingLane
	VotesDigest        string
	ConstitutionalHash string
	AnchoredAt         time.Time
}

// Sink is the external audit backend interface (§6): anchor(entry) -> ack|error.
type Sink interface {
	Name() string
	Anchor(ctx context.Context, entry Entry) error
}

// Queue is C14. Enqueue is non-blocking and O(1); a background worker
// batches and offers each entry to every configured Sink, best-effort, each
// write through its own breaker. Acknowledgements are not acted on: an entry
// that no sink acknowledged is not retried, and AllSinksRequired does not
// change this.
type Queue struct {
	ch               chan Entry
	sinks            []Sink
	breakers         *breaker.Registry
	allSinksRequired bool
	batchSize        int
	flushInterval    time.Duration
	dropped          int64
	stop             chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
}

// Config configures a Queue.
type Config struct {
	Sinks            []Sink
	Breakers         *breaker.Registry
	QueueSize        int
	BatchSize        int
	FlushInterval    time.Duration
	AllSinksRequired bool
}

// New constructs a Queue. QueueSize defaults to 10000, BatchSize to 50,
// FlushInterval to 100ms.
func New(cfg Config) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.Breakers == nil {
		cfg.Breakers = breaker.NewRegistry(breaker.DefaultConfig())
	}
	return &Queue{
		ch:               make(chan Entry, cfg.QueueSize),
		sinks:            cfg.Sinks,
		breakers:         cfg.Breakers,
		allSinksRequired: cfg.AllSinksRequired,
		batchSize:        cfg.BatchSize,
		flushInterval:    cfg.FlushInterval,
		stop:             make(chan struct{}),
	}
}

// Enqueue is the fire-and-forget entry point. On a full channel, it drops
// the oldest queued entry to make room (drop-oldest policy) rather than
// blocking the caller.
func (q *Queue) Enqueue(entry Entry) {
	select {
	case q.ch <- entry:
	default:
		select {
		case <-q.ch:
			atomic.AddInt64(&q.dropped, 1)
		default:
		}
		select {
		case q.ch <- entry:
		default:
			atomic.AddInt64(&q.dropped, 1)
		}
	}
}

// Dropped returns the count of entries dropped due to a full queue. The
// health aggregator does not read or report this count.
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
		batch := make([]Entry, 0, q.batchSize)
		flush := func() {
			if len(batch) == 0 {
				return
			}
			q.flush(ctx, batch)
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

func (q *Queue) flush(ctx context.Context, batch []Entry) {
	for _, entry := range batch {
		q.anchor(ctx, entry)
	}
}

func (q *Queue) anchor(ctx context.Context, entry Entry) {
	acked := 0
	for _, sink := range q.sinks {
		err := q.breakers.Call(ctx, "audit."+sink.Name(), func(ctx context.Context) error {
			return sink.Anchor(ctx, entry)
		})
		if err == nil {
			acked++
		}
	}
	_ = acked
}

// Stop halts the worker after flushing whatever is already batched.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
}
