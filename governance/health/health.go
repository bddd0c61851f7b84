// Package health implements the health aggregator (C6): a continuous fold
// of circuit breaker states into a global health score in [0,1], published
// to subscribers fire-and-forget so a slow subscriber never stalls the
// aggregator.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/agentbus/governance/breaker"
)

// Snapshot is the HealthSnapshot data model.
type Snapshot struct {
	Timestamp         time.Time
	GlobalScore       float64
	PerComponentScore map[string]float64
	OpenBreakers      []string
}

// Subscriber receives health snapshots best-effort.
type Subscriber func(Snapshot)

// componentScore maps a breaker state to the spec's weighted score:
// CLOSED=1.0, HALF_OPEN=0.5, OPEN=0.0.
func componentScore(s breaker.State) float64 {
	switch s {
	case breaker.StateClosed:
		return 1.0
	case breaker.StateHalfOpen:
		return 0.5
	default:
		return 0.0
	}
}

// Aggregator is C6. It polls the breaker registry at Interval and also
// accepts direct state-change notifications for immediate recompute.
type Aggregator struct {
	mu           sync.Mutex
	breakers     *breaker.Registry
	dependencies []string
	weights      map[string]float64
	host         HostSampler
	subscribers  []Subscriber
	last         Snapshot
	interval     time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

// Config configures an Aggregator.
type Config struct {
	Breakers     *breaker.Registry
	Dependencies []string
	// Weights optionally weights each dependency's contribution to the
	// global score; unweighted dependencies default to 1.0.
	Weights map[string]float64
	// Host, if set, contributes a "host" pseudo-dependency score sampled
	// on every recompute alongside the breaker states.
	Host     HostSampler
	Interval time.Duration
}

// New constructs an Aggregator. Interval defaults to 1s per spec.
func New(cfg Config) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Aggregator{
		breakers:     cfg.Breakers,
		dependencies: cfg.Dependencies,
		weights:      cfg.Weights,
		host:         cfg.Host,
		interval:     cfg.Interval,
		stop:         make(chan struct{}),
	}
}

// Subscribe registers a fire-and-forget subscriber for health snapshots.
func (a *Aggregator) Subscribe(sub Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers = append(a.subscribers, sub)
}

// Start begins the poll loop; call Stop to release it.
func (a *Aggregator) Start() {
	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.recompute()
			case <-a.stop:
				return
			}
		}
	}()
}

// Stop halts the poll loop. Idempotent.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// NotifyStateChange is called directly by a breaker's OnStateChange hook so
// the aggregator need not wait for the next poll tick.
func (a *Aggregator) NotifyStateChange(dependency string, from, to breaker.State) {
	a.recompute()
}

func (a *Aggregator) recompute() {
	perComponent := make(map[string]float64, len(a.dependencies))
	var openBreakers []string
	var weightedSum, weightTotal float64

	for _, dep := range a.dependencies {
		state := a.breakers.State(dep)
		score := componentScore(state)
		perComponent[dep] = score
		if state == breaker.StateOpen {
			openBreakers = append(openBreakers, dep)
		}
		weight := 1.0
		if w, ok := a.weights[dep]; ok {
			weight = w
		}
		weightedSum += score * weight
		weightTotal += weight
	}
	if a.host != nil {
		hostScore, err := a.host.Sample(context.Background())
		if err == nil {
			perComponent["host"] = hostScore
			weight := 1.0
			if w, ok := a.weights["host"]; ok {
				weight = w
			}
			weightedSum += hostScore * weight
			weightTotal += weight
		}
	}
	sort.Strings(openBreakers)

	global := 1.0
	if weightTotal > 0 {
		global = weightedSum / weightTotal
	}

	snap := Snapshot{
		Timestamp:         time.Now(),
		GlobalScore:       global,
		PerComponentScore: perComponent,
		OpenBreakers:      openBreakers,
	}

	a.mu.Lock()
	changed := snap.GlobalScore != a.last.GlobalScore || len(snap.OpenBreakers) != len(a.last.OpenBreakers)
	a.last = snap
	subs := append([]Subscriber(nil), a.subscribers...)
	a.mu.Unlock()

	if !changed {
		return
	}
	for _, sub := range subs {
		go func(s Subscriber) {
			defer func() { recover() }()
			s(snap)
		}(sub)
	}
}

// Last returns the most recently computed snapshot without blocking the
// aggregator (a last-value cell read).
func (a *Aggregator) Last() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
