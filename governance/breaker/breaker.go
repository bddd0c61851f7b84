// Package breaker implements the per-dependency circuit breaker (C5): a
// three-state FSM (CLOSED/OPEN/HALF_OPEN) with exponential backoff cooldown,
// one registry entry per protected dependency.
//
// The spec's cooldown-doubling-on-repeated-failure behavior needs a state
// shape (opened_at, cooldown_end, trial_permits) that a fixed-timeout
// breaker can't express, so this FSM is hand-rolled rather than delegated to
// infrastructure/resilience's gobreaker-backed breaker (which the policy
// client (C4) still uses for its own fixed-timeout upstream protection).
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	governanceerrors "github.com/R3E-Network/agentbus/infrastructure/errors"
)

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrOpen is returned by Call when the breaker fails fast.
var ErrOpen = errors.New("breaker open")

// Config tunes a single breaker's transition thresholds.
type Config struct {
	// FailureThreshold is N: consecutive failures before CLOSED -> OPEN.
	FailureThreshold int
	// SuccessThreshold is M: consecutive half-open successes before HALF_OPEN -> CLOSED.
	SuccessThreshold int
	// BaseCooldown is the initial OPEN cooldown duration.
	BaseCooldown time.Duration
	// MaxCooldown caps exponential cooldown growth.
	MaxCooldown   time.Duration
	OnStateChange func(dependency string, from, to State)
}

// DefaultConfig matches the spec's stated defaults: N=5, M=2, base 1s, cap 30s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		BaseCooldown:     time.Second,
		MaxCooldown:      30 * time.Second,
	}
}

// Snapshot is the CircuitBreakerState data model.
type Snapshot struct {
	Dependency          string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	CooldownEnd         time.Time
	TrialPermits        int
}

type breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	openedAt            time.Time
	cooldown            time.Duration
	cooldownEnd         time.Time
	trialGranted        bool
}

// Registry holds one breaker per dependency name, created lazily on first
// use. State transitions are serialized per-breaker, not globally.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*breaker
}

// NewRegistry constructs a Registry. Zero-value Config fields fall back to
// DefaultConfig.
func NewRegistry(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.BaseCooldown <= 0 {
		cfg.BaseCooldown = def.BaseCooldown
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = def.MaxCooldown
	}
	return &Registry{cfg: cfg, breakers: make(map[string]*breaker)}
}

func (r *Registry) get(dependency string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[dependency]
	if !ok {
		b = &breaker{state: StateClosed, cooldown: r.cfg.BaseCooldown}
		r.breakers[dependency] = b
	}
	return b
}

// State returns the current state for a dependency (CLOSED if never seen).
func (r *Registry) State(dependency string) State {
	b := r.get(dependency)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the full CircuitBreakerState for a dependency.
func (r *Registry) Snapshot(dependency string) Snapshot {
	b := r.get(dependency)
	b.mu.Lock()
	defer b.mu.Unlock()
	permits := 0
	if b.state == StateHalfOpen && b.trialGranted {
		permits = 1
	}
	return Snapshot{
		Dependency:          dependency,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		CooldownEnd:         b.cooldownEnd,
		TrialPermits:        permits,
	}
}

// Call executes op through the breaker for dependency. It fails fast with
// ErrOpen (mapped by callers to PolicyUnavailable at C4) without issuing op
// when OPEN and no trial is due; per spec, OPEN implies no upstream calls.
func (r *Registry) Call(ctx context.Context, dependency string, op func(ctx context.Context) error) error {
	b := r.get(dependency)

	if !b.admit(r.cfg) {
		return ErrOpen
	}

	err := op(ctx)
	b.settle(r.cfg, dependency, err == nil, r.cfg.OnStateChange)
	return err
}

// admit decides whether a call may proceed, transitioning OPEN -> HALF_OPEN
// exactly once per cooldown expiry (a single trial permit, not a thundering
// herd of concurrent trials).
func (b *breaker) admit(cfg Config) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Now().Before(b.cooldownEnd) {
			return false
		}
		b.state = StateHalfOpen
		b.trialGranted = false // this caller consumes the single trial permit
		b.halfOpenSuccesses = 0
		return true
	case StateHalfOpen:
		if b.trialGranted {
			b.trialGranted = false
			return true
		}
		return false
	default:
		return true
	}
}

func (b *breaker) settle(cfg Config, dependency string, success bool, onChange func(string, State, State)) {
	b.mu.Lock()
	from := b.state
	var to State

	if success {
		switch b.state {
		case StateHalfOpen:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= cfg.SuccessThreshold {
				b.state = StateClosed
				b.consecutiveFailures = 0
				b.cooldown = cfg.BaseCooldown
			} else {
				b.trialGranted = true
			}
		case StateClosed:
			b.consecutiveFailures = 0
		}
	} else {
		b.consecutiveFailures++
		switch b.state {
		case StateHalfOpen:
			b.state = StateOpen
			b.openedAt = time.Now()
			b.cooldown = doubleCapped(b.cooldown, cfg.MaxCooldown)
			b.cooldownEnd = b.openedAt.Add(b.cooldown)
			b.trialGranted = false
		case StateClosed:
			if b.consecutiveFailures >= cfg.FailureThreshold {
				b.state = StateOpen
				b.openedAt = time.Now()
				b.cooldown = cfg.BaseCooldown
				b.cooldownEnd = b.openedAt.Add(b.cooldown)
			}
		}
	}
	to = b.state
	b.mu.Unlock()

	if from != to && onChange != nil {
		go onChange(dependency, from, to)
	}
}

func doubleCapped(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// AsPolicyUnavailable maps ErrOpen to the governance PolicyUnavailable error
// kind, the contract C4 relies on when a breaker trips.
func AsPolicyUnavailable(dependency string, err error) error {
	if errors.Is(err, ErrOpen) {
		return governanceerrors.PolicyUnavailable(err)
	}
	return err
}
