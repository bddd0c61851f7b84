// Package impact implements the impact scorer (C3): a scalar risk score in
// [0,1] combining semantic, permission, and drift signals, with a
// timeout-bounded fallback so routing stays deterministic.
package impact

import (
	"context"
	"time"

	"github.com/R3E-Network/agentbus/governance/message"
)

// Score is the ImpactScore data model. Produced once per message; never
// mutated afterward.
type Score struct {
	MessageID  string
	Value      float64
	Semantic   float64
	Permission float64
	Drift      float64
	// ContextQuality is the fourth, configurable component resolving the
	// open question on the remaining weight budget (see DESIGN.md). It
	// defaults to weight 0 so existing deployments see no behavior change.
	ContextQuality float64
	Confidence     float64
}

// Weights configures how the component signals combine. Sum should be <= 1;
// Semantic/Permission/Drift match the spec's fixed defaults and
// ContextQuality is the reserved-for-future-factors slot.
type Weights struct {
	Semantic       float64
	Permission     float64
	Drift          float64
	ContextQuality float64
}

// DefaultWeights returns the spec's fixed defaults (0.30/0.20/0.15), with
// ContextQuality defaulted to 0 until an operator opts in.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.30, Permission: 0.20, Drift: 0.15, ContextQuality: 0}
}

// Model is the black-box semantic scorer the spec treats as score(text)->float.
// Implementations may call out to an external ML service.
type Model interface {
	Score(ctx context.Context, content map[string]interface{}) (float64, error)
}

// PermissionSignal estimates risk from the attempted action and the sender's
// role separation (e.g. an Executive attempting a Judicial-only action).
type PermissionSignal interface {
	Score(ctx context.Context, e message.Envelope) (float64, error)
}

// DriftSignal estimates risk from behavioral drift relative to the sender's
// historical baseline.
type DriftSignal interface {
	Score(ctx context.Context, e message.Envelope) (float64, error)
}

// ContextQualitySignal estimates risk from how much surrounding context a
// message carries. A message with no conversation linkage or an empty
// content payload gives a human or critic reviewer nothing to corroborate
// it against, so poor context quality scores as risk rather than safety.
type ContextQualitySignal interface {
	Score(ctx context.Context, e message.Envelope) (float64, error)
}

// Scorer implements C3's score(message) -> ImpactScore contract.
type Scorer struct {
	model          Model
	permission     PermissionSignal
	drift          DriftSignal
	contextQuality ContextQualitySignal
	weights        Weights
	timeout        time.Duration
}

// Config configures a Scorer.
type Config struct {
	Model          Model
	Permission     PermissionSignal
	Drift          DriftSignal
	ContextQuality ContextQualitySignal
	Weights        Weights
	Timeout        time.Duration
}

// New constructs a Scorer. A nil Model, Permission, Drift, or ContextQuality
// resolves that component to 0 without consulting any external signal.
func New(cfg Config) *Scorer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Scorer{
		model:          cfg.Model,
		permission:     cfg.Permission,
		drift:          cfg.Drift,
		contextQuality: cfg.ContextQuality,
		weights:        cfg.Weights,
		timeout:        cfg.Timeout,
	}
}

// fallback is returned, per spec, when scoring exceeds the configured
// timeout, so routing remains deterministic rather than blocking forever.
func (s *Scorer) fallback(messageID string) Score {
	return Score{MessageID: messageID, Value: 0.5, Confidence: 0.0}
}

// Score computes the ImpactScore for e. Idempotent for identical content
// under the same model version (callers relying on that property must keep
// Model/Permission/Drift pinned to a stable version).
func (s *Scorer) Score(ctx context.Context, e message.Envelope) Score {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		semantic, permission, drift, contextQuality float64
	}
	done := make(chan result, 1)
	go func() {
		var r result
		if s.model != nil {
			if v, err := s.model.Score(ctx, e.Content); err == nil {
				r.semantic = clamp01(v)
			}
		}
		if s.permission != nil {
			if v, err := s.permission.Score(ctx, e); err == nil {
				r.permission = clamp01(v)
			}
		}
		if s.drift != nil {
			if v, err := s.drift.Score(ctx, e); err == nil {
				r.drift = clamp01(v)
			}
		}
		if s.contextQuality != nil {
			if v, err := s.contextQuality.Score(ctx, e); err == nil {
				r.contextQuality = clamp01(v)
			}
		}
		select {
		case done <- r:
		default:
		}
	}()

	select {
	case <-ctx.Done():
		return s.fallback(e.MessageID)
	case r := <-done:
		value := s.weights.Semantic*r.semantic +
			s.weights.Permission*r.permission +
			s.weights.Drift*r.drift +
			s.weights.ContextQuality*r.contextQuality
		return Score{
			MessageID:      e.MessageID,
			Value:          clamp01(value),
			Semantic:       r.semantic,
			Permission:     r.permission,
			Drift:          r.drift,
			ContextQuality: r.contextQuality,
			Confidence:     1.0,
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
