// Package processor implements the message processor (C12): the per-message
// pipeline orchestrating the constitutional validator, role registry, policy
// client, impact scorer, adaptive router, dispatch, and fire-and-forget
// audit emission, in strict order with cooperative cancellation.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/agentbus/governance/audit"
	"github.com/R3E-Network/agentbus/governance/bus"
	"github.com/R3E-Network/agentbus/governance/chaos"
	"github.com/R3E-Network/agentbus/governance/deliberation"
	"github.com/R3E-Network/agentbus/governance/impact"
	"github.com/R3E-Network/agentbus/governance/message"
	"github.com/R3E-Network/agentbus/governance/policy"
	"github.com/R3E-Network/agentbus/governance/roles"
	gvrouter "github.com/R3E-Network/agentbus/governance/router"

	governanceerrors "github.com/R3E-Network/agentbus/infrastructure/errors"
)

// Outcome is the processor's terminal result for a single message.
type Outcome string

const (
	OutcomeDelivered             Outcome = "delivered"
	OutcomeQueuedForDeliberation Outcome = "queued_for_deliberation"
	OutcomeRejected              Outcome = "rejected"
)

// Result is returned by Process.
type Result struct {
	Outcome Outcome
	Reason  error
	ItemID  string // set when Outcome == OutcomeQueuedForDeliberation
}

// Processor is C12.
type Processor struct {
	validator *message.Validator
	roles     *roles.Registry
	policy    *policy.Client
	scorer    *impact.Scorer
	router    *gvrouter.Router
	bus       *bus.Bus
	queue     *deliberation.Queue
	auditQ    *audit.Queue
	injector  *chaos.Injector

	pairGates sync.Map // pairKey -> *sync.Mutex, serializes per (from,to) ordering
}

// Config wires every stage's collaborator.
type Config struct {
	Validator *message.Validator
	Roles     *roles.Registry
	Policy    *policy.Client
	Scorer    *impact.Scorer
	Router    *gvrouter.Router
	Bus       *bus.Bus
	Queue     *deliberation.Queue
	AuditQ    *audit.Queue
	Injector  *chaos.Injector
}

// New constructs a Processor.
func New(cfg Config) *Processor {
	return &Processor{
		validator: cfg.Validator,
		roles:     cfg.Roles,
		policy:    cfg.Policy,
		scorer:    cfg.Scorer,
		router:    cfg.Router,
		bus:       cfg.Bus,
		queue:     cfg.Queue,
		auditQ:    cfg.AuditQ,
		injector:  cfg.Injector,
	}
}

func (p *Processor) pairGate(from, to string) *sync.Mutex {
	key := from + "\x00" + to
	v, _ := p.pairGates.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Process runs e through the full pipeline. Per (from_agent, to_agent),
// messages are delivered in the order they were accepted here; across pairs,
// ordering is not guaranteed.
func (p *Processor) Process(ctx context.Context, e message.Envelope) Result {
	gate := p.pairGate(e.FromAgent, e.ToAgent)
	gate.Lock()
	defer gate.Unlock()

	if err := ctx.Err(); err != nil {
		return p.reject(e, governanceerrors.Cancelled())
	}

	// Stage 1: constitutional check (C1).
	if err := p.validator.Validate(e); err != nil {
		return p.reject(e, err)
	}

	// Stage 2: role check (C2).
	action := roles.ActionForMessage(string(e.MessageType), e.Action())
	if action != "" && !p.roles.Authorize(e.FromAgent, action) {
		role, _ := p.roles.RoleOf(e.FromAgent)
		return p.reject(e, governanceerrors.RoleViolation(e.FromAgent, string(role), string(action)))
	}

	if p.injector != nil && p.injector.ShouldInject(chaos.Point("policy.evaluate")) {
		return p.reject(e, governanceerrors.PolicyUnavailable(errChaosInjected))
	}

	// Stage 3: policy evaluation (C4, breaker-guarded internally).
	decision, err := p.policy.Evaluate(ctx, "governance/message", e.Content)
	if err != nil {
		return p.reject(e, governanceerrors.PolicyUnavailable(err))
	}
	if decision.Decision == policy.DecisionDeny {
		return p.rejectWithAudit(e, governanceerrors.PolicyDenied(decision.Violations), decision, impact.Score{})
	}

	select {
	case <-ctx.Done():
		return p.reject(e, governanceerrors.Cancelled())
	default:
	}

	// Stage 4: impact scoring (C3).
	score := p.scorer.Score(ctx, e)

	// Stage 5: routing (C11).
	lane := p.router.Route(e, score.Value)

	// Stage 6: dispatch.
	var result Result
	if lane == gvrouter.LaneFast {
		result = p.dispatchFast(ctx, e)
	} else {
		result = p.dispatchDeliberation(ctx, e, score)
	}

	// Stage 7: audit emission, fire-and-forget; never blocks the caller.
	p.emitAudit(e, decision, score, lane, result)
	return result
}

func (p *Processor) dispatchFast(ctx context.Context, e message.Envelope) Result {
	if err := p.bus.Send(ctx, e); err != nil {
		return Result{Outcome: OutcomeRejected, Reason: err}
	}
	return Result{Outcome: OutcomeDelivered}
}

// RunOutcomes drains the deliberation queue's terminal-state notifications
// until ctx is done: an approved item is delivered over the bus, and every
// approved, rejected, or timed-out item gets a final audit entry carrying
// its vote tally. Run it in its own goroutine (cmd/agentbusd wires it as an
// applications/system.Service alongside the audit and metering queues).
func (p *Processor) RunOutcomes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue.Outcomes():
			if !ok {
				return
			}
			p.resolveOutcome(ctx, item)
		}
	}
}

func (p *Processor) resolveOutcome(ctx context.Context, item *deliberation.Item) {
	var outcome Outcome
	switch item.State {
	case deliberation.StateApproved:
		outcome = OutcomeDelivered
		if err := p.bus.Send(ctx, item.Envelope); err != nil {
			outcome = OutcomeRejected
		}
	case deliberation.StateRejected, deliberation.StateTimeout:
		outcome = OutcomeRejected
	default:
		return
	}

	if p.auditQ == nil {
		return
	}
	p.auditQ.Enqueue(audit.Entry{
		MessageID:          item.MessageID,
		Decision:           string(outcome),
		Score:              item.ImpactScore,
		RoutingLane:        audit.RoutingLane(gvrouter.LaneDeliberation),
		VotesDigest:        item.VotesDigest(),
		ConstitutionalHash: item.Envelope.ConstitutionalHash,
		AnchoredAt:         time.Now(),
	})
}

func (p *Processor) dispatchDeliberation(ctx context.Context, e message.Envelope, score impact.Score) Result {
	tier := deliberation.TierFor(score.Value, requiredVotesFor(score.Value))
	item := &deliberation.Item{
		ItemID:      e.MessageID,
		MessageID:   e.MessageID,
		Envelope:    e,
		ImpactScore: score.Value,
	}
	if err := p.queue.Enqueue(ctx, item, tier, time.Now()); err != nil {
		return Result{Outcome: OutcomeRejected, Reason: err}
	}
	return Result{Outcome: OutcomeQueuedForDeliberation, ItemID: item.ItemID}
}

// requiredVotesFor returns the critic-vote quorum for a multi-vote-tier
// item. Kept here (rather than in the deliberation package) since it's a
// processor-level policy knob, not part of the queue's own invariants.
func requiredVotesFor(score float64) int {
	if score >= 0.95 {
		return 2
	}
	return 0
}

func (p *Processor) reject(e message.Envelope, reason error) Result {
	result := Result{Outcome: OutcomeRejected, Reason: reason}
	p.emitAudit(e, policy.Result{}, impact.Score{}, gvrouter.LaneFast, result)
	return result
}

func (p *Processor) rejectWithAudit(e message.Envelope, reason error, decision policy.Result, score impact.Score) Result {
	result := Result{Outcome: OutcomeRejected, Reason: reason}
	p.emitAudit(e, decision, score, gvrouter.LaneFast, result)
	return result
}

func (p *Processor) emitAudit(e message.Envelope, decision policy.Result, score impact.Score, lane gvrouter.Lane, result Result) {
	if p.auditQ == nil {
		return
	}
	entry := audit.Entry{
		MessageID:          e.MessageID,
		Decision:           string(result.Outcome),
		PolicyFingerprint:  decision.InputFingerprint,
		Score:              score.Value,
		RoutingLane:        audit.RoutingLane(lane),
		ConstitutionalHash: e.ConstitutionalHash,
		AnchoredAt:         time.Now(),
	}
	p.auditQ.Enqueue(entry)
}

type processorError string

func (e processorError) Error() string { return string(e) }

const errChaosInjected = processorError("chaos: injected policy.evaluate fault")
