// Package bus implements the agent bus (C13): agent registration and
// lifecycle, send/broadcast with per-agent backpressure, topic fan-out, and
// a graceful, deadline-bound shutdown drain.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/agentbus/governance/message"
	"github.com/R3E-Network/agentbus/infrastructure/ratelimit"

	governanceerrors "github.com/R3E-Network/agentbus/infrastructure/errors"
)

// inbox is a single agent's bounded, ordered mailbox.
type inbox struct {
	ch       chan message.Envelope
	limiter  *ratelimit.RateLimiter
	draining bool
}

// Bus is C13.
type Bus struct {
	mu         sync.RWMutex
	inboxes    map[string]*inbox
	topics     map[string]map[string]bool // topic -> subscriber agent ids
	deadLetter []message.Envelope
	inboxCap   int
	rateCfg    ratelimit.RateLimitConfig
}

// Config configures a Bus.
type Config struct {
	InboxCapacity int
	RateLimit     ratelimit.RateLimitConfig
}

// New constructs a Bus.
func New(cfg Config) *Bus {
	if cfg.InboxCapacity <= 0 {
		cfg.InboxCapacity = 100
	}
	return &Bus{
		inboxes:  make(map[string]*inbox),
		topics:   make(map[string]map[string]bool),
		inboxCap: cfg.InboxCapacity,
		rateCfg:  cfg.RateLimit,
	}
}

// Register adds an agent to the bus with its own bounded inbox.
func (b *Bus) Register(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[agentID]; ok {
		return
	}
	b.inboxes[agentID] = &inbox{
		ch:      make(chan message.Envelope, b.inboxCap),
		limiter: ratelimit.New(b.rateCfg),
	}
}

// Agents lists currently registered agent ids.
func (b *Bus) Agents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.inboxes))
	for id := range b.inboxes {
		out = append(out, id)
	}
	return out
}

// Subscribe registers agentID as a subscriber of topic for Broadcast.
func (b *Bus) Subscribe(agentID, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]bool)
		b.topics[topic] = subs
	}
	subs[agentID] = true
}

// Send delivers e to e.ToAgent's inbox. Returns Backpressure without
// dropping already-accepted messages when the inbox is full.
func (b *Bus) Send(ctx context.Context, e message.Envelope) error {
	b.mu.RLock()
	box, ok := b.inboxes[e.ToAgent]
	b.mu.RUnlock()
	if !ok {
		return governanceerrors.MessageMalformed("to_agent is not registered on the bus")
	}
	if box.limiter != nil && !box.limiter.Allow() {
		return governanceerrors.RateLimitExceeded(0, "agent")
	}
	select {
	case box.ch <- e:
		return nil
	default:
		return governanceerrors.Backpressure(e.ToAgent)
	}
}

// Broadcast delivers one copy of e per subscriber of topic.
func (b *Bus) Broadcast(ctx context.Context, topic string, e message.Envelope) (delivered int, backpressured []string) {
	b.mu.RLock()
	subs := make([]string, 0, len(b.topics[topic]))
	for id := range b.topics[topic] {
		subs = append(subs, id)
	}
	b.mu.RUnlock()

	for _, id := range subs {
		copyEnv := e
		copyEnv.ToAgent = id
		if err := b.Send(ctx, copyEnv); err != nil {
			backpressured = append(backpressured, id)
			continue
		}
		delivered++
	}
	return delivered, backpressured
}

// Receive pops the next message for agentID, blocking until one arrives, the
// inbox is closed, or ctx is done.
func (b *Bus) Receive(ctx context.Context, agentID string) (message.Envelope, bool) {
	b.mu.RLock()
	box, ok := b.inboxes[agentID]
	b.mu.RUnlock()
	if !ok {
		return message.Envelope{}, false
	}
	select {
	case e, ok := <-box.ch:
		return e, ok
	case <-ctx.Done():
		return message.Envelope{}, false
	}
}

// Shutdown drains every inbox within deadline; anything still queued when the
// deadline elapses is moved to the dead letter.
func (b *Bus) Shutdown(ctx context.Context, deadline time.Duration) {
	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	b.mu.Lock()
	for _, box := range b.inboxes {
		box.draining = true
	}
	boxes := make([]*inbox, 0, len(b.inboxes))
	for _, box := range b.inboxes {
		boxes = append(boxes, box)
	}
	b.mu.Unlock()

	<-deadlineCtx.Done()
	b.mu.Lock()
	for _, box := range boxes {
		for {
			select {
			case e := <-box.ch:
				b.deadLetter = append(b.deadLetter, e)
			default:
				goto drained
			}
		}
	drained:
	}
	b.mu.Unlock()
}

// DeadLetter returns messages that could not be drained before shutdown's
// deadline.
func (b *Bus) DeadLetter() []message.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]message.Envelope, len(b.deadLetter))
	copy(out, b.deadLetter)
	return out
}
