// Package deliberation implements the deliberation queue (C8): a durable,
// priority-preempted, tier-FIFO queue of items awaiting human and/or
// multi-agent review.
package deliberation

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/agentbus/governance/message"
	"github.com/R3E-Network/agentbus/infrastructure/state"
)

// ItemState is the DeliberationItem lifecycle, monotone along
// pending -> in_review -> {approved|rejected|timeout}.
type ItemState string

const (
	StatePending  ItemState = "pending"
	StateInReview ItemState = "in_review"
	StateApproved ItemState = "approved"
	StateRejected ItemState = "rejected"
	StateTimeout  ItemState = "timeout"
)

var monotone = map[ItemState][]ItemState{
	StatePending:  {StateInReview, StateApproved, StateRejected, StateTimeout},
	StateInReview: {StateApproved, StateRejected, StateTimeout},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to ItemState) bool {
	for _, allowed := range monotone[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Vote is a single critic agent's cast vote on an item.
type Vote struct {
	AgentID   string `json:"agent_id"`
	Approve   bool   `json:"approve"`
	Signature string `json:"signature"`
}

// HumanReview is a single reviewer's HITL decision.
type HumanReview struct {
	ReviewerID string    `json:"reviewer_id"`
	Approve    bool      `json:"approve"`
	At         time.Time `json:"at"`
}

// Tier classifies the score band driving HITL/vote requirements and
// deadline, per the spec's table in §4.8.
type Tier struct {
	Name            string
	RequiresHITL    bool
	RequiresVote    bool
	RequiredVotes   int
	DefaultDeadline time.Duration
}

// TierFor resolves the score band a message falls into. Boundaries are
// lower-closed on the deliberation side: exactly 0.80 routes to
// deliberation; exactly 0.90 requires HITL; exactly 0.95 requires vote.
func TierFor(score float64, requiredVotes int) Tier {
	switch {
	case score >= 0.95:
		return Tier{Name: "multi_vote", RequiresHITL: true, RequiresVote: true, RequiredVotes: requiredVotes, DefaultDeadline: 600 * time.Second}
	case score >= 0.90:
		return Tier{Name: "hitl", RequiresHITL: true, RequiresVote: false, DefaultDeadline: 300 * time.Second}
	case score >= 0.80:
		return Tier{Name: "deliberation", RequiresHITL: false, RequiresVote: false, DefaultDeadline: 300 * time.Second}
	default:
		return Tier{Name: "fast", DefaultDeadline: 30 * time.Second}
	}
}

// Item is the DeliberationItem data model.
type Item struct {
	ItemID        string           `json:"item_id"`
	MessageID     string           `json:"message_id"`
	Envelope      message.Envelope `json:"envelope"`
	ImpactScore   float64          `json:"impact_score"`
	RequiredVotes int              `json:"required_votes"`
	ReceivedVotes map[string]Vote  `json:"received_votes"`
	HumanReviews  []HumanReview    `json:"human_reviews"`
	State         ItemState        `json:"state"`
	Deadline      time.Time        `json:"deadline"`
	EnqueuedAt    time.Time        `json:"enqueued_at"`
	sequence      uint64
}

// RequiresVote reports whether item needs a multi-agent vote tally before
// HITL approval alone can close it (the >= 0.95 tier).
func (item *Item) RequiresVote() bool {
	return item.RequiredVotes > 0
}

// VotesDigest returns a stable SHA-256 hex digest over item's cast votes, for
// the audit trail (audit.Entry.VotesDigest): an observer can recompute it
// from a voting log and confirm it matches what was anchored without storing
// every vote twice.
func (item *Item) VotesDigest() string {
	ids := make([]string, 0, len(item.ReceivedVotes))
	for agentID := range item.ReceivedVotes {
		ids = append(ids, agentID)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		v := item.ReceivedVotes[id]
		b.WriteString(v.AgentID)
		b.WriteByte('\x00')
		if v.Approve {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
		b.WriteByte('\x00')
		b.WriteString(v.Signature)
		b.WriteByte('\x1e')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// terminal reports whether s is a terminal deliberation outcome.
func terminal(s ItemState) bool {
	return s == StateApproved || s == StateRejected || s == StateTimeout
}

// itemHeap orders items by priority tier (CRITICAL first), then FIFO
// sequence within a tier.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	pi, pj := h[i].Envelope.Priority, h[j].Envelope.Priority
	if pi != pj {
		return pi < pj
	}
	return h[i].sequence < h[j].sequence
}
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*Item)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is C8. Items are persisted through a PersistentState backend so the
// queue survives a restart; format is opaque JSON with schema versioning.
type Queue struct {
	mu       sync.Mutex
	heap     itemHeap
	byID     map[string]*Item
	sequence uint64
	store    *state.PersistentState
	outcomes chan *Item
}

// outcomeBuffer sizes the Outcomes channel. Generous enough that a consumer
// lagging by a burst of approvals doesn't lose notifications. A notification
// dropped on a full channel is not re-sent, so that item is not delivered or
// audited by the outcome consumer; the item's own state is still persisted.
const outcomeBuffer = 256

const schemaVersion = 1

// persistedItem wraps an Item with a schema version for forward/backward
// compatible decoding.
type persistedItem struct {
	SchemaVersion int  `json:"schema_version"`
	Item          Item `json:"item"`
}

// New constructs a Queue backed by store. store may be nil for a
// non-durable, in-memory-only queue (e.g. tests).
func New(store *state.PersistentState) *Queue {
	q := &Queue{
		byID:     make(map[string]*Item),
		store:    store,
		outcomes: make(chan *Item, outcomeBuffer),
	}
	heap.Init(&q.heap)
	return q
}

// Outcomes returns the channel of items that have reached a terminal state
// (approved, rejected, or timeout). A single consumer (governance/processor's
// outcome dispatcher) drains it to deliver approved items over the bus and
// anchor the final audit entry.
func (q *Queue) Outcomes() <-chan *Item {
	return q.outcomes
}

// notifyOutcome is a non-blocking, best-effort send: a full or absent
// consumer must never stall Transition or ExpireOverdue.
func (q *Queue) notifyOutcome(item *Item) {
	select {
	case q.outcomes <- item:
	default:
	}
}

// Enqueue inserts a new pending item. now is used for the enqueue timestamp
// and to compute the per-tier deadline.
func (q *Queue) Enqueue(ctx context.Context, item *Item, tier Tier, now time.Time) error {
	q.mu.Lock()
	q.sequence++
	item.sequence = q.sequence
	item.State = StatePending
	item.EnqueuedAt = now
	item.Deadline = now.Add(tier.DefaultDeadline)
	if item.ReceivedVotes == nil {
		item.ReceivedVotes = make(map[string]Vote)
	}
	item.RequiredVotes = tier.RequiredVotes
	heap.Push(&q.heap, item)
	q.byID[item.ItemID] = item
	q.mu.Unlock()

	return q.persist(ctx, item)
}

func (q *Queue) persist(ctx context.Context, item *Item) error {
	if q.store == nil {
		return nil
	}
	data, err := json.Marshal(persistedItem{SchemaVersion: schemaVersion, Item: *item})
	if err != nil {
		return err
	}
	return q.store.Save(ctx, item.ItemID, data)
}

// Dequeue pops the highest-priority, earliest-enqueued item. Transition does
// not remove items from the heap, so the popped item may already be closed.
func (q *Queue) Dequeue() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&q.heap).(*Item)
	return item, true
}

// Get returns the item by id, whether or not it's still queued.
func (q *Queue) Get(itemID string) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[itemID]
	return item, ok
}

// MutateItem runs fn against itemID's item under the queue's lock and
// persists the result if fn reports a change. Get returns a shared *Item
// with no lock of its own, so voting.Service.Vote and hitl.Manager.Callback
// — which both read-then-write ReceivedVotes/HumanReviews from outside this
// package — must go through MutateItem rather than mutate a Get result
// directly, or two concurrent votes/callbacks on the same item race.
func (q *Queue) MutateItem(ctx context.Context, itemID string, fn func(item *Item) (changed bool, err error)) error {
	q.mu.Lock()
	item, ok := q.byID[itemID]
	if !ok {
		q.mu.Unlock()
		return errNotFound
	}
	changed, err := fn(item)
	q.mu.Unlock()
	if err != nil || !changed {
		return err
	}
	return q.persist(ctx, item)
}

// Transition moves item to a new state if the transition is monotone.
func (q *Queue) Transition(ctx context.Context, itemID string, to ItemState) error {
	q.mu.Lock()
	item, ok := q.byID[itemID]
	if !ok {
		q.mu.Unlock()
		return errNotFound
	}
	if !CanTransition(item.State, to) {
		q.mu.Unlock()
		return errInvalidTransition
	}
	item.State = to
	q.mu.Unlock()
	if err := q.persist(ctx, item); err != nil {
		return err
	}
	if terminal(to) {
		q.notifyOutcome(item)
	}
	return nil
}

// ExpireOverdue transitions any pending/in_review item past its deadline to
// timeout, per the spec's "timeout strictly less than the deadline" rule.
func (q *Queue) ExpireOverdue(ctx context.Context, now time.Time) []*Item {
	q.mu.Lock()
	var expired []*Item
	for _, item := range q.byID {
		if (item.State == StatePending || item.State == StateInReview) && now.After(item.Deadline) {
			item.State = StateTimeout
			expired = append(expired, item)
		}
	}
	q.mu.Unlock()
	for _, item := range expired {
		_ = q.persist(ctx, item)
		q.notifyOutcome(item)
	}
	return expired
}

type queueError string

func (e queueError) Error() string { return string(e) }

const (
	errNotFound          = queueError("deliberation item not found")
	errInvalidTransition = queueError("invalid deliberation item state transition")
)
