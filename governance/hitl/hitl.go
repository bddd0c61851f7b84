// Package hitl implements the human-in-the-loop manager (C10): publishing a
// pending deliberation item to an external notifier and accepting
// idempotent approval callbacks.
package hitl

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/agentbus/governance/deliberation"
)

// Notifier delivers a pending item to an external reviewer. Delivery is
// at-least-once; Manager dedupes the resulting callbacks.
type Notifier interface {
	Notify(ctx context.Context, item *deliberation.Item) error
}

// Manager is C10.
type Manager struct {
	queue    *deliberation.Queue
	notifier Notifier

	mu       sync.Mutex
	reviewed map[string]map[string]bool // item_id -> reviewer_id -> seen
}

// New constructs a Manager.
func New(queue *deliberation.Queue, notifier Notifier) *Manager {
	return &Manager{
		queue:    queue,
		notifier: notifier,
		reviewed: make(map[string]map[string]bool),
	}
}

// Publish delivers item to the notifier and moves it to in_review.
func (m *Manager) Publish(ctx context.Context, item *deliberation.Item) error {
	if err := m.queue.Transition(ctx, item.ItemID, deliberation.StateInReview); err != nil {
		return err
	}
	return m.notifier.Notify(ctx, item)
}

// Callback records a reviewer's decision. Idempotent: a repeated callback
// for the same (item_id, reviewer_id) pair is a no-op after the first.
func (m *Manager) Callback(ctx context.Context, itemID, reviewerID string, approve bool) error {
	m.mu.Lock()
	seen, ok := m.reviewed[itemID]
	if !ok {
		seen = make(map[string]bool)
		m.reviewed[itemID] = seen
	}
	if seen[reviewerID] {
		m.mu.Unlock()
		return nil
	}
	seen[reviewerID] = true
	m.mu.Unlock()

	var resolve deliberation.ItemState
	err := m.queue.MutateItem(ctx, itemID, func(item *deliberation.Item) (bool, error) {
		item.HumanReviews = append(item.HumanReviews, deliberation.HumanReview{
			ReviewerID: reviewerID,
			Approve:    approve,
			At:         time.Now(),
		})
		if !item.RequiresVote() {
			if approve {
				resolve = deliberation.StateApproved
			} else {
				resolve = deliberation.StateRejected
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if resolve != "" {
		return m.queue.Transition(ctx, itemID, resolve)
	}
	return nil
}
