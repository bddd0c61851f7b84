package hitl_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentbus/governance/deliberation"
	"github.com/R3E-Network/agentbus/governance/hitl"
)

type recordingNotifier struct {
	calls atomic.Int32
}

func (n *recordingNotifier) Notify(ctx context.Context, item *deliberation.Item) error {
	n.calls.Add(1)
	return nil
}

func newPendingItem(t *testing.T, q *deliberation.Queue, requiredVotes int) string {
	t.Helper()
	item := &deliberation.Item{ItemID: "item-1"}
	score := 0.90 // hitl tier
	if requiredVotes > 0 {
		score = 0.95 // multi-vote tier, the only tier that carries RequiredVotes
	}
	require.NoError(t, q.Enqueue(context.Background(), item, deliberation.TierFor(score, requiredVotes), time.Now()))
	return item.ItemID
}

func TestManager_PublishMovesItemToInReview(t *testing.T) {
	q := deliberation.New(nil)
	itemID := newPendingItem(t, q, 0)
	notifier := &recordingNotifier{}
	m := hitl.New(q, notifier)

	item, _ := q.Get(itemID)
	require.NoError(t, m.Publish(context.Background(), item))

	got, _ := q.Get(itemID)
	assert.Equal(t, deliberation.StateInReview, got.State)
	assert.EqualValues(t, 1, notifier.calls.Load())
}

func TestManager_CallbackApprovesSingleHITLItem(t *testing.T) {
	q := deliberation.New(nil)
	itemID := newPendingItem(t, q, 0)
	m := hitl.New(q, &recordingNotifier{})
	item, _ := q.Get(itemID)
	require.NoError(t, m.Publish(context.Background(), item))

	require.NoError(t, m.Callback(context.Background(), itemID, "reviewer-1", true))

	got, _ := q.Get(itemID)
	assert.Equal(t, deliberation.StateApproved, got.State)
}

func TestManager_CallbackOnVoteTierDoesNotCloseAlone(t *testing.T) {
	q := deliberation.New(nil)
	itemID := newPendingItem(t, q, 2)
	m := hitl.New(q, &recordingNotifier{})
	item, _ := q.Get(itemID)
	require.NoError(t, m.Publish(context.Background(), item))

	require.NoError(t, m.Callback(context.Background(), itemID, "reviewer-1", true))

	got, _ := q.Get(itemID)
	assert.Equal(t, deliberation.StateInReview, got.State, "multi-vote tier items need the vote tally, not HITL alone, to close")
}

func TestManager_CallbackIsIdempotentPerReviewer(t *testing.T) {
	q := deliberation.New(nil)
	itemID := newPendingItem(t, q, 0)
	m := hitl.New(q, &recordingNotifier{})
	item, _ := q.Get(itemID)
	require.NoError(t, m.Publish(context.Background(), item))

	require.NoError(t, m.Callback(context.Background(), itemID, "reviewer-1", true))
	require.NoError(t, m.Callback(context.Background(), itemID, "reviewer-1", false))

	got, _ := q.Get(itemID)
	assert.Equal(t, deliberation.StateApproved, got.State, "second callback from the same reviewer must be a no-op")
	assert.Len(t, got.HumanReviews, 1)
}

// TestManager_ConcurrentCallbacksDoNotRace has many reviewers call back on
// the same vote-tier item concurrently. Run with -race: HumanReviews is a
// plain slice, so an append recorded outside Queue.MutateItem's lock would
// be a data race.
func TestManager_ConcurrentCallbacksDoNotRace(t *testing.T) {
	q := deliberation.New(nil)
	itemID := newPendingItem(t, q, 2) // vote tier: HITL callbacks alone never close it
	m := hitl.New(q, &recordingNotifier{})
	item, _ := q.Get(itemID)
	require.NoError(t, m.Publish(context.Background(), item))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reviewerID := fmt.Sprintf("reviewer-%d", i)
			_ = m.Callback(context.Background(), itemID, reviewerID, true)
		}(i)
	}
	wg.Wait()

	got, _ := q.Get(itemID)
	assert.Len(t, got.HumanReviews, 20)
}
