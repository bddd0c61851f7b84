// Package voting implements the voting service (C9): collecting and
// tallying critic-agent votes on a deliberation item, with a Judicial veto
// that short-circuits any approval majority.
package voting

import (
	"context"

	"github.com/R3E-Network/agentbus/governance/deliberation"
	"github.com/R3E-Network/agentbus/governance/roles"
	"github.com/R3E-Network/agentbus/infrastructure/logging"
)

// Tally is the outcome of evaluating an item's current votes.
type Tally string

const (
	TallyPending  Tally = "pending"
	TallyApproved Tally = "approved"
	TallyRejected Tally = "rejected"
)

// RoleResolver looks up the role of a voting agent, used to detect the
// Judicial veto.
type RoleResolver interface {
	RoleOf(agentID string) (roles.Role, bool)
}

// Service is C9.
type Service struct {
	queue        *deliberation.Queue
	roleLookup   RoleResolver
	totalCritics int
	sigVerifier  SignatureVerifier
	log          *logging.Logger
}

// New constructs a Service. totalCritics is the size of the eligible critic
// pool, used for the spec's "rejects > (total_critics - required_votes)"
// rejection rule.
func New(queue *deliberation.Queue, roleLookup RoleResolver, totalCritics int) *Service {
	return &Service{queue: queue, roleLookup: roleLookup, totalCritics: totalCritics}
}

// SetSignatureVerifier wires v to validate every vote's signature before
// it's recorded. Unset by default, so existing callers and tests that pass
// opaque placeholder signatures are unaffected.
func (s *Service) SetSignatureVerifier(v SignatureVerifier) {
	s.sigVerifier = v
}

// SetLogger attaches l so every signature verification is logged via
// Logger.LogCryptoOperation. Unset by default.
func (s *Service) SetLogger(l *logging.Logger) {
	s.log = l
}

// Vote records a vote for itemID. Per spec: duplicate votes from the same
// agent replace the prior vote only while the item is still pending.
func (s *Service) Vote(ctx context.Context, itemID, agentID string, approve bool, signature string) (Tally, error) {
	var tally Tally
	err := s.queue.MutateItem(ctx, itemID, func(item *deliberation.Item) (bool, error) {
		if item.State != deliberation.StatePending && item.State != deliberation.StateInReview {
			return false, errItemClosed
		}
		if s.sigVerifier != nil {
			ok := s.sigVerifier.Verify(itemID, agentID, approve, signature)
			if s.log != nil {
				var verifyErr error
				if !ok {
					verifyErr = errInvalidSignature
				}
				s.log.LogCryptoOperation(ctx, "vote_signature_verify", ok, verifyErr)
			}
			if !ok {
				return false, errInvalidSignature
			}
		}
		item.ReceivedVotes[agentID] = deliberation.Vote{AgentID: agentID, Approve: approve, Signature: signature}
		tally = s.evaluate(item)
		return true, nil
	})
	if err != nil {
		return TallyPending, err
	}

	switch tally {
	case TallyApproved:
		_ = s.queue.Transition(ctx, itemID, deliberation.StateApproved)
	case TallyRejected:
		_ = s.queue.Transition(ctx, itemID, deliberation.StateRejected)
	}
	return tally, nil
}

// evaluate implements the tally rule: a single Judicial reject vetoes
// approval outright (checked before the approval count), rejected when
// rejects exceed (total_critics - required_votes), approved when approvals
// reach the required-votes threshold and no veto has been cast.
func (s *Service) evaluate(item *deliberation.Item) Tally {
	approvals, rejects := 0, 0
	for agentID, v := range item.ReceivedVotes {
		if v.Approve {
			approvals++
			continue
		}
		rejects++
		if role, ok := s.roleLookup.RoleOf(agentID); ok && role == roles.RoleJudicial {
			return TallyRejected
		}
	}

	if item.RequiredVotes > 0 && approvals >= item.RequiredVotes {
		return TallyApproved
	}
	if rejects > s.totalCritics-item.RequiredVotes {
		return TallyRejected
	}
	return TallyPending
}

type votingError string

func (e votingError) Error() string { return string(e) }

const (
	errItemClosed       = votingError("deliberation item is no longer open for voting")
	errInvalidSignature = votingError("vote signature failed verification")
)
