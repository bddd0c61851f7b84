package message

import (
	"regexp"

	governanceerrors "github.com/R3E-Network/agentbus/infrastructure/errors"
)

var canonicalHashPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// Validator is a pure function of the envelope (C1). It carries no mutable
// state beyond the canonical hash it was constructed with.
type Validator struct {
	canonicalHash string
}

// NewValidator constructs a Validator bound to the canonical constitutional
// hash configured at boot. Panics if the hash is not a 16-char lowercase hex
// string, since an invalid canonical hash can never validate any message.
func NewValidator(canonicalHash string) *Validator {
	if !canonicalHashPattern.MatchString(canonicalHash) {
		panic("governance/message: canonical constitutional hash must be 16 lowercase hex chars")
	}
	return &Validator{canonicalHash: canonicalHash}
}

// CanonicalHash returns the configured canonical hash.
func (v *Validator) CanonicalHash() string {
	return v.canonicalHash
}

// Validate rejects malformed envelopes and hash mismatches. It never mutates
// the envelope.
func (v *Validator) Validate(e Envelope) error {
	if e.MessageID == "" || e.ConversationID == "" || e.FromAgent == "" ||
		e.ToAgent == "" || e.Content == nil || e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		return governanceerrors.MessageMalformed("missing required envelope field")
	}
	if !ValidType(e.MessageType) {
		return governanceerrors.MessageMalformed("unrecognized message_type")
	}
	if e.CreatedAt.After(e.UpdatedAt) {
		return governanceerrors.MessageMalformed("created_at must not be after updated_at")
	}
	if e.MessageType != TypeHeartbeat && e.MessageType != TypeEvent && e.FromAgent == e.ToAgent {
		return governanceerrors.MessageMalformed("from_agent must not equal to_agent for point-to-point messages")
	}
	if e.ConstitutionalHash != v.canonicalHash {
		return governanceerrors.ConstitutionalHashMismatch(e.ConstitutionalHash, v.canonicalHash)
	}
	return nil
}
