// Package message defines the agent bus envelope: the wire-agnostic record
// that flows through the constitutional validator, role registry, policy
// client, impact scorer, router, processor, and bus.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of envelope variants. Unknown variants are rejected,
// not coerced.
type Type string

const (
	TypeCommand                  Type = "command"
	TypeQuery                    Type = "query"
	TypeResponse                 Type = "response"
	TypeEvent                    Type = "event"
	TypeNotification             Type = "notification"
	TypeHeartbeat                Type = "heartbeat"
	TypeGovernanceRequest        Type = "governance_request"
	TypeGovernanceResponse       Type = "governance_response"
	TypeConstitutionalValidation Type = "constitutional_validation"
	TypeTaskRequest              Type = "task_request"
	TypeTaskResponse             Type = "task_response"
)

// Priority orders fan-out and deliberation-tier preemption. Lower values are
// more urgent.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Envelope is the Message data model from the spec: uniquely identified,
// immutable once accepted by the processor.
type Envelope struct {
	MessageID          string                 `json:"message_id"`
	ConversationID     string                 `json:"conversation_id"`
	FromAgent          string                 `json:"from_agent"`
	ToAgent            string                 `json:"to_agent"`
	MessageType        Type                   `json:"message_type"`
	Priority           Priority               `json:"priority"`
	TenantID           string                 `json:"tenant_id"`
	ConstitutionalHash string                 `json:"constitutional_hash"`
	Content            map[string]interface{} `json:"content"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// Action extracts the attempted MACI action from content.action, used by the
// role registry to authorize the sender. Empty when content carries no action.
func (e Envelope) Action() string {
	if e.Content == nil {
		return ""
	}
	action, _ := e.Content["action"].(string)
	return action
}

// ForceDeliberation reports content.force_deliberation, an explicit override
// consulted by the adaptive router.
func (e Envelope) ForceDeliberation() bool {
	if e.Content == nil {
		return false
	}
	force, _ := e.Content["force_deliberation"].(bool)
	return force
}

var validTypes = map[Type]bool{
	TypeCommand: true, TypeQuery: true, TypeResponse: true, TypeEvent: true,
	TypeNotification: true, TypeHeartbeat: true, TypeGovernanceRequest: true,
	TypeGovernanceResponse: true, TypeConstitutionalValidation: true,
	TypeTaskRequest: true, TypeTaskResponse: true,
}

// ValidType reports whether t is one of the closed set of envelope variants.
func ValidType(t Type) bool {
	return validTypes[t]
}

// NewID generates a fresh message/conversation/item identifier. IDs are
// UUIDv7 (time-ordered, monotonic within a millisecond) so that deliberation
// and audit storage, which key and range-scan by id, get roughly insertion
// order for free. Callers needing a deterministic id (tests, replays) should
// assign one directly instead of calling this.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
