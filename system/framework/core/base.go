package service

import (
	"context"
	"fmt"
	"strings"
)

// AgentStore is the minimal lookup surface Base needs to validate agent
// identifiers. The constitutional registry (C2) and any component that
// accepts an agent_id on its inbound path satisfies this.
type AgentStore interface {
	GetAgent(ctx context.Context, agentID string) (any, error)
}

// RoleBindingStore resolves the roles held by an agent, used to confirm a
// claimed role actually belongs to the agent before honoring it.
type RoleBindingStore interface {
	HasRole(ctx context.Context, agentID, role string) (bool, error)
}

// Base bundles shared service helpers (agent validation, role-binding checks).
type Base struct {
	agents   AgentStore
	bindings RoleBindingStore
	tracer   Tracer
}

// NewBase constructs a helper bound to the provided agent store.
func NewBase(agents AgentStore) *Base {
	return &Base{agents: agents, tracer: NoopTracer}
}

// SetRoleBindings wires a role-binding store for role-ownership checks.
func (b *Base) SetRoleBindings(store RoleBindingStore) {
	b.bindings = store
}

// SetTracer configures the tracer used for cross-cutting spans.
func (b *Base) SetTracer(tracer Tracer) {
	if tracer == nil {
		b.tracer = NoopTracer
		return
	}
	b.tracer = tracer
}

// EnsureAgent validates presence and optional registry existence of an agent ID.
func (b *Base) EnsureAgent(ctx context.Context, agentID string) error {
	if strings.TrimSpace(agentID) == "" {
		return fmt.Errorf("agent_id is required")
	}
	if b.agents == nil {
		return nil
	}
	_, err := b.agents.GetAgent(ctx, agentID)
	return err
}

// NormalizeAgent trims and validates an agent identifier. It returns the
// trimmed ID after confirming registry presence (when an agent store is
// configured).
func (b *Base) NormalizeAgent(ctx context.Context, agentID string) (string, error) {
	trimmed := strings.TrimSpace(agentID)
	if trimmed == "" {
		return "", fmt.Errorf("agent_id is required")
	}
	if b.agents == nil {
		return trimmed, nil
	}
	if _, err := b.agents.GetAgent(ctx, trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// EnsureRolesHeld verifies that each claimed role actually belongs to the agent.
func (b *Base) EnsureRolesHeld(ctx context.Context, agentID string, roles []string) error {
	if len(roles) == 0 || b.bindings == nil {
		return nil
	}
	for _, role := range roles {
		held, err := b.bindings.HasRole(ctx, agentID, role)
		if err != nil {
			return fmt.Errorf("checking role %s for agent %s: %w", role, agentID, err)
		}
		if !held {
			return fmt.Errorf("role %s not held by agent %s", role, agentID)
		}
	}
	return nil
}

// Tracer exposes the currently configured tracer (defaults to no-op).
func (b *Base) Tracer() Tracer {
	if b == nil || b.tracer == nil {
		return NoopTracer
	}
	return b.tracer
}
