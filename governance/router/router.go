// Package router implements the adaptive router (C11): a pure, deterministic
// function of (message, score, flags) choosing between the fast lane and the
// deliberation lane.
package router

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/agentbus/governance/message"
)

// Lane is the routing decision.
type Lane string

const (
	LaneFast         Lane = "fast"
	LaneDeliberation Lane = "deliberation"
)

// highRiskActions always route to deliberation regardless of score.
var highRiskActions = map[string]bool{
	"constitutional_update":       true,
	"policy_change":               true,
	"agent_termination":           true,
	"security_override":           true,
	"audit_log_access":            true,
	"system_configuration_change": true,
	"credential_rotation":         true,
	"tenant_migration":            true,
}

// SensitiveKeywords configures the finance/PII/security keyword sets
// consulted for sensitive-content detection. Nil/empty disables the check.
type SensitiveKeywords struct {
	Finance  []string
	PII      []string
	Security []string
}

// Router is C11.
type Router struct {
	impactThreshold float64
	keywords        SensitiveKeywords
}

// Config configures a Router.
type Config struct {
	// ImpactThreshold is the fast/deliberation score boundary, default 0.80.
	ImpactThreshold float64
	Keywords        SensitiveKeywords
}

// New constructs a Router.
func New(cfg Config) *Router {
	if cfg.ImpactThreshold <= 0 {
		cfg.ImpactThreshold = 0.80
	}
	return &Router{impactThreshold: cfg.ImpactThreshold, keywords: cfg.Keywords}
}

// Route decides the lane for e given its impact score. Ties (ambiguous
// signals) break in favor of deliberation.
func (r *Router) Route(e message.Envelope, score float64) Lane {
	if score >= r.impactThreshold {
		return LaneDeliberation
	}
	if highRiskActions[e.Action()] {
		return LaneDeliberation
	}
	if e.ForceDeliberation() {
		return LaneDeliberation
	}
	if r.sensitiveContent(e) {
		return LaneDeliberation
	}
	return LaneFast
}

func (r *Router) sensitiveContent(e message.Envelope) bool {
	text := flattenContent(e.Content)
	for _, kw := range r.keywords.Finance {
		if containsFold(text, kw) {
			return true
		}
	}
	for _, kw := range r.keywords.PII {
		if containsFold(text, kw) {
			return true
		}
	}
	for _, kw := range r.keywords.Security {
		if containsFold(text, kw) {
			return true
		}
	}
	return false
}

// flattenContent walks content at every nesting depth (not just the top
// level) and joins every string leaf into one haystack, so a keyword buried
// in a nested object or array is still caught. content is re-marshaled to
// JSON and walked with gjson rather than a hand-rolled recursive type switch,
// since content arrives as a loosely-typed map[string]interface{} of
// arbitrary shape.
func flattenContent(content map[string]interface{}) string {
	raw, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(key string, value gjson.Result)
	walk = func(key string, value gjson.Result) {
		b.WriteString(key)
		b.WriteByte(' ')
		switch {
		case value.IsObject() || value.IsArray():
			value.ForEach(func(k, v gjson.Result) bool {
				walk(k.String(), v)
				return true
			})
		case value.Type == gjson.String:
			b.WriteString(value.String())
			b.WriteByte(' ')
		}
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		walk(k.String(), v)
		return true
	})
	return b.String()
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
