package impact

import (
	"context"

	"github.com/R3E-Network/agentbus/governance/message"
)

// MetadataContextQualitySignal scores the fraction of a small set of
// context-bearing envelope fields that are missing: no conversation linkage,
// an empty content payload, or no tenant attribution. Each missing field
// leaves a human or critic reviewer with less to corroborate the message
// against, so a higher fraction missing scores as higher risk.
type MetadataContextQualitySignal struct{}

func (MetadataContextQualitySignal) Score(ctx context.Context, e message.Envelope) (float64, error) {
	const fields = 3
	missing := 0
	if e.ConversationID == "" {
		missing++
	}
	if len(e.Content) == 0 {
		missing++
	}
	if e.TenantID == "" {
		missing++
	}
	return float64(missing) / float64(fields), nil
}

var _ ContextQualitySignal = MetadataContextQualitySignal{}
