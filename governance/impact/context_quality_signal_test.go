package impact_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentbus/governance/impact"
	"github.com/R3E-Network/agentbus/governance/message"
)

func TestMetadataContextQualitySignal_FullyPopulatedScoresZero(t *testing.T) {
	signal := impact.MetadataContextQualitySignal{}
	e := message.Envelope{
		ConversationID: "conv-1",
		TenantID:       "tenant-1",
		Content:        map[string]interface{}{"action": "read"},
	}
	score, err := signal.Score(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestMetadataContextQualitySignal_EmptyEnvelopeScoresOne(t *testing.T) {
	signal := impact.MetadataContextQualitySignal{}
	score, err := signal.Score(context.Background(), message.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestMetadataContextQualitySignal_PartiallyMissingIsFractional(t *testing.T) {
	signal := impact.MetadataContextQualitySignal{}
	e := message.Envelope{ConversationID: "conv-1"}
	score, err := signal.Score(context.Background(), e)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, score, 1e-9)
}

func TestScorer_WeighsContextQualityIntoTotal(t *testing.T) {
	scorer := impact.New(impact.Config{
		ContextQuality: impact.MetadataContextQualitySignal{},
		Weights:        impact.Weights{ContextQuality: 1.0},
	})
	score := scorer.Score(context.Background(), message.Envelope{MessageID: "m1"})
	assert.Equal(t, 1.0, score.ContextQuality)
	assert.Equal(t, 1.0, score.Value)
}
