package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentbus/governance/policy"
)

const denyWireTransfersScript = `
function evaluate(input, policyPath) {
	if (input.action === "wire_transfer") {
		return {decision: "deny", violations: ["wire_transfer_forbidden"], metadata: {}};
	}
	return {decision: "allow", violations: [], metadata: {}};
}
`

func TestGojaEngine_EvaluatesRuleScript(t *testing.T) {
	engine, err := policy.NewGojaEngine(denyWireTransfersScript)
	require.NoError(t, err)

	decision, violations, _, err := engine.Evaluate(context.Background(), "governance/message", map[string]interface{}{"action": "query"})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionAllow, decision)
	assert.Empty(t, violations)

	decision, violations, _, err = engine.Evaluate(context.Background(), "governance/message", map[string]interface{}{"action": "wire_transfer"})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionDeny, decision)
	assert.Equal(t, []string{"wire_transfer_forbidden"}, violations)
}

func TestGojaEngine_RejectsScriptWithoutEvaluateFunction(t *testing.T) {
	_, err := policy.NewGojaEngine(`var x = 1;`)
	require.NoError(t, err) // compiling succeeds; the missing function surfaces at Evaluate time

	engine, _ := policy.NewGojaEngine(`var x = 1;`)
	_, _, _, err = engine.Evaluate(context.Background(), "path", map[string]interface{}{})
	assert.Error(t, err)
}

func TestGojaEngine_WiredThroughClient(t *testing.T) {
	engine, err := policy.NewGojaEngine(denyWireTransfersScript)
	require.NoError(t, err)
	client, err := policy.New(policy.Config{Engine: engine})
	require.NoError(t, err)

	result, err := client.Evaluate(context.Background(), "governance/message", map[string]interface{}{"action": "wire_transfer"})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionDeny, result.Decision)
}
