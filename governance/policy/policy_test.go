package policy_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentbus/governance/policy"
)

type stubEngine struct {
	calls atomic.Int32
	fn    func(ctx context.Context, policyPath string, input map[string]interface{}) (policy.Decision, []string, map[string]interface{}, error)
}

func (s *stubEngine) Evaluate(ctx context.Context, policyPath string, input map[string]interface{}) (policy.Decision, []string, map[string]interface{}, error) {
	s.calls.Add(1)
	return s.fn(ctx, policyPath, input)
}

func TestClient_AllowDecisionIsCached(t *testing.T) {
	engine := &stubEngine{fn: func(ctx context.Context, p string, in map[string]interface{}) (policy.Decision, []string, map[string]interface{}, error) {
		return policy.DecisionAllow, nil, nil, nil
	}}
	client, err := policy.New(policy.Config{Engine: engine})
	require.NoError(t, err)

	input := map[string]interface{}{"action": "propose", "tenant": "a"}
	r1, err := client.Evaluate(context.Background(), "path", input)
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionAllow, r1.Decision)

	r2, err := client.Evaluate(context.Background(), "path", input)
	require.NoError(t, err)
	assert.Equal(t, r1.InputFingerprint, r2.InputFingerprint)
	assert.EqualValues(t, 1, engine.calls.Load(), "second evaluation of identical input should hit the cache")
}

func TestClient_FingerprintIsStableAcrossMapOrdering(t *testing.T) {
	f1, err := policy.Fingerprint(map[string]interface{}{"a": 1, "b": 2, "c": 3})
	require.NoError(t, err)
	f2, err := policy.Fingerprint(map[string]interface{}{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
}

func TestClient_FailClosedDeniesOnUpstreamError(t *testing.T) {
	engine := &stubEngine{fn: func(ctx context.Context, p string, in map[string]interface{}) (policy.Decision, []string, map[string]interface{}, error) {
		return "", nil, nil, errors.New("engine down")
	}}
	client, err := policy.New(policy.Config{Engine: engine, FailClosed: true})
	require.NoError(t, err)

	result, err := client.Evaluate(context.Background(), "path", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionDeny, result.Decision)
}

func TestClient_FailOpenAllowsOnUpstreamError(t *testing.T) {
	engine := &stubEngine{fn: func(ctx context.Context, p string, in map[string]interface{}) (policy.Decision, []string, map[string]interface{}, error) {
		return "", nil, nil, errors.New("engine down")
	}}
	client, err := policy.New(policy.Config{Engine: engine, FailClosed: false})
	require.NoError(t, err)

	result, err := client.Evaluate(context.Background(), "path", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionAllow, result.Decision)
	assert.Contains(t, result.Metadata, "warning")
}

func TestClient_ConcurrentMissesCoalesceViaSingleflight(t *testing.T) {
	var wg sync.WaitGroup
	engine := &stubEngine{fn: func(ctx context.Context, p string, in map[string]interface{}) (policy.Decision, []string, map[string]interface{}, error) {
		time.Sleep(20 * time.Millisecond)
		return policy.DecisionAllow, nil, nil, nil
	}}
	client, err := policy.New(policy.Config{Engine: engine})
	require.NoError(t, err)

	input := map[string]interface{}{"action": "propose"}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.Evaluate(context.Background(), "path", input)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, engine.calls.Load(), "concurrent misses on the same fingerprint should coalesce to one upstream call")
}

func TestClient_InvalidateEvictsCachedEntry(t *testing.T) {
	engine := &stubEngine{fn: func(ctx context.Context, p string, in map[string]interface{}) (policy.Decision, []string, map[string]interface{}, error) {
		return policy.DecisionAllow, nil, nil, nil
	}}
	client, err := policy.New(policy.Config{Engine: engine})
	require.NoError(t, err)

	input := map[string]interface{}{"a": 1}
	r1, err := client.Evaluate(context.Background(), "path", input)
	require.NoError(t, err)

	client.Invalidate(r1.InputFingerprint)
	_, err = client.Evaluate(context.Background(), "path", input)
	require.NoError(t, err)
	assert.EqualValues(t, 2, engine.calls.Load())
}
