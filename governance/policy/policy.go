// Package policy implements the policy client (C4): fingerprinted,
// single-flighted, LRU+TTL-cached evaluation against an external policy
// engine, guarded by a circuit breaker and a fail-open/fail-closed switch.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	governanceerrors "github.com/R3E-Network/agentbus/infrastructure/errors"
	"github.com/R3E-Network/agentbus/infrastructure/resilience"
)

// Decision is the outcome of evaluating a message against the policy. It is
// one of allow/deny/error.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionError Decision = "error"
)

// Result is the PolicyDecision data model. Keyed by fingerprint; inserted on
// cache miss, evicted at TTL or explicit invalidation, never mutated.
type Result struct {
	InputFingerprint string
	Decision         Decision
	Violations       []string
	Metadata         map[string]interface{}
	EvaluatedAt      time.Time
	TTL              time.Duration
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

// Engine is the external policy engine interface (§6): evaluate a policy
// path against an input document.
type Engine interface {
	Evaluate(ctx context.Context, policyPath string, input map[string]interface{}) (Decision, []string, map[string]interface{}, error)
}

// Client is C4. The cache key is the SHA-256 fingerprint of canonicalized
// JSON input; concurrent misses on the same fingerprint coalesce to one
// upstream call via single-flight.
type Client struct {
	engine     Engine
	breaker    *resilience.CircuitBreaker
	cache      *lru.Cache[string, cacheEntry]
	group      singleflight.Group
	ttl        time.Duration
	failClosed bool
}

// Config configures a Client.
type Config struct {
	Engine     Engine
	Breaker    *resilience.CircuitBreaker
	CacheSize  int
	TTL        time.Duration
	FailClosed bool
}

// New constructs a Client. CacheSize defaults to 10,000 entries and TTL
// defaults to 60s, matching the spec's defaults.
func New(cfg Config) (*Client, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.New(resilience.DefaultConfig())
	}
	cache, err := lru.New[string, cacheEntry](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Client{
		engine:     cfg.Engine,
		breaker:    cfg.Breaker,
		cache:      cache,
		ttl:        cfg.TTL,
		failClosed: cfg.FailClosed,
	}, nil
}

// Fingerprint computes the stable SHA-256 hash of the canonicalized
// (stably key-ordered) JSON input document.
func Fingerprint(input map[string]interface{}) (string, error) {
	canonical, err := canonicalize(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize renders a map with deterministic key ordering so the same
// logical input always hashes identically regardless of map iteration order.
func canonicalize(input map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]keyValue, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, keyValue{Key: k, Value: input[k]})
	}
	return json.Marshal(ordered)
}

type keyValue struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}

// Evaluate implements C4's evaluate(policy_path, input) -> PolicyDecision.
func (c *Client) Evaluate(ctx context.Context, policyPath string, input map[string]interface{}) (Result, error) {
	fingerprint, err := Fingerprint(input)
	if err != nil {
		return Result{}, governanceerrors.MessageMalformed("unable to fingerprint policy input")
	}

	if entry, ok := c.cache.Get(fingerprint); ok && time.Now().Before(entry.expires) {
		return entry.result, nil
	}

	v, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		return c.evaluateUpstream(ctx, fingerprint, policyPath, input)
	})
	if err != nil {
		return c.failureResult(fingerprint, err), nil
	}
	return v.(Result), nil
}

func (c *Client) evaluateUpstream(ctx context.Context, fingerprint, policyPath string, input map[string]interface{}) (Result, error) {
	var decision Decision
	var violations []string
	var metadata map[string]interface{}

	err := c.breaker.Execute(ctx, func() error {
		d, v, m, evalErr := c.engine.Evaluate(ctx, policyPath, input)
		if evalErr != nil {
			return evalErr
		}
		decision, violations, metadata = d, v, m
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{
		InputFingerprint: fingerprint,
		Decision:         decision,
		Violations:       violations,
		Metadata:         metadata,
		EvaluatedAt:      time.Now(),
		TTL:              c.ttl,
	}
	c.cache.Add(fingerprint, cacheEntry{result: result, expires: time.Now().Add(c.ttl)})
	return result, nil
}

// failureResult applies the fail_closed switch: deny with PolicyUnavailable
// when true, allow with a warning tag (still audited) when false.
func (c *Client) failureResult(fingerprint string, cause error) Result {
	now := time.Now()
	if c.failClosed {
		return Result{
			InputFingerprint: fingerprint,
			Decision:         DecisionDeny,
			Violations:       []string{"PolicyUnavailable"},
			Metadata:         map[string]interface{}{"cause": cause.Error()},
			EvaluatedAt:      now,
		}
	}
	return Result{
		InputFingerprint: fingerprint,
		Decision:         DecisionAllow,
		Violations:       nil,
		Metadata:         map[string]interface{}{"warning": "policy_unavailable_fail_open", "cause": cause.Error()},
		EvaluatedAt:      now,
	}
}

// Invalidate evicts a cached decision, e.g. on an operator-triggered policy
// reload.
func (c *Client) Invalidate(fingerprint string) {
	c.cache.Remove(fingerprint)
}
