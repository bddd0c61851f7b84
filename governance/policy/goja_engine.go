package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// GojaEngine is a local, in-process policy Engine that evaluates a rule
// script against the input document instead of calling out to an external
// policy service. It is meant for environments that embed policy logic
// directly (tests, single-binary deployments) rather than running a
// standalone policy engine process.
//
// The script must define a top-level function `evaluate(input, policyPath)`
// returning an object `{decision: "allow"|"deny", violations: [...], metadata: {...}}`.
type GojaEngine struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	script string
}

// NewGojaEngine compiles script once and reuses the runtime across calls.
// goja.Runtime is not safe for concurrent use, so Evaluate serializes access
// behind a mutex; this engine is intended for low-volume local evaluation,
// not as a drop-in replacement for a dedicated policy service under load.
func NewGojaEngine(script string) (*GojaEngine, error) {
	vm := goja.New()
	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("policy: compiling goja rule script: %w", err)
	}
	return &GojaEngine{vm: vm, script: script}, nil
}

type gojaResult struct {
	Decision   string                 `json:"decision"`
	Violations []string               `json:"violations"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Evaluate implements the Engine interface.
func (g *GojaEngine) Evaluate(ctx context.Context, policyPath string, input map[string]interface{}) (Decision, []string, map[string]interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fn, ok := goja.AssertFunction(g.vm.Get("evaluate"))
	if !ok {
		return "", nil, nil, fmt.Errorf("policy: rule script does not define an evaluate(input, policyPath) function")
	}

	value, err := fn(goja.Undefined(), g.vm.ToValue(input), g.vm.ToValue(policyPath))
	if err != nil {
		return "", nil, nil, fmt.Errorf("policy: rule script evaluation failed: %w", err)
	}

	var result gojaResult
	if err := g.vm.ExportTo(value, &result); err != nil {
		return "", nil, nil, fmt.Errorf("policy: rule script returned an unexpected shape: %w", err)
	}

	decision := Decision(result.Decision)
	if decision != DecisionAllow && decision != DecisionDeny {
		return "", nil, nil, fmt.Errorf("policy: rule script returned unrecognized decision %q", result.Decision)
	}
	return decision, result.Violations, result.Metadata, nil
}
