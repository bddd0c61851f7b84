package impact

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/jsonpath"

	"github.com/R3E-Network/agentbus/governance/message"
)

// JSONPathPermissionSignal is a PermissionSignal that extracts one or more
// fields from the envelope's content via JSONPath expressions and scores
// risk from whether the extracted value appears in a configured sensitive
// set. It exists for deployments whose permission model is expressed as
// data (a list of paths and sensitive values) rather than code.
//
// Example: Paths: []string{"$.requested_scope", "$.target.account_type"},
// Sensitive: map[string]bool{"admin": true, "wire": true}.
type JSONPathPermissionSignal struct {
	Paths     []string
	Sensitive map[string]bool
}

// NewJSONPathPermissionSignal validates the configuration eagerly so a
// misconfigured signal fails at wiring time instead of silently scoring
// every message as safe.
func NewJSONPathPermissionSignal(paths []string, sensitive map[string]bool) (JSONPathPermissionSignal, error) {
	s := JSONPathPermissionSignal{Paths: paths, Sensitive: sensitive}
	if err := s.validate(); err != nil {
		return JSONPathPermissionSignal{}, err
	}
	return s, nil
}

// Score implements PermissionSignal. It returns 1.0 if any extracted value
// matches the sensitive set, 0.0 otherwise; a path that does not resolve
// against the content is skipped rather than treated as an error, since
// most messages will only populate a subset of the configured paths.
func (s JSONPathPermissionSignal) Score(ctx context.Context, e message.Envelope) (float64, error) {
	if len(s.Paths) == 0 {
		return 0, nil
	}
	for _, path := range s.Paths {
		value, err := jsonpath.Get(path, e.Content)
		if err != nil {
			continue
		}
		if str, ok := value.(string); ok && s.Sensitive[str] {
			return 1.0, nil
		}
		if values, ok := value.([]interface{}); ok {
			for _, v := range values {
				if str, ok := v.(string); ok && s.Sensitive[str] {
					return 1.0, nil
				}
			}
		}
	}
	return 0, nil
}

var _ PermissionSignal = JSONPathPermissionSignal{}

// guard against an empty Sensitive map silently scoring everything as safe
// without the caller realizing Score is a no-op.
func (s JSONPathPermissionSignal) validate() error {
	if len(s.Paths) > 0 && len(s.Sensitive) == 0 {
		return fmt.Errorf("impact: JSONPathPermissionSignal configured with Paths but no Sensitive values")
	}
	return nil
}
