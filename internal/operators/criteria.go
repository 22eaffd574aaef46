// Package operators implements the OperatorLibrary: the fixed set of
// named, side-effect-free predicates a Rule selects by operator_id (see
// spec §4.3). Criteria is parsed once at ruleset-load time into a typed
// models.Criteria per the design notes (§9). Parsing never rejects a
// criteria: text that is not valid JSON is kept as a literal string, and
// a criteria of the wrong shape for its operator fails as an operator
// error when the rule is evaluated.
package operators

import (
	"encoding/json"
	"strings"

	"github.com/wildfire-guardrail/engine/pkg/models"
)

// isPathRef reports whether a decoded JSON string is a dotted property
// path ("source.field...") rather than a plain literal string.
func isPathRef(s string) bool {
	return strings.Contains(s, ".")
}

// ParseCriteria classifies a rule's raw criteria string into a typed
// Criteria, per spec §3/§9. The operator name drives no branching here —
// the shape of the decoded JSON alone determines the kind, and each
// operator checks its own expectations against it when it runs.
func ParseCriteria(raw string) (models.Criteria, error) {
	if raw == "" {
		return models.Criteria{}, nil
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		// Not valid JSON — treat as a raw literal string (e.g. a bare
		// regex pattern that wasn't JSON-quoted by the rule author).
		return models.Criteria{Literal: models.StringValue(strings.Trim(raw, `"`))}, nil
	}

	switch t := decoded.(type) {
	case string:
		if isPathRef(t) {
			return models.Criteria{PathRefs: []string{t}}, nil
		}
		return models.Criteria{Literal: models.StringValue(t)}, nil

	case []interface{}:
		elements := make([]models.CriteriaElement, len(t))
		hasPathRef := false
		for i, e := range t {
			if s, ok := e.(string); ok && isPathRef(s) {
				elements[i] = models.CriteriaElement{IsPathRef: true, Path: s}
				hasPathRef = true
				continue
			}
			elements[i] = models.CriteriaElement{Literal: models.FromJSON(e)}
		}
		if hasPathRef {
			return models.Criteria{ArrayElements: elements}, nil
		}
		return models.Criteria{Literal: models.FromJSON(t)}, nil

	default:
		return models.Criteria{Literal: models.FromJSON(t)}, nil
	}
}

// NeedsResolution reports whether this criteria contains property paths
// that must be resolved against the data-source bag before the operator
// can run (spec §4.5.c).
func NeedsResolution(c models.Criteria) bool {
	return len(c.PathRefs) > 0 || len(c.ArrayElements) > 0
}
