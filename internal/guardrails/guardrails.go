// Package guardrails provides the engine that evaluates a RuleSet
// against a resolved data-source bag: the GuardrailService of spec §4.5.
package guardrails

import (
	"context"
	"fmt"

	"github.com/wildfire-guardrail/engine/internal/operators"
	"github.com/wildfire-guardrail/engine/internal/resolver"
	"github.com/wildfire-guardrail/engine/pkg/contracts"
	"github.com/wildfire-guardrail/engine/pkg/models"
)

// Engine is the default GuardrailService: it walks a RuleSet's rules in
// sequence order, resolving each rule's target against the request's
// data-source bag and testing it with the rule's operator and criteria.
type Engine struct {
	ops *operators.Library
}

// New creates an Engine bound to the given operator library.
func New(ops *operators.Library) *Engine {
	return &Engine{ops: ops}
}

// Evaluate runs every rule in ruleset.Rules (already sorted by sequence
// with insertion-order tiebreak by the rule manager) against bag,
// stopping at the first RESTRICT outcome (spec §4.5, §3 "short-circuit").
//
// Target/criteria resolution faults, operator faults and an unknown
// operator id never abort the loop early with an error — they are
// recorded as a FAIL/RESTRICT outcome for that rule, same as any other
// restricting failure (spec §7: "the engine never lets one bad rule
// corrupt the others' outcomes"). Only context cancellation aborts,
// returning a CancellationError and no outcomes at all.
func (e *Engine) Evaluate(ctx context.Context, ruleset models.RuleSet, bag models.Bag) (*models.AggregateResult, error) {
	res := resolver.New(bag)
	outcomes := make([]models.Outcome, 0, len(ruleset.Rules))

	for _, rule := range ruleset.Rules {
		if err := ctx.Err(); err != nil {
			return nil, contracts.NewError(contracts.ErrCancellation, err.Error())
		}

		ruleOutcomes, restrict, err := e.evaluateRule(res, rule)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, ruleOutcomes...)
		if restrict {
			break
		}
	}

	agg := models.NewAggregateResult(outcomes)
	return &agg, nil
}

// evaluateRule resolves and tests a single rule, then its sub-rule if
// the primary predicate passed. It returns every outcome the rule
// produced, in order — the rule's own outcome always comes first, with
// a sub-rule's failing outcome (if any) appended after it, never in
// place of it — and whether a RESTRICT action was produced (by the
// rule or its sub-rule) that should halt further evaluation. The error
// return is reserved for faults that bypass outcomes entirely (spec §7).
func (e *Engine) evaluateRule(res *resolver.Resolver, rule models.Rule) ([]models.Outcome, bool, error) {
	def, ok := e.ops.ByID(rule.OperatorID)
	if !ok {
		// Runtime unknown-operator is an outcome-level fault, not a
		// top-level abort (spec §4.5.b) — load-time validation in
		// rulemanager should already exclude this in practice.
		return []models.Outcome{{
			Sequence: rule.Sequence,
			Target:   rule.Target,
			Criteria: rule.CriteriaRaw,
			Result:   models.ResultFail,
			Action:   models.ActionRestrict,
			Message:  "Unknown operator",
		}}, true, nil
	}

	values, faultErr := res.ResolveTarget(rule.Target)
	if faultErr == nil {
		var criteria models.Criteria
		criteria, faultErr = resolveCriteria(res, rule.Criteria)
		if faultErr == nil {
			var passed bool
			passed, faultErr = def.Evaluate(values, criteria)
			if faultErr == nil {
				outcomes, restrict := e.recordResult(res, rule, def.Name, rule.Target, values, rule.CriteriaRaw, passed)
				return outcomes, restrict, nil
			}
		}
	}

	// ResolutionError / OperatorError: recorded as a FAIL/RESTRICT
	// outcome rather than a top-level abort (spec §7).
	return []models.Outcome{{
		Sequence:       rule.Sequence,
		Target:         rule.Target,
		Operator:       def.Name,
		EvaluatedValue: evaluatedValue(values),
		Criteria:       rule.CriteriaRaw,
		Result:         models.ResultFail,
		Action:         models.ActionRestrict,
		Message:        faultMessage(rule.Fail, faultErr),
	}}, true, nil
}

// recordResult builds the PASS/FAIL outcome for a rule whose target and
// criteria resolved and whose operator ran cleanly, then chains into the
// sub-rule when the primary predicate passed. The parent's own outcome
// is always returned; a failing sub-rule's outcome is appended after it
// (spec §4.5.e, §8 scenario 4) rather than replacing it.
func (e *Engine) recordResult(res *resolver.Resolver, rule models.Rule, operatorName string, target []string, values []models.Value, criteriaRaw string, passed bool) ([]models.Outcome, bool) {
	outcome := models.Outcome{
		Sequence:       rule.Sequence,
		Target:         target,
		Operator:       operatorName,
		EvaluatedValue: evaluatedValue(values),
		Criteria:       criteriaRaw,
	}

	if !passed {
		outcome.Result = models.ResultFail
		outcome.Action = rule.OnFail
		outcome.Message = rule.Fail
		return []models.Outcome{outcome}, rule.OnFail == models.ActionRestrict
	}

	outcome.Result = models.ResultPass
	outcome.Action = rule.OnPass
	outcome.Message = rule.Pass
	if rule.OnPass == "" {
		outcome.Action = models.ActionContinue
	}

	if rule.SubRule == nil {
		return []models.Outcome{outcome}, outcome.Action == models.ActionRestrict
	}

	subOutcome, subRestrict := e.evaluateSubRule(res, rule, *rule.SubRule)
	if subOutcome == nil {
		// A passing sub-rule is an implicit CONTINUE, never surfaced
		// as its own outcome (spec §4.5.c).
		return []models.Outcome{outcome}, outcome.Action == models.ActionRestrict
	}

	return []models.Outcome{outcome, *subOutcome}, subRestrict || outcome.Action == models.ActionRestrict
}

// evaluateSubRule runs a rule's sub_rule after its parent's primary
// predicate has passed. Resolution/operator faults restrict, same as a
// primary rule's faults, rather than aborting the request.
func (e *Engine) evaluateSubRule(res *resolver.Resolver, parent models.Rule, sub models.SubRule) (*models.Outcome, bool) {
	def, ok := e.ops.ByName(sub.OperatorName)
	if !ok {
		o := models.Outcome{
			Sequence: parent.Sequence,
			Target:   sub.Depends,
			Operator: sub.OperatorName,
			Criteria: sub.CriteriaRaw,
			Result:   models.ResultFail,
			Action:   models.ActionRestrict,
			Message:  faultMessage(sub.Fail, fmt.Errorf("unknown sub_rule operator_name %q", sub.OperatorName)),
		}
		return &o, true
	}

	values, err := res.ResolveTarget(sub.Depends)
	if err == nil {
		var criteria models.Criteria
		criteria, err = resolveCriteria(res, sub.Criteria)
		if err == nil {
			var passed bool
			passed, err = def.Evaluate(values, criteria)
			if err == nil {
				if passed {
					return nil, false
				}
				o := models.Outcome{
					Sequence:       parent.Sequence,
					Target:         sub.Depends,
					Operator:       def.Name,
					EvaluatedValue: evaluatedValue(values),
					Criteria:       sub.CriteriaRaw,
					Result:         models.ResultFail,
					Action:         sub.OnFail,
					Message:        sub.Fail,
				}
				return &o, sub.OnFail == models.ActionRestrict
			}
		}
	}

	o := models.Outcome{
		Sequence:       parent.Sequence,
		Target:         sub.Depends,
		Operator:       def.Name,
		EvaluatedValue: evaluatedValue(values),
		Criteria:       sub.CriteriaRaw,
		Result:         models.ResultFail,
		Action:         models.ActionRestrict,
		Message:        faultMessage(sub.Fail, err),
	}
	return &o, true
}

// resolveCriteria substitutes any property-path references in criteria
// with their resolved values, returning a criteria whose Literal is
// ready for an operator to consume directly (spec §4.2, §4.3).
func resolveCriteria(res *resolver.Resolver, criteria models.Criteria) (models.Criteria, error) {
	if !operators.NeedsResolution(criteria) {
		return criteria, nil
	}

	if len(criteria.PathRefs) > 0 {
		if len(criteria.PathRefs) == 1 {
			v, err := res.ResolveSingle(criteria.PathRefs[0])
			if err != nil {
				return models.Criteria{}, err
			}
			return models.Criteria{Literal: v}, nil
		}
		values, err := res.ResolveMany(criteria.PathRefs)
		if err != nil {
			return models.Criteria{}, err
		}
		return models.Criteria{Literal: models.ArrayValue(values)}, nil
	}

	elements := make([]models.Value, len(criteria.ArrayElements))
	for i, el := range criteria.ArrayElements {
		if el.IsPathRef {
			v, err := res.ResolveSingle(el.Path)
			if err != nil {
				return models.Criteria{}, err
			}
			elements[i] = v
		} else {
			elements[i] = el.Literal
		}
	}
	return models.Criteria{Literal: models.ArrayValue(elements)}, nil
}

// faultMessage prefers the rule-authored fail message, falling back to
// the underlying fault so an unauthored rule still surfaces something
// actionable.
func faultMessage(authored string, err error) string {
	if authored != "" {
		return authored
	}
	return err.Error()
}

// evaluatedValue carries every value an operator resolved into a single
// Outcome field: none resolves to Null, one is returned bare, and two
// or more (e.g. date_tolerance's two operands) are carried as an array
// rather than silently dropping all but the first (spec §3 evaluated_value).
func evaluatedValue(values []models.Value) models.Value {
	switch len(values) {
	case 0:
		return models.Null
	case 1:
		return values[0]
	default:
		return models.ArrayValue(values)
	}
}
