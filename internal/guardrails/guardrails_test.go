package guardrails

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wildfire-guardrail/engine/internal/operators"
	"github.com/wildfire-guardrail/engine/pkg/models"
)

func newEngine() *Engine {
	return New(operators.NewLibrary())
}

func rule(sequence, operatorID int, target []string, criteriaRaw string, onPass, onFail models.Action) models.Rule {
	criteria, err := operators.ParseCriteria(criteriaRaw)
	if err != nil {
		panic(err)
	}
	return models.Rule{
		Sequence:    sequence,
		Target:      target,
		OperatorID:  operatorID,
		CriteriaRaw: criteriaRaw,
		Criteria:    criteria,
		OnPass:      onPass,
		OnFail:      onFail,
		Fail:        "rejected",
	}
}

func TestEvaluateAllPassIsSuccess(t *testing.T) {
	bag := models.Bag{
		"application": models.ObjectValue(map[string]models.Value{
			"status": models.StringValue("active"),
		}),
	}
	ruleset := models.RuleSet{Rules: []models.Rule{
		rule(1, 11, []string{"application.status"}, `"active"`, models.ActionContinue, models.ActionRestrict),
	}}

	result, err := newEngine().Evaluate(context.Background(), ruleset, bag)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Outcomes, 1)
	require.Equal(t, models.ResultPass, result.Outcomes[0].Result)
}

func TestEvaluateFailWithRestrictShortCircuits(t *testing.T) {
	bag := models.Bag{
		"application": models.ObjectValue(map[string]models.Value{
			"amount": models.IntValue(5000),
		}),
	}
	ruleset := models.RuleSet{Rules: []models.Rule{
		rule(1, 7, []string{"application.amount"}, "1000", models.ActionContinue, models.ActionRestrict),
		rule(2, 1, []string{"application.amount"}, "", models.ActionContinue, models.ActionRestrict),
	}}

	result, err := newEngine().Evaluate(context.Background(), ruleset, bag)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Len(t, result.Outcomes, 1, "second rule should never run after the RESTRICT")
	require.Len(t, result.Restrictions, 1)
}

func TestEvaluateFailWithWarnContinues(t *testing.T) {
	bag := models.Bag{
		"application": models.ObjectValue(map[string]models.Value{
			"amount": models.IntValue(5000),
			"status": models.StringValue("active"),
		}),
	}
	ruleset := models.RuleSet{Rules: []models.Rule{
		rule(1, 7, []string{"application.amount"}, "1000", models.ActionContinue, models.ActionWarn),
		rule(2, 11, []string{"application.status"}, `"active"`, models.ActionContinue, models.ActionRestrict),
	}}

	result, err := newEngine().Evaluate(context.Background(), ruleset, bag)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Outcomes, 2)
	require.Len(t, result.Warnings, 1)
}

func TestEvaluateUnknownOperatorIDProducesOutcomeNotError(t *testing.T) {
	bag := models.Bag{"application": models.ObjectValue(map[string]models.Value{"x": models.IntValue(1)})}
	ruleset := models.RuleSet{Rules: []models.Rule{
		rule(1, 999, []string{"application.x"}, "", models.ActionContinue, models.ActionRestrict),
	}}

	result, err := newEngine().Evaluate(context.Background(), ruleset, bag)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "Unknown operator", result.Outcomes[0].Message)
	require.Equal(t, models.ActionRestrict, result.Outcomes[0].Action)
}

func TestEvaluateMissingDataSourceIsOutcomeLevelFault(t *testing.T) {
	bag := models.Bag{}
	ruleset := models.RuleSet{Rules: []models.Rule{
		rule(1, 1, []string{"application.status"}, "", models.ActionContinue, models.ActionRestrict),
	}}

	result, err := newEngine().Evaluate(context.Background(), ruleset, bag)
	require.NoError(t, err, "resolution faults never bypass outcomes")
	require.False(t, result.Success)
	require.Equal(t, "rejected", result.Outcomes[0].Message)
}

func TestEvaluateCancelledContextAborts(t *testing.T) {
	bag := models.Bag{"application": models.ObjectValue(map[string]models.Value{"x": models.IntValue(1)})}
	ruleset := models.RuleSet{Rules: []models.Rule{
		rule(1, 1, []string{"application.x"}, "", models.ActionContinue, models.ActionRestrict),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine().Evaluate(ctx, ruleset, bag)
	require.Error(t, err)
}

func TestEvaluateSubRuleRunsOnlyAfterParentPasses(t *testing.T) {
	bag := models.Bag{
		"application": models.ObjectValue(map[string]models.Value{
			"status": models.StringValue("active"),
			"amount": models.IntValue(5000),
		}),
	}
	r := rule(1, 11, []string{"application.status"}, `"active"`, models.ActionContinue, models.ActionRestrict)
	subCriteria, err := operators.ParseCriteria("1000")
	require.NoError(t, err)
	r.SubRule = &models.SubRule{
		Depends:      []string{"application.amount"},
		OperatorName: "num_<=",
		CriteriaRaw:  "1000",
		Criteria:     subCriteria,
		OnFail:       models.ActionRestrict,
		Fail:         "amount exceeds sub-limit",
	}
	ruleset := models.RuleSet{Rules: []models.Rule{r}}

	result, err := newEngine().Evaluate(context.Background(), ruleset, bag)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Len(t, result.Outcomes, 2, "the parent's PASS outcome must survive alongside the sub-rule's FAIL outcome")

	parentOutcome := result.Outcomes[0]
	require.Equal(t, models.ResultPass, parentOutcome.Result)
	require.Equal(t, models.ActionContinue, parentOutcome.Action)

	subOutcome := result.Outcomes[1]
	require.Equal(t, models.ResultFail, subOutcome.Result)
	require.Equal(t, models.ActionRestrict, subOutcome.Action)
	require.Equal(t, "amount exceeds sub-limit", subOutcome.Message)
}

func TestEvaluateSubRulePassIsNotSurfacedAsOutcome(t *testing.T) {
	bag := models.Bag{
		"application": models.ObjectValue(map[string]models.Value{
			"status": models.StringValue("active"),
			"amount": models.IntValue(500),
		}),
	}
	r := rule(1, 11, []string{"application.status"}, `"active"`, models.ActionContinue, models.ActionRestrict)
	subCriteria, err := operators.ParseCriteria("1000")
	require.NoError(t, err)
	r.SubRule = &models.SubRule{
		Depends:      []string{"application.amount"},
		OperatorName: "num_<=",
		CriteriaRaw:  "1000",
		Criteria:     subCriteria,
		OnFail:       models.ActionRestrict,
		Fail:         "amount exceeds sub-limit",
	}
	ruleset := models.RuleSet{Rules: []models.Rule{r}}

	result, err := newEngine().Evaluate(context.Background(), ruleset, bag)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Outcomes, 1, "a passing sub-rule must not add its own outcome")
	require.Equal(t, models.ResultPass, result.Outcomes[0].Result)
}

func TestEvaluateDateTolerancePathRefCriteria(t *testing.T) {
	bag := models.Bag{
		"application": models.ObjectValue(map[string]models.Value{
			"submitted_at": models.StringValue("2026-01-10"),
			"signed_at":    models.StringValue("2026-01-01"),
		}),
		"lender_configuration": models.ObjectValue(map[string]models.Value{
			"max_signing_gap_days": models.IntValue(15),
		}),
	}
	criteriaRaw := `["lender_configuration.max_signing_gap_days"]`
	ruleset := models.RuleSet{Rules: []models.Rule{
		rule(1, 16, []string{"application.submitted_at", "application.signed_at"}, criteriaRaw, models.ActionContinue, models.ActionWarn),
	}}

	result, err := newEngine().Evaluate(context.Background(), ruleset, bag)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Warnings, 1, "9 days apart is below the resolved 15-day minimum, so the rule fails and warns")
}
