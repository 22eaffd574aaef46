package rulemanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wildfire-guardrail/engine/internal/cache"
	"github.com/wildfire-guardrail/engine/internal/operators"
	"github.com/wildfire-guardrail/engine/internal/recordstore"
	"github.com/wildfire-guardrail/engine/pkg/contracts"
	"github.com/wildfire-guardrail/engine/pkg/models"
)

func row(sequence, operatorID int, target, criteria, onPass, onFail string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "loan_application",
		"area":        "underwriting",
		"sequence":    sequence,
		"operator_id": operatorID,
		"target":      target,
		"criteria":    criteria,
		"on_pass":     onPass,
		"on_fail":     onFail,
		"pass":        "",
		"fail":        "rejected",
		"warn":        "",
		"sub_rule":    "",
	}
}

func TestGetRuleSetLoadsAndParsesRows(t *testing.T) {
	store := recordstore.NewMemory()
	store.Seed(LoadRulesProcedure, []map[string]interface{}{
		row(2, 5, `["application.amount"]`, "1000", "CONTINUE", "RESTRICT"),
		row(1, 1, `["application.status"]`, "", "CONTINUE", "RESTRICT"),
	})

	mgr := New(store, cache.NewMemoryCache(), operators.NewLibrary())

	rs, err := mgr.GetRuleSet(context.Background(), "loan_application", "underwriting")
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)

	// sorted by sequence ascending regardless of load order.
	require.Equal(t, 1, rs.Rules[0].Sequence)
	require.Equal(t, 2, rs.Rules[1].Sequence)
	require.Equal(t, []string{"application.status"}, rs.Rules[0].Target)
}

func TestGetRuleSetStableSortBreaksTiesByInsertionOrder(t *testing.T) {
	store := recordstore.NewMemory()
	store.Seed(LoadRulesProcedure, []map[string]interface{}{
		row(1, 1, `["a.x"]`, "", "CONTINUE", "RESTRICT"),
		row(1, 2, `["a.y"]`, "", "CONTINUE", "RESTRICT"),
	})

	mgr := New(store, cache.NewMemoryCache(), operators.NewLibrary())

	rs, err := mgr.GetRuleSet(context.Background(), "loan_application", "underwriting")
	require.NoError(t, err)
	require.Equal(t, []string{"a.x"}, rs.Rules[0].Target)
	require.Equal(t, []string{"a.y"}, rs.Rules[1].Target)
	require.Equal(t, 0, rs.Rules[0].InsertionOrder())
	require.Equal(t, 1, rs.Rules[1].InsertionOrder())
}

func TestGetRuleSetUnknownOperatorIsConfigurationError(t *testing.T) {
	store := recordstore.NewMemory()
	store.Seed(LoadRulesProcedure, []map[string]interface{}{
		row(1, 999, `["application.status"]`, "", "CONTINUE", "RESTRICT"),
	})

	mgr := New(store, cache.NewMemoryCache(), operators.NewLibrary())

	_, err := mgr.GetRuleSet(context.Background(), "loan_application", "underwriting")
	require.Error(t, err)

	var ce *contracts.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, contracts.ErrConfiguration, ce.Kind)
}

func TestGetRuleSetCachesAcrossCalls(t *testing.T) {
	store := recordstore.NewMemory()
	store.Seed(LoadRulesProcedure, []map[string]interface{}{
		row(1, 1, `["application.status"]`, "", "CONTINUE", "RESTRICT"),
	})

	mgr := New(store, cache.NewMemoryCache(), operators.NewLibrary())

	_, err := mgr.GetRuleSet(context.Background(), "loan_application", "underwriting")
	require.NoError(t, err)
	_, err = mgr.GetRuleSet(context.Background(), "loan_application", "underwriting")
	require.NoError(t, err)

	require.Equal(t, 1, store.CallCount(LoadRulesProcedure), "second call should hit the cache, not the store")
}

func TestGetRuleSetDataSourceErrorWhenStoreFails(t *testing.T) {
	store := recordstore.NewMemory() // nothing seeded

	mgr := New(store, cache.NewMemoryCache(), operators.NewLibrary())

	_, err := mgr.GetRuleSet(context.Background(), "loan_application", "underwriting")
	require.Error(t, err)

	var ce *contracts.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, contracts.ErrDataSource, ce.Kind)
}

func TestParseRowWithSubRule(t *testing.T) {
	store := recordstore.NewMemory()
	r := row(1, 1, `["application.status"]`, "", "CONTINUE", "RESTRICT")
	r["sub_rule"] = `{"depends":["application.amount"],"operator_name":"num_>","criteria":"1000","on_fail":"WARN","fail":"amount too high"}`
	store.Seed(LoadRulesProcedure, []map[string]interface{}{r})

	mgr := New(store, cache.NewMemoryCache(), operators.NewLibrary())

	rs, err := mgr.GetRuleSet(context.Background(), "loan_application", "underwriting")
	require.NoError(t, err)
	require.NotNil(t, rs.Rules[0].SubRule)
	require.Equal(t, "num_>", rs.Rules[0].SubRule.OperatorName)
}

func TestParseRowWithSubRuleArrayCriteria(t *testing.T) {
	store := recordstore.NewMemory()
	r := row(1, 1, `["application.status"]`, "", "CONTINUE", "RESTRICT")
	r["sub_rule"] = `{"depends":["application.amount"],"operator_name":"in_set","criteria":[10,30],"on_fail":"WARN","fail":"amount not in allowed set"}`
	store.Seed(LoadRulesProcedure, []map[string]interface{}{r})

	mgr := New(store, cache.NewMemoryCache(), operators.NewLibrary())

	rs, err := mgr.GetRuleSet(context.Background(), "loan_application", "underwriting")
	require.NoError(t, err)
	require.NotNil(t, rs.Rules[0].SubRule)

	sub := rs.Rules[0].SubRule
	require.Equal(t, "in_set", sub.OperatorName)
	require.Equal(t, "[10,30]", sub.CriteriaRaw)
	require.Equal(t, models.KindArray, sub.Criteria.Literal.Kind)
	require.Len(t, sub.Criteria.Literal.Array, 2)
}

func TestParseRowUnknownSubRuleOperatorIsConfigurationError(t *testing.T) {
	store := recordstore.NewMemory()
	r := row(1, 1, `["application.status"]`, "", "CONTINUE", "RESTRICT")
	r["sub_rule"] = `{"depends":["application.amount"],"operator_name":"bogus","criteria":"1000","on_fail":"WARN","fail":"x"}`
	store.Seed(LoadRulesProcedure, []map[string]interface{}{r})

	mgr := New(store, cache.NewMemoryCache(), operators.NewLibrary())

	_, err := mgr.GetRuleSet(context.Background(), "loan_application", "underwriting")
	require.Error(t, err)
}
