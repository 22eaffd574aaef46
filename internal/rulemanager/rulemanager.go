// Package rulemanager loads and caches RuleSets keyed by (type, area),
// per spec §4.4. It is the single place a Rule's raw, stringly-typed
// configuration fields (target, sub_rule, criteria) are parsed into the
// engine's typed model — once, at load time, so a malformed ruleset
// fails fast as a ConfigurationError instead of corrupting an evaluation
// in progress.
package rulemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/wildfire-guardrail/engine/internal/operators"
	"github.com/wildfire-guardrail/engine/internal/resolver"
	"github.com/wildfire-guardrail/engine/pkg/contracts"
	"github.com/wildfire-guardrail/engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// LoadRulesProcedure is the stored procedure name that returns all rule
// rows for a (type, area) pair (spec §6 — name is a contract the
// deployment's schema must honor).
const LoadRulesProcedure = "wf_guardrail_rules_get"

// RuleSetCacheKeyPrefix is the fixed cache-key prefix for parsed
// rulesets (spec §6: "RuleSet:<type>:<area>").
const RuleSetCacheKeyPrefix = "RuleSet"

// Manager loads and caches RuleSets.
type Manager struct {
	store   contracts.RecordStore
	cache   contracts.KVCache
	ops     *operators.Library
	group   singleflight.Group

	// ttl is not read: GetRuleSet always stores the parsed ruleset blob
	// with a TTL of zero, so cached rulesets never expire.
	ttl func() int64
}

// New creates a RuleManager backed by the given RecordStore and KVCache.
func New(store contracts.RecordStore, cache contracts.KVCache, ops *operators.Library) *Manager {
	return &Manager{store: store, cache: cache, ops: ops}
}

func cacheKey(typ, area string) string {
	return fmt.Sprintf("%s:%s:%s", RuleSetCacheKeyPrefix, typ, area)
}

// GetRuleSet returns the ordered RuleSet for (type, area), loading and
// caching it on a cold cache. Concurrent callers for the same key
// collapse onto a single stored-procedure call via singleflight — an
// optimization spec §5 permits but does not require, since the cached
// value is a deterministic function of the backing store.
func (m *Manager) GetRuleSet(ctx context.Context, typ, area string) (models.RuleSet, error) {
	key := cacheKey(typ, area)

	if blob, ok, err := m.cache.Get(ctx, key); err == nil && ok {
		var rs models.RuleSet
		err := json.Unmarshal(blob, &rs)
		// Parsed criteria are not serialized (json:"-"); rebuild them from
		// CriteriaRaw so a cached ruleset evaluates like a freshly loaded one.
		for i := 0; err == nil && i < len(rs.Rules); i++ {
			rs.Rules[i].Criteria, err = operators.ParseCriteria(rs.Rules[i].CriteriaRaw)
			if err == nil && rs.Rules[i].SubRule != nil {
				rs.Rules[i].SubRule.Criteria, err = operators.ParseCriteria(rs.Rules[i].SubRule.CriteriaRaw)
			}
		}
		if err == nil {
			return rs, nil
		}
		log.Warn().Str("key", key).Msg("rulemanager: cached ruleset corrupt, reloading")
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.load(ctx, typ, area)
	})
	if err != nil {
		return models.RuleSet{}, err
	}
	rs := v.(models.RuleSet)

	if blob, err := json.Marshal(rs); err == nil {
		if err := m.cache.Set(ctx, key, blob, 0); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rulemanager: failed to cache ruleset")
		}
	}
	return rs, nil
}

func (m *Manager) load(ctx context.Context, typ, area string) (models.RuleSet, error) {
	rows, err := m.store.Call(ctx, LoadRulesProcedure, typ, area)
	if err != nil {
		return models.RuleSet{}, contracts.NewError(contracts.ErrDataSource, fmt.Sprintf("load ruleset %s/%s: %v", typ, area, err))
	}

	rules := make([]models.Rule, 0, len(rows))
	for i, row := range rows {
		rule, err := m.parseRow(row)
		if err != nil {
			return models.RuleSet{}, contracts.NewError(contracts.ErrConfiguration, fmt.Sprintf("ruleset %s/%s: row %d: %v", typ, area, i, err))
		}
		rules = append(rules, rule.WithInsertionOrder(i))
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Sequence < rules[j].Sequence
	})

	return models.RuleSet{Type: typ, Area: area, Rules: rules}, nil
}

// parseRow decodes a raw stored-procedure row into a fully-parsed Rule:
// target/sub_rule descriptors decoded, criteria parsed, operator_id
// validated against the library. This is the load-time validation spec
// §3 requires ("a ruleset is considered malformed if any rule
// references an unknown operator").
func (m *Manager) parseRow(row map[string]interface{}) (models.Rule, error) {
	typ, _ := row["type"].(string)
	area, _ := row["area"].(string)
	sequence := intField(row["sequence"])
	operatorID := intField(row["operator_id"])
	targetRaw, _ := row["target"].(string)
	criteriaRaw, _ := row["criteria"].(string)
	subRuleRaw, _ := row["sub_rule"].(string)
	onPass, _ := row["on_pass"].(string)
	onFail, _ := row["on_fail"].(string)
	pass, _ := row["pass"].(string)
	fail, _ := row["fail"].(string)
	warn, _ := row["warn"].(string)

	if _, ok := m.ops.ByID(operatorID); !ok {
		return models.Rule{}, fmt.Errorf("unknown operator_id %d", operatorID)
	}

	target, err := resolver.DecodeDescriptor(targetRaw)
	if err != nil {
		return models.Rule{}, fmt.Errorf("target: %w", err)
	}

	criteria, err := operators.ParseCriteria(criteriaRaw)
	if err != nil {
		return models.Rule{}, fmt.Errorf("criteria: %w", err)
	}

	rule := models.Rule{
		Type:        typ,
		Area:        area,
		Sequence:    sequence,
		Target:      target,
		OperatorID:  operatorID,
		CriteriaRaw: criteriaRaw,
		Criteria:    criteria,
		OnPass:      models.Action(onPass),
		OnFail:      models.Action(onFail),
		Pass:        pass,
		Fail:        fail,
		Warn:        warn,
	}

	if subRuleRaw != "" && subRuleRaw != "null" {
		sub, err := m.parseSubRule(subRuleRaw)
		if err != nil {
			return models.Rule{}, fmt.Errorf("sub_rule: %w", err)
		}
		rule.SubRule = sub
	}

	return rule, nil
}

func (m *Manager) parseSubRule(raw string) (*models.SubRule, error) {
	var decoded struct {
		Depends      []string        `json:"depends"`
		OperatorName string          `json:"operator_name"`
		Criteria     json.RawMessage `json:"criteria"`
		OnFail       string          `json:"on_fail"`
		Fail         string          `json:"fail"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("invalid sub_rule JSON: %w", err)
	}
	if len(decoded.Depends) == 0 {
		return nil, fmt.Errorf("sub_rule.depends must have at least one path")
	}
	if _, ok := m.ops.ByName(decoded.OperatorName); !ok {
		return nil, fmt.Errorf("unknown sub_rule operator_name %q", decoded.OperatorName)
	}

	criteriaRaw := string(decoded.Criteria)
	criteria, err := operators.ParseCriteria(criteriaRaw)
	if err != nil {
		return nil, fmt.Errorf("criteria: %w", err)
	}

	return &models.SubRule{
		Depends:      decoded.Depends,
		OperatorName: decoded.OperatorName,
		CriteriaRaw:  criteriaRaw,
		OnFail:       models.Action(decoded.OnFail),
		Fail:         decoded.Fail,
		Criteria:     criteria,
	}, nil
}

func intField(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}
