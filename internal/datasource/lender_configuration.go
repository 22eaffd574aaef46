package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wildfire-guardrail/engine/pkg/contracts"
	"github.com/wildfire-guardrail/engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// LenderConfigGetActiveProcedure returns all active lender configurations.
const LenderConfigGetActiveProcedure = "wf_lender_config_get_active"

// LenderConfigsCacheKey is the fixed cache key for the rekeyed-by-lender
// blob populated on a cache miss (spec §6).
const LenderConfigsCacheKey = "Guardrail:LenderConfigs"

// LenderConfiguration fetches one lender's configuration, populating a
// shared cache of all active lenders on a miss (spec §4.1).
type LenderConfiguration struct {
	store         contracts.RecordStore
	cache         contracts.KVCache
	applicationID int
	lenderID      int
	ttl           time.Duration
}

// NewLenderConfiguration constructs the source. Both ids must be nonzero.
func NewLenderConfiguration(store contracts.RecordStore, cache contracts.KVCache, applicationID, lenderID int, ttl time.Duration) (*LenderConfiguration, error) {
	if applicationID == 0 || lenderID == 0 {
		return nil, fmt.Errorf("lender_configuration: application_id and lender_id are both required")
	}
	return &LenderConfiguration{store: store, cache: cache, applicationID: applicationID, lenderID: lenderID, ttl: ttl}, nil
}

func (l *LenderConfiguration) Name() string { return "lender_configuration" }

// lenderRow is the per-lender shape cached/returned: {lender_id,
// lender_name, config}.
type lenderRow struct {
	LenderID   int             `json:"lender_id"`
	LenderName string          `json:"lender_name"`
	Config     json.RawMessage `json:"config"`
}

func (l *LenderConfiguration) Fetch(ctx context.Context, _ models.Value) (models.Value, error) {
	byLender, err := l.loadAll(ctx)
	if err != nil {
		return models.Null, err
	}

	row, ok := byLender[l.lenderID]
	if !ok {
		return models.Null, contracts.NewError(contracts.ErrDataSource, fmt.Sprintf("lender_configuration: lender %d not found for application %d", l.lenderID, l.applicationID))
	}
	return row, nil
}

func (l *LenderConfiguration) loadAll(ctx context.Context) (map[int]models.Value, error) {
	if blob, ok, err := l.cache.Get(ctx, LenderConfigsCacheKey); err == nil && ok {
		var decoded map[string]json.RawMessage
		if err := json.Unmarshal(blob, &decoded); err == nil {
			return decodeLenderMap(decoded)
		}
		log.Warn().Msg("lender_configuration: cached blob corrupt, reloading")
	}

	rows, err := l.store.Call(ctx, LenderConfigGetActiveProcedure)
	if err != nil {
		return nil, contracts.NewError(contracts.ErrDataSource, fmt.Sprintf("lender_configuration: %v", err))
	}

	byLender := make(map[int]models.Value, len(rows))
	rekeyed := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		lr, value, err := rowToLenderValue(row)
		if err != nil {
			log.Warn().Err(err).Msg("lender_configuration: skipping malformed row")
			continue
		}
		byLender[lr.LenderID] = value
		blob, err := json.Marshal(lr)
		if err == nil {
			rekeyed[fmt.Sprintf("%d", lr.LenderID)] = blob
		}
	}

	if blob, err := json.Marshal(rekeyed); err == nil {
		if err := l.cache.Set(ctx, LenderConfigsCacheKey, blob, l.ttl); err != nil {
			log.Warn().Err(err).Msg("lender_configuration: failed to populate cache")
		}
	}

	return byLender, nil
}

func rowToLenderValue(row map[string]interface{}) (lenderRow, models.Value, error) {
	lenderID := intField(row["lender_id"])
	name, _ := row["lender_name"].(string)
	var configValue models.Value
	switch cfg := row["config"].(type) {
	case string:
		v, err := models.ParseJSON(cfg)
		if err != nil {
			return lenderRow{}, models.Null, fmt.Errorf("lender %d: invalid config JSON: %w", lenderID, err)
		}
		configValue = v
	default:
		configValue = models.FromJSON(row["config"])
	}

	value := models.ObjectValue(map[string]models.Value{
		"lender_id":   models.IntValue(int64(lenderID)),
		"lender_name": models.StringValue(name),
		"config":      configValue,
	})

	configBlob, _ := json.Marshal(toJSONCompatible(configValue))
	return lenderRow{LenderID: lenderID, LenderName: name, Config: configBlob}, value, nil
}

func decodeLenderMap(raw map[string]json.RawMessage) (map[int]models.Value, error) {
	out := make(map[int]models.Value, len(raw))
	for _, blob := range raw {
		var lr lenderRow
		if err := json.Unmarshal(blob, &lr); err != nil {
			continue
		}
		cfgValue, err := models.ParseJSON(string(lr.Config))
		if err != nil {
			cfgValue = models.Null
		}
		out[lr.LenderID] = models.ObjectValue(map[string]models.Value{
			"lender_id":   models.IntValue(int64(lr.LenderID)),
			"lender_name": models.StringValue(lr.LenderName),
			"config":      cfgValue,
		})
	}
	return out, nil
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

// toJSONCompatible converts a Value tree into a plain interface{} tree
// so it can round-trip through encoding/json without Value's own
// MarshalJSON indirection losing structure inside a RawMessage field.
func toJSONCompatible(v models.Value) interface{} {
	blob, _ := json.Marshal(v)
	var out interface{}
	_ = json.Unmarshal(blob, &out)
	return out
}
