// Package router implements the thin Request Router of spec §4.6: it
// validates the request envelope, assembles the per-request data-source
// bag (or substitutes test datasets), looks up the ruleset, and invokes
// the engine.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wildfire-guardrail/engine/internal/datasource"
	"github.com/wildfire-guardrail/engine/pkg/contracts"
	"github.com/wildfire-guardrail/engine/pkg/models"
)

// Router is the request-facing entry point: envelope in, AggregateResult out.
type Router struct {
	store      contracts.RecordStore
	cache      contracts.KVCache
	rules      contracts.RuleManagerService
	engine     contracts.GuardrailService
	lenderTTL  time.Duration
	matrixTTL  time.Duration
}

// New wires a Router from its collaborators.
func New(store contracts.RecordStore, cache contracts.KVCache, rules contracts.RuleManagerService, engine contracts.GuardrailService, lenderTTL, matrixTTL time.Duration) *Router {
	return &Router{store: store, cache: cache, rules: rules, engine: engine, lenderTTL: lenderTTL, matrixTTL: matrixTTL}
}

// Handle validates env and runs the full evaluation pipeline, returning
// either an AggregateResult or a classified *contracts.Error.
func (r *Router) Handle(ctx context.Context, env models.RequestEnvelope) (*models.AggregateResult, error) {
	if err := validateEnvelope(env); err != nil {
		return nil, err
	}

	ruleset, err := r.rules.GetRuleSet(ctx, env.Type, env.Area)
	if err != nil {
		return nil, err
	}

	bag, err := r.assembleBag(ctx, env)
	if err != nil {
		return nil, err
	}

	return r.engine.Evaluate(ctx, ruleset, bag)
}

func validateEnvelope(env models.RequestEnvelope) error {
	if env.ApplicationID <= 0 {
		return contracts.NewError(contracts.ErrEnvelope, "application_id must be a positive integer")
	}
	if env.Type == "" {
		return contracts.NewError(contracts.ErrEnvelope, "type is required")
	}
	if env.Area == "" {
		return contracts.NewError(contracts.ErrEnvelope, "area is required")
	}
	if env.Testing && len(env.Datasets) == 0 {
		return contracts.NewError(contracts.ErrEnvelope, "testing mode requires a non-empty datasets object")
	}
	return nil
}

// assembleBag builds the per-request data-source bag. In test mode the
// caller-supplied datasets are decoded directly and used in place of
// any loaded source, bypassing the record store and cache entirely
// (spec §4.6) — useful for exercising rules without a database.
func (r *Router) assembleBag(ctx context.Context, env models.RequestEnvelope) (models.Bag, error) {
	if env.Testing {
		return decodeTestDatasets(env.Datasets)
	}

	bag := models.Bag{}

	app := datasource.NewApplication(r.store, env.ApplicationID)
	appValue, err := app.Fetch(ctx, models.Null)
	if err != nil {
		return nil, err
	}
	bag[app.Name()] = appValue

	lenderID, ok := lenderIDFromApplication(appValue)
	if ok {
		lender, err := datasource.NewLenderConfiguration(r.store, r.cache, env.ApplicationID, lenderID, r.lenderTTL)
		if err != nil {
			return nil, contracts.NewError(contracts.ErrDataSource, err.Error())
		}
		lenderValue, err := lender.Fetch(ctx, models.Null)
		if err != nil {
			return nil, err
		}
		bag[lender.Name()] = lenderValue
	}

	matrix := datasource.NewUserAuthorizationMatrix(r.store, r.cache, r.matrixTTL)
	matrixValue, err := matrix.Fetch(ctx, models.Null)
	if err != nil {
		return nil, err
	}
	bag[matrix.Name()] = matrixValue

	return bag, nil
}

// lenderIDFromApplication extracts the application payload's lender_id
// field, if present, to construct the LenderConfiguration source — the
// application record is the only place a request identifies its lender
// (the envelope itself carries only application_id/type/area).
func lenderIDFromApplication(app models.Value) (int, bool) {
	field, ok := app.Field("lender_id")
	if !ok {
		return 0, false
	}
	f, ok := field.AsFloat()
	if !ok || f == 0 {
		return 0, false
	}
	return int(f), true
}

// decodeTestDatasets parses the envelope's raw per-source JSON blobs
// into the same models.Value tree a real Fetch would produce, so rules
// written against production source shapes run unchanged in test mode.
func decodeTestDatasets(datasets map[string]json.RawMessage) (models.Bag, error) {
	bag := models.Bag{}
	for name, raw := range datasets {
		value, err := models.ParseJSON(string(raw))
		if err != nil {
			return nil, contracts.NewError(contracts.ErrEnvelope, fmt.Sprintf("datasets.%s: %v", name, err))
		}
		bag[name] = value
	}
	return bag, nil
}
