// Package datasource provides the concrete DataSource implementations
// that fetch and shape externally-sourced facts into the uniform
// property tree rules are evaluated against (spec §4.1).
package datasource

import (
	"context"
	"fmt"

	"github.com/wildfire-guardrail/engine/pkg/contracts"
	"github.com/wildfire-guardrail/engine/pkg/models"
)

// ApplicationGetProcedure is the stored procedure Application.Fetch calls.
const ApplicationGetProcedure = "wf_applications_get"

// Application fetches an application's JSON payload by id (spec §4.1).
type Application struct {
	store         contracts.RecordStore
	applicationID int
}

// NewApplication constructs an Application source for a given application id.
func NewApplication(store contracts.RecordStore, applicationID int) *Application {
	return &Application{store: store, applicationID: applicationID}
}

func (a *Application) Name() string { return "application" }

// Fetch calls wf_applications_get and parses the single row's payload
// column as a JSON object. Fails if the row is absent or the payload
// is not a well-formed object, per spec §4.1.
func (a *Application) Fetch(ctx context.Context, _ models.Value) (models.Value, error) {
	rows, err := a.store.Call(ctx, ApplicationGetProcedure, a.applicationID)
	if err != nil {
		return models.Null, contracts.NewError(contracts.ErrDataSource, fmt.Sprintf("application %d: %v", a.applicationID, err))
	}
	if len(rows) != 1 {
		return models.Null, contracts.NewError(contracts.ErrDataSource, fmt.Sprintf("application %d: unavailable (got %d rows)", a.applicationID, len(rows)))
	}

	payloadRaw, ok := rows[0]["payload"].(string)
	if !ok {
		return models.Null, contracts.NewError(contracts.ErrDataSource, fmt.Sprintf("application %d: payload column missing or not a string", a.applicationID))
	}

	value, err := models.ParseJSON(payloadRaw)
	if err != nil || value.Kind != models.KindObject {
		return models.Null, contracts.NewError(contracts.ErrDataSource, fmt.Sprintf("application %d: payload is not a well-formed object", a.applicationID))
	}
	return value, nil
}
