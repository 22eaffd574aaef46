package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wildfire-guardrail/engine/internal/cache"
	"github.com/wildfire-guardrail/engine/internal/guardrails"
	"github.com/wildfire-guardrail/engine/internal/operators"
	"github.com/wildfire-guardrail/engine/internal/recordstore"
	"github.com/wildfire-guardrail/engine/internal/router"
	"github.com/wildfire-guardrail/engine/internal/rulemanager"
	"github.com/wildfire-guardrail/engine/pkg/contracts"
	"github.com/wildfire-guardrail/engine/pkg/models"
)

type failingStore struct{ *recordstore.Memory }

func (f *failingStore) Ping(context.Context) error { return context.DeadlineExceeded }

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	store := recordstore.NewMemory()
	store.Seed(rulemanager.LoadRulesProcedure, []map[string]interface{}{
		{
			"type": "loan_application", "area": "underwriting", "sequence": 1,
			"operator_id": 1, "target": `["application.status"]`, "criteria": "",
			"on_pass": "CONTINUE", "on_fail": "RESTRICT", "fail": "missing status", "sub_rule": "",
		},
	})

	kv := cache.NewMemoryCache()
	ops := operators.NewLibrary()
	rules := rulemanager.New(store, kv, ops)
	engine := guardrails.New(ops)
	rt := router.New(store, kv, rules, engine, time.Minute, time.Minute)
	return New(rt, store, kv, "test")
}

func TestEvaluateMalformedBodyReturnsBadRequest(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()

	h.Evaluate(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env models.ResponseEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.False(t, env.Success)
}

func TestEvaluateValidRequestSucceeds(t *testing.T) {
	h := newTestHandlers(t)

	body, _ := json.Marshal(models.RequestEnvelope{
		ApplicationID: 1,
		Type:          "loan_application",
		Area:          "underwriting",
		Testing:       true,
		Datasets: map[string]json.RawMessage{
			"application": json.RawMessage(`{"status": "active"}`),
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	h.Evaluate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var env models.ResponseEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.True(t, env.Success)
}

func TestEvaluateEnvelopeErrorReturnsBadRequest(t *testing.T) {
	h := newTestHandlers(t)

	body, _ := json.Marshal(models.RequestEnvelope{ApplicationID: 0, Type: "x", Area: "y"})
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	h.Evaluate(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyErrorMapsKindsToStatus(t *testing.T) {
	cases := []struct {
		kind contracts.ErrorKind
		want int
	}{
		{contracts.ErrEnvelope, http.StatusBadRequest},
		{contracts.ErrConfiguration, http.StatusUnprocessableEntity},
		{contracts.ErrDataSource, http.StatusBadGateway},
		{contracts.ErrCancellation, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		status, _ := classifyError(contracts.NewError(c.kind, "boom"))
		require.Equal(t, c.want, status)
	}
}

func TestClassifyErrorUnclassifiedIsInternalError(t *testing.T) {
	status, msg := classifyError(context.DeadlineExceeded)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, context.DeadlineExceeded.Error(), msg)
}

func TestHealthReportsOKWhenCollaboratorsHealthy(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsDegradedWhenStoreUnreachable(t *testing.T) {
	store := &failingStore{Memory: recordstore.NewMemory()}
	kv := cache.NewMemoryCache()
	ops := operators.NewLibrary()
	rules := rulemanager.New(store, kv, ops)
	engine := guardrails.New(ops)
	rt := router.New(store, kv, rules, engine, time.Minute, time.Minute)
	h := New(rt, store, kv, "test")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
