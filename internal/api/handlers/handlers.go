// Package handlers implements the HTTP surface of the guardrail engine:
// a single evaluation endpoint plus a liveness/readiness probe.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wildfire-guardrail/engine/internal/router"
	"github.com/wildfire-guardrail/engine/pkg/contracts"
	"github.com/wildfire-guardrail/engine/pkg/models"
)

// Handlers holds the collaborators the HTTP layer dispatches into.
type Handlers struct {
	Router  *router.Router
	Store   contracts.RecordStore
	Cache   contracts.KVCache
	Version string
}

// New constructs a Handlers bundle.
func New(r *router.Router, store contracts.RecordStore, cache contracts.KVCache, version string) *Handlers {
	return &Handlers{Router: r, Store: store, Cache: cache, Version: version}
}

// Evaluate handles POST /v1/evaluate: decode the request envelope, run
// it through the router, and respond with the response envelope (spec §6).
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	evalID := uuid.NewString()
	logger := log.With().Str("eval_id", evalID).Logger()

	var env models.RequestEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondEnvelope(w, http.StatusBadRequest, models.ResponseEnvelope{
			Success: false,
			Error:   "malformed request body: " + err.Error(),
		})
		return
	}

	logger = logger.With().Int("application_id", env.ApplicationID).Str("type", env.Type).Str("area", env.Area).Logger()

	result, err := h.Router.Handle(r.Context(), env)
	if err != nil {
		status, msg := classifyError(err)
		if status == http.StatusInternalServerError {
			logger.Error().Err(err).Msg("evaluate: unclassified failure")
		} else {
			logger.Warn().Err(err).Msg("evaluate: rejected")
		}
		respondEnvelope(w, status, models.ResponseEnvelope{Success: false, Error: msg})
		return
	}

	logger.Info().Bool("success", result.Success).Int("restrictions", len(result.Restrictions)).Msg("evaluate: completed")
	respondEnvelope(w, http.StatusOK, models.ResponseEnvelope{Success: result.Success, Data: result})
}

// classifyError maps a router/engine error to an HTTP status and message.
func classifyError(err error) (int, string) {
	var ce *contracts.Error
	if errors.As(err, &ce) {
		switch ce.Kind {
		case contracts.ErrEnvelope:
			return http.StatusBadRequest, ce.Msg
		case contracts.ErrConfiguration:
			return http.StatusUnprocessableEntity, ce.Msg
		case contracts.ErrDataSource:
			return http.StatusBadGateway, ce.Msg
		case contracts.ErrCancellation:
			return http.StatusServiceUnavailable, ce.Msg
		}
	}
	return http.StatusInternalServerError, err.Error()
}

// Health handles GET /healthz: reports whether the backing record store
// and cache are reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok", "version": h.Version}

	if err := h.Store.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["store"] = err.Error()
	}
	if err := h.Cache.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["cache"] = err.Error()
	}

	respondJSON(w, status, body)
}

func respondEnvelope(w http.ResponseWriter, status int, env models.ResponseEnvelope) {
	respondJSON(w, status, env)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("respondJSON: failed to encode response")
	}
}
