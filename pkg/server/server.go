// Package server is the public entry point for initializing the
// guardrail engine's HTTP server: it wires the record store, cache,
// rule manager, operator library, engine and router into a single
// http.Handler.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/wildfire-guardrail/engine/internal/api"
	"github.com/wildfire-guardrail/engine/internal/api/handlers"
	"github.com/wildfire-guardrail/engine/internal/cache"
	"github.com/wildfire-guardrail/engine/internal/config"
	"github.com/wildfire-guardrail/engine/internal/guardrails"
	"github.com/wildfire-guardrail/engine/internal/operators"
	"github.com/wildfire-guardrail/engine/internal/recordstore"
	"github.com/wildfire-guardrail/engine/internal/router"
	"github.com/wildfire-guardrail/engine/internal/rulemanager"
	"github.com/wildfire-guardrail/engine/internal/telemetry"
	"github.com/wildfire-guardrail/engine/pkg/contracts"
)

// Server holds the initialized guardrail engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the record store backing the engine's data sources.
	Store contracts.RecordStore

	// Cache is the key-value cache backing rulesets and data sources.
	Cache contracts.KVCache

	// Router is the request-facing evaluation entry point.
	Router *router.Router

	// Config is the resolved server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes the engine from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	store, err := newRecordStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init record store: %w", err)
	}

	kv, err := newCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	return buildServer(cfg, store, kv, shutdown)
}

// NewWithStore initializes the engine against an externally-provided
// record store and cache — the primary entry point for tests, which
// pass fixture-driven doubles.
func NewWithStore(ctx context.Context, cfg *config.Config, store contracts.RecordStore, kv contracts.KVCache) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return buildServer(cfg, store, kv, shutdown)
}

func newRecordStore(ctx context.Context, cfg *config.Config) (contracts.RecordStore, error) {
	return recordstore.NewPostgres(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
}

func newCache(cfg *config.Config) (contracts.KVCache, error) {
	if cfg.Cache.Addr == "" {
		log.Info().Msg("no VALKEY_ADDR configured, using in-memory cache")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewValkeyCache(cfg.Cache.Addr)
}

func buildServer(cfg *config.Config, store contracts.RecordStore, kv contracts.KVCache, shutdown func(context.Context) error) (*Server, error) {
	ops := operators.NewLibrary()
	log.Info().Int("count", 16).Msg("operator library initialized")

	rules := rulemanager.New(store, kv, ops)
	log.Info().Msg("rule manager initialized")

	engine := guardrails.New(ops)
	log.Info().Msg("guardrail engine initialized")

	rt := router.New(store, kv, rules, engine, cfg.Cache.LenderConfigTTL, cfg.Cache.UserMatrixTTL)
	log.Info().Msg("request router initialized")

	h := handlers.New(rt, store, kv, cfg.Version)
	httpRouter := api.NewRouter(cfg, h)

	return &Server{
		Handler:      httpRouter,
		Store:        store,
		Cache:        kv,
		Router:       rt,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// Shutdown releases the record store and cache and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing record store")
	}
	if closer, ok := s.Cache.(interface{ Close() }); ok {
		closer.Close()
	}
	if s.ShutdownFunc != nil {
		return s.ShutdownFunc(ctx)
	}
	return nil
}
