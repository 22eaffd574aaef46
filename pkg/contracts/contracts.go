// Package contracts defines the boundary interfaces of the guardrail
// evaluation engine: the opaque backing collaborators (RecordStore,
// KVCache) and the pluggable DataSource / GuardrailService contracts.
//
// These interfaces let the router wire either production adapters
// (Postgres, Valkey) or in-memory test doubles against the same engine
// code, the same way the teacher repo's Store interface lets handlers
// swap MemoryStore for a PostgreSQL-backed one without touching callers.
package contracts

import (
	"context"
	"time"

	"github.com/wildfire-guardrail/engine/pkg/models"
)

// ── RecordStore ──────────────────────────────────────────────

// RecordStore executes a named stored procedure with parameters and
// returns rows as loosely-typed maps. It is treated as opaque per
// spec §1 — the primary database is an external collaborator.
type RecordStore interface {
	// Call invokes a stored procedure by name with positional params and
	// returns the resulting rows.
	Call(ctx context.Context, procedure string, params ...interface{}) ([]map[string]interface{}, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error
}

// ── KVCache ──────────────────────────────────────────────────

// KVCache is a string-keyed blob cache with optional TTL, per spec §1.
type KVCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// ── DataSource ───────────────────────────────────────────────

// DataSource fetches and shapes one named tree of externally-sourced
// facts (see spec §4.1). Criteria is typically unused for root sources
// such as Application, but is part of the contract for sources that
// take a parameter (e.g. a future source keyed by an id found elsewhere
// in the bag).
type DataSource interface {
	// Name is the key this source occupies in the per-request Bag
	// (the first segment of every dotted property path it answers).
	Name() string

	// Fetch produces the structured payload for this source.
	Fetch(ctx context.Context, criteria models.Value) (models.Value, error)
}

// ── GuardrailService (the engine) ───────────────────────────

// GuardrailService evaluates a RuleSet against a per-request data-source
// Bag and produces an AggregateResult (see spec §4.5).
type GuardrailService interface {
	Evaluate(ctx context.Context, ruleset models.RuleSet, bag models.Bag) (*models.AggregateResult, error)
}

// ── RuleManager ──────────────────────────────────────────────

// RuleManagerService loads and caches rulesets keyed by (type, area).
type RuleManagerService interface {
	GetRuleSet(ctx context.Context, typ, area string) (models.RuleSet, error)
}

// ── Errors ───────────────────────────────────────────────────

// ErrorKind classifies a top-level evaluation failure per spec §7.
type ErrorKind string

const (
	ErrEnvelope      ErrorKind = "EnvelopeError"
	ErrConfiguration ErrorKind = "ConfigurationError"
	ErrDataSource    ErrorKind = "DataSourceError"
	ErrCancellation  ErrorKind = "CancellationError"
)

// Error is a classified top-level failure (envelope, configuration,
// data source, cancellation). The HTTP handler maps its Kind to a status
// code and a {success:false, error:"..."} response that carries no
// outcomes.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}
