// Package resolver implements the DataSourceResolver: it walks dotted
// property paths against a per-request bag of data sources (spec §4.2).
package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wildfire-guardrail/engine/pkg/models"
)

// DecodeDescriptor parses the wire form of a property-path descriptor —
// a JSON-encoded array of dotted path strings (spec §6) — as used by a
// rule's target and a sub_rule's depends. Decoding happens once at
// ruleset load, not on every evaluation.
func DecodeDescriptor(raw string) ([]string, error) {
	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, fmt.Errorf("decode property-path descriptor %q: %w", raw, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("decode property-path descriptor %q: empty", raw)
	}
	return paths, nil
}

// Resolver has no state beyond the injected data-source bag, per spec §4.2.
type Resolver struct {
	bag models.Bag
}

// New creates a resolver bound to a single request's data-source bag.
func New(bag models.Bag) *Resolver {
	return &Resolver{bag: bag}
}

// ResolveSingle resolves exactly one dotted property path.
func (r *Resolver) ResolveSingle(path string) (models.Value, error) {
	return r.resolvePath(path)
}

// ResolveMany resolves two or more dotted property paths, returning an
// ordered slice that preserves the paths' original order — operators
// such as date_tolerance depend on this ordering (spec §4.2).
func (r *Resolver) ResolveMany(paths []string) ([]models.Value, error) {
	if len(paths) < 2 {
		return nil, fmt.Errorf("resolveMany: requires at least two paths, got %d", len(paths))
	}
	values := make([]models.Value, len(paths))
	for i, p := range paths {
		v, err := r.resolvePath(p)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// ResolveTarget resolves a rule's target descriptor: a single path
// yields one value, multiple paths yield an ordered tuple (spec §4.5.a).
func (r *Resolver) ResolveTarget(paths []string) ([]models.Value, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("resolveTarget: empty target")
	}
	if len(paths) == 1 {
		v, err := r.ResolveSingle(paths[0])
		if err != nil {
			return nil, err
		}
		return []models.Value{v}, nil
	}
	return r.ResolveMany(paths)
}

func (r *Resolver) resolvePath(path string) (models.Value, error) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return models.Null, fmt.Errorf("resolve %q: empty path", path)
	}

	sourceName := segments[0]
	current, ok := r.bag.Get(sourceName)
	if !ok {
		return models.Null, fmt.Errorf("resolve %q: unknown source %q", path, sourceName)
	}

	for _, field := range segments[1:] {
		next, ok := current.Field(field)
		if !ok {
			return models.Null, fmt.Errorf("resolve %q: missing field %q", path, field)
		}
		current = next
	}
	return current, nil
}
