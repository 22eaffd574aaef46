package operators

import (
	"fmt"
	"regexp"
	"time"

	"github.com/wildfire-guardrail/engine/pkg/models"
)

// Func is one named, side-effect-free predicate. values holds the
// resolved target value(s) in target/depends order; criteria has already
// had any property-path references substituted by the engine.
//
// Operators never read from the cache or the record store — they are
// pure functions of their inputs, per spec §4.3.
type Func func(values []models.Value, criteria models.Criteria) (bool, error)

// Def is one registered operator: its stable name, id, and predicate.
type Def struct {
	ID   int
	Name string
	Fn   Func
}

// Library maps the fixed operator ids and names to their predicates
// (spec §4.3). Ids are part of the configuration contract and must
// never be renumbered.
type Library struct {
	byID   map[int]Def
	byName map[string]Def
}

// NewLibrary builds the standard 16-operator library.
func NewLibrary() *Library {
	defs := []Def{
		{1, "exists", exists},
		{2, "is_true", isTrue},
		{3, "is_false", isFalse},
		{4, "regex", matchRegex},
		{5, "num_>", numGT},
		{6, "num_>=", numGTE},
		{7, "num_<", numLT},
		{8, "num_<=", numLTE},
		{9, "num_=", numEQ},
		{10, "num_!=", numNEQ},
		{11, "str_=", strEQ},
		{12, "str_!=", strNEQ},
		{13, "in_set", inSet},
		{14, "not_in_set", notInSet},
		{15, "between", between},
		{16, "date_tolerance", dateTolerance},
	}

	lib := &Library{
		byID:   make(map[int]Def, len(defs)),
		byName: make(map[string]Def, len(defs)),
	}
	for _, d := range defs {
		lib.byID[d.ID] = d
		lib.byName[d.Name] = d
	}
	return lib
}

// ByID looks up an operator by its stable integer id.
func (l *Library) ByID(id int) (Def, bool) {
	d, ok := l.byID[id]
	return d, ok
}

// ByName looks up an operator by its stable string name (used by sub-rules).
func (l *Library) ByName(name string) (Def, bool) {
	d, ok := l.byName[name]
	return d, ok
}

// Evaluate runs the operator's predicate, wrapping panics from malformed
// inputs (e.g. a nil map access) into an OperatorError-shaped error so
// the engine can record a FAIL/RESTRICT outcome instead of crashing.
func (d Def) Evaluate(values []models.Value, criteria models.Criteria) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operator %s: %v", d.Name, r)
		}
	}()
	return d.Fn(values, criteria)
}

func firstValue(values []models.Value) models.Value {
	if len(values) == 0 {
		return models.Null
	}
	return values[0]
}

// ── 1–3: existence / strict booleans ────────────────────────

func exists(values []models.Value, _ models.Criteria) (bool, error) {
	return !firstValue(values).IsNullOrEmpty(), nil
}

func isTrue(values []models.Value, _ models.Criteria) (bool, error) {
	b, ok := firstValue(values).AsBool()
	return ok && b, nil
}

func isFalse(values []models.Value, _ models.Criteria) (bool, error) {
	b, ok := firstValue(values).AsBool()
	return ok && !b, nil
}

// ── 4: regex ─────────────────────────────────────────────────

func matchRegex(values []models.Value, criteria models.Criteria) (bool, error) {
	s, ok := firstValue(values).AsString()
	if !ok {
		return false, fmt.Errorf("regex: value is not string-coercible")
	}
	pattern, ok := criteria.Literal.AsString()
	if !ok {
		return false, fmt.Errorf("regex: criteria is not a string pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("regex: invalid pattern %q: %w", pattern, err)
	}
	return re.MatchString(s), nil
}

// ── 5–10: numeric comparisons ────────────────────────────────

func numCompare(values []models.Value, criteria models.Criteria, cmp func(a, b float64) bool) (bool, error) {
	v, ok := firstValue(values).AsFloat()
	if !ok {
		return false, fmt.Errorf("value is not numeric")
	}
	c, ok := criteria.Literal.AsFloat()
	if !ok {
		return false, fmt.Errorf("criteria is not numeric")
	}
	return cmp(v, c), nil
}

func numGT(v []models.Value, c models.Criteria) (bool, error) {
	return numCompare(v, c, func(a, b float64) bool { return a > b })
}
func numGTE(v []models.Value, c models.Criteria) (bool, error) {
	return numCompare(v, c, func(a, b float64) bool { return a >= b })
}
func numLT(v []models.Value, c models.Criteria) (bool, error) {
	return numCompare(v, c, func(a, b float64) bool { return a < b })
}
func numLTE(v []models.Value, c models.Criteria) (bool, error) {
	return numCompare(v, c, func(a, b float64) bool { return a <= b })
}
func numEQ(v []models.Value, c models.Criteria) (bool, error) {
	return numCompare(v, c, func(a, b float64) bool { return a == b })
}
func numNEQ(v []models.Value, c models.Criteria) (bool, error) {
	return numCompare(v, c, func(a, b float64) bool { return a != b })
}

// ── 11–12: string equality ───────────────────────────────────

func strEQ(values []models.Value, criteria models.Criteria) (bool, error) {
	s, ok := firstValue(values).AsString()
	if !ok {
		return false, fmt.Errorf("str_=: value is not string-coercible")
	}
	c, ok := criteria.Literal.AsString()
	if !ok {
		return false, fmt.Errorf("str_=: criteria is not string-coercible")
	}
	return s == c, nil
}

func strNEQ(values []models.Value, criteria models.Criteria) (bool, error) {
	eq, err := strEQ(values, criteria)
	if err != nil {
		return false, err
	}
	return !eq, nil
}

// ── 13–14: set membership ────────────────────────────────────

func inSet(values []models.Value, criteria models.Criteria) (bool, error) {
	if criteria.Literal.Kind != models.KindArray {
		return false, fmt.Errorf("in_set: criteria is not a JSON array")
	}
	v := firstValue(values)
	for _, elem := range criteria.Literal.Array {
		if v.Equal(elem) {
			return true, nil
		}
	}
	return false, nil
}

func notInSet(values []models.Value, criteria models.Criteria) (bool, error) {
	in, err := inSet(values, criteria)
	if err != nil {
		return false, err
	}
	return !in, nil
}

// ── 15: between ──────────────────────────────────────────────

func between(values []models.Value, criteria models.Criteria) (bool, error) {
	if criteria.Literal.Kind != models.KindObject {
		return false, fmt.Errorf("between: criteria is not an object")
	}
	fromV, ok1 := criteria.Literal.Field("from")
	toV, ok2 := criteria.Literal.Field("to")
	if !ok1 || !ok2 {
		return false, fmt.Errorf("between: criteria requires 'from' and 'to'")
	}
	from, ok1 := fromV.AsFloat()
	to, ok2 := toV.AsFloat()
	if !ok1 || !ok2 {
		return false, fmt.Errorf("between: 'from'/'to' must be numeric")
	}
	v, ok := firstValue(values).AsFloat()
	if !ok {
		return false, fmt.Errorf("between: value is not numeric")
	}
	return v >= from && v <= to, nil
}

// ── 16: date_tolerance ───────────────────────────────────────

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q: %w", s, lastErr)
}

// dateTolerance compares the absolute day-difference between two dates
// against a one- or two-element bound. The engine resolves any
// property-path elements in criteria before calling this; by the time
// it reaches here, criteria.Literal is always the fully-resolved array.
func dateTolerance(values []models.Value, criteria models.Criteria) (bool, error) {
	if len(values) != 2 {
		return false, fmt.Errorf("date_tolerance: requires exactly two target values, got %d", len(values))
	}
	d1, ok1 := values[0].AsString()
	d2, ok2 := values[1].AsString()
	if !ok1 || !ok2 {
		return false, fmt.Errorf("date_tolerance: values must be date strings")
	}
	t1, err := parseDate(d1)
	if err != nil {
		return false, fmt.Errorf("date_tolerance: %w", err)
	}
	t2, err := parseDate(d2)
	if err != nil {
		return false, fmt.Errorf("date_tolerance: %w", err)
	}

	if criteria.Literal.Kind != models.KindArray {
		return false, fmt.Errorf("date_tolerance: criteria must be an array")
	}
	bounds := criteria.Literal.Array
	if len(bounds) != 1 && len(bounds) != 2 {
		return false, fmt.Errorf("date_tolerance: criteria array must have 1 or 2 elements, got %d", len(bounds))
	}

	diffDays := t1.Sub(t2).Hours() / 24
	if diffDays < 0 {
		diffDays = -diffDays
	}

	min, ok := bounds[0].AsFloat()
	if !ok {
		return false, fmt.Errorf("date_tolerance: bound is not numeric")
	}
	if len(bounds) == 1 {
		return diffDays >= min, nil
	}
	max, ok := bounds[1].AsFloat()
	if !ok {
		return false, fmt.Errorf("date_tolerance: bound is not numeric")
	}
	return diffDays >= min && diffDays <= max, nil
}
