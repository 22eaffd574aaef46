// Package models defines the wire and in-memory shapes of the guardrail
// evaluation engine: the tagged-variant Value, the Rule/RuleSet/Outcome
// records, and the request/response envelopes.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the variant a Value currently holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the uniform, tagged-variant representation of any datum that
// flows through the engine: a resolved target, a parsed criteria, or a
// field inside a data-source tree.
//
// Re-architected from the source's dynamically-typed "any" per the
// design notes: resolver and data sources produce Values, operators
// pattern-match on Kind instead of doing interface{} type switches.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Array  []Value
	Object map[string]Value
}

// Null is the shared zero-ish Value for "no value."
var Null = Value{Kind: KindNull}

func BoolValue(b bool) Value    { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value    { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func ArrayValue(a []Value) Value { return Value{Kind: KindArray, Array: a} }
func ObjectValue(o map[string]Value) Value { return Value{Kind: KindObject, Object: o} }

// IsNullOrEmpty reports whether v is null or an empty string — the
// semantics the `exists` operator checks.
func (v Value) IsNullOrEmpty() bool {
	return v.Kind == KindNull || (v.Kind == KindString && v.Str == "")
}

// AsFloat coerces the Value to a float64, mirroring the source's numeric
// coercion: ints and floats convert directly, strings parse if numeric.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsString renders the Value as a string for operators (regex, str_=)
// that coerce their operand to text.
func (v Value) AsString() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindInt:
		return strconv.FormatInt(v.Int, 10), true
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64), true
	case KindBool:
		return strconv.FormatBool(v.Bool), true
	default:
		return "", false
	}
}

// AsBool returns the Value if and only if it is a strict boolean — used
// by is_true/is_false, which do not coerce.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// Equal compares two Values for the in_set/not_in_set operators. Two
// nulls are equal; a null equals nothing else.
func (v Value) Equal(other Value) bool {
	if v.Kind == KindNull || other.Kind == KindNull {
		return v.Kind == other.Kind
	}
	if v.Kind == KindString || other.Kind == KindString {
		vs, vok := v.AsString()
		os_, ook := other.AsString()
		return vok && ook && vs == os_
	}
	vf, vok := v.AsFloat()
	of, ook := other.AsFloat()
	if vok && ook {
		return vf == of
	}
	return false
}

// FromJSON converts a decoded encoding/json value (as produced by
// json.Unmarshal into interface{}) into a Value.
func FromJSON(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null
	case bool:
		return BoolValue(t)
	case float64:
		if t == float64(int64(t)) {
			return IntValue(int64(t))
		}
		return FloatValue(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		f, _ := t.Float64()
		return FloatValue(f)
	case string:
		return StringValue(t)
	case []interface{}:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = FromJSON(e)
		}
		return ArrayValue(arr)
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = FromJSON(e)
		}
		return ObjectValue(obj)
	default:
		return Null
	}
}

// ParseJSON decodes a raw JSON-encoded string into a Value tree.
func ParseJSON(raw string) (Value, error) {
	if raw == "" {
		return Null, nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return Null, fmt.Errorf("invalid JSON: %w", err)
	}
	return FromJSON(decoded), nil
}

// Field looks up a field by name on an Object Value.
func (v Value) Field(name string) (Value, bool) {
	if v.Kind != KindObject {
		return Null, false
	}
	f, ok := v.Object[name]
	return f, ok
}

// MarshalJSON renders a Value back to JSON, used when serializing
// Outcome.EvaluatedValue for the response envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	case KindArray:
		return json.Marshal(v.Array)
	case KindObject:
		return json.Marshal(v.Object)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON reconstructs a Value from JSON (used by config/test fixtures).
func (v *Value) UnmarshalJSON(data []byte) error {
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*v = FromJSON(decoded)
	return nil
}
