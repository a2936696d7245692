// Package workflow implements the data-flow runtime (component G):
// trust-tagged values, service descriptions, a Dijkstra planner over
// service chains, and a step-capped executor with replan-on-verify-fail.
//
// Grounded on the teacher's workflow engine's two-phase shape (describe
// then run) generalized from a fixed DAG of named nodes to a planned
// sequence of services chosen at run time (SPEC_FULL.md 4.3): same
// "values flow through named steps, merge semantics decide inherit vs.
// replace" idiom, re-pointed at spec.md 4.3's value/status/service model.
package workflow

import "encoding/json"

// ValueKind discriminates a BaseValue's concrete shape.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindNumber
	KindString
	KindList
	KindObject
)

// BaseValue is the sum type spec.md 4.3 names: Null, Bool, Int(i64),
// Number(f64), String, List(BaseValue), Object(map<string, opaque-json>).
type BaseValue struct {
	Kind   ValueKind
	Bool   bool
	Int    int64
	Number float64
	Str    string
	List   []BaseValue
	Object map[string]any
}

func NullValue() BaseValue                { return BaseValue{Kind: KindNull} }
func BoolValue(b bool) BaseValue           { return BaseValue{Kind: KindBool, Bool: b} }
func IntValue(i int64) BaseValue           { return BaseValue{Kind: KindInt, Int: i} }
func NumberValue(n float64) BaseValue      { return BaseValue{Kind: KindNumber, Number: n} }
func StringValue(s string) BaseValue       { return BaseValue{Kind: KindString, Str: s} }
func ListValue(v []BaseValue) BaseValue    { return BaseValue{Kind: KindList, List: v} }
func ObjectValue(m map[string]any) BaseValue { return BaseValue{Kind: KindObject, Object: m} }

// MarshalJSON projects a BaseValue to plain JSON (the "JSON bridge" of
// spec.md 4.3).
func (v BaseValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return json.Marshal(nil)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindNumber:
		return json.Marshal(v.Number)
	case KindString:
		return json.Marshal(v.Str)
	case KindList:
		return json.Marshal(v.List)
	case KindObject:
		return json.Marshal(v.Object)
	default:
		return json.Marshal(nil)
	}
}

// BaseValueFromJSON builds a BaseValue from a generic decoded JSON value
// (the reverse direction of the JSON bridge).
func BaseValueFromJSON(raw any) BaseValue {
	switch t := raw.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(t)
	case float64:
		if t == float64(int64(t)) {
			return IntValue(int64(t))
		}
		return NumberValue(t)
	case string:
		return StringValue(t)
	case []any:
		out := make([]BaseValue, len(t))
		for i, e := range t {
			out[i] = BaseValueFromJSON(e)
		}
		return ListValue(out)
	case map[string]any:
		return ObjectValue(t)
	default:
		return NullValue()
	}
}

// Trust is a WorkflowValue's provenance tag.
type Trust int

const (
	Untrusted Trust = iota
	Trusted
)

// WorkflowValue wraps a BaseValue with a trust tag: Untrusted (came from
// outside the core) or Trusted (produced by a core service, optionally
// recording the promoting service's name).
type WorkflowValue struct {
	Value  BaseValue
	Trust  Trust
	Source string // only meaningful when Trust == Trusted
}

func NewUntrusted(v BaseValue) WorkflowValue {
	return WorkflowValue{Value: v, Trust: Untrusted}
}

func NewTrusted(v BaseValue, source string) WorkflowValue {
	return WorkflowValue{Value: v, Trust: Trusted, Source: source}
}

// Promote returns an explicitly-trusted copy of an untrusted value,
// recording the promoting service (spec.md 4.3: "promotion
// untrusted->trusted is explicit").
func (v WorkflowValue) Promote(source string) WorkflowValue {
	return NewTrusted(v.Value, source)
}

func (v WorkflowValue) IsTrusted() bool { return v.Trust == Trusted }
