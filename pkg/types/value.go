package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the variants a Value can hold.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged variant holding a single property value.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

// Properties maps property names to values.
type Properties map[string]Value

// NullValue returns the null Value.
func NullValue() Value { return Value{} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue wraps a float64.
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

// IntValue wraps an integer as a number.
func IntValue(i int) Value { return Value{kind: KindNumber, num: float64(i)} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue wraps a list of values.
func ListValue(items ...Value) Value { return Value{kind: KindList, list: items} }

// MapValue wraps a nested map of values.
func MapValue(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Scalar reports whether the value is indexable (string, number, or bool).
func (v Value) Scalar() bool {
	switch v.kind {
	case KindString, KindNumber, KindBool:
		return true
	default:
		return false
	}
}

// Str returns the string payload. Zero value for other kinds.
func (v Value) Str() string { return v.str }

// Num returns the numeric payload. Zero value for other kinds.
func (v Value) Num() float64 { return v.num }

// Bool returns the boolean payload. Zero value for other kinds.
func (v Value) Bool() bool { return v.b }

// List returns the list payload. Nil for other kinds.
func (v Value) List() []Value { return v.list }

// Map returns the map payload. Nil for other kinds.
func (v Value) Map() map[string]Value { return v.m }

// ScalarKey is a comparable projection of a scalar Value, usable as a map key
// in inverted indices. The second return is false for non-scalar values.
type ScalarKey struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
}

// ScalarKey projects a scalar value to its comparable index key.
func (v Value) ScalarKey() (ScalarKey, bool) {
	if !v.Scalar() {
		return ScalarKey{}, false
	}
	return ScalarKey{Kind: v.kind, Str: v.str, Num: v.num, Bool: v.b}, true
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, vv := range v.m {
			ov, ok := o.m[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value for text representations such as embedding input.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return "null"
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return v.kind.String()
		}
		return string(raw)
	}
}

// ToAny converts the value to plain Go types (string, float64, bool, nil,
// []any, map[string]any) for interchange with encoders and event payloads.
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}

// FromAny converts a plain Go value into a tagged Value. Unsupported types
// yield an error rather than a silent null.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(x), nil
	case bool:
		return BoolValue(x), nil
	case float64:
		return NumberValue(x), nil
	case float32:
		return NumberValue(float64(x)), nil
	case int:
		return NumberValue(float64(x)), nil
	case int32:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", x.String(), err)
		}
		return NumberValue(f), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return ListValue(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return MapValue(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported property type %T", raw)
	}
}

// MarshalJSON encodes the value as its plain JSON equivalent.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON decodes any JSON value into a tagged Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, list: items}
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			m[k] = item.Clone()
		}
		return Value{kind: KindMap, m: m}
	default:
		return v
	}
}

// Clone returns a deep copy of the property map.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}
	return out
}

// ToAny converts the property map to map[string]any.
func (p Properties) ToAny() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.ToAny()
	}
	return out
}

// PropertiesFromAny converts a plain map into Properties.
func PropertiesFromAny(raw map[string]any) (Properties, error) {
	out := make(Properties, len(raw))
	for k, v := range raw {
		val, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}
