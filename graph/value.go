package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the representation held by a Value.
type Kind uint8

// Value kinds
const (
	KindInvalid Kind = iota
	KindString
	KindStringList
	KindNumber
	KindBool
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindStringList:
		return "string_list"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a tagged property value. The zero Value is invalid and is never
// stored; absent document fields produce no property at all.
type Value struct {
	kind Kind
	str  string
	list []string
	num  float64
	b    bool
}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// ListValue returns a string-list Value. The slice is copied.
func ListValue(items ...string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{kind: KindStringList, list: cp}
}

// NumberValue returns a numeric Value.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports the representation of v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Str returns the string payload; empty for other kinds.
func (v Value) Str() string { return v.str }

// List returns a copy of the list payload; nil for other kinds.
func (v Value) List() []string {
	if v.kind != KindStringList {
		return nil
	}
	cp := make([]string, len(v.list))
	copy(cp, v.list)
	return cp
}

// Num returns the numeric payload.
func (v Value) Num() float64 { return v.num }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.b }

// Text renders a scalar as the string used for identity keys and list
// membership. Lists render as their comma-joined items.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindStringList:
		return strings.Join(v.list, ",")
	default:
		return ""
	}
}

// IdentityKey is the canonical encoding of the vertex identity (label, key).
// The key's kind is part of it, so NumberValue(1) and StringValue("1") differ,
// and list elements are encoded separately, so ["a,b"] and ["a","b"] differ.
func IdentityKey(label string, key Property) string {
	data, _ := json.Marshal([]any{label, key.Name, key.Value.kind.String(), key.Value})
	return string(data)
}

// String implements fmt.Stringer
func (v Value) String() string {
	if v.kind == KindStringList {
		return "[" + strings.Join(v.list, ", ") + "]"
	}
	return v.Text()
}

// Any returns the plain Go representation (string, []string, float64, bool).
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindStringList:
		return v.List()
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindStringList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Matches reports whether a stored property value satisfies a filter value.
// A list-valued property matches a scalar it contains; two lists match when
// they share an item; scalars match when equal.
func (v Value) Matches(want Value) bool {
	switch {
	case v.kind == KindStringList && want.kind == KindStringList:
		for _, a := range want.list {
			if v.contains(a) {
				return true
			}
		}
		return false
	case v.kind == KindStringList:
		return v.contains(want.Text())
	case want.kind == KindStringList:
		return want.contains(v.Text())
	default:
		return v.Equal(want)
	}
}

func (v Value) contains(s string) bool {
	for _, item := range v.list {
		if item == s {
			return true
		}
	}
	return false
}

// FromAny converts a decoded JSON value into a Value. It reports false for
// nil, which callers treat as an absent property. Arrays of scalars become
// string lists; objects and nested arrays are kept as compact JSON text.
func FromAny(x any) (Value, bool) {
	switch t := x.(type) {
	case nil:
		return Value{}, false
	case string:
		return StringValue(t), true
	case bool:
		return BoolValue(t), true
	case float64:
		return NumberValue(t), true
	case float32:
		return NumberValue(float64(t)), true
	case int:
		return NumberValue(float64(t)), true
	case int64:
		return NumberValue(float64(t)), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return StringValue(t.String()), true
		}
		return NumberValue(f), true
	case []string:
		return ListValue(t...), true
	case []any:
		items := make([]string, 0, len(t))
		for _, el := range t {
			s, ok := scalarText(el)
			if !ok {
				return jsonText(t), true
			}
			items = append(items, s)
		}
		return ListValue(items...), true
	default:
		return jsonText(t), true
	}
}

func scalarText(x any) (string, bool) {
	switch t := x.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func jsonText(x any) Value {
	data, err := json.Marshal(x)
	if err != nil {
		return StringValue(fmt.Sprint(x))
	}
	return StringValue(string(data))
}

// MarshalJSON encodes the value as its native JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindStringList && v.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes a native JSON value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = Value{}
		return nil
	}
	if arr, ok := raw.([]any); ok && len(arr) == 0 {
		*v = ListValue()
		return nil
	}
	val, _ := FromAny(raw)
	*v = val
	return nil
}
