package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Type tags the primitive kinds a command parameter may carry.
type Type int

const (
	TypeBoolean Type = iota + 1
	TypeNumber
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name so descriptors list cleanly.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType resolves a type name as used in scripts and descriptors.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "boolean", "bool":
		return TypeBoolean, nil
	case "number":
		return TypeNumber, nil
	case "string":
		return TypeString, nil
	default:
		return 0, fmt.Errorf("unknown parameter type %q", name)
	}
}

// Value is a tagged parameter value.
type Value struct {
	typ Type
	b   bool
	n   float64
	s   string
}

func Bool(b bool) Value      { return Value{typ: TypeBoolean, b: b} }
func Number(n float64) Value { return Value{typ: TypeNumber, n: n} }
func String(s string) Value  { return Value{typ: TypeString, s: s} }

func (v Value) Type() Type        { return v.typ }
func (v Value) AsBool() bool      { return v.b }
func (v Value) AsNumber() float64 { return v.n }
func (v Value) AsString() string  { return v.s }

// Any unwraps the value to its Go primitive.
func (v Value) Any() any {
	switch v.typ {
	case TypeBoolean:
		return v.b
	case TypeNumber:
		return v.n
	case TypeString:
		return v.s
	default:
		return nil
	}
}

// Equal compares tag and payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeBoolean:
		return v.b == o.b
	case TypeNumber:
		return v.n == o.n
	case TypeString:
		return v.s == o.s
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// key is a canonical, tag-prefixed encoding: Number(1) and String("1") differ.
func (v Value) key() string {
	switch v.typ {
	case TypeBoolean:
		return "b:" + strconv.FormatBool(v.b)
	case TypeNumber:
		if v.n == 0 {
			// -0 == 0
			return "n:0"
		}
		return "n:" + strconv.FormatFloat(v.n, 'g', -1, 64)
	case TypeString:
		return "s:" + strconv.Quote(v.s)
	default:
		return "?"
	}
}

// Lift tags a raw decoded JSON value. ok is false for null, arrays and
// objects, which no parameter type accepts.
func Lift(raw any) (Value, bool) {
	switch x := raw.(type) {
	case bool:
		return Bool(x), true
	case float64:
		return Number(x), true
	case float32:
		return Number(float64(x)), true
	case int:
		return Number(float64(x)), true
	case int64:
		return Number(float64(x)), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, false
		}
		return Number(f), true
	case string:
		return String(x), true
	default:
		return Value{}, false
	}
}

// describe names the kind of a raw value for mismatch reports.
func describe(raw any) string {
	if v, ok := Lift(raw); ok {
		return v.Type().String()
	}
	switch raw.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", raw)
	}
}

// Args is the positional argument list handed to a command handler.
type Args []Value

// Equal is order-sensitive structural equality.
func (a Args) Equal(o Args) bool {
	if len(a) != len(o) {
		return false
	}
	for i := range a {
		if !a[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Key is a canonical string for a; two Args share a Key iff they are Equal.
func (a Args) Key() string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = v.key()
	}
	return strings.Join(parts, ",")
}

// Bool returns argument i as a boolean; false when absent.
func (a Args) Bool(i int) bool {
	if i >= len(a) {
		return false
	}
	return a[i].AsBool()
}

// Number returns argument i as a number; 0 when absent.
func (a Args) Number(i int) float64 {
	if i >= len(a) {
		return 0
	}
	return a[i].AsNumber()
}

// String returns argument i as a string; "" when absent.
func (a Args) String(i int) string {
	if i >= len(a) {
		return ""
	}
	return a[i].AsString()
}

// Has reports whether argument i was supplied.
func (a Args) Has(i int) bool {
	return i < len(a)
}

// Strings builds Args from string values, the common subscription key shape.
func Strings(values ...string) Args {
	out := make(Args, len(values))
	for i, s := range values {
		out[i] = String(s)
	}
	return out
}
