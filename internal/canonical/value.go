package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the JSON shapes allowed in a payload.
// No float type exists: payload numbers are integers (money in micros,
// durations in milliseconds).
type Value interface {
	canonicalValue()
}

// Null is the JSON null literal.
type Null struct{}

// String is a JSON string.
type String string

// Int is a JSON integer.
type Int int64

// Bool is a JSON boolean.
type Bool bool

// Array is an ordered list of values.
type Array []Value

// Object maps keys to values. Iterate with SortedKeys for stable order.
type Object map[string]Value

func (Null) canonicalValue()   {}
func (String) canonicalValue() {}
func (Int) canonicalValue()    {}
func (Bool) canonicalValue()   {}
func (Array) canonicalValue()  {}
func (Object) canonicalValue() {}

// SortedKeys returns the keys in RFC 8785 order (UTF-16 code units).
// sort.Strings orders by UTF-8 bytes, which differs for supplementary
// plane characters.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// String returns the string stored under key, or "" when absent or not a string.
func (o Object) String(key string) string {
	if s, ok := o[key].(String); ok {
		return string(s)
	}
	return ""
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}

// MarshalJSON emits the canonical form so every JSON rendering of a
// payload (wire, storage, hashing) is byte-identical.
func (o Object) MarshalJSON() ([]byte, error) {
	return Marshal(o)
}

// MarshalJSON emits the canonical form.
func (a Array) MarshalJSON() ([]byte, error) {
	return Marshal(a)
}

// UnmarshalJSON decodes a JSON object, rejecting floats.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	obj, ok := v.(Object)
	if !ok {
		return fmt.Errorf("canonical: expected object, got %T", v)
	}
	*o = obj
	return nil
}

// UnmarshalJSON decodes a JSON array, rejecting floats.
func (a *Array) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	arr, ok := v.(Array)
	if !ok {
		return fmt.Errorf("canonical: expected array, got %T", v)
	}
	*a = arr
	return nil
}

// Parse decodes a single JSON document into a Value.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canonical: trailing data after JSON value")
	}
	return FromGo(raw)
}

// FromGo converts plain Go values (as produced by encoding/json with
// UseNumber, or built by hand) into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("canonical: non-integer number %s", val)
		}
		return Int(n), nil
	case float32, float64:
		return nil, fmt.Errorf("canonical: floats are not allowed: %v", val)
	case []string:
		arr := make(Array, len(val))
		for i, s := range val {
			arr[i] = String(s)
		}
		return arr, nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			c, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = c
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			c, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			obj[k] = c
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("canonical: unsupported type %T", v)
	}
}

// ObjectOf converts a struct with json tags into an Object.
func ObjectOf(v any) (Object, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: encode %T: %w", v, err)
	}
	var obj Object
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("canonical: %T: %w", v, err)
	}
	return obj, nil
}

// Decode fills out (a pointer to a struct with json tags) from obj.
// Unknown keys are rejected so a typed view never silently drops data.
func Decode(obj Object, out any) error {
	data, err := Marshal(obj)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("canonical: decode into %T: %w", out, err)
	}
	return nil
}
