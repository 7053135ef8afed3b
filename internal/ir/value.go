package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
	"unicode/utf16"
)

// Value is a sealed interface over the document field types.
// Only Null, Str, Int, Bool, List and Fields implement it.
// There is no float variant: floats do not hash deterministically.
type Value interface {
	value()
}

// Null is an explicit JSON null.
type Null struct{}

func (Null) value() {}

// Str is a string field value.
type Str string

func (Str) value() {}

// Int is an integer field value. Always int64.
type Int int64

func (Int) value() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) value() {}

// List is an ordered list of values.
type List []Value

func (List) value() {}

// Fields maps field names to values. It is both a document's summary
// record and a nested object value.
// Use SortedKeys for deterministic iteration.
type Fields map[string]Value

func (Fields) value() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's native string order is UTF-8 byte order, which differs above U+FFFF.
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// Clone returns a deep copy of the fields.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case List:
		out := make(List, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case Fields:
		return val.Clone()
	default:
		return v
	}
}

// FromAny converts a decoded YAML or JSON value into a Value.
// Floats are rejected unless they carry an integral value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return Str(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return Int(int64(val)), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("floats are not allowed in document fields: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are not allowed in document fields: %s", val)
		}
		return Int(n), nil
	case time.Time:
		return Str(val.UTC().Format(time.RFC3339Nano)), nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		return FieldsFromMap(val)
	default:
		return nil, fmt.Errorf("unsupported field type: %T", v)
	}
}

// FieldsFromMap converts a decoded YAML or JSON object into Fields.
func FieldsFromMap(m map[string]any) (Fields, error) {
	out := make(Fields, len(m))
	for k, elem := range m {
		conv, err := FromAny(elem)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = conv
	}
	return out, nil
}

// ToAny converts a Value back into plain Go values, suitable for
// encoders that do not know the sealed types.
func ToAny(v Value) any {
	switch val := v.(type) {
	case Null, nil:
		return nil
	case Str:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Fields:
		return val.ToMap()
	default:
		return nil
	}
}

// ToMap converts fields into a plain map.
func (f Fields) ToMap() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = ToAny(v)
	}
	return out
}

// ParseFields decodes a JSON object into Fields with strict number handling.
func ParseFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode fields: expected object, got %T", raw)
	}
	return FieldsFromMap(m)
}

// MarshalJSON renders the fields canonically so that stored rows and
// golden traces are byte-stable.
func (f Fields) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(f)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Fields) UnmarshalJSON(data []byte) error {
	parsed, err := ParseFields(data)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
