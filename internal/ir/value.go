package ir

import (
	"fmt"
	"reflect"
	"slices"
	"time"
	"unicode/utf16"
)

// Value is a sealed interface over the canonical value kinds.
// Only Null, String, Int, Float, Bool, Bytes, Time, Array and Object implement it.
type Value interface {
	irValue()
}

// Null is the SQL NULL / Go nil value.
type Null struct{}

func (Null) irValue() {}

// String is a text value.
type String string

func (String) irValue() {}

// Int is any signed or unsigned integer that fits in int64.
type Int int64

func (Int) irValue() {}

// Float is any floating point value.
type Float float64

func (Float) irValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) irValue() {}

// Bytes is a binary value.
type Bytes []byte

func (Bytes) irValue() {}

// Time is a timestamp. Canonical form is UTC with nanosecond precision.
type Time time.Time

func (Time) irValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) irValue() {}

// Object is a map of string keys to values.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) irValue() {}

var timeType = reflect.TypeOf(time.Time{})

// FromGo converts an arbitrary Go value to its canonical Value.
//
// Pointers are dereferenced (nil pointers become Null), named types are
// unwrapped to their underlying kind, and structs become Objects keyed by
// exported field name.
func FromGo(v any) (Value, error) {
	if v == nil {
		return Null{}, nil
	}
	if iv, ok := v.(Value); ok {
		return iv, nil
	}
	switch val := v.(type) {
	case string:
		return String(val), nil
	case int64:
		return Int(val), nil
	case int:
		return Int(val), nil
	case bool:
		return Bool(val), nil
	case float64:
		return Float(val), nil
	case []byte:
		return Bytes(val), nil
	case time.Time:
		return Time(val), nil
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Invalid:
		return Null{}, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return fromReflect(rv.Elem())
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > 1<<63-1 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return Bytes(b), nil
		}
		arr := make(Array, rv.Len())
		for i := range arr {
			elem, err := fromReflect(rv.Index(i))
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = elem
		}
		return arr, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type: %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return Null{}, nil
		}
		obj := make(Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			elem, err := fromReflect(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", iter.Key().String(), err)
			}
			obj[iter.Key().String()] = elem
		}
		return obj, nil
	case reflect.Struct:
		if rv.Type() == timeType {
			return Time(rv.Interface().(time.Time)), nil
		}
		obj := make(Object, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			f := rv.Type().Field(i)
			if !f.IsExported() {
				continue
			}
			elem, err := fromReflect(rv.Field(i))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			obj[f.Name] = elem
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", rv.Type())
	}
}

// ToGo converts a Value back to plain Go values: nil, string, int64,
// float64, bool, []byte, time.Time, []any and map[string]any.
func ToGo(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Bytes:
		return []byte(val)
	case Time:
		return time.Time(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
// Go's native string order is by UTF-8 bytes, which differs above U+FFFF.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
