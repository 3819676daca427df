package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainPlan = "relq/plan/v1"
	DomainRow  = "relq/row/v1"
)

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PlanID returns a stable identifier for a compiled plan given its
// formatted command text and dialect name.
func PlanID(dialect, text string) string {
	return hashWithDomain(DomainPlan, []byte(dialect+"\x00"+text))
}

// Key returns a string that is equal for two values if and only if they
// bind identically to the store. The kind is part of the key, so Int(1)
// and Float(1) differ.
func Key(v any) (string, error) {
	val, err := FromGo(v)
	if err != nil {
		return "", err
	}
	canonical, err := MarshalCanonical(val)
	if err != nil {
		return "", fmt.Errorf("Key: %w", err)
	}
	return kindTag(val) + ":" + string(canonical), nil
}

// RowKey returns a key for a tuple of values, used to match client-side
// join keys. Each component keeps its kind tag.
func RowKey(values []any) (string, error) {
	parts := make(Array, len(values))
	for i, v := range values {
		val, err := FromGo(v)
		if err != nil {
			return "", fmt.Errorf("RowKey[%d]: %w", i, err)
		}
		parts[i] = val
	}
	canonical, err := MarshalCanonical(tagged(parts))
	if err != nil {
		return "", fmt.Errorf("RowKey: %w", err)
	}
	return hashWithDomain(DomainRow, canonical), nil
}

// MustKey is like Key but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustKey(v any) string {
	k, err := Key(v)
	if err != nil {
		panic(err)
	}
	return k
}

// tagged wraps every leaf of an array with its kind so the canonical form of
// the tuple keeps Int and Float apart.
func tagged(arr Array) Array {
	out := make(Array, len(arr))
	for i, v := range arr {
		out[i] = Array{String(kindTag(v)), v}
	}
	return out
}

func kindTag(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "n"
	case String:
		return "s"
	case Int:
		return "i"
	case Float:
		return "f"
	case Bool:
		return "b"
	case Bytes:
		return "x"
	case Time:
		return "t"
	case Array:
		return "a"
	case Object:
		return "o"
	default:
		return "?"
	}
}

// Normalize converts v to the plain Go form returned by ToGo, so values
// produced by different code paths can be compared with reflect.DeepEqual.
// Times are converted to UTC.
func Normalize(v any) (any, error) {
	val, err := FromGo(v)
	if err != nil {
		return nil, err
	}
	out := ToGo(val)
	return utcTimes(out), nil
}

func utcTimes(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC()
	case []any:
		for i := range val {
			val[i] = utcTimes(val[i])
		}
	case map[string]any:
		for k := range val {
			val[k] = utcTimes(val[k])
		}
	}
	return v
}
