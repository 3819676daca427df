package store

import (
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/roach88/relq/internal/mapping"
)

// bindValue converts a seed value, as decoded from YAML or built in Go, to
// the value stored in m's column. Times are stored as RFC 3339 text and
// booleans as 0 or 1.
func bindValue(m mapping.Member, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch m.StoreType {
	case "INTEGER":
		out, err = cast.ToInt64E(v)
	case "REAL":
		out, err = cast.ToFloat64E(v)
	case "BOOLEAN":
		var b bool
		b, err = cast.ToBoolE(v)
		out = 0
		if b {
			out = 1
		}
	case "TIMESTAMP":
		var t time.Time
		t, err = cast.ToTimeE(v)
		out = t.UTC().Format(time.RFC3339Nano)
	case "BLOB":
		switch b := v.(type) {
		case []byte:
			out = b
		default:
			var s string
			s, err = cast.ToStringE(v)
			out = []byte(s)
		}
	default:
		out, err = cast.ToStringE(v)
	}
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", m.Name, err)
	}
	return out, nil
}

// scanValue converts a column value read from SQLite back to the member's
// store type.
func scanValue(m mapping.Member, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		if m.StoreType == "BLOB" {
			return append([]byte(nil), x...), nil
		}
		v = string(x)
	}
	switch m.StoreType {
	case "BOOLEAN":
		return cast.ToBoolE(v)
	case "TIMESTAMP":
		return cast.ToTimeE(v)
	}
	return v, nil
}
