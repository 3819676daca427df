package query

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cast"
	"gopkg.in/src-d/go-errors.v1"
)

// ErrInvalidOperands is returned when an operator cannot be applied to the
// operand types it was given.
var ErrInvalidOperands = errors.NewKind("cannot apply %s to %T and %T")

// ErrUnknownFunction is returned for an unknown Call function name.
var ErrUnknownFunction = errors.NewKind("unknown function %q")

// The functions below evaluate operators on the client with the store's
// semantics: null propagates through arithmetic and comparisons, and AND/OR
// use three-valued logic. The engine uses them for projector expressions
// and the in-memory evaluator uses them for everything.

// ApplyBinary evaluates a op b.
func ApplyBinary(op BinaryOp, a, b any) (any, error) {
	switch op {
	case OpAnd:
		return and3(a, b), nil
	case OpOr:
		return or3(a, b), nil
	case OpCoalesce:
		if a != nil {
			return a, nil
		}
		return b, nil
	}
	if a == nil || b == nil {
		return nil, nil
	}
	if op.IsComparison() {
		c, err := Compare(a, b)
		if err != nil {
			return nil, ErrInvalidOperands.New(op, a, b)
		}
		switch op {
		case OpEq:
			return c == 0, nil
		case OpNe:
			return c != 0, nil
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	if op == OpConcat {
		return cast.ToString(a) + cast.ToString(b), nil
	}
	return arith(op, a, b)
}

// ApplyUnary evaluates op x.
func ApplyUnary(op UnaryOp, x any) (any, error) {
	if x == nil {
		return nil, nil
	}
	if op == OpNot {
		return !Truthy(x), nil
	}
	switch v := number(x).(type) {
	case int64:
		return -v, nil
	case float64:
		return -v, nil
	}
	return nil, ErrInvalidOperands.New(op, x, x)
}

// CallFunc evaluates a scalar function.
func CallFunc(name string, args []any) (any, error) {
	want, ok := Functions[name]
	if !ok {
		return nil, ErrUnknownFunction.New(name)
	}
	if len(args) != want {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", name, want, len(args))
	}
	for _, a := range args {
		if a == nil {
			return nil, nil
		}
	}
	switch name {
	case "lower":
		return strings.ToLower(cast.ToString(args[0])), nil
	case "upper":
		return strings.ToUpper(cast.ToString(args[0])), nil
	case "length":
		return int64(utf8.RuneCountInString(cast.ToString(args[0]))), nil
	case "trim":
		return strings.Trim(cast.ToString(args[0]), " "), nil
	case "abs":
		switch v := number(args[0]).(type) {
		case int64:
			if v < 0 {
				return -v, nil
			}
			return v, nil
		case float64:
			return math.Abs(v), nil
		}
		return nil, ErrInvalidOperands.New(name, args[0], args[0])
	case "round":
		return math.Round(cast.ToFloat64(args[0])), nil
	case "like":
		return Like(cast.ToString(args[0]), cast.ToString(args[1])), nil
	case "startswith":
		return hasPrefixFold(cast.ToString(args[0]), cast.ToString(args[1])), nil
	case "endswith":
		s, suffix := cast.ToString(args[0]), cast.ToString(args[1])
		return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix), nil
	case "contains":
		return strings.Contains(strings.ToLower(cast.ToString(args[0])), strings.ToLower(cast.ToString(args[1]))), nil
	}
	return nil, ErrUnknownFunction.New(name)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Like matches s against a LIKE pattern (% and _ wildcards, ASCII case
// insensitive).
func Like(s, pattern string) bool {
	return likeMatch([]rune(strings.ToLower(s)), []rune(strings.ToLower(pattern)))
}

func likeMatch(s, p []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '%':
			for len(p) > 0 && p[0] == '%' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if likeMatch(s[i:], p) {
					return true
				}
			}
			return false
		case '_':
			if len(s) == 0 {
				return false
			}
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
		}
		s, p = s[1:], p[1:]
	}
	return len(s) == 0
}

// Truthy reports whether v counts as true in a predicate. Null is false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	switch n := number(v).(type) {
	case int64:
		return n != 0
	case float64:
		return n != 0
	}
	return cast.ToBool(v)
}

func and3(a, b any) any {
	if (a != nil && !Truthy(a)) || (b != nil && !Truthy(b)) {
		return false
	}
	if a == nil || b == nil {
		return nil
	}
	return true
}

func or3(a, b any) any {
	if (a != nil && Truthy(a)) || (b != nil && Truthy(b)) {
		return true
	}
	if a == nil || b == nil {
		return nil
	}
	return false
}

// number returns v as int64 or float64, or v unchanged when it is not
// numeric. Booleans count as 0 and 1.
func number(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int64, float64:
		return x
	case float32:
		return float64(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

func arith(op BinaryOp, a, b any) (any, error) {
	x, y := number(a), number(b)
	xi, xInt := x.(int64)
	yi, yInt := y.(int64)
	if xInt && yInt {
		switch op {
		case OpAdd:
			return xi + yi, nil
		case OpSub:
			return xi - yi, nil
		case OpMul:
			return xi * yi, nil
		case OpDiv:
			if yi == 0 {
				return nil, nil
			}
			return xi / yi, nil
		case OpMod:
			if yi == 0 {
				return nil, nil
			}
			return xi % yi, nil
		}
	}
	xf, errX := cast.ToFloat64E(x)
	yf, errY := cast.ToFloat64E(y)
	if errX != nil || errY != nil || !isNumeric(x) || !isNumeric(y) {
		if op == OpAdd {
			if s, ok := a.(string); ok {
				return s + cast.ToString(b), nil
			}
		}
		return nil, ErrInvalidOperands.New(op, a, b)
	}
	switch op {
	case OpAdd:
		return xf + yf, nil
	case OpSub:
		return xf - yf, nil
	case OpMul:
		return xf * yf, nil
	case OpDiv:
		if yf == 0 {
			return nil, nil
		}
		return xf / yf, nil
	case OpMod:
		if yf == 0 {
			return nil, nil
		}
		return math.Mod(xf, yf), nil
	}
	return nil, ErrInvalidOperands.New(op, a, b)
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

// Compare orders two non-null values: numbers numerically, strings and byte
// slices lexically, times chronologically. Values of unrelated kinds are an
// error.
func Compare(a, b any) (int, error) {
	x, y := number(a), number(b)
	if isNumeric(x) && isNumeric(y) {
		xi, xInt := x.(int64)
		yi, yInt := y.(int64)
		if xInt && yInt {
			return cmpOrdered(xi, yi), nil
		}
		return cmpOrdered(cast.ToFloat64(x), cast.ToFloat64(y)), nil
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), nil
		}
		if isNumeric(y) {
			if f, err := cast.ToFloat64E(av); err == nil {
				return cmpOrdered(f, cast.ToFloat64(y)), nil
			}
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv), nil
		}
	case time.Time:
		bt, err := cast.ToTimeE(b)
		if err == nil {
			return av.Compare(bt), nil
		}
	}
	if bs, ok := b.(string); ok && isNumeric(x) {
		if f, err := cast.ToFloat64E(bs); err == nil {
			return cmpOrdered(cast.ToFloat64(x), f), nil
		}
	}
	if bt, ok := b.(time.Time); ok {
		at, err := cast.ToTimeE(a)
		if err == nil {
			return at.Compare(bt), nil
		}
	}
	return 0, ErrInvalidOperands.New("compare", a, b)
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortCompare is Compare extended to nulls, which sort first, and to
// incomparable values, which compare by their printed form.
func SortCompare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, err := Compare(a, b); err == nil {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Convert converts v to type t with the conversions a store driver value
// needs: numbers to any numeric kind, 0/1 to bool, strings and byte slices
// to each other, strings to times. A nil v yields the zero value.
func Convert(v any, t reflect.Type) (reflect.Value, error) {
	if t == nil {
		return reflect.ValueOf(v), nil
	}
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return rv, nil
	}
	if t.Kind() == reflect.Pointer {
		inner, err := Convert(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	}
	if t.Kind() == reflect.Interface {
		if rv.Type().Implements(t) {
			out := reflect.New(t).Elem()
			out.Set(rv)
			return out, nil
		}
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
	}
	var (
		out any
		err error
	)
	switch t.Kind() {
	case reflect.Bool:
		out, err = cast.ToBoolE(v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		n, err = cast.ToInt64E(v)
		out = n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		n, err = cast.ToUint64E(v)
		out = n
	case reflect.Float32, reflect.Float64:
		out, err = cast.ToFloat64E(v)
	case reflect.String:
		if b, ok := v.([]byte); ok {
			out = string(b)
		} else {
			out, err = cast.ToStringE(v)
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			if s, ok := v.(string); ok {
				out = []byte(s)
			}
		}
	case reflect.Struct:
		if t == reflect.TypeOf(time.Time{}) {
			out, err = cast.ToTimeE(v)
		}
	}
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", v, t, err)
	}
	if out == nil {
		if rv.Type().ConvertibleTo(t) {
			return rv.Convert(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
	}
	return reflect.ValueOf(out).Convert(t), nil
}
