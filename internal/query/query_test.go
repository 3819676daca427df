package query

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ordersOver(total any) Query {
	return FromEntity("Order").
		Where(Fn("o", Gt(M("o.total"), total))).
		OrderBy(Fn("o", M("o.placed_at"))).
		Take(10)
}

func TestBuilder_ChainsWithoutMutation(t *testing.T) {
	base := FromEntity("Order")
	filtered := base.Where(Fn("o", Eq(M("o.id"), 1)))

	assert.Equal(t, From{Entity: "Order"}, base.Op())
	w, ok := filtered.Op().(Where)
	require.True(t, ok)
	assert.Equal(t, From{Entity: "Order"}, w.Source)
	assert.Equal(t, "from(Order).where", filtered.String())
}

func TestM_BuildsMemberPath(t *testing.T) {
	assert.Equal(t, Member{X: Member{X: Var{Name: "o"}, Name: "customer"}, Name: "name"}, M("o.customer.name"))
}

func TestParameterize_LiteralOnlyDifferencesShareShape(t *testing.T) {
	s1, v1 := Parameterize(ordersOver(100).Op())
	s2, v2 := Parameterize(ordersOver(250).Op())

	assert.True(t, Equal(s1, s2))
	assert.Equal(t, []any{100, 10}, v1)
	assert.Equal(t, []any{250, 10}, v2)
}

func TestParameterize_KeepsNilAndSequences(t *testing.T) {
	q := FromEntity("Order").
		Where(Fn("o", And(Ne(M("o.note"), nil), statusIn(M("o.status"))))).
		Take(3)
	shape, values := Parameterize(q.Op())
	assert.Equal(t, []any{3}, values)

	w := Source(shape).(Where)
	and := w.Pred.Body.(Binary)
	assert.Equal(t, Const{Value: nil}, and.L.(Binary).R)
	assert.Equal(t, Const{Value: []string{"new", "paid"}}, and.R.(Subquery).Op.(Contains).Source.(Of).Expr)
}

// statusIn tests membership of x in a local slice.
func statusIn(x Expr) Expr {
	return Sub(OfExpr(C([]string{"new", "paid"})).Contains(x))
}

func TestParameterize_DifferentStructureDiffers(t *testing.T) {
	a, _ := Parameterize(ordersOver(1).Op())
	b, _ := Parameterize(ordersOver(1).Skip(2).Op())
	assert.False(t, Equal(a, b))
}

func TestBind_RestoresLiterals(t *testing.T) {
	op := ordersOver(100).Where(Fn("o", Eq(M("o.customer_id"), Arg("cid")))).Op()
	shape, values := Parameterize(op)
	bound := Bind(shape, values, map[string]any{"cid": int64(7)})

	w := bound.(Where)
	assert.Equal(t, Const{Value: int64(7)}, w.Pred.Body.(Binary).R)
	assert.True(t, Equal(Source(bound), op.(Where).Source))
}

func TestSplitArgs(t *testing.T) {
	pos, named := SplitArgs([]any{1, Named("x", "y"), 2})
	assert.Equal(t, []any{1, 2}, pos)
	assert.Equal(t, map[string]any{"x": "y"}, named)
}

func TestApplyBinary_NullSemantics(t *testing.T) {
	v, err := ApplyBinary(OpEq, nil, 1)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, _ = ApplyBinary(OpAnd, nil, false)
	assert.Equal(t, false, v)
	v, _ = ApplyBinary(OpAnd, nil, true)
	assert.Nil(t, v)
	v, _ = ApplyBinary(OpOr, nil, true)
	assert.Equal(t, true, v)
	v, _ = ApplyBinary(OpCoalesce, nil, "x")
	assert.Equal(t, "x", v)
}

func TestApplyBinary_Arithmetic(t *testing.T) {
	cases := []struct {
		op   BinaryOp
		a, b any
		want any
	}{
		{OpAdd, 2, int64(3), int64(5)},
		{OpDiv, 7, 2, int64(3)},
		{OpDiv, 7.0, 2, 3.5},
		{OpDiv, 1, 0, nil},
		{OpMod, 7, 3, int64(1)},
		{OpMul, 1.5, 2, 3.0},
		{OpConcat, "a", 1, "a1"},
		{OpLt, int32(1), 1.5, true},
		{OpEq, true, int64(1), true},
		{OpGe, "b", "a", true},
	}
	for _, c := range cases {
		got, err := ApplyBinary(c.op, c.a, c.b)
		require.NoError(t, err, "%s(%v, %v)", c.op, c.a, c.b)
		assert.Equal(t, c.want, got, "%s(%v, %v)", c.op, c.a, c.b)
	}
}

func TestApplyBinary_InvalidOperands(t *testing.T) {
	_, err := ApplyBinary(OpLt, "abc", []byte("x"))
	require.Error(t, err)
	assert.True(t, ErrInvalidOperands.Is(err))
}

func TestCallFunc(t *testing.T) {
	cases := []struct {
		fn   string
		args []any
		want any
	}{
		{"lower", []any{"AbC"}, "abc"},
		{"length", []any{"h\u00e9"}, int64(2)},
		{"trim", []any{"  x "}, "x"},
		{"abs", []any{int64(-3)}, int64(3)},
		{"round", []any{2.5}, 3.0},
		{"like", []any{"Hello", "h%o"}, true},
		{"like", []any{"Hello", "h_llo"}, true},
		{"like", []any{"Hello", "h_lo"}, false},
		{"startswith", []any{"Hello", "he"}, true},
		{"endswith", []any{"Hello", "LO"}, true},
		{"contains", []any{"Hello", "ell"}, true},
		{"upper", []any{nil}, nil},
	}
	for _, c := range cases {
		got, err := CallFunc(c.fn, c.args)
		require.NoError(t, err, c.fn)
		assert.Equal(t, c.want, got, "%s%v", c.fn, c.args)
	}

	_, err := CallFunc("soundex", []any{"x"})
	assert.True(t, ErrUnknownFunction.Is(err))
}

func TestCompareAndSort(t *testing.T) {
	c, err := Compare(int64(2), 2.0)
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err = Compare(t1, t1.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	assert.Equal(t, -1, SortCompare(nil, 1))
	assert.Equal(t, 1, SortCompare("b", nil))
}

type money int64

func TestConvert(t *testing.T) {
	v, err := Convert(int64(1), reflect.TypeOf(true))
	require.NoError(t, err)
	assert.Equal(t, true, v.Interface())

	v, err = Convert(int64(42), reflect.TypeOf(money(0)))
	require.NoError(t, err)
	assert.Equal(t, money(42), v.Interface())

	v, err = Convert([]byte("hi"), reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Equal(t, "hi", v.Interface())

	v, err = Convert(nil, reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 0, v.Interface())

	v, err = Convert(int64(5), reflect.TypeOf((*int)(nil)))
	require.NoError(t, err)
	assert.Equal(t, 5, *(v.Interface().(*int)))

	v, err = Convert("2024-03-01T10:00:00Z", reflect.TypeOf(time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, 2024, v.Interface().(time.Time).Year())
}

func TestOpString(t *testing.T) {
	q := FromEntity("Customer").
		GroupBy(Fn("c", M("c.city"))).
		Select(Fn("g", Rec("city", M("g.Key"), "n", Sub(OfExpr(V("g")).Count()))))
	assert.Equal(t, "from(Customer).group_by.select", q.String())
	assert.Equal(t, `{city: g.Key, n: sub(of(g).count)}`, String(q.Op().(Select).Fn.Body))
}
