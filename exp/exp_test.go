package exp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCtx() *Ctx {
	c := NewCtx(map[string]interface{}{
		"user": map[string]interface{}{
			"id":       float64(7),
			"name":     "ann",
			"is_staff": true,
			"roles":    []interface{}{"editor", "writer"},
		},
	}, map[string]interface{}{
		"id":        float64(1),
		"name":      "first",
		"is_active": true,
		"score":     float64(4),
		"tags":      []interface{}{"a", "b", "a"},
	})
	c.Extra = map[string]interface{}{"query": map[string]interface{}{"action": "get"}}
	return c
}

func TestEval(t *testing.T) {
	tests := []struct {
		raw  string
		want interface{}
	}{
		{`true`, true},
		{`1.5`, 1.5},
		{`"'a'"`, "a"},
		{`"name"`, "first"},
		{`".request.user.name"`, "ann"},
		{`".request.user.roles.1"`, "writer"},
		{`".query.action"`, "get"},
		{`{"coalesce": ["'a'", "'b'"]}`, "a"},
		{`{"coalesce": [null, "'b'"]}`, "b"},
		{`{"coalesce": ["missing.path", "'c'"]}`, "c"},
		{`{"case": [{"if": [false, "'x'"]}, {"else": "'y'"}]}`, "y"},
		{`{"case": [{"if": ["is_active", "'x'"]}, {"else": "'y'"}]}`, "x"},
		{`{"with": {"n": "name", "do": {"upper": "n"}}}`, "FIRST"},
		{`{"each": {"in": "tags", "as": "t", "do": {"upper": "t"}}}`,
			[]interface{}{"A", "B", "A"}},
		{`{"not": "is_active"}`, false},
		{`{"true": [".request.user.is_staff"]}`, true},
		{`{"null": ["name"]}`, false},
		{`{"empty": ["tags"]}`, false},
		{`{"eq": ["id", 1]}`, true},
		{`{"ne": ["id", 1]}`, false},
		{`{"lt": ["score", 5]}`, true},
		{`{"gte": ["score", 4]}`, true},
		{`{"in": ["'editor'", ".request.user.roles"]}`, true},
		{`{"contains": ["name", "'irs'"]}`, true},
		{`{"and": [{"eq": ["id", 1]}, "is_active"]}`, true},
		{`{"or": [{"eq": ["id", 2]}, "is_active"]}`, true},
		{`{"add": [1, 2, 3]}`, float64(6)},
		{`{"+": ["'a'", "'b'"]}`, "ab"},
		{`{"+": [["'a'"], ["'b'"]]}`, []interface{}{"a", "b"}},
		{`{"-": [["'a'", "'b'", "'c'"], ["'b'"]]}`, []interface{}{"a", "c"}},
		{`{"-": [5, 2]}`, float64(3)},
		{`{"-": [5]}`, float64(-5)},
		{`{"*": [3, 4]}`, float64(12)},
		{`{"/": [8, 2]}`, float64(4)},
		{`{"max": [1, 9, 3]}`, float64(9)},
		{`{"min": ["tags"]}`, "a"},
		{`{"avg": [2, 4]}`, float64(3)},
		{`{"deviation": [2, 2, 2]}`, float64(0)},
		{`{"count": "tags"}`, float64(3)},
		{`{"index": ["tags", "'b'"]}`, float64(1)},
		{`{"any": {"in": "tags", "do": {"eq": ["it", "'b'"]}}}`, true},
		{`{"all": {"in": "tags", "do": {"eq": ["it", "'b'"]}}}`, false},
		{`{"reduce": {"in": [1, 2, 3], "do": {"add": ["acc", "it"]}, "init": 0}}`, float64(6)},
		{`{"join": {"values": ["'a'", "'b'"], "separator": "'/'"}}`, "a/b"},
		{`{"join": ["'a'", "'b'"]}`, "ab"},
		{`{"distinct": "tags"}`, []interface{}{"a", "b"}},
		{`{"filter": {"in": [1, 2, 3], "do": {"gt": ["it", 1]}}}`,
			[]interface{}{float64(2), float64(3)}},
		{`{"map": {"in": [1, 2], "do": {"mul": ["it", 2]}}}`,
			[]interface{}{float64(2), float64(4)}},
		{`{"bucket": {"in": [1, 2, 3], "do": {"mod": ["it", 2]}}}`, map[string]interface{}{
			"0": []interface{}{float64(2)},
			"1": []interface{}{float64(1), float64(3)},
		}},
		{`{"key": [".request.user", "'name'"]}`, "ann"},
		{`{"sort": {"in": [3, 1, 2], "desc": true}}`,
			[]interface{}{float64(3), float64(2), float64(1)}},
		{`{"slice": [[1, 2, 3], 1]}`, []interface{}{float64(2), float64(3)}},
		{`{"slice": [[1, 2, 3], 0, -1]}`, []interface{}{float64(1), float64(2)}},
		{`{"reverse": "'abc'"}`, "cba"},
		{`{"format": ["'{} has {}'", "name", "score"]}`, "first has 4"},
		{`{"replace": ["'aaa'", "'a'", "'b'"]}`, "bbb"},
		{`{"trim": "'  x  '"}`, "x"},
		{`{"upper": "'ab'"}`, "AB"},
		{`{"lower": "'AB'"}`, "ab"},
		{`{"title": "'hello world'"}`, "Hello World"},
		{`{"split": ["'a,b'", "','"]}`, []interface{}{"a", "b"}},
		{`{"keys": ".request.user"}`, []interface{}{"id", "is_staff", "name", "roles"}},
		{`{"items": {"literal": {"a": 1}}}`, []interface{}{
			map[string]interface{}{"key": "a", "value": float64(1)},
		}},
		{`{"literal": "name"}`, "name"},
		{`{"identifier": "'name'"}`, "first"},
		{`{"object": {"n": "name", "ok": true}}`, map[string]interface{}{
			"n": "first", "ok": true,
		}},
		{`{"a": 1, "b": 2}`, map[string]interface{}{"a": float64(1), "b": float64(2)}},
		{`{}`, map[string]interface{}{}},
		{`["'a'", "name"]`, []interface{}{"a", "first"}},
	}
	for _, test := range tests {
		el, err := ParseString(test.raw)
		require.NoError(t, err, test.raw)
		got, err := testCtx().Eval(el)
		require.NoError(t, err, test.raw)
		require.Equal(t, test.want, got, test.raw)
	}
}

func TestNestedCallArg(t *testing.T) {
	// a single key map argument parses as a nested call, not as named arguments
	el, err := ParseString(`{"not": {"eq": ["id", 1]}}`)
	require.NoError(t, err)
	c, ok := el.(*Call)
	require.True(t, ok)
	require.Nil(t, c.Dict)
	inner, ok := c.Arg.(*Call)
	require.True(t, ok)
	require.Equal(t, "eq", inner.Name)

	got, err := testCtx().Eval(el)
	require.NoError(t, err)
	require.Equal(t, false, got)
}

func TestEvalErrs(t *testing.T) {
	tests := []struct {
		raw  string
		path string
	}{
		{`"missing"`, "missing"},
		{`".request.user.missing"`, ".request.user.missing"},
		{`{"frobnicate": [1]}`, "frobnicate"},
		{`{"div": [1, 0]}`, "div"},
		{`{"each": {"in": "name", "do": "it"}}`, "each.in"},
		{`{"eq": "name"}`, "eq"},
		{`{"case": [{"nope": 1}]}`, "case.0"},
	}
	for _, test := range tests {
		el, err := ParseString(test.raw)
		require.NoError(t, err, test.raw)
		_, err = testCtx().Eval(el)
		require.Error(t, err, test.raw)
		e, ok := err.(*Err)
		require.True(t, ok, test.raw)
		require.Equal(t, test.path, e.Path, test.raw)
	}
}

func TestScopeIsolation(t *testing.T) {
	c := testCtx()
	el, err := ParseString(`{"with": {"x": 1, "do": "x"}}`)
	require.NoError(t, err)
	v, err := c.Eval(el)
	require.NoError(t, err)
	require.Equal(t, float64(1), v)
	// the binding must not leak into the parent scope
	_, err = c.Eval(&Sym{Name: "x"})
	require.Error(t, err)
	require.True(t, IsUnres(err))
}

func TestNow(t *testing.T) {
	Now = func() time.Time { return time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC) }
	defer func() { Now = time.Now }()
	el, _ := ParseString(`{"today": []}`)
	v, err := testCtx().Eval(el)
	require.NoError(t, err)
	require.Equal(t, "2021-03-04", v)
	el, _ = ParseString(`{"now": []}`)
	v, err = testCtx().Eval(el)
	require.NoError(t, err)
	require.Equal(t, "2021-03-04T05:06:07Z", v)
}
