package pol_test

import (
	"encoding/json"
	"testing"

	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/dom/domtest"
	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/pol"
	"github.com/stretchr/testify/require"
)

func req(staff bool) map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{"id": 1.0, "is_staff": staff},
	}
}

func rules(t *testing.T, raw string) dom.Rules {
	t.Helper()
	var rs dom.Rules
	require.NoError(t, json.Unmarshal([]byte(raw), &rs))
	return rs
}

func TestResolve(t *testing.T) {
	c := exp.NewCtx(req(false), nil)
	staff := exp.NewCtx(req(true), nil)
	tests := []struct {
		name   string
		rules  string
		action string
		ctx    *exp.Ctx
		want   pol.Decision
	}{
		{"no rules", `{}`, "get", c, pol.Allowed},
		{"wildcard", `{"*": true}`, "delete", c, pol.Allowed},
		{"no match", `{"get": true}`, "delete", c, pol.Denied},
		{"bool true", `{"get": true}`, "get", c, pol.Allowed},
		{"bool false", `{"get": false}`, "get", c, pol.Denied},
		{"expr deny", `{"get": ".request.user.is_staff"}`, "get", c, pol.Denied},
		{"expr allow", `{"get": ".request.user.is_staff"}`, "get", staff, pol.Allowed},
		{"comma list", `{"get,set": true}`, "set", c, pol.Allowed},
		{"exact beats parent",
			`{"get": false, "get.record": true}`, "get.record", c, pol.Allowed},
		{"parent beats wildcard",
			`{"*": true, "get": false}`, "get.record", c, pol.Denied},
	}
	for _, test := range tests {
		got, err := pol.Resolve(test.ctx, rules(t, test.rules), test.action)
		require.NoError(t, err, test.name)
		require.Equal(t, test.want, got, test.name)
	}
}

func TestResolveFilter(t *testing.T) {
	c := exp.NewCtx(req(false), nil)
	rs := rules(t, `{"get": {"=": [".record.author", ".request.user.id"]}}`)
	d, err := pol.Resolve(c, rs, "get")
	require.NoError(t, err)
	require.True(t, d.Allow())
	require.NotNil(t, d.Filter)

	// the filter must evaluate per record, not as a boolean up front
	row := c.WithRecord(map[string]interface{}{"author": 1.0})
	ok, err := row.EvalBool(d.Filter)
	require.NoError(t, err)
	require.True(t, ok)
	row = c.WithRecord(map[string]interface{}{"author": 2.0})
	ok, err = row.EvalBool(d.Filter)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveSameSpecificity(t *testing.T) {
	// both patterns match get exactly: all must allow and filters and-compose
	c := exp.NewCtx(req(true), nil)
	rs := rules(t, `{"get": {"=": [".record.a", 1]}, "get,set": {"=": [".record.b", 2]}}`)
	d, err := pol.Resolve(c, rs, "get")
	require.NoError(t, err)
	require.True(t, d.Allow())
	require.NotNil(t, d.Filter)
	row := c.WithRecord(map[string]interface{}{"a": 1.0, "b": 2.0})
	ok, err := row.EvalBool(d.Filter)
	require.NoError(t, err)
	require.True(t, ok)
	row = c.WithRecord(map[string]interface{}{"a": 1.0, "b": 3.0})
	ok, err = row.EvalBool(d.Filter)
	require.NoError(t, err)
	require.False(t, ok)

	rs = rules(t, `{"get": true, "get,set": false}`)
	d, err = pol.Resolve(c, rs, "get")
	require.NoError(t, err)
	require.Equal(t, pol.Denied, d)
}

func TestDecisionAnd(t *testing.T) {
	f1 := pol.Decision{Filter: &exp.Sym{Name: ".record.a"}}
	f2 := pol.Decision{Filter: &exp.Sym{Name: ".record.b"}}
	require.Equal(t, pol.Denied, pol.Denied.And(f1))
	require.Equal(t, pol.Denied, f1.And(pol.Denied))
	require.Equal(t, f1, pol.Allowed.And(f1))
	got := f1.And(f2)
	call, ok := got.Filter.(*exp.Call)
	require.True(t, ok)
	require.Equal(t, "and", call.Name)
	require.Len(t, call.List, 2)
}

func TestResolver(t *testing.T) {
	f := domtest.Must(domtest.Demo())
	r := &pol.Resolver{Srv: f.Server}
	user := f.Resource("app.user")

	// server wildcard allows the resource chain
	d, err := r.Can(exp.NewCtx(req(false), nil), user, "get")
	require.NoError(t, err)
	require.Equal(t, pol.Allowed, d)

	// the secret field denies non staff and allows staff
	secret := user.Field("secret")
	d, err = r.CanField(exp.NewCtx(req(false), nil), secret, "get")
	require.NoError(t, err)
	require.Equal(t, pol.Denied, d)
	d, err = r.CanField(exp.NewCtx(req(true), nil), secret, "get")
	require.NoError(t, err)
	require.Equal(t, pol.Allowed, d)

	// archived status may only be set by staff
	status := f.Resource("app.article").Field("status")
	d, err = r.CanOpt(exp.NewCtx(req(false), nil), status, "archived", "set")
	require.NoError(t, err)
	require.Equal(t, pol.Denied, d)
	d, err = r.CanOpt(exp.NewCtx(req(false), nil), status, "draft", "set")
	require.NoError(t, err)
	require.Equal(t, pol.Allowed, d)
}

func TestDenyError(t *testing.T) {
	err := pol.Deny("app.user.secret", "set")
	require.EqualError(t, err, "action set is not allowed on app.user.secret")
	var perr *pol.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "app.user.secret", perr.Target)
}
