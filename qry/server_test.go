package qry_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/mb0/resq/dom/domtest"
	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/log"
	"github.com/mb0/resq/qry"
	"github.com/mb0/resq/qry/qrymem"
	"github.com/stretchr/testify/require"
)

// countBack counts backend roundtrips to pin down the operation batching.
type countBack struct {
	qry.Backend
	reads, writes int32
}

func (b *countBack) Query(ctx context.Context, c *exp.Ctx, op *qry.Op) (*qry.Sel, error) {
	atomic.AddInt32(&b.reads, 1)
	return b.Backend.Query(ctx, c, op)
}

func (b *countBack) Exec(ctx context.Context, c *exp.Ctx, w *qry.Write) (*qry.Wrote, error) {
	atomic.AddInt32(&b.writes, 1)
	return b.Backend.Exec(ctx, c, w)
}

func setup(t *testing.T) (*qry.Server, *countBack) {
	t.Helper()
	f := domtest.Must(domtest.Demo())
	mb := qrymem.New()
	mb.LoadFixture(f)
	cb := &countBack{Backend: mb}
	return qry.NewServer(f.Server, cb, log.Test(t)), cb
}

func user(staff bool) map[string]interface{} {
	return map[string]interface{}{"user": map[string]interface{}{
		"id": float64(1), "is_staff": staff,
	}}
}

func jv(t *testing.T, raw string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func run(t *testing.T, s *qry.Server, req *qry.Request) *qry.Result {
	t.Helper()
	res := s.Execute(context.Background(), req)
	require.Empty(t, res.Errs)
	return res
}

func obj(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	m, ok := v.(map[string]interface{})
	require.True(t, ok, "want object got %T", v)
	return m
}

func ids(t *testing.T, v interface{}) []float64 {
	t.Helper()
	list, ok := v.([]interface{})
	require.True(t, ok, "want list got %T", v)
	res := make([]float64, 0, len(list))
	for _, e := range list {
		id, ok := obj(t, e)["id"].(float64)
		require.True(t, ok)
		res = append(res, id)
	}
	return res
}

func TestGetSingle(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.article/1", Context: user(true)})
	m := obj(t, res.Data)
	require.Equal(t, float64(1), m["id"])
	require.Equal(t, "Alpha", m["name"])
	require.Equal(t, true, m["active"])
	require.Equal(t, "published", m["status"])
	require.Equal(t, float64(1), m["author"])
	_, lazy := m["slug"]
	require.False(t, lazy)
	_, lazy = m["comments"]
	require.False(t, lazy)
}

func TestGetNotFound(t *testing.T) {
	s, _ := setup(t)
	res := s.Execute(context.Background(), &qry.Request{Ref: "app.article/99", Context: user(true)})
	require.Nil(t, res.Data)
	require.Contains(t, res.Errs["data"], "not found")
}

func TestUnknownResource(t *testing.T) {
	s, cb := setup(t)
	res := s.Execute(context.Background(), &qry.Request{Ref: "app.nothing"})
	require.Contains(t, res.Errs["request"], "unknown resource")
	require.Zero(t, cb.reads)
}

func TestTakeAlgebra(t *testing.T) {
	s, _ := setup(t)
	// staff see the secret field
	res := run(t, s, &qry.Request{Ref: "app.user/1", Context: user(true),
		Params: map[string][]string{"take": {"id,name,secret"}}})
	m := obj(t, res.Data)
	require.Equal(t, "s1", m["secret"])
	require.Len(t, m, 3)

	// for others it is silently dropped from the projection
	res = run(t, s, &qry.Request{Ref: "app.user/1", Context: user(false),
		Params: map[string][]string{"take": {"id,name,secret"}}})
	m = obj(t, res.Data)
	require.NotContains(t, m, "secret")
	require.Len(t, m, 2)

	// exclusions apply to the default projection
	res = run(t, s, &qry.Request{Ref: "app.user/1", Context: user(true),
		Params: map[string][]string{"take": {"-name,-secret"}}})
	m = obj(t, res.Data)
	require.NotContains(t, m, "name")
	require.Contains(t, m, "is_staff")
	_, lazy := m["email"]
	require.False(t, lazy)

	// lazy fields appear when asked for
	res = run(t, s, &qry.Request{Ref: "app.user/1", Context: user(true),
		Params: map[string][]string{"take": {"*,email"}}})
	require.Equal(t, "ann@example.org", obj(t, res.Data)["email"])
}

func TestNestedGet(t *testing.T) {
	s, cb := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.article", Context: user(true),
		Params: map[string][]string{
			"where:active":  {"true"},
			"sort":          {"id"},
			"take.author":   {"id,name"},
			"take.comments": {"id,body"},
		}})
	require.Equal(t, []float64{1, 2, 4}, ids(t, res.Data))
	list := res.Data.([]interface{})

	first := obj(t, list[0])
	author := obj(t, first["author"])
	require.Equal(t, "Ann", author["name"])
	require.Len(t, author, 2)
	require.Len(t, first["comments"], 3)

	second := obj(t, list[1])
	require.Equal(t, "Ben", obj(t, second["author"])["name"])
	require.Len(t, second["comments"], 1)
	require.Equal(t, "hm", obj(t, second["comments"].([]interface{})[0])["body"])

	// articles without comments get an empty list, not null
	third := obj(t, list[2])
	require.NotNil(t, third["comments"])
	require.Len(t, third["comments"], 0)

	// one operation for the articles and one batched prefetch per link field
	require.Equal(t, int32(3), cb.reads)
}

func TestPagination(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.article", Context: user(true),
		Params: map[string][]string{
			"where:active": {"true"},
			"page:size":    {"2"},
		}})
	require.Equal(t, []float64{1, 2}, ids(t, res.Data))
	tok := res.Pages["data"]
	require.NotEmpty(t, tok)

	res = run(t, s, &qry.Request{Ref: "app.article", Context: user(true),
		Params: map[string][]string{"page:after": {tok}}})
	require.Equal(t, []float64{4}, ids(t, res.Data))
	require.Empty(t, res.Pages)
}

func TestSubPagination(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.article", Context: user(true),
		Params: map[string][]string{
			"take.comments":      {"id"},
			"page.comments:size": {"2"},
		}})
	list := res.Data.([]interface{})
	require.Len(t, obj(t, list[0])["comments"], 2)
	require.Len(t, obj(t, list[1])["comments"], 1)
	tok := res.Pages["data.comments"]
	require.NotEmpty(t, tok)

	// the token continues every parent's comment list where the first page stopped
	res = run(t, s, &qry.Request{Ref: "app.article", Context: user(true),
		Params: map[string][]string{"page.comments:after": {tok}}})
	list = res.Data.([]interface{})
	rest := obj(t, list[0])["comments"].([]interface{})
	require.Equal(t, []float64{4}, ids(t, rest))
	require.Len(t, obj(t, list[1])["comments"], 0)
	require.Empty(t, res.Pages)
}

func TestGroup(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.article", Context: user(true),
		Params: map[string][]string{
			"where:active":      {"true"},
			"group:total:count": {"*"},
			"group:latest:max":  {"created"},
		}})
	m := obj(t, res.Data)
	require.Equal(t, float64(3), m["total"])
	require.Equal(t, "2024-04-01T00:00:00Z", m["latest"])
	require.Empty(t, res.Pages)
}

func TestComputedField(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.article/1", Context: user(true),
		Params: map[string][]string{"take": {"id,slug"}}})
	m := obj(t, res.Data)
	require.Equal(t, "alpha", m["slug"])
	require.Len(t, m, 2)
}

func TestAdd(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.article", Action: "add", Context: user(false),
		Data: jv(t, `{"name": "Echo", "active": true, "author": 2,
			"created": "2024-05-01T00:00:00Z"}`)})
	m := obj(t, res.Data)
	require.Equal(t, float64(5), m["id"])
	require.Equal(t, "draft", m["status"])
	require.Equal(t, true, m["active"])

	got := run(t, s, &qry.Request{Ref: "app.article/5", Context: user(false)})
	require.Equal(t, "Echo", obj(t, got.Data)["name"])
}

func TestAddValidation(t *testing.T) {
	s, cb := setup(t)
	tests := []struct {
		name string
		data string
		want string
	}{
		{"missing field", `{"name": "Echo"}`, "missing field"},
		{"unknown field", `{"name": "Echo", "extra": 1}`, "unknown field"},
		{"bad type", `{"name": 7, "active": true, "author": 2,
			"created": "2024-05-01T00:00:00Z"}`, "name"},
		{"bad option", `{"name": "Echo", "active": true, "author": 2,
			"created": "2024-05-01T00:00:00Z", "status": "deleted"}`, "invalid option"},
		{"computed", `{"name": "Echo", "active": true, "author": 2,
			"created": "2024-05-01T00:00:00Z", "slug": "echo"}`, "not writable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Execute(context.Background(), &qry.Request{
				Ref: "app.article", Action: "add", Context: user(true),
				Data: jv(t, tt.data)})
			require.Nil(t, res.Data)
			require.Contains(t, res.Errs["data"], tt.want)
		})
	}
	require.Zero(t, cb.writes)
}

func TestOptionRule(t *testing.T) {
	s, _ := setup(t)
	req := func(staff bool) *qry.Request {
		return &qry.Request{Ref: "app.article/2", Action: "edit", Context: user(staff),
			Data: jv(t, `{"status": "archived"}`)}
	}
	res := s.Execute(context.Background(), req(false))
	require.Nil(t, res.Data)
	require.Contains(t, res.Errs["data"], "not allowed")

	res = s.Execute(context.Background(), req(true))
	require.Empty(t, res.Errs)
	require.Equal(t, "archived", obj(t, res.Data)["status"])
}

func TestEdit(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.article/3", Action: "edit", Context: user(true),
		Data: jv(t, `{"active": true}`)})
	m := obj(t, res.Data)
	require.Equal(t, float64(3), m["id"])
	require.Equal(t, true, m["active"])
	require.Equal(t, "Gamma", m["name"])

	got := run(t, s, &qry.Request{Ref: "app.article/3", Context: user(true)})
	require.Equal(t, true, obj(t, got.Data)["active"])
}

func TestDelete(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.comment/5", Action: "delete", Context: user(true)})
	require.Nil(t, res.Data)

	got := s.Execute(context.Background(), &qry.Request{Ref: "app.comment/5", Context: user(true)})
	require.Contains(t, got.Errs["data"], "not found")
}

func TestBeforeHook(t *testing.T) {
	s, cb := setup(t)
	res := s.Execute(context.Background(), &qry.Request{
		Ref: "app.article/2", Action: "delete", Context: user(false)})
	require.Contains(t, res.Errs["request"], "hook")
	require.Zero(t, cb.writes)

	res = run(t, s, &qry.Request{Ref: "app.article/2", Action: "delete", Context: user(true)})
	require.Nil(t, res.Data)
}

func TestPartialBulk(t *testing.T) {
	s, _ := setup(t)
	res := s.Execute(context.Background(), &qry.Request{
		Ref: "app.group", Action: "add",
		Data: jv(t, `[{"name": "editors"}, {"name": "admin"}, {"name": "review"}]`)})
	require.Equal(t, []float64{3, 4}, ids(t, res.Data))
	require.Len(t, res.Errs, 1)
	require.Contains(t, res.Errs["data.1"], "duplicate")
}

func TestAtomicBulk(t *testing.T) {
	s, _ := setup(t)
	res := s.Execute(context.Background(), &qry.Request{
		Ref: "app.group", Action: "add", Atomic: true,
		Data: jv(t, `[{"name": "editors"}, {"name": "admin"}, {"name": "review"}]`)})
	require.Nil(t, res.Data)
	require.Equal(t, "rolled back", res.Errs["data.0"])
	require.Contains(t, res.Errs["data.1"], "duplicate")
	require.Equal(t, "skipped", res.Errs["data.2"])

	// no trace of the batch remains
	got := run(t, s, &qry.Request{Ref: "app.group"})
	require.Equal(t, []float64{1, 2}, ids(t, got.Data))
}

func TestAtomicValidation(t *testing.T) {
	s, cb := setup(t)
	res := s.Execute(context.Background(), &qry.Request{
		Ref: "app.group", Action: "add", Atomic: true,
		Data: jv(t, `[{"name": "editors"}, {"bogus": 1}, {"name": "review"}]`)})
	require.Nil(t, res.Data)
	require.Equal(t, "rolled back", res.Errs["data.0"])
	require.Contains(t, res.Errs["data.1"], "unknown field")
	require.Equal(t, "skipped", res.Errs["data.2"])
	// a batch that fails validation never reaches the backend
	require.Zero(t, cb.writes)
}

func TestWriteAccessFilter(t *testing.T) {
	raw := `{
		"name": "owned",
		"can": {"*": true},
		"spaces": [{
			"name": "app",
			"resources": [{
				"name": "article",
				"can": {"edit,delete": {"eq": ["author", ".request.user.id"]},
					"*": true},
				"fields": [
					{"name": "id", "type": "int", "primary": true},
					{"name": "name", "type": "str"},
					{"name": "author", "type": "int"}
				]
			}]
		}]
	}`
	fix := `{"app.article": [
		{"id": 1, "name": "Alpha", "author": 1},
		{"id": 2, "name": "Beta", "author": 2}
	]}`
	f := domtest.Must(domtest.New(raw, fix))
	mb := qrymem.New()
	mb.LoadFixture(f)
	s := qry.NewServer(f.Server, mb, log.Test(t))

	// user 1 cannot write an article owned by user 2
	res := s.Execute(context.Background(), &qry.Request{
		Ref: "app.article/2", Action: "edit", Context: user(false),
		Data: jv(t, `{"name": "hijacked"}`)})
	require.Nil(t, res.Data)
	require.Contains(t, res.Errs["data"], "not allowed")

	got := run(t, s, &qry.Request{Ref: "app.article/2", Context: user(false)})
	require.Equal(t, "Beta", obj(t, got.Data)["name"])

	res = s.Execute(context.Background(), &qry.Request{
		Ref: "app.article/2", Action: "delete", Context: user(false)})
	require.Contains(t, res.Errs["data"], "not allowed")

	// owners pass the filter
	res = run(t, s, &qry.Request{Ref: "app.article/1", Action: "edit", Context: user(false),
		Data: jv(t, `{"name": "mine"}`)})
	require.Equal(t, "mine", obj(t, res.Data)["name"])

	// bulk writes fail per excluded row
	res = s.Execute(context.Background(), &qry.Request{
		Ref: "app.article", Action: "edit", Context: user(false),
		Data: jv(t, `[{"id": 1, "name": "bulk"}, {"id": 2, "name": "steal"}]`)})
	require.Equal(t, []float64{1}, ids(t, res.Data))
	require.Contains(t, res.Errs["data.1"], "not allowed")
}

func TestSingleton(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.settings"})
	m := obj(t, res.Data)
	require.Equal(t, "demo", m["title"])
	require.Nil(t, m["motd"])

	res = run(t, s, &qry.Request{Ref: "app.settings", Action: "edit",
		Data: jv(t, `{"motd": "hello"}`)})
	require.Equal(t, "hello", obj(t, res.Data)["motd"])

	got := run(t, s, &qry.Request{Ref: "app.settings"})
	require.Equal(t, "hello", obj(t, got.Data)["motd"])
}

func TestSingletonListLink(t *testing.T) {
	raw := `{
		"name": "site",
		"can": {"*": true},
		"spaces": [{
			"name": "app",
			"resources": [{
				"name": "site",
				"singleton": true,
				"fields": [
					{"name": "title", "type": "str"},
					{"name": "pages", "type": "list|@page", "lazy": true}
				]
			}, {
				"name": "page",
				"fields": [
					{"name": "id", "type": "int", "primary": true},
					{"name": "name", "type": "str"},
					{"name": "site", "type": "@site", "lazy": true}
				]
			}]
		}]
	}`
	fix := `{
		"app.site": [{"title": "home"}],
		"app.page": [
			{"id": 1, "name": "a", "site": 1},
			{"id": 2, "name": "b", "site": 1}
		]
	}`
	f := domtest.Must(domtest.New(raw, fix))
	mb := qrymem.New()
	mb.LoadFixture(f)
	s := qry.NewServer(f.Server, mb, log.Test(t))

	// the singleton row owns every linked row without a key join
	res := run(t, s, &qry.Request{Ref: "app.site",
		Params: map[string][]string{"take": {"title,pages"}}})
	m := obj(t, res.Data)
	require.Equal(t, "home", m["title"])
	require.Equal(t, []float64{1, 2}, ids(t, m["pages"]))

	// singletons are addressed without a record key
	bad := s.Execute(context.Background(), &qry.Request{Ref: "app.site/1"})
	require.Contains(t, bad.Errs["request"], "takes no key")
}

func TestInspect(t *testing.T) {
	s, _ := setup(t)
	res := run(t, s, &qry.Request{Ref: ""})
	require.Same(t, s.Dom, res.Data)

	res = run(t, s, &qry.Request{Ref: "app"})
	require.Same(t, s.Dom.Space("app"), res.Data)

	bad := s.Execute(context.Background(), &qry.Request{Ref: "nope"})
	require.Contains(t, bad.Errs["request"], "unknown space")
}

func TestExplain(t *testing.T) {
	s, cb := setup(t)
	res := run(t, s, &qry.Request{Ref: "app.article", Action: "explain", Context: user(true),
		Params: map[string][]string{
			"where:active": {"true"},
			"take.author":  {"id,name"},
		}})
	m := obj(t, res.Data)
	require.Equal(t, "app.article", m["resource"])
	require.Equal(t, "get", m["action"])
	require.NotNil(t, m["where"])
	require.Contains(t, m, "author")
	// explaining a plan costs no backend calls
	require.Zero(t, cb.reads)
}

func TestSchemaErrs(t *testing.T) {
	s, cb := setup(t)
	tests := []struct {
		name   string
		params map[string][]string
		want   string
	}{
		{"unknown take", map[string][]string{"take": {"id,bogus"}}, "unknown field"},
		{"unknown sort", map[string][]string{"sort": {"bogus"}}, "unknown field"},
		{"not a link", map[string][]string{"take.name": {"id"}}, "not a link"},
		{"sort list link", map[string][]string{"sort": {"comments"}}, "no column"},
		{"group op", map[string][]string{"group:x:deviation": {"*"}}, "not enabled"},
		{"group sub", map[string][]string{"group.comments:n:count": {"*"},
			"take.comments": {"id"}}, "root"},
		{"group page", map[string][]string{"group:n:count": {"*"},
			"page:size": {"2"}}, "page"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Execute(context.Background(), &qry.Request{
				Ref: "app.article", Context: user(true), Params: tt.params})
			require.NotEmpty(t, res.Errs)
			for _, v := range res.Errs {
				require.Contains(t, v, tt.want)
			}
		})
	}
	require.Zero(t, cb.reads)
}

func TestPlanCache(t *testing.T) {
	s, cb := setup(t)
	req := func() *qry.Request {
		return &qry.Request{Ref: "app.article", Context: user(true),
			Params: map[string][]string{"where:active": {"true"}, "sort": {"id"}}}
	}
	first := run(t, s, req())
	second := run(t, s, req())
	require.Equal(t, first.Data, second.Data)
	require.Equal(t, int32(2), cb.reads)
}
