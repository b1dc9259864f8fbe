package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mb0/resq/dom/domtest"
	"github.com/mb0/resq/log"
	"github.com/mb0/resq/qry"
	"github.com/mb0/resq/qry/qrymem"
)

func setup(t *testing.T) *Hub {
	t.Helper()
	f := domtest.Must(domtest.Demo())
	mb := qrymem.New()
	mb.LoadFixture(f)
	qs, err := NewQrySrv(qry.NewServer(f.Server, mb, log.Test(t)), 2, log.Test(t))
	require.NoError(t, err)
	t.Cleanup(qs.Close)
	h := NewHub()
	go h.Run(Routers{qs})
	t.Cleanup(func() { h.Chan() <- nil })
	return h
}

func result(t *testing.T, m *Msg) *qry.Result {
	t.Helper()
	res, ok := m.Data.(*qry.Result)
	require.True(t, ok, "want result got %T", m.Data)
	return res
}

func TestQrySrvRaw(t *testing.T) {
	h := setup(t)
	m, err := Req(h, &Msg{Subj: "qry.get", Tok: []byte("7"), Raw: []byte(
		`{"ref": "app.article/1", "context": {"user": {"is_staff": true}}}`,
	)}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "qry.get", m.Subj)
	require.Equal(t, []byte("7"), m.Tok)
	res := result(t, m)
	require.Empty(t, res.Errs)
	data, ok := res.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "Alpha", data["name"])
}

func TestQrySrvTyped(t *testing.T) {
	h := setup(t)
	m, err := Req(h, &Msg{Subj: "qry.get", Data: &qry.Request{
		Ref:    "app.article",
		Params: map[string][]string{"take": {"id"}, "sort": {"id"}},
	}}, time.Second)
	require.NoError(t, err)
	res := result(t, m)
	require.Empty(t, res.Errs)
	list, ok := res.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 4)
}

func TestQrySrvBadReq(t *testing.T) {
	h := setup(t)
	m, err := Req(h, &Msg{Subj: "qry.get", Raw: []byte(`{}`)}, time.Second)
	require.NoError(t, err)
	res := result(t, m)
	require.Contains(t, res.Errs["request"], "ref")

	m, err = Req(h, &Msg{Subj: "qry.get", Raw: []byte(`not json`)}, time.Second)
	require.NoError(t, err)
	res = result(t, m)
	require.NotEmpty(t, res.Errs["request"])
}

func TestFilters(t *testing.T) {
	var got []string
	rec := RouterFunc(func(m *Msg) { got = append(got, m.Subj) })
	r := Routers{
		NewMatchFilter(rec, "a"),
		NewPrefixFilter(rec, "qry."),
	}
	for _, subj := range []string{"a", "b", "qry.get", "other"} {
		r.Route(&Msg{Subj: subj})
	}
	require.Equal(t, []string{"a", "qry.get"}, got)
}
