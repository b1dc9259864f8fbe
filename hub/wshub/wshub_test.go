package wshub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mb0/resq/dom/domtest"
	"github.com/mb0/resq/hub"
	"github.com/mb0/resq/log"
	"github.com/mb0/resq/qry"
	"github.com/mb0/resq/qry/qrymem"
)

func TestRoundTrip(t *testing.T) {
	f := domtest.Must(domtest.Demo())
	mb := qrymem.New()
	mb.LoadFixture(f)
	qs, err := hub.NewQrySrv(qry.NewServer(f.Server, mb, log.Root), 2, log.Root)
	require.NoError(t, err)
	defer qs.Close()
	h := hub.NewHub()
	go h.Run(hub.Routers{qs})
	defer func() { h.Chan() <- nil }()

	ts := httptest.NewServer(Serve(h, log.Root))
	defer ts.Close()

	cli := NewClient("ws" + strings.TrimPrefix(ts.URL, "http"))
	r := make(chan *hub.Msg, 8)
	go cli.Connect(r)

	m := recv(t, r)
	require.Equal(t, hub.SubjSignon, m.Subj)

	cli.Chan() <- &hub.Msg{Subj: "qry.get", Tok: []byte("a1"), Raw: []byte(
		`{"ref": "app.article/1", "context": {"user": {"is_staff": true}}}`,
	)}
	m = recv(t, r)
	require.Equal(t, "qry.get", m.Subj)
	require.Equal(t, []byte("a1"), m.Tok)
	var res qry.Result
	require.NoError(t, json.Unmarshal(m.Raw, &res))
	require.Empty(t, res.Errs)
	data, ok := res.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "Alpha", data["name"])
}

func recv(t *testing.T, r chan *hub.Msg) *hub.Msg {
	t.Helper()
	select {
	case m := <-r:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return nil
}

func TestMsgFraming(t *testing.T) {
	tests := []struct {
		raw  string
		subj string
		tok  string
		body string
	}{
		{"qry.get", "qry.get", "", ""},
		{"qry.get#1f", "qry.get", "1f", ""},
		{"qry.get#1f\n{}", "qry.get", "1f", "{}"},
		{"qry.add\n{\"ref\":\"app.group\"}", "qry.add", "", "{\"ref\":\"app.group\"}"},
	}
	for _, tt := range tests {
		m, err := readMsg(strings.NewReader(tt.raw))
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.subj, m.Subj)
		require.Equal(t, tt.tok, string(m.Tok))
		require.Equal(t, tt.body, string(m.Raw))
	}
	_, err := readMsg(strings.NewReader("#tok\nbody"))
	require.Error(t, err)
}
