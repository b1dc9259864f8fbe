package hub

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"github.com/mb0/resq/log"
	"github.com/mb0/resq/qry"
)

// SubjQry is the subject prefix of data requests, followed by the action name.
const SubjQry = "qry."

// QrySrv serves data request messages on a worker pool. Replies go straight to the sender
// connection with the request token, they never pass through the hub queue again.
type QrySrv struct {
	Srv *qry.Server
	Log log.Logger

	// Timeout bounds one request execution.
	Timeout time.Duration

	pool *ants.Pool
}

// NewQrySrv returns a service executing up to size requests concurrently.
func NewQrySrv(s *qry.Server, size int, lg log.Logger) (*QrySrv, error) {
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &QrySrv{Srv: s, Log: lg, Timeout: 30 * time.Second, pool: pool}, nil
}

// Close releases the worker pool.
func (q *QrySrv) Close() { q.pool.Release() }

func (q *QrySrv) Route(m *Msg) {
	if !strings.HasPrefix(m.Subj, SubjQry) {
		return
	}
	err := q.pool.Submit(func() { q.serve(m) })
	if err != nil {
		q.Log.Error("request dropped", "subj", m.Subj, "err", err)
		q.fail(m, "server busy")
	}
}

func (q *QrySrv) serve(m *Msg) {
	req, err := parseReq(m)
	if err != nil {
		q.fail(m, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.Timeout)
	defer cancel()
	q.reply(m, q.Srv.Execute(ctx, req))
}

func (q *QrySrv) fail(m *Msg, msg string) {
	q.reply(m, &qry.Result{Errs: map[string]interface{}{"request": msg}})
}

// reply carries no sender, the service is not a connection.
func (q *QrySrv) reply(m *Msg, res *qry.Result) {
	if m.From == nil {
		return
	}
	m.From.Chan() <- &Msg{Subj: m.Subj, Tok: m.Tok, Data: res}
}

type wireReq struct {
	ID      string              `json:"id,omitempty"`
	Ref     string              `json:"ref"`
	Params  map[string][]string `json:"params,omitempty"`
	Data    interface{}         `json:"data,omitempty"`
	Atomic  bool                `json:"atomic,omitempty"`
	Context interface{}         `json:"context,omitempty"`
}

// parseReq reads a request off a message: in-process messages pass a typed request as data,
// wire messages a json body. The action is the subject suffix.
func parseReq(m *Msg) (*qry.Request, error) {
	action := strings.TrimPrefix(m.Subj, SubjQry)
	if req, ok := m.Data.(*qry.Request); ok {
		req.Action = action
		return req, nil
	}
	var w wireReq
	if len(m.Raw) > 0 {
		if err := json.Unmarshal(m.Raw, &w); err != nil {
			return nil, errors.WithMessage(err, "request body")
		}
	}
	if w.Ref == "" {
		return nil, errors.New("request without ref")
	}
	return &qry.Request{
		ID: w.ID, Ref: w.Ref, Action: action, Params: w.Params,
		Data: w.Data, Atomic: w.Atomic, Context: w.Context,
	}, nil
}
