package qry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/log"
	"github.com/mb0/resq/pol"
)

// Server plans and executes requests against one schema and backend. It is safe for
// concurrent use, the schema is read-only and all request state is request scoped.
type Server struct {
	Dom  *dom.Server
	Pol  *pol.Resolver
	Back Backend
	Log  log.Logger

	// Limit bounds concurrent sibling prefetches, Depth bounds query nesting.
	Limit int
	Depth int

	cache *lru.Cache[string, *Node]
}

// NewServer returns a server with the default limits and plan cache.
func NewServer(d *dom.Server, b Backend, l log.Logger) *Server {
	c, _ := lru.New[string, *Node](256)
	return &Server{
		Dom: d, Pol: &pol.Resolver{Srv: d}, Back: b, Log: l,
		Limit: 4, Depth: 8, cache: c,
	}
}

// Request is one client request. Ref addresses a space or resource, optionally followed by a
// slash and a record key. Context carries the opaque principal data exposed to expressions as
// the request root path.
type Request struct {
	ID      string
	Ref     string
	Action  string
	Params  map[string][]string
	Data    interface{}
	Atomic  bool
	Context interface{}
}

// Result is the response envelope. Errs maps response tree paths to error descriptions, a
// partial bulk write carries both data and errors.
type Result struct {
	Data  interface{}            `json:"data,omitempty"`
	Pages map[string]string      `json:"pages,omitempty"`
	Errs  map[string]interface{} `json:"errors,omitempty"`
}

// Execute runs one request and never panics over to the transport: failures come back as an
// error result.
func (s *Server) Execute(ctx context.Context, req *Request) *Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	lg := s.Log.With("req", req.ID, "ref", req.Ref)
	res, err := s.run(ctx, req, lg)
	if err != nil {
		e := wrapErr(KindBackend, "", err)
		lg.Error("request failed", "kind", e.Kind.String(), "err", e.Err)
		key := e.Path
		if key == "" {
			key = "request"
		}
		return &Result{Errs: map[string]interface{}{key: e.Error()}}
	}
	return res
}

// run recovers panics from plan and backend code so they surface as error results.
func (s *Server) run(ctx context.Context, req *Request, lg log.Logger) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = wrapErr(KindBackend, "", fmt.Errorf("panic: %v", p))
		}
	}()
	return s.execute(ctx, req, lg)
}

func (s *Server) execute(ctx context.Context, req *Request, lg log.Logger) (*Result, error) {
	action := req.Action
	if action == "" {
		action = ActGet
	}
	ref, rawKey, _ := strings.Cut(req.Ref, "/")
	if !strings.Contains(ref, ".") {
		return s.inspect(req, ref, action)
	}
	res := s.Dom.Resource(ref)
	if res == nil {
		return nil, SchemaErrf("unknown resource %s", ref)
	}
	ss, err := ParseParams(req.Params)
	if err != nil {
		return nil, err
	}
	if a := ss.state("").Action; a != "" {
		action = a
	}
	var toks []*Token
	for _, st := range ss {
		if st.Token != "" {
			t, err := DecodeToken(st.Token)
			if err != nil {
				return nil, err
			}
			toks = append(toks, t)
		}
	}
	for _, t := range toks {
		if err = t.apply(ss); err != nil {
			return nil, err
		}
	}
	var key interface{}
	if rawKey != "" {
		key = keyVal(rawKey)
	}
	if action == ActExplain {
		return s.explain(req, res, key, ss)
	}
	n, err := s.tree(req, res, key, ss, action)
	if err != nil {
		return nil, err
	}
	ec := exp.NewCtx(req.Context, nil)
	err = Annotate(s.Pol, ec, n)
	if err != nil {
		return nil, err
	}
	if err = s.hook(ec, res.Before, n.Action, req.Data); err != nil {
		return nil, wrapErr(KindEval, "", err)
	}
	e := &exec{srv: s, ec: ec, pages: map[string]string{}}
	result := &Result{}
	if writeAction(n.Action) {
		result.Data, result.Errs, err = e.write(ctx, n, req.Data, req.Atomic)
		if err != nil {
			return nil, err
		}
	} else {
		_, out, err := e.query(ctx, n, nil, "")
		if err != nil {
			return nil, err
		}
		switch {
		case len(n.Grp) > 0:
			if len(out) > 0 {
				result.Data = out[0]
			}
		case n.Single:
			if len(out) == 0 {
				return nil, wrapErr(KindNotFound, "data",
					NotFoundErrf("%s not found", req.Ref))
			}
			result.Data = out[0]
		default:
			list := make([]interface{}, len(out))
			for i, m := range out {
				list[i] = m
			}
			result.Data = list
		}
		if len(e.pages) > 0 {
			result.Pages = e.pages
		}
	}
	if el, ok := res.After[n.Action]; ok {
		// after hooks observe the result and cannot fail the request
		ac := *ec
		ac.Extra = map[string]interface{}{"data": result.Data}
		if _, herr := ac.Eval(el.El); herr != nil {
			lg.Error("after hook failed", "action", n.Action, "err", herr)
		}
	}
	lg.Debug("request done", "action", n.Action)
	return result, nil
}

// hook evaluates a before hook for the action, a falsy result or an error blocks the request.
func (s *Server) hook(ec *exp.Ctx, hooks map[string]dom.Expr, action string, data interface{}) error {
	el, ok := hooks[action]
	if !ok {
		return nil
	}
	pass, err := ec.WithRecord(data).EvalBool(el.El)
	if err != nil {
		return err
	}
	if !pass {
		return ValidErrf("before %s hook rejected the request", action)
	}
	return nil
}

// tree returns the node tree for the request, serving repeated parameter sets from the plan
// cache. Cached trees are cloned, annotation mutates the nodes.
func (s *Server) tree(req *Request, res *dom.Resource, key interface{}, ss States,
	action string) (*Node, error) {
	ck := req.Ref + "\n" + action + "\n" + canon(req.Params)
	if n, ok := s.cache.Get(ck); ok {
		return n.Clone(), nil
	}
	n, err := NewTree(s.Dom, res, key, ss, action, s.Depth)
	if err != nil {
		return nil, err
	}
	s.cache.Add(ck, n)
	return n.Clone(), nil
}

// inspect serves server and space descriptions.
func (s *Server) inspect(req *Request, ref, action string) (*Result, error) {
	if action != ActGet && action != ActInspect {
		return nil, SchemaErrf("action %s needs a resource", action)
	}
	if !s.Dom.Feat(nil).Inspect {
		return nil, SchemaErrf("feature inspect not enabled")
	}
	d, err := pol.Resolve(exp.NewCtx(req.Context, nil), s.Dom.Can, ActInspect)
	if err != nil {
		return nil, err
	}
	if d.Deny {
		return nil, pol.Deny(s.Dom.Name, ActInspect)
	}
	if ref == "" {
		return &Result{Data: s.Dom}, nil
	}
	sp := s.Dom.Space(ref)
	if sp == nil {
		return nil, SchemaErrf("unknown space %s", ref)
	}
	return &Result{Data: sp}, nil
}

// explain returns the annotated plan instead of executing it.
func (s *Server) explain(req *Request, res *dom.Resource, key interface{}, ss States) (*Result, error) {
	if !s.Dom.Feat(res).Inspect {
		return nil, SchemaErrf("feature inspect not enabled on %s", res.Qual())
	}
	action := ActGet
	n, err := NewTree(s.Dom, res, key, ss, action, s.Depth)
	if err != nil {
		return nil, err
	}
	err = Annotate(s.Pol, exp.NewCtx(req.Context, nil), n)
	if err != nil {
		return nil, err
	}
	return &Result{Data: describe(n)}, nil
}

func describe(n *Node) map[string]interface{} {
	m := map[string]interface{}{
		"resource": n.Res.Qual(),
		"action":   n.Action,
	}
	var take []string
	for _, f := range n.Take {
		take = append(take, f.Key())
	}
	for _, f := range n.Comp {
		take = append(take, f.Key())
	}
	m["take"] = take
	if n.Whr != nil {
		m["where"] = exp.Unparse(n.Whr)
	}
	if len(n.Ord) > 0 {
		m["sort"] = n.Ord
	}
	if n.Size > 0 {
		m["page"] = map[string]interface{}{"size": n.Size, "offset": n.Off}
	}
	if len(n.Grp) > 0 {
		m["group"] = n.Grp
	}
	if n.Single {
		m["single"] = true
	}
	for _, sub := range n.Sub {
		m[sub.Field.Key()] = describe(sub)
	}
	return m
}

// keyVal types a record key from its path segment.
func keyVal(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case float64, string, bool:
		return v
	}
	return raw
}

// canon renders parameters into a canonical cache key.
func canon(params map[string][]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte('&')
		}
	}
	return b.String()
}
