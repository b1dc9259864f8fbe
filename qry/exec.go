package qry

import (
	"context"
	"strings"
	"sync"

	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/exp"
	"golang.org/x/sync/errgroup"
)

// exec runs one annotated request tree. Operations run parent before child, sibling link
// prefetches at the same depth fan out concurrently bounded by the server limit, and any
// required failure cancels the remaining operations through the group context.
type exec struct {
	srv *Server
	ec  *exp.Ctx

	mu    sync.Mutex
	pages map[string]string
}

// query fetches one node and all its descendants. Link nodes receive their parent backend
// rows and the parent column carrying the join values. It returns the backend rows and the
// index aligned response rows.
func (e *exec) query(ctx context.Context, n *Node, parents []map[string]interface{},
	pcol string) (raw, out []map[string]interface{}, err error) {
	if n.Field != nil && len(parents) == 0 {
		// no parents means no children, skip the backend roundtrip
		return nil, nil, nil
	}
	op, err := readOp(n, parents, pcol)
	if err != nil {
		return nil, nil, err
	}
	sel, err := e.srv.Back.Query(ctx, e.ec, op)
	if err != nil {
		return nil, nil, wrapErr(KindBackend, n.Path, err)
	}
	if len(n.Grp) > 0 {
		// grouped nodes merge as a single aggregated map, handled by the caller
		return nil, []map[string]interface{}{sel.Agg}, nil
	}
	raw = sel.Rows
	if sel.More && n.Size > 0 {
		tok, err := nextToken(n)
		if err != nil {
			return nil, nil, wrapErr(KindBackend, n.Path, err)
		}
		e.mu.Lock()
		e.pages[pagePath(n.Path)] = tok
		e.mu.Unlock()
	}
	out = make([]map[string]interface{}, len(raw))
	for i, row := range raw {
		m := make(map[string]interface{}, len(n.Take)+len(n.Comp)+len(n.Sub))
		for _, f := range n.Take {
			m[f.Key()] = row[f.SrcPath()]
		}
		out[i] = m
	}
	err = e.subs(ctx, n, raw, out)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range n.Comp {
		for i, m := range out {
			rec := srcRec{res: n.Res, out: m, raw: raw[i]}
			v, cerr := e.ec.WithRecord(rec).Eval(f.SrcExp())
			if cerr != nil {
				return nil, nil, wrapErr(KindEval, childPath(n.Path, f.Key()), cerr)
			}
			m[f.Key()] = v
		}
	}
	return raw, out, nil
}

// srcRec resolves computed field sources: projected field keys first, then backend columns of
// the raw row, translating field keys to their source column.
type srcRec struct {
	res      *dom.Resource
	out, raw map[string]interface{}
}

func (r srcRec) Key(k string) (interface{}, bool) {
	if v, ok := r.out[k]; ok {
		return v, true
	}
	if f := r.res.Field(k); f != nil {
		if src := f.SrcPath(); src != "" {
			if v, ok := r.raw[src]; ok {
				return v, true
			}
		}
	}
	v, ok := r.raw[k]
	return v, ok
}

// subs prefetches all link children of n and joins their rows onto the parent rows.
func (e *exec) subs(ctx context.Context, n *Node, raw, out []map[string]interface{}) error {
	if len(n.Sub) == 0 {
		return nil
	}
	type sub struct {
		raw, out []map[string]interface{}
	}
	got := make([]sub, len(n.Sub))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.srv.Limit)
	pk := n.Res.PK()
	for i, s := range n.Sub {
		i, s := i, s
		// a keyless singleton parent leaves pcol empty, its one row owns every child row
		var pcol string
		switch {
		case !s.Field.IsList():
			pcol = s.Field.SrcPath()
		case pk != nil:
			pcol = pk.SrcPath()
		}
		g.Go(func() error {
			r, o, err := e.query(gctx, s, raw, pcol)
			got[i] = sub{r, o}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, s := range n.Sub {
		key := s.Field.Key()
		if s.Field.IsList() {
			if pk == nil {
				list := make([]interface{}, len(got[i].out))
				for j, cm := range got[i].out {
					list[j] = cm
				}
				for _, m := range out {
					m[key] = list
				}
				continue
			}
			part := s.Field.SrcPath()
			groups := make(map[interface{}][]interface{}, len(raw))
			for j, cr := range got[i].raw {
				pid := norm(cr[part])
				groups[pid] = append(groups[pid], got[i].out[j])
			}
			for j, m := range out {
				g := groups[norm(raw[j][pk.SrcPath()])]
				if g == nil {
					g = []interface{}{}
				}
				m[key] = g
			}
			continue
		}
		spk := s.Res.PK().SrcPath()
		byID := make(map[interface{}]map[string]interface{}, len(got[i].raw))
		for j, cr := range got[i].raw {
			byID[norm(cr[spk])] = got[i].out[j]
		}
		fk := s.Field.SrcPath()
		for j, m := range out {
			if v, ok := byID[norm(raw[j][fk])]; ok {
				m[key] = v
			} else {
				m[key] = nil
			}
		}
	}
	return nil
}

// readOp compiles one node into a backend read operation. Link nodes receive the collected
// parent identifier set and become a single batched prefetch, never one call per parent row.
func readOp(n *Node, parents []map[string]interface{}, pcol string) (*Op, error) {
	op := &Op{Res: n.Res, Cols: cols(n), Ord: n.Ord, Grp: n.Grp}
	whr := compact(n.Whr)
	pk := n.Res.PK()
	switch {
	case n.Field == nil:
		if n.Single && n.Key != nil {
			whr = append(whr, eqEl(pk.SrcPath(), n.Key))
		}
		if n.Single {
			op.Lim = 1
		} else {
			op.Off, op.Lim = n.Off, int64(n.Size)
		}
	case n.Field.IsList():
		// the partition column must come back for the parent join
		part := n.Field.SrcPath()
		op.Cols = addCol(op.Cols, part)
		if pcol == "" {
			// singleton parent, all rows belong to its one record
			op.Off, op.Lim = n.Off, int64(n.Size)
			break
		}
		keys := gather(parents, pcol)
		whr = append(whr, inEl(part, keys))
		if n.Size > 0 {
			op.Win = &Win{Part: part, Keys: keys, Lim: int64(n.Size), Off: n.Off,
				Ord: n.Ord}
		}
	default:
		if pk == nil {
			return nil, SchemaErrf("cannot join singleton %s by key", n.Res.Qual())
		}
		keys := gather(parents, pcol)
		whr = append(whr, inEl(pk.SrcPath(), keys))
	}
	op.Whr = and(whr)
	return op, nil
}

// cols collects the backend columns of a node: the projected sources, the primary key for
// joining and the foreign keys its link children need.
func cols(n *Node) []string {
	seen := map[string]bool{}
	var res []string
	add := func(src string) {
		if src != "" && !seen[src] {
			seen[src] = true
			res = append(res, src)
		}
	}
	for _, f := range n.Take {
		add(f.SrcPath())
	}
	if pk := n.Res.PK(); pk != nil {
		add(pk.SrcPath())
	}
	for _, s := range n.Sub {
		if !s.Field.IsList() {
			add(s.Field.SrcPath())
		}
	}
	for _, f := range n.Comp {
		expCols(n.Res, f.SrcExp(), add)
	}
	return res
}

// expCols collects the backend columns a computed source expression depends on.
func expCols(res *dom.Resource, el exp.El, add func(string)) {
	switch d := el.(type) {
	case *exp.Sym:
		name := d.Name
		if len(name) > 0 && name[0] == '.' {
			var head string
			head, name = cutSeg(name[1:])
			if head != "record" && head != "fields" {
				return
			}
		}
		key, _ := cutSeg(name)
		if f := res.Field(key); f != nil {
			add(f.SrcPath())
		}
	case *exp.Lst:
		for _, e := range d.Els {
			expCols(res, e, add)
		}
	case *exp.Call:
		for _, e := range d.List {
			expCols(res, e, add)
		}
		for _, t := range d.Dict {
			expCols(res, t.El, add)
		}
		if d.Arg != nil {
			expCols(res, d.Arg, add)
		}
	}
}

func addCol(cols []string, col string) []string {
	for _, c := range cols {
		if c == col {
			return cols
		}
	}
	return append(cols, col)
}

// gather collects the distinct non-null join values from the parent rows' pcol column.
func gather(parents []map[string]interface{}, pcol string) []interface{} {
	seen := map[interface{}]bool{}
	vals := make([]interface{}, 0, len(parents))
	for _, p := range parents {
		v := p[pcol]
		if v == nil {
			continue
		}
		k := norm(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		vals = append(vals, v)
	}
	return vals
}

func cutSeg(s string) (string, string) {
	head, rest, _ := strings.Cut(s, ".")
	return head, rest
}

func eqEl(col string, val interface{}) exp.El {
	return &exp.Call{Name: "eq", Args: exp.Args{List: []exp.El{
		&exp.Sym{Name: col}, &exp.Lit{Val: val},
	}}}
}

func inEl(col string, vals []interface{}) exp.El {
	return &exp.Call{Name: "in", Args: exp.Args{List: []exp.El{
		&exp.Sym{Name: col}, &exp.Lit{Val: vals},
	}}}
}

// norm normalizes join key values so numeric identifiers compare across encodings.
func norm(v interface{}) interface{} {
	switch d := v.(type) {
	case int:
		return float64(d)
	case int64:
		return float64(d)
	}
	return v
}

func pagePath(path string) string {
	if path == "" {
		return "data"
	}
	return "data." + path
}
