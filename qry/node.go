package qry

import (
	"sort"
	"strings"

	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/pol"
)

// Node is one addressed entity in a request tree. Filters, sort keys and group keys are kept
// in backend column terms once the node is built. Nodes are request scoped: built or cloned
// per request and discarded with the response.
type Node struct {
	Res    *dom.Resource
	Field  *dom.Field
	Path   string
	Action string
	Take   []*dom.Field
	Comp   []*dom.Field
	Whr    exp.El
	Ord    []Ord
	Size   int
	Off    int64
	Grp    []Agg
	Single bool
	Key    interface{}
	Sub    []*Node

	// state keeps the client parameters that built the node for page token capture
	state *State
}

// Clone returns a deep copy of the node tree. Expression elements are shared, they are never
// mutated after parsing.
func (n *Node) Clone() *Node {
	c := *n
	c.Take = append([]*dom.Field(nil), n.Take...)
	c.Comp = append([]*dom.Field(nil), n.Comp...)
	c.Ord = append([]Ord(nil), n.Ord...)
	c.Grp = append([]Agg(nil), n.Grp...)
	c.Sub = make([]*Node, len(n.Sub))
	for i, s := range n.Sub {
		c.Sub[i] = s.Clone()
	}
	return &c
}

// NewTree builds the node tree for a request addressing res, before access annotation.
func NewTree(srv *dom.Server, res *dom.Resource, key interface{}, ss States, action string,
	max int) (*Node, error) {
	b := &builder{srv: srv, ss: ss, max: max}
	n, err := b.node(res, nil, "", action, 0)
	if err != nil {
		return nil, err
	}
	if key != nil {
		if res.Singleton {
			return nil, SchemaErrf("singleton %s takes no key", res.Qual())
		}
		n.Single, n.Key = true, key
	}
	if res.Singleton {
		n.Single = true
	}
	return n, nil
}

type builder struct {
	srv *dom.Server
	ss  States
	max int
}

func (b *builder) node(res *dom.Resource, f *dom.Field, path, action string, depth int) (*Node, error) {
	if b.max > 0 && depth > b.max {
		return nil, SchemaErrf("query exceeds maximum depth %d", b.max)
	}
	s := b.ss[path]
	if s == nil {
		s = &State{Path: path}
	}
	fs := b.srv.Feat(res)
	n := &Node{Res: res, Field: f, Path: path, Action: action, state: s}
	if s.Action != "" && s.Action != action {
		if !fs.Action {
			return nil, b.off(n, "action")
		}
		n.Action = s.Action
	}
	take, err := b.take(res, s, fs)
	if err != nil {
		return nil, b.at(n, err)
	}
	var subs []string
	for _, tf := range take {
		switch {
		case tf.IsLink() && tf.IsList():
			subs = ensure(subs, tf.Key())
		case tf.SrcExp() != nil:
			n.Comp = append(n.Comp, tf)
		default:
			n.Take = append(n.Take, tf)
		}
	}
	if len(s.Whr) > 0 {
		if !fs.Where {
			return nil, b.off(n, "where")
		}
		els := make([]exp.El, 0, len(s.Whr))
		for _, el := range s.Whr {
			sel, err := subst(res, el)
			if err != nil {
				return nil, b.at(n, err)
			}
			els = append(els, sel)
		}
		n.Whr = and(els)
	}
	if len(s.Ord) > 0 {
		if !fs.Sort {
			return nil, b.off(n, "sort")
		}
		for _, o := range s.Ord {
			src, err := colFor(res, o.Key)
			if err != nil {
				return nil, b.at(n, err)
			}
			n.Ord = append(n.Ord, Ord{Key: src, Desc: o.Desc})
		}
	}
	if len(s.Grp) > 0 {
		if f != nil {
			return nil, b.at(n, SchemaErrf("group applies to the root node only"))
		}
		for _, g := range s.Grp {
			if !fs.GroupOp(g.Op) {
				return nil, b.at(n, SchemaErrf("group operator %s not enabled on %s",
					g.Op, res.Qual()))
			}
			a := g
			if g.Key != "" {
				src, err := colFor(res, g.Key)
				if err != nil {
					return nil, b.at(n, err)
				}
				a.Key = src
			}
			n.Grp = append(n.Grp, a)
		}
		if s.Size > 0 || s.Off > 0 || s.Token != "" {
			return nil, b.at(n, SchemaErrf("grouped nodes cannot page"))
		}
	}
	if s.Size > 0 || s.Off > 0 {
		if fs.Page == nil {
			return nil, b.off(n, "page")
		}
	}
	n.Off = s.Off
	root := path == "" && n.Action == ActGet && len(n.Grp) == 0 && !res.Singleton
	if s.Size > 0 || root {
		n.Size = fs.PageSize(s.Size)
	}
	if n.Size > 0 && len(n.Ord) == 0 {
		// a deterministic order is required for stable pages
		if pk := res.PK(); pk != nil {
			n.Ord = []Ord{{Key: pk.SrcPath()}}
		}
	}
	// explicit parameter paths below this node become children too
	for p := range b.ss {
		if rest, ok := childKey(path, p); ok {
			subs = ensure(subs, rest)
		}
	}
	sort.Strings(subs)
	for _, key := range subs {
		lf := res.Field(key)
		if lf == nil {
			return nil, b.at(n, SchemaErrf("unknown field %s on %s", key, res.Qual()))
		}
		if !lf.IsLink() {
			return nil, b.at(n, SchemaErrf("field %s on %s is not a link", key, res.Qual()))
		}
		tgt := b.srv.Resource(lf.Type.Link)
		sub, err := b.node(tgt, lf, childPath(path, key), ActGet, depth+1)
		if err != nil {
			return nil, err
		}
		n.Sub = append(n.Sub, sub)
	}
	return n, nil
}

func (b *builder) off(n *Node, feat string) error {
	return b.at(n, SchemaErrf("feature %s not enabled on %s", feat, n.Res.Qual()))
}

func (b *builder) at(n *Node, err error) error {
	return wrapErr(KindSchema, n.Path, err)
}

// take resolves the projection list for one node.
func (b *builder) take(res *dom.Resource, s *State, fs *dom.Features) ([]*dom.Field, error) {
	if len(s.Take) == 0 {
		return res.Deflt(), nil
	}
	if !fs.Take {
		return nil, SchemaErrf("feature take not enabled on %s", res.Qual())
	}
	var list []*dom.Field
	seen := map[string]bool{}
	excl := map[string]bool{}
	add := func(f *dom.Field) {
		if !seen[f.Key()] {
			seen[f.Key()] = true
			list = append(list, f)
		}
	}
	for _, t := range s.Take {
		switch {
		case t == "*":
			for _, f := range res.Deflt() {
				add(f)
			}
		case t[0] == '-':
			key := t[1:]
			if res.Field(key) == nil {
				return nil, SchemaErrf("unknown field %s on %s", key, res.Qual())
			}
			excl[key] = true
		default:
			f := res.Field(t)
			if f == nil {
				return nil, SchemaErrf("unknown field %s on %s", t, res.Qual())
			}
			add(f)
		}
	}
	if len(list) == 0 {
		// only exclusions given, they apply to the default projection
		list = res.Deflt()
	}
	kept := list[:0]
	for _, f := range list {
		if !excl[f.Key()] {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

func ensure(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}

// childKey returns the first path segment of p below the node path, if p addresses a strict
// descendant.
func childKey(path, p string) (string, bool) {
	if p == "" || p == path {
		return "", false
	}
	if path != "" {
		if !strings.HasPrefix(p, path+".") {
			return "", false
		}
		p = p[len(path)+1:]
	}
	key, _, _ := strings.Cut(p, ".")
	return key, true
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// colFor maps a logical field key to its backend column.
func colFor(res *dom.Resource, key string) (string, error) {
	f := res.Field(key)
	if f == nil {
		return "", SchemaErrf("unknown field %s on %s", key, res.Qual())
	}
	if f.IsLink() && f.IsList() {
		return "", SchemaErrf("field %s on %s has no column", key, res.Qual())
	}
	if src := f.SrcPath(); src != "" {
		return src, nil
	}
	return "", SchemaErrf("field %s on %s is computed", key, res.Qual())
}

// subst rewrites logical field keys in a filter expression to backend column names. Bare
// identifiers and record root paths resolve against the resource, other root paths pass
// through untouched.
func subst(res *dom.Resource, el exp.El) (exp.El, error) {
	switch d := el.(type) {
	case nil, *exp.Lit:
		return el, nil
	case *exp.Sym:
		name, pre := d.Name, ""
		if strings.HasPrefix(name, ".") {
			head, rest, _ := strings.Cut(name[1:], ".")
			if head != "record" && head != "fields" {
				return el, nil
			}
			pre, name = "."+head+".", rest
		}
		key, rest, dotted := strings.Cut(name, ".")
		src, err := colFor(res, key)
		if err != nil {
			return nil, err
		}
		if dotted {
			src = src + "." + rest
		}
		return &exp.Sym{Name: pre + src}, nil
	case *exp.Lst:
		els := make([]exp.El, len(d.Els))
		for i, e := range d.Els {
			se, err := subst(res, e)
			if err != nil {
				return nil, err
			}
			els[i] = se
		}
		return &exp.Lst{Els: els}, nil
	case *exp.Call:
		c := &exp.Call{Name: d.Name}
		for _, e := range d.List {
			se, err := subst(res, e)
			if err != nil {
				return nil, err
			}
			c.List = append(c.List, se)
		}
		for _, t := range d.Dict {
			se, err := subst(res, t.El)
			if err != nil {
				return nil, err
			}
			c.Dict = append(c.Dict, exp.Tag{Name: t.Name, El: se})
		}
		if d.Arg != nil {
			se, err := subst(res, d.Arg)
			if err != nil {
				return nil, err
			}
			c.Arg = se
		}
		return c, nil
	}
	return el, nil
}

// Annotate resolves access for every node. Denied nodes fail the request, denied fields are
// pruned from the projection, filters compose into the node filter.
func Annotate(r *pol.Resolver, c *exp.Ctx, n *Node) error {
	d, err := r.Can(c, n.Res, n.Action)
	if err != nil {
		return wrapErr(KindEval, n.Path, err)
	}
	if n.Field != nil {
		// the link field itself must allow the action on the parent resource
		fd, err := r.CanField(c, n.Field, n.Action)
		if err != nil {
			return wrapErr(KindEval, n.Path, err)
		}
		d = d.And(fd)
	}
	if d.Deny {
		return wrapErr(KindPermission, n.Path, pol.Deny(n.Res.Qual(), n.Action))
	}
	if d.Filter != nil {
		f, err := subst(n.Res, d.Filter)
		if err != nil {
			return wrapErr(KindSchema, n.Path, err)
		}
		n.Whr = and(compact(n.Whr, f))
	}
	n.Take, err = pruneFields(r, c, n, n.Take)
	if err != nil {
		return err
	}
	n.Comp, err = pruneFields(r, c, n, n.Comp)
	if err != nil {
		return err
	}
	for _, s := range n.Sub {
		err = Annotate(r, c, s)
		if err != nil {
			return err
		}
	}
	return nil
}

func pruneFields(r *pol.Resolver, c *exp.Ctx, n *Node, fields []*dom.Field) ([]*dom.Field, error) {
	res := fields[:0]
	for _, f := range fields {
		fd, err := r.CanField(c, f, n.Action)
		if err != nil {
			return nil, wrapErr(KindEval, n.Path, err)
		}
		if fd.Deny {
			continue
		}
		if fd.Filter != nil {
			// field visibility conditional on record data composes into the filter
			sf, err := subst(n.Res, fd.Filter)
			if err != nil {
				return nil, wrapErr(KindSchema, n.Path, err)
			}
			n.Whr = and(compact(n.Whr, sf))
		}
		res = append(res, f)
	}
	return res, nil
}

func compact(els ...exp.El) []exp.El {
	res := els[:0]
	for _, el := range els {
		if el != nil {
			res = append(res, el)
		}
	}
	return res
}
