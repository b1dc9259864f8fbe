package qry

import (
	"context"
	"strconv"

	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/pol"
)

// write runs a write action for one node. List payloads are bulk writes: by default every
// element is attempted independently, an atomic batch aborts and rolls back on the first
// failure. The returned data holds the written rows read back through the node projection,
// errors are keyed by element path.
func (e *exec) write(ctx context.Context, n *Node, payload interface{}, atomic bool) (
	interface{}, map[string]interface{}, error) {
	single := true
	var elems []interface{}
	switch d := payload.(type) {
	case nil:
		if n.Action != ActDelete || n.Key == nil {
			return nil, nil, wrapErr(KindValidation, "data", ValidErrf("missing payload"))
		}
		elems = []interface{}{map[string]interface{}{n.Res.PK().Key(): n.Key}}
	case []interface{}:
		elems, single = d, false
	default:
		elems = []interface{}{d}
	}
	epath := func(k int) string {
		if single {
			return "data"
		}
		return "data." + strconv.Itoa(k)
	}
	rows := make([]map[string]interface{}, len(elems))
	rerrs := make([]error, len(elems))
	failed := -1
	for k, el := range elems {
		row, err := e.row(n, el)
		if err != nil {
			rerrs[k] = err
			if failed < 0 {
				failed = k
			}
			if atomic {
				break
			}
			continue
		}
		rows[k] = row
	}
	// writes honor the node access filter, rows it excludes fail the permission check
	if n.Action != ActAdd && (!atomic || failed < 0) {
		if err := e.allowRows(ctx, n, rows, rerrs, &failed); err != nil {
			return nil, nil, err
		}
	}
	errs := map[string]interface{}{}
	if atomic && failed >= 0 {
		// reject the whole batch without a backend call
		for k := range elems {
			switch {
			case k < failed:
				errs[epath(k)] = ErrRolledBack.Error()
			case k == failed:
				errs[epath(k)] = rerrs[k].Error()
			default:
				errs[epath(k)] = ErrSkipped.Error()
			}
		}
		return nil, errs, nil
	}
	// a batch rejected in full never reaches the backend
	wrote := &Wrote{Rows: make([]map[string]interface{}, len(elems))}
	if anyRow(rows) {
		var err error
		wrote, err = e.srv.Back.Exec(ctx, e.ec, &Write{
			Res: n.Res, Action: n.Action, Rows: rows, Atomic: atomic,
		})
		if err != nil {
			return nil, nil, wrapErr(KindBackend, "data", err)
		}
	}
	for k, werr := range wrote.Errs {
		if werr != nil && rerrs[k] == nil {
			rerrs[k] = werr
		}
	}
	var list []interface{}
	for k := range elems {
		if rerrs[k] != nil {
			errs[epath(k)] = rerrs[k].Error()
			continue
		}
		if n.Action == ActDelete {
			continue
		}
		if k < len(wrote.Rows) && wrote.Rows[k] != nil {
			list = append(list, e.outRow(n, wrote.Rows[k]))
		}
	}
	if len(errs) == 0 {
		errs = nil
	}
	if n.Action == ActDelete {
		return nil, errs, nil
	}
	if single {
		if len(list) == 0 {
			return nil, errs, nil
		}
		return list[0], errs, nil
	}
	return list, errs, nil
}

// allowRows checks addressed rows against the node access filter before the backend call.
// Rows the filter excludes fail with a permission error, the filter never scopes adds.
func (e *exec) allowRows(ctx context.Context, n *Node, rows []map[string]interface{},
	rerrs []error, failed *int) error {
	whr := compact(n.Whr)
	if len(whr) == 0 {
		return nil
	}
	deny := func(k int) {
		rows[k] = nil
		rerrs[k] = pol.Deny(n.Res.Qual(), n.Action)
		if *failed < 0 || k < *failed {
			*failed = k
		}
	}
	pk := n.Res.PK()
	if pk == nil {
		// singletons check their only row
		sel, err := e.srv.Back.Query(ctx, e.ec, &Op{Res: n.Res, Whr: and(whr), Lim: 1})
		if err != nil {
			return wrapErr(KindBackend, "data", err)
		}
		if len(sel.Rows) == 0 {
			for k, r := range rows {
				if r != nil {
					deny(k)
				}
			}
		}
		return nil
	}
	src := pk.SrcPath()
	var keys []interface{}
	for _, r := range rows {
		if r == nil {
			continue
		}
		if v := r[src]; v != nil {
			keys = append(keys, v)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sel, err := e.srv.Back.Query(ctx, e.ec, &Op{
		Res: n.Res, Cols: []string{src}, Whr: and(append(whr, inEl(src, keys))),
	})
	if err != nil {
		return wrapErr(KindBackend, "data", err)
	}
	ok := make(map[interface{}]bool, len(sel.Rows))
	for _, row := range sel.Rows {
		ok[norm(row[src])] = true
	}
	for k, r := range rows {
		if r == nil {
			continue
		}
		if v := r[src]; v != nil && !ok[norm(v)] {
			deny(k)
		}
	}
	return nil
}

func anyRow(rows []map[string]interface{}) bool {
	for _, r := range rows {
		if r != nil {
			return true
		}
	}
	return false
}

// outRow maps a written backend row through the node projection.
func (e *exec) outRow(n *Node, row map[string]interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(n.Take)+len(n.Comp))
	for _, f := range n.Take {
		m[f.Key()] = row[f.SrcPath()]
	}
	for _, f := range n.Comp {
		if v, err := e.ec.WithRecord(m).Eval(f.SrcExp()); err == nil {
			m[f.Key()] = v
		}
	}
	return m
}

// row validates one payload element and converts it to a backend row.
func (e *exec) row(n *Node, elem interface{}) (map[string]interface{}, error) {
	res := n.Res
	m, ok := elem.(map[string]interface{})
	if !ok {
		return nil, ValidErrf("expect object payload got %T", elem)
	}
	row := make(map[string]interface{}, len(m))
	for key, v := range m {
		f := res.Field(key)
		if f == nil {
			return nil, ValidErrf("unknown field %s", key)
		}
		err := e.checkField(n, f, m, v)
		if err != nil {
			return nil, err
		}
		row[f.SrcPath()] = v
	}
	if n.Action == ActAdd || n.Action == ActSet {
		err := e.fillDefaults(n, m, row)
		if err != nil {
			return nil, err
		}
	}
	if n.Action != ActAdd {
		// singletons have no key, the backend addresses their only row
		if pk := res.PK(); pk != nil {
			if n.Key != nil {
				row[pk.SrcPath()] = n.Key
			} else if _, ok := row[pk.SrcPath()]; !ok {
				return nil, ValidErrf("missing primary key %s", pk.Key())
			}
		}
	}
	return row, nil
}

func (e *exec) checkField(n *Node, f *dom.Field, m map[string]interface{}, v interface{}) error {
	key := f.Key()
	if f.SrcExp() != nil || f.IsLink() && f.IsList() {
		return ValidErrf("field %s is not writable", key)
	}
	fd, err := e.srv.Pol.CanField(e.ec, f, n.Action)
	if err != nil {
		return err
	}
	if fd.Filter != nil {
		// conditional write rules evaluate against the payload record
		ok, ferr := e.ec.WithRecord(m).EvalBool(fd.Filter)
		if ferr != nil {
			return ferr
		}
		if !ok {
			fd = pol.Denied
		}
	}
	if fd.Deny {
		return pol.Deny(n.Res.Qual()+"."+key, n.Action)
	}
	if len(f.Opts) > 0 && v != nil {
		if f.Opt(v) == nil {
			return ValidErrf("invalid option %v for field %s", v, key)
		}
		od, oerr := e.srv.Pol.CanOpt(e.ec, f, v, n.Action)
		if oerr != nil {
			return oerr
		}
		if od.Deny {
			return pol.Deny(n.Res.Qual()+"."+key, n.Action)
		}
	}
	if err := f.Type.Check(v); err != nil {
		return ValidErrf("field %s: %v", key, err)
	}
	return nil
}

// fillDefaults completes full writes: absent fields take their declared default, remaining
// absent non-nullable fields fail validation.
func (e *exec) fillDefaults(n *Node, m, row map[string]interface{}) error {
	for _, f := range n.Res.Fields {
		key := f.Key()
		if _, ok := m[key]; ok {
			continue
		}
		if f.SrcExp() != nil || f.IsLink() && f.IsList() || f.Primary {
			continue
		}
		if f.Default.El != nil {
			v, err := e.ec.WithRecord(m).Eval(f.Default.El)
			if err != nil {
				return err
			}
			row[f.SrcPath()] = v
			continue
		}
		if !f.Type.Null {
			return ValidErrf("missing field %s", key)
		}
		row[f.SrcPath()] = nil
	}
	return nil
}
