// Package qrymem provides a query backend over in-memory tables, used by tests and small
// fixture datasets.
package qrymem

import (
	"context"
	"sync"

	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/dom/domtest"
	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/qry"
	"github.com/pkg/errors"
)

type Backend struct {
	mu     sync.RWMutex
	tables map[string][]map[string]interface{}
}

func New() *Backend {
	return &Backend{tables: make(map[string][]map[string]interface{})}
}

// Add registers the backend rows for a resource.
func (b *Backend) Add(res *dom.Resource, rows []map[string]interface{}) {
	b.AddTable(res.Table(), rows)
}

// LoadFixture fills the backend with deep copies of all fixture tables.
func (b *Backend) LoadFixture(f *domtest.Fixture) {
	for key := range f.Fix {
		b.AddTable(key, f.Rows(key))
	}
}

// AddTable registers backend rows under a raw table name.
func (b *Backend) AddTable(name string, rows []map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[name] = rows
}

func (b *Backend) Query(ctx context.Context, c *exp.Ctx, op *qry.Op) (*qry.Sel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	table, ok := b.tables[op.Res.Table()]
	if !ok {
		return nil, errors.Errorf("no table %s", op.Res.Table())
	}
	rows, err := filter(c, table, op.Whr)
	if err != nil {
		return nil, err
	}
	if len(op.Grp) > 0 {
		agg, err := aggregate(rows, op.Grp)
		if err != nil {
			return nil, err
		}
		return &qry.Sel{Agg: agg}, nil
	}
	if op.Win != nil {
		return window(rows, op)
	}
	orderRows(rows, op.Ord)
	sel := &qry.Sel{}
	rows, sel.More = slice(rows, op.Off, op.Lim)
	sel.Rows = project(rows, op.Cols)
	return sel, nil
}

// window applies the per-parent rank limit: rows group by the partition column and each group
// is ordered and sliced independently, so a large parent cannot starve later parents.
func window(rows []map[string]interface{}, op *qry.Op) (*qry.Sel, error) {
	w := op.Win
	groups := make(map[interface{}][]map[string]interface{})
	var order []interface{}
	for _, r := range rows {
		k := norm(r[w.Part])
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	sel := &qry.Sel{}
	for _, k := range order {
		g := groups[k]
		orderRows(g, w.Ord)
		g, more := slice(g, w.Off, w.Lim)
		sel.More = sel.More || more
		sel.Rows = append(sel.Rows, project(g, op.Cols)...)
	}
	return sel, nil
}

func filter(c *exp.Ctx, table []map[string]interface{}, whr exp.El) ([]map[string]interface{}, error) {
	rows := make([]map[string]interface{}, 0, len(table))
	for _, r := range table {
		if whr != nil {
			ok, err := c.WithRecord(r).EvalBool(whr)
			if err != nil {
				// unresolved identifiers exclude the row instead of failing
				if exp.IsUnres(err) {
					continue
				}
				return nil, err
			}
			if !ok {
				continue
			}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func slice(rows []map[string]interface{}, off, lim int64) ([]map[string]interface{}, bool) {
	if off > 0 {
		if int64(len(rows)) <= off {
			return nil, false
		}
		rows = rows[off:]
	}
	if lim > 0 && int64(len(rows)) > lim {
		return rows[:lim], true
	}
	return rows, false
}

// project copies rows down to the requested columns, so callers never alias table data.
func project(rows []map[string]interface{}, cols []string) []map[string]interface{} {
	res := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		m := make(map[string]interface{}, len(cols))
		if len(cols) == 0 {
			for k, v := range r {
				m[k] = v
			}
		}
		for _, c := range cols {
			m[c] = r[c]
		}
		res[i] = m
	}
	return res
}

func norm(v interface{}) interface{} {
	switch d := v.(type) {
	case int:
		return float64(d)
	case int64:
		return float64(d)
	}
	return v
}
