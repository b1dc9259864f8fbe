package qrymem

import (
	"context"

	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/qry"
	"github.com/pkg/errors"
)

func (b *Backend) Exec(ctx context.Context, c *exp.Ctx, w *qry.Write) (*qry.Wrote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	name := w.Res.Table()
	table, ok := b.tables[name]
	if !ok {
		return nil, errors.Errorf("no table %s", name)
	}
	var snap []map[string]interface{}
	if w.Atomic {
		snap = snapshot(table)
	}
	wrote := &qry.Wrote{
		Rows: make([]map[string]interface{}, len(w.Rows)),
		Errs: make([]error, len(w.Rows)),
	}
	for k, row := range w.Rows {
		if row == nil {
			continue
		}
		next, out, err := b.apply(table, w.Res, w.Action, row)
		if err != nil {
			wrote.Errs[k] = err
			if w.Atomic {
				b.tables[name] = snap
				rollback(wrote, k)
				return wrote, nil
			}
			continue
		}
		table = next
		wrote.Rows[k] = out
	}
	b.tables[name] = table
	return wrote, nil
}

func rollback(w *qry.Wrote, failed int) {
	for k := range w.Errs {
		w.Rows[k] = nil
		switch {
		case k < failed:
			w.Errs[k] = qry.ErrRolledBack
		case k > failed:
			w.Errs[k] = qry.ErrSkipped
		}
	}
}

func (b *Backend) apply(table []map[string]interface{}, res *dom.Resource, action string,
	row map[string]interface{}) ([]map[string]interface{}, map[string]interface{}, error) {
	if res.PK() == nil {
		return applySingleton(table, action, row)
	}
	pk := res.PK().SrcPath()
	switch action {
	case qry.ActAdd:
		if row[pk] == nil {
			row[pk] = nextKey(table, pk)
		} else if findRow(table, pk, row[pk]) >= 0 {
			return nil, nil, errors.Errorf("duplicate key %v", row[pk])
		}
		if err := checkUnique(table, res, row, -1); err != nil {
			return nil, nil, err
		}
		return append(table, row), row, nil
	case qry.ActSet, qry.ActEdit:
		at := findRow(table, pk, row[pk])
		if at < 0 {
			return nil, nil, errors.Errorf("no row with key %v", row[pk])
		}
		if err := checkUnique(table, res, row, at); err != nil {
			return nil, nil, err
		}
		if action == qry.ActSet {
			table[at] = row
			return table, row, nil
		}
		merged := make(map[string]interface{}, len(table[at]))
		for k, v := range table[at] {
			merged[k] = v
		}
		for k, v := range row {
			merged[k] = v
		}
		table[at] = merged
		return table, merged, nil
	case qry.ActDelete:
		at := findRow(table, pk, row[pk])
		if at < 0 {
			return nil, nil, errors.Errorf("no row with key %v", row[pk])
		}
		return append(table[:at], table[at+1:]...), nil, nil
	}
	return nil, nil, errors.Errorf("unknown write action %s", action)
}

// applySingleton addresses the single row of a keyless resource.
func applySingleton(table []map[string]interface{}, action string,
	row map[string]interface{}) ([]map[string]interface{}, map[string]interface{}, error) {
	switch action {
	case qry.ActSet, qry.ActEdit:
		if len(table) == 0 {
			return append(table, row), row, nil
		}
		if action == qry.ActSet {
			table[0] = row
			return table, row, nil
		}
		merged := make(map[string]interface{}, len(table[0]))
		for k, v := range table[0] {
			merged[k] = v
		}
		for k, v := range row {
			merged[k] = v
		}
		table[0] = merged
		return table, merged, nil
	}
	return nil, nil, errors.Errorf("action %s needs a keyed resource", action)
}

func checkUnique(table []map[string]interface{}, res *dom.Resource,
	row map[string]interface{}, self int) error {
	for _, f := range res.Fields {
		if !f.Unique {
			continue
		}
		col := f.SrcPath()
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		for i, r := range table {
			if i != self && exp.Equal(r[col], v) {
				return errors.Errorf("duplicate value %v for %s", v, f.Key())
			}
		}
	}
	return nil
}

func findRow(table []map[string]interface{}, pk string, key interface{}) int {
	for i, r := range table {
		if exp.Equal(r[pk], key) {
			return i
		}
	}
	return -1
}

func nextKey(table []map[string]interface{}, pk string) interface{} {
	var max float64
	for _, r := range table {
		if n, err := exp.Num(r[pk]); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

func snapshot(table []map[string]interface{}) []map[string]interface{} {
	snap := make([]map[string]interface{}, len(table))
	for i, r := range table {
		m := make(map[string]interface{}, len(r))
		for k, v := range r {
			m[k] = v
		}
		snap[i] = m
	}
	return snap
}
