package qrysql

import (
	"context"
	"database/sql"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/qry"
	"github.com/pkg/errors"
)

type runner interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Exec applies write rows. Atomic batches run in one transaction and roll back on the first
// failure, otherwise every row commits on its own.
func (b *Backend) Exec(ctx context.Context, c *exp.Ctx, w *qry.Write) (*qry.Wrote, error) {
	wrote := &qry.Wrote{
		Rows: make([]map[string]interface{}, len(w.Rows)),
		Errs: make([]error, len(w.Rows)),
	}
	if w.Atomic {
		tx, err := b.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		for k, row := range w.Rows {
			if row == nil {
				continue
			}
			out, err := b.apply(ctx, tx, w, row)
			if err != nil {
				tx.Rollback()
				rollback(wrote, k, err)
				return wrote, nil
			}
			wrote.Rows[k] = out
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return wrote, nil
	}
	for k, row := range w.Rows {
		if row == nil {
			continue
		}
		tx, err := b.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		out, err := b.apply(ctx, tx, w, row)
		if err == nil {
			err = tx.Commit()
		} else {
			tx.Rollback()
		}
		if err != nil {
			wrote.Errs[k] = err
			continue
		}
		wrote.Rows[k] = out
	}
	return wrote, nil
}

func rollback(w *qry.Wrote, failed int, err error) {
	for k := range w.Errs {
		w.Rows[k] = nil
		switch {
		case k < failed:
			w.Errs[k] = qry.ErrRolledBack
		case k == failed:
			w.Errs[k] = err
		case k > failed:
			w.Errs[k] = qry.ErrSkipped
		}
	}
}

func (b *Backend) apply(ctx context.Context, tx runner, w *qry.Write,
	row map[string]interface{}) (map[string]interface{}, error) {
	table := w.Res.Table()
	var pk string
	if f := w.Res.PK(); f != nil {
		pk = f.SrcPath()
	}
	switch w.Action {
	case qry.ActAdd:
		if pk != "" && row[pk] == nil {
			next, err := b.nextKey(ctx, tx, table, pk)
			if err != nil {
				return nil, err
			}
			row[pk] = next
		}
		cols, vals := rowCols(row)
		stmt, args, err := sq.Insert(qident(table)).Columns(qidents(cols)...).
			Values(vals...).PlaceholderFormat(b.PH).ToSql()
		if err != nil {
			return nil, err
		}
		if _, err = tx.ExecContext(ctx, stmt, args...); err != nil {
			return nil, err
		}
		return b.readBack(ctx, tx, table, pk, row[pk])
	case qry.ActSet, qry.ActEdit:
		set := make(map[string]interface{}, len(row))
		for k, v := range row {
			if k != pk {
				set[qident(k)] = v
			}
		}
		if len(set) > 0 {
			qb := sq.Update(qident(table)).SetMap(set)
			if pk != "" {
				qb = qb.Where(sq.Eq{qident(pk): row[pk]})
			}
			stmt, args, err := qb.PlaceholderFormat(b.PH).ToSql()
			if err != nil {
				return nil, err
			}
			res, err := tx.ExecContext(ctx, stmt, args...)
			if err != nil {
				return nil, err
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 && pk != "" {
				return nil, errors.Errorf("no row with key %v", row[pk])
			}
		}
		return b.readBack(ctx, tx, table, pk, row[pk])
	case qry.ActDelete:
		if pk == "" {
			return nil, errors.Errorf("action delete needs a keyed resource")
		}
		stmt, args, err := sq.Delete(qident(table)).Where(sq.Eq{qident(pk): row[pk]}).
			PlaceholderFormat(b.PH).ToSql()
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, errors.Errorf("no row with key %v", row[pk])
		}
		return nil, nil
	}
	return nil, errors.Errorf("unknown write action %s", w.Action)
}

// nextKey generates the next numeric key inside the write transaction.
func (b *Backend) nextKey(ctx context.Context, tx runner, table, pk string) (interface{}, error) {
	stmt := "SELECT COALESCE(MAX(" + qident(pk) + "), 0) + 1 FROM " + qident(table)
	var next float64
	if err := tx.QueryRowContext(ctx, stmt).Scan(&next); err != nil {
		return nil, err
	}
	return next, nil
}

// readBack reads the written row for the response.
func (b *Backend) readBack(ctx context.Context, tx runner, table, pk string,
	key interface{}) (map[string]interface{}, error) {
	qb := sq.Select("*").From(qident(table))
	if pk != "" {
		qb = qb.Where(sq.Eq{qident(pk): key})
	} else {
		qb = qb.Limit(1)
	}
	stmt, args, err := qb.PlaceholderFormat(b.PH).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res, err := scan(rows)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, errors.Errorf("written row %v not found", key)
	}
	return res[0], nil
}

func rowCols(row map[string]interface{}) ([]string, []interface{}) {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	vals := make([]interface{}, len(cols))
	for i, c := range cols {
		vals[i] = row[c]
	}
	return cols, vals
}
