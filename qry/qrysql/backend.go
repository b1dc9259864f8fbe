// Package qrysql implements the query backend over database/sql.
//
// Statements build with squirrel and stay within portable SQL: per-parent rank limits compile
// to a ROW_NUMBER window instead of dialect-specific lateral joins. The backend works with any
// registered driver, the placeholder format selects the dialect.
package qrysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/qry"
	"github.com/pkg/errors"
)

type Backend struct {
	DB *sql.DB
	PH sq.PlaceholderFormat
}

// New returns a backend using question mark placeholders, fitting sqlite and mysql.
func New(db *sql.DB) *Backend { return &Backend{DB: db, PH: sq.Question} }

// NewPostgres returns a backend using dollar placeholders.
func NewPostgres(db *sql.DB) *Backend { return &Backend{DB: db, PH: sq.Dollar} }

func (b *Backend) Query(ctx context.Context, c *exp.Ctx, op *qry.Op) (*qry.Sel, error) {
	qb, err := selectOp(c, op)
	if err != nil {
		return nil, err
	}
	stmt, args, err := qb.PlaceholderFormat(b.PH).ToSql()
	if err != nil {
		return nil, errors.WithMessage(err, "build select")
	}
	rows, err := b.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.WithMessage(err, "query")
	}
	defer rows.Close()
	res, err := scan(rows)
	if err != nil {
		return nil, err
	}
	if len(op.Grp) > 0 {
		sel := &qry.Sel{Agg: map[string]interface{}{}}
		if len(res) > 0 {
			sel.Agg = res[0]
		}
		return sel, nil
	}
	if op.Win != nil {
		return winSel(op.Win, res), nil
	}
	sel := &qry.Sel{Rows: res}
	if op.Lim > 0 && int64(len(res)) > op.Lim {
		sel.Rows, sel.More = res[:op.Lim], true
	}
	return sel, nil
}

// selectOp compiles a read operation. Plain selects fetch one row past the limit to detect
// further pages, windowed selects do the same per partition.
func selectOp(c *exp.Ctx, op *qry.Op) (sq.SelectBuilder, error) {
	w, err := where(c, op.Whr)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	if len(op.Grp) > 0 {
		qb := sq.Select().From(qident(op.Res.Table()))
		for _, g := range op.Grp {
			agg, err := aggExpr(g)
			if err != nil {
				return sq.SelectBuilder{}, err
			}
			qb = qb.Column(sq.Alias(sq.Expr(agg), qident(g.Name)))
		}
		if w != nil {
			qb = qb.Where(w)
		}
		return qb, nil
	}
	if win := op.Win; win != nil {
		ord := win.Ord
		if len(ord) == 0 {
			ord = []qry.Ord{{Key: win.Part}}
		}
		over := fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s)",
			qident(win.Part), strings.Join(ordSQL(ord), ", "))
		inner := sq.Select(selCols(op.Cols)...).
			Column(sq.Alias(sq.Expr(over), "rn")).
			From(qident(op.Res.Table()))
		if w != nil {
			inner = inner.Where(w)
		}
		return sq.Select(append(selCols(op.Cols), "rn")...).
			FromSelect(inner, "w").
			Where(sq.Gt{"rn": win.Off}).
			Where(sq.LtOrEq{"rn": win.Off + win.Lim + 1}), nil
	}
	qb := sq.Select(selCols(op.Cols)...).From(qident(op.Res.Table()))
	if w != nil {
		qb = qb.Where(w)
	}
	if len(op.Ord) > 0 {
		qb = qb.OrderBy(ordSQL(op.Ord)...)
	}
	if op.Off > 0 {
		qb = qb.Offset(uint64(op.Off))
	}
	if op.Lim > 0 {
		qb = qb.Limit(uint64(op.Lim) + 1)
	}
	return qb, nil
}

// winSel trims each partition back to its limit and reports whether any had more.
func winSel(win *qry.Win, rows []map[string]interface{}) *qry.Sel {
	sel := &qry.Sel{}
	for _, r := range rows {
		rn, err := exp.Num(r["rn"])
		delete(r, "rn")
		if err == nil && int64(rn) > win.Off+win.Lim {
			sel.More = true
			continue
		}
		sel.Rows = append(sel.Rows, r)
	}
	return sel
}

func aggExpr(g qry.Agg) (string, error) {
	switch g.Op {
	case "count":
		if g.Key == "" || g.Key == "*" {
			return "COUNT(*)", nil
		}
		return "COUNT(" + qident(g.Key) + ")", nil
	case "sum", "avg", "max", "min":
		return strings.ToUpper(g.Op) + "(" + qident(g.Key) + ")", nil
	}
	return "", errors.Errorf("aggregate %s not supported by the sql backend", g.Op)
}

func ordSQL(ord []qry.Ord) []string {
	res := make([]string, len(ord))
	for i, o := range ord {
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		res[i] = qident(o.Key) + dir
	}
	return res
}

// qident quotes an identifier. Table names may contain a dot from their space qualifier.
func qident(name string) string { return `"` + name + `"` }

func qidents(names []string) []string {
	res := make([]string, len(names))
	for i, n := range names {
		res[i] = qident(n)
	}
	return res
}

// selCols quotes a projection, an empty one selects all columns.
func selCols(names []string) []string {
	if len(names) == 0 {
		return []string{"*"}
	}
	return qidents(names)
}

// scan reads all rows into maps, converting driver types to their json shapes.
func scan(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var res []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			m[c] = normVal(vals[i])
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func normVal(v interface{}) interface{} {
	switch d := v.(type) {
	case []byte:
		return string(d)
	case int64:
		return float64(d)
	case float32:
		return float64(d)
	case time.Time:
		return d.UTC().Format(time.RFC3339)
	}
	return v
}
