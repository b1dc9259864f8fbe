package qrysql

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/mb0/resq/dom/domtest"
	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/qry"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// openDemo loads the demo fixture into an in-memory sqlite database.
func openDemo(t *testing.T) (*domtest.Fixture, *Backend) {
	t.Helper()
	f := domtest.Must(domtest.Demo())
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	for _, key := range f.Keys() {
		rows := f.Rows(key)
		cols, _ := rowCols(rows[0])
		ddl := "CREATE TABLE " + qident(key) + " (" +
			strings.Join(qidents(cols), ", ") + ")"
		_, err := db.Exec(ddl)
		require.NoError(t, err)
		for _, r := range rows {
			cols, vals := rowCols(r)
			stmt, args, err := sq.Insert(qident(key)).
				Columns(qidents(cols)...).Values(vals...).ToSql()
			require.NoError(t, err)
			_, err = db.Exec(stmt, args...)
			require.NoError(t, err)
		}
	}
	return f, New(db)
}

func parseEl(t *testing.T, raw string) exp.El {
	t.Helper()
	el, err := exp.ParseString(raw)
	require.NoError(t, err)
	return el
}

func TestSQLiteQuery(t *testing.T) {
	f, b := openDemo(t)
	ctx, c := context.Background(), exp.NewCtx(nil, nil)
	sel, err := b.Query(ctx, c, &qry.Op{
		Res:  f.Resource("app.article"),
		Cols: []string{"id", "name"},
		Whr:  parseEl(t, `{"eq": ["is_active", true]}`),
		Ord:  []qry.Ord{{Key: "name", Desc: true}},
	})
	require.NoError(t, err)
	require.False(t, sel.More)
	var names []string
	for _, r := range sel.Rows {
		names = append(names, r["name"].(string))
	}
	require.Equal(t, []string{"Delta", "Beta", "Alpha"}, names)
}

func TestSQLitePage(t *testing.T) {
	f, b := openDemo(t)
	ctx, c := context.Background(), exp.NewCtx(nil, nil)
	op := &qry.Op{
		Res:  f.Resource("app.article"),
		Cols: []string{"id"},
		Ord:  []qry.Ord{{Key: "id"}},
		Lim:  2,
	}
	sel, err := b.Query(ctx, c, op)
	require.NoError(t, err)
	require.True(t, sel.More)
	require.Equal(t, []interface{}{float64(1), float64(2)}, colVals(sel, "id"))

	op.Off = 2
	sel, err = b.Query(ctx, c, op)
	require.NoError(t, err)
	require.False(t, sel.More)
	require.Equal(t, []interface{}{float64(3), float64(4)}, colVals(sel, "id"))
}

func TestSQLiteWindow(t *testing.T) {
	f, b := openDemo(t)
	ctx, c := context.Background(), exp.NewCtx(nil, nil)
	sel, err := b.Query(ctx, c, &qry.Op{
		Res:  f.Resource("app.comment"),
		Cols: []string{"id", "body", "article"},
		Whr:  parseEl(t, `{"in": ["article", [1, 2]]}`),
		Win: &qry.Win{Part: "article", Keys: []interface{}{float64(1), float64(2)},
			Lim: 2, Ord: []qry.Ord{{Key: "id"}}},
	})
	require.NoError(t, err)
	require.True(t, sel.More)
	require.Len(t, sel.Rows, 3)
	per := map[interface{}]int{}
	for _, r := range sel.Rows {
		require.NotContains(t, r, "rn")
		per[r["article"]]++
	}
	require.Equal(t, 2, per[float64(1)])
	require.Equal(t, 1, per[float64(2)])
}

func TestSQLiteGroup(t *testing.T) {
	f, b := openDemo(t)
	ctx, c := context.Background(), exp.NewCtx(nil, nil)
	sel, err := b.Query(ctx, c, &qry.Op{
		Res: f.Resource("app.article"),
		Whr: parseEl(t, `{"eq": ["is_active", true]}`),
		Grp: []qry.Agg{
			{Name: "total", Op: "count"},
			{Name: "latest", Op: "max", Key: "created"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, float64(3), sel.Agg["total"])
	require.Equal(t, "2024-04-01T00:00:00Z", sel.Agg["latest"])
}

func TestSQLiteExec(t *testing.T) {
	f, b := openDemo(t)
	ctx, c := context.Background(), exp.NewCtx(nil, nil)
	res := f.Resource("app.group")

	wrote, err := b.Exec(ctx, c, &qry.Write{Res: res, Action: qry.ActAdd,
		Rows: []map[string]interface{}{{"name": "dev"}}})
	require.NoError(t, err)
	require.NoError(t, wrote.Errs[0])
	require.Equal(t, float64(3), wrote.Rows[0]["id"])
	require.Equal(t, "dev", wrote.Rows[0]["name"])

	wrote, err = b.Exec(ctx, c, &qry.Write{Res: res, Action: qry.ActSet,
		Rows: []map[string]interface{}{{"id": float64(3), "name": "ops"}}})
	require.NoError(t, err)
	require.Equal(t, "ops", wrote.Rows[0]["name"])

	wrote, err = b.Exec(ctx, c, &qry.Write{Res: f.Resource("app.comment"),
		Action: qry.ActDelete,
		Rows:   []map[string]interface{}{{"id": float64(5)}}})
	require.NoError(t, err)
	require.NoError(t, wrote.Errs[0])
	require.Nil(t, wrote.Rows[0])

	sel, err := b.Query(ctx, c, &qry.Op{Res: f.Resource("app.comment"),
		Grp: []qry.Agg{{Name: "n", Op: "count"}}})
	require.NoError(t, err)
	require.Equal(t, float64(4), sel.Agg["n"])
}

func TestSQLiteAtomic(t *testing.T) {
	f, b := openDemo(t)
	ctx, c := context.Background(), exp.NewCtx(nil, nil)
	res := f.Resource("app.group")

	wrote, err := b.Exec(ctx, c, &qry.Write{Res: res, Action: qry.ActSet, Atomic: true,
		Rows: []map[string]interface{}{
			{"id": float64(1), "name": "x"},
			{"id": float64(99), "name": "y"},
		}})
	require.NoError(t, err)
	require.ErrorIs(t, wrote.Errs[0], qry.ErrRolledBack)
	require.ErrorContains(t, wrote.Errs[1], "no row with key")
	require.Nil(t, wrote.Rows[0])

	sel, err := b.Query(ctx, c, &qry.Op{Res: res, Cols: []string{"name"},
		Whr: parseEl(t, `{"eq": ["id", 1]}`)})
	require.NoError(t, err)
	require.Equal(t, "admin", sel.Rows[0]["name"])
}

func TestSQLiteSingleton(t *testing.T) {
	f, b := openDemo(t)
	ctx, c := context.Background(), exp.NewCtx(nil, nil)
	wrote, err := b.Exec(ctx, c, &qry.Write{Res: f.Resource("app.settings"),
		Action: qry.ActEdit,
		Rows:   []map[string]interface{}{{"motd": "hello"}}})
	require.NoError(t, err)
	require.NoError(t, wrote.Errs[0])
	require.Equal(t, "hello", wrote.Rows[0]["motd"])
	require.Equal(t, "demo", wrote.Rows[0]["title"])
}

func colVals(sel *qry.Sel, col string) []interface{} {
	res := make([]interface{}, 0, len(sel.Rows))
	for _, r := range sel.Rows {
		res = append(res, r[col])
	}
	return res
}
