package qrysql

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/mb0/resq/exp"
	"github.com/pkg/errors"
)

// where translates a filter into a squirrel sqlizer. Filters arrive column-substituted and
// restricted to the boolean and comparison subset; request-rooted identifiers evaluate against
// the context before binding, so access filters compare columns to principal data.
func where(c *exp.Ctx, el exp.El) (sq.Sqlizer, error) {
	switch d := el.(type) {
	case nil:
		return nil, nil
	case *exp.Sym:
		// a bare column is a truthiness test
		return sq.Eq{qident(d.Name): true}, nil
	case *exp.Lit:
		if exp.Truthy(d.Val) {
			return sq.Expr("1=1"), nil
		}
		return sq.Expr("1=0"), nil
	case *exp.Call:
		return whereCall(c, d)
	}
	return nil, errors.Errorf("cannot translate %T to sql", el)
}

func whereCall(c *exp.Ctx, d *exp.Call) (sq.Sqlizer, error) {
	switch d.Name {
	case "and", "or":
		args, err := junction(c, d)
		if err != nil {
			return nil, err
		}
		if d.Name == "and" {
			return sq.And(args), nil
		}
		return sq.Or(args), nil
	case "not":
		arg := d.Arg
		if arg == nil && len(d.List) == 1 {
			arg = d.List[0]
		}
		if arg == nil {
			return nil, errors.Errorf("operator not wants one argument")
		}
		inner, err := where(c, arg)
		if err != nil {
			return nil, err
		}
		stmt, vals, err := inner.ToSql()
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT ("+stmt+")", vals...), nil
	}
	col, val, err := colVal(c, d)
	if err != nil {
		return nil, err
	}
	switch d.Name {
	case "eq":
		return sq.Eq{col: val}, nil
	case "ne":
		return sq.NotEq{col: val}, nil
	case "lt":
		return sq.Lt{col: val}, nil
	case "gt":
		return sq.Gt{col: val}, nil
	case "lte":
		return sq.LtOrEq{col: val}, nil
	case "gte":
		return sq.GtOrEq{col: val}, nil
	case "in":
		return sq.Eq{col: toList(val)}, nil
	case "-in":
		return sq.NotEq{col: toList(val)}, nil
	case "contains":
		s, err := exp.Str(val)
		if err != nil {
			return nil, err
		}
		return sq.Expr(col+` LIKE ? ESCAPE '\'`, "%"+escapeLike(s)+"%"), nil
	case "null":
		return sq.Eq{col: nil}, nil
	case "-null":
		return sq.NotEq{col: nil}, nil
	}
	return nil, errors.Errorf("operator %s not supported by the sql backend", d.Name)
}

func junction(c *exp.Ctx, d *exp.Call) ([]sq.Sqlizer, error) {
	res := make([]sq.Sqlizer, 0, len(d.List))
	for _, e := range d.List {
		s, err := where(c, e)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// colVal splits a comparison into its column and its bound value.
func colVal(c *exp.Ctx, d *exp.Call) (string, interface{}, error) {
	args := d.List
	if len(args) == 0 && d.Arg != nil {
		args = []exp.El{d.Arg}
	}
	if len(args) < 1 {
		return "", nil, errors.Errorf("operator %s wants a column argument", d.Name)
	}
	s, ok := args[0].(*exp.Sym)
	if !ok || len(s.Name) == 0 || s.Name[0] == '.' {
		return "", nil, errors.Errorf("operator %s wants a column got %s", d.Name, args[0])
	}
	if len(args) == 1 {
		return qident(s.Name), nil, nil
	}
	val, err := value(c, args[1])
	if err != nil {
		return "", nil, err
	}
	return qident(s.Name), val, nil
}

// value resolves a bound value: literals directly, request-rooted identifiers through the
// context.
func value(c *exp.Ctx, el exp.El) (interface{}, error) {
	switch d := el.(type) {
	case *exp.Lit:
		return d.Val, nil
	case *exp.Sym:
		if len(d.Name) > 0 && d.Name[0] == '.' {
			return c.Eval(d)
		}
		return nil, errors.Errorf("column comparison %s not supported by the sql backend",
			d.Name)
	case *exp.Lst:
		vals := make([]interface{}, 0, len(d.Els))
		for _, e := range d.Els {
			v, err := value(c, e)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	}
	return nil, errors.Errorf("cannot bind %T as sql value", el)
}

func toList(val interface{}) []interface{} {
	if l, ok := val.([]interface{}); ok {
		return l
	}
	return []interface{}{val}
}

func escapeLike(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	return string(b)
}
