package qrymem

import (
	"sort"

	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/qry"
	"github.com/pkg/errors"
)

// orderRows sorts rows by the given keys, nulls first. Incomparable values keep their order.
func orderRows(rows []map[string]interface{}, ord []qry.Ord) {
	if len(ord) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range ord {
			a, b := rows[i][o.Key], rows[j][o.Key]
			if exp.Equal(a, b) {
				continue
			}
			less := cmpLess(a, b)
			if o.Desc {
				less = !less
			}
			return less
		}
		return false
	})
}

func cmpLess(a, b interface{}) bool {
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	less, err := exp.Less(a, b)
	if err != nil {
		return false
	}
	return less
}

func aggregate(rows []map[string]interface{}, grp []qry.Agg) (map[string]interface{}, error) {
	res := make(map[string]interface{}, len(grp))
	for _, g := range grp {
		v, err := aggField(rows, g)
		if err != nil {
			return nil, err
		}
		res[g.Name] = v
	}
	return res, nil
}

func aggField(rows []map[string]interface{}, g qry.Agg) (interface{}, error) {
	switch g.Op {
	case "count":
		if g.Key == "" || g.Key == "*" {
			return float64(len(rows)), nil
		}
		var n float64
		for _, r := range rows {
			if r[g.Key] != nil {
				n++
			}
		}
		return n, nil
	case "distinct":
		var list []interface{}
		for _, r := range rows {
			v := r[g.Key]
			if v == nil {
				continue
			}
			found := false
			for _, d := range list {
				if exp.Equal(d, v) {
					found = true
					break
				}
			}
			if !found {
				list = append(list, v)
			}
		}
		return list, nil
	case "sum", "avg":
		var sum float64
		var n int
		for _, r := range rows {
			v := r[g.Key]
			if v == nil {
				continue
			}
			f, err := exp.Num(v)
			if err != nil {
				return nil, err
			}
			sum += f
			n++
		}
		if g.Op == "sum" {
			return sum, nil
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil
	case "max", "min":
		var best interface{}
		for _, r := range rows {
			v := r[g.Key]
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			less, err := exp.Less(v, best)
			if err != nil {
				return nil, err
			}
			if (g.Op == "max") != less && !exp.Equal(v, best) {
				best = v
			}
		}
		return best, nil
	}
	return nil, errors.Errorf("unknown aggregate %s", g.Op)
}
