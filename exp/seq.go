package exp

import (
	"sort"
	"strconv"
)

// List and string reductions and transforms. The operators taking a per-element expression
// (filter, map, bucket, reduce, any, all, sort) use named arguments with the element bound to
// the loop variable, like each.
func init() {
	std("count", StyleArg|StyleList, evalCount, "length")
	std("index", StyleList, evalIndex)
	std("any", StyleAny, evalAny)
	std("all", StyleAny, evalAll)
	std("reduce", StyleDict, evalReduce)
	std("join", StyleAny, evalJoin)
	std("distinct", StyleArg|StyleList, evalDistinct)
	std("filter", StyleDict, evalFilter)
	std("bucket", StyleDict, evalBucket)
	std("map", StyleDict, evalMap)
	std("key", StyleList, evalKey)
	std("sort", StyleArg|StyleList|StyleDict, evalSort)
	std("slice", StyleList, evalSlice)
	std("reverse", StyleArg|StyleList, evalReverse)
}

func evalCount(c *Ctx, args *Args) (interface{}, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	switch d := v.(type) {
	case string:
		return float64(len(d)), nil
	case []interface{}:
		return float64(len(d)), nil
	case map[string]interface{}:
		return float64(len(d)), nil
	case nil:
		return float64(0), nil
	}
	return nil, Errf("count wants a container got %T", v)
}

// index returns the position of a value in a list or of a substring in a string, or -1.
func evalIndex(c *Ctx, args *Args) (interface{}, error) {
	a, b, err := binary(c, args)
	if err != nil {
		return nil, err
	}
	switch d := a.(type) {
	case string:
		s, err := Str(b)
		if err != nil {
			return nil, err
		}
		for i := 0; i+len(s) <= len(d); i++ {
			if d[i:i+len(s)] == s {
				return float64(i), nil
			}
		}
		return float64(-1), nil
	case []interface{}:
		for i, v := range d {
			if Equal(v, b) {
				return float64(i), nil
			}
		}
		return float64(-1), nil
	}
	return nil, Errf("index wants a list or string got %T", a)
}

// loop reads the common in/as/do argument triple for element-wise operators.
func loop(c *Ctx, args *Args, dflt string) (list []interface{}, name string, do El, err error) {
	in := args.Tag("in")
	do = args.Tag("do")
	if in == nil {
		return nil, "", nil, Errf("needs an in argument")
	}
	name = "it"
	if as := args.Tag("as"); as != nil {
		name, err = symName(as)
		if err != nil {
			return
		}
	}
	if do == nil && dflt != "" {
		do = &Sym{Name: dflt}
	}
	v, err := c.Eval(in)
	if err != nil {
		err = at(err, "in")
		return
	}
	list, err = List(v)
	if err != nil {
		err = at(err, "in")
	}
	return
}

func evalAny(c *Ctx, args *Args) (interface{}, error) {
	if args.Dict != nil {
		list, name, do, err := loop(c, args, "it")
		if err != nil {
			return nil, err
		}
		for _, el := range list {
			ok, err := c.Scope(name, el).EvalBool(do)
			if err != nil {
				return nil, at(err, "do")
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	vs, err := args.Vals(c)
	if err != nil {
		return nil, err
	}
	for _, v := range vs {
		if Truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func evalAll(c *Ctx, args *Args) (interface{}, error) {
	if args.Dict != nil {
		list, name, do, err := loop(c, args, "it")
		if err != nil {
			return nil, err
		}
		for _, el := range list {
			ok, err := c.Scope(name, el).EvalBool(do)
			if err != nil {
				return nil, at(err, "do")
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	vs, err := args.Vals(c)
	if err != nil {
		return nil, err
	}
	for _, v := range vs {
		if !Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// reduce folds a list: {"reduce": {"in": list, "do": expr, "init": v}}. The element is bound to
// the loop variable and the accumulator to acc.
func evalReduce(c *Ctx, args *Args) (interface{}, error) {
	list, name, do, err := loop(c, args, "")
	if err != nil {
		return nil, err
	}
	if do == nil {
		return nil, Errf("reduce needs a do argument")
	}
	var acc interface{}
	if init := args.Tag("init"); init != nil {
		acc, err = c.Eval(init)
		if err != nil {
			return nil, at(err, "init")
		}
	}
	for _, el := range list {
		acc, err = c.Scope(name, el).Scope("acc", acc).Eval(do)
		if err != nil {
			return nil, at(err, "do")
		}
	}
	return acc, nil
}

// join concatenates values: {"join": {"values": list, "separator": "/"}} with explicit
// separator, {"join": [els]} without, or {"join": "path"} joining a resolved list with spaces.
func evalJoin(c *Ctx, args *Args) (interface{}, error) {
	var vs []interface{}
	sep := ""
	switch {
	case args.Dict != nil:
		values := args.Tag("values")
		if values == nil {
			return nil, Errf("join needs a values argument")
		}
		v, err := c.Eval(values)
		if err != nil {
			return nil, at(err, "values")
		}
		vs, err = List(v)
		if err != nil {
			return nil, at(err, "values")
		}
		sep = " "
		if s := args.Tag("separator"); s != nil {
			v, err := c.Eval(s)
			if err != nil {
				return nil, at(err, "separator")
			}
			sep, err = Str(v)
			if err != nil {
				return nil, at(err, "separator")
			}
		}
	case args.List != nil:
		var err error
		vs, err = args.All(c)
		if err != nil {
			return nil, err
		}
	default:
		v, err := args.Eval(c, 0)
		if err != nil {
			return nil, err
		}
		vs, err = List(v)
		if err != nil {
			return nil, err
		}
		sep = " "
	}
	var b []byte
	n := 0
	for _, v := range vs {
		if v == nil || v == "" {
			continue
		}
		if n > 0 {
			b = append(b, sep...)
		}
		b = append(b, ToStr(v)...)
		n++
	}
	return string(b), nil
}

func evalDistinct(c *Ctx, args *Args) (interface{}, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	list, err := List(v)
	if err != nil {
		return nil, err
	}
	res := make([]interface{}, 0, len(list))
	for _, el := range list {
		dup := false
		for _, r := range res {
			if Equal(el, r) {
				dup = true
				break
			}
		}
		if !dup {
			res = append(res, el)
		}
	}
	return res, nil
}

func evalFilter(c *Ctx, args *Args) (interface{}, error) {
	list, name, do, err := loop(c, args, "it")
	if err != nil {
		return nil, err
	}
	res := make([]interface{}, 0, len(list))
	for _, el := range list {
		ok, err := c.Scope(name, el).EvalBool(do)
		if err != nil {
			return nil, at(err, "do")
		}
		if ok {
			res = append(res, el)
		}
	}
	return res, nil
}

// bucket groups list elements by a key expression into a map of lists.
func evalBucket(c *Ctx, args *Args) (interface{}, error) {
	list, name, do, err := loop(c, args, "it")
	if err != nil {
		return nil, err
	}
	res := make(map[string]interface{})
	for _, el := range list {
		v, err := c.Scope(name, el).Eval(do)
		if err != nil {
			return nil, at(err, "do")
		}
		key := ToStr(v)
		b, _ := res[key].([]interface{})
		res[key] = append(b, el)
	}
	return res, nil
}

func evalMap(c *Ctx, args *Args) (interface{}, error) {
	list, name, do, err := loop(c, args, "it")
	if err != nil {
		return nil, err
	}
	res := make([]interface{}, 0, len(list))
	for _, el := range list {
		v, err := c.Scope(name, el).Eval(do)
		if err != nil {
			return nil, at(err, "do")
		}
		res = append(res, v)
	}
	return res, nil
}

// key selects a value by key or dotted path: {"key": [value, "a.b"]}.
func evalKey(c *Ctx, args *Args) (interface{}, error) {
	a, b, err := binary(c, args)
	if err != nil {
		return nil, err
	}
	path, err := Str(b)
	if err != nil {
		return nil, err
	}
	v, ok := get(a, path)
	if !ok {
		return nil, nil
	}
	return v, nil
}

// sort orders a list; {"sort": {"in": list, "by": expr, "desc": true}} sorts by key expression.
func evalSort(c *Ctx, args *Args) (interface{}, error) {
	var list []interface{}
	var name string
	var by El
	desc := false
	if args.Dict != nil {
		var err error
		list, name, by, err = loop(c, args, "it")
		if err != nil {
			return nil, err
		}
		if d := args.Tag("desc"); d != nil {
			ok, err := c.EvalBool(d)
			if err != nil {
				return nil, at(err, "desc")
			}
			desc = ok
		}
	} else {
		v, err := args.Eval(c, 0)
		if err != nil {
			return nil, err
		}
		list, err = List(v)
		if err != nil {
			return nil, err
		}
		name, by = "it", &Sym{Name: "it"}
	}
	keys := make([]interface{}, len(list))
	for i, el := range list {
		v, err := c.Scope(name, el).Eval(by)
		if err != nil {
			return nil, at(err, "by")
		}
		keys[i] = v
	}
	res := make([]interface{}, len(list))
	idx := make([]int, len(list))
	for i := range idx {
		idx[i] = i
	}
	var serr error
	sort.SliceStable(idx, func(i, j int) bool {
		less, err := Less(keys[idx[i]], keys[idx[j]])
		if err != nil && serr == nil {
			serr = err
		}
		if desc {
			return !less
		}
		return less
	})
	if serr != nil {
		return nil, serr
	}
	for i, j := range idx {
		res[i] = list[j]
	}
	return res, nil
}

// slice returns list[start:end]; negative indexes count from the end.
func evalSlice(c *Ctx, args *Args) (interface{}, error) {
	if args.N() < 2 || args.N() > 3 {
		return nil, Errf("slice wants a list and bounds")
	}
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	list, err := List(v)
	if err != nil {
		return nil, err
	}
	start, err := sliceIdx(c, args, 1, len(list), 0)
	if err != nil {
		return nil, err
	}
	end, err := sliceIdx(c, args, 2, len(list), len(list))
	if err != nil {
		return nil, err
	}
	if start > end {
		start = end
	}
	return append([]interface{}{}, list[start:end]...), nil
}

func sliceIdx(c *Ctx, args *Args, i, n, dflt int) (int, error) {
	if i >= args.N() {
		return dflt, nil
	}
	v, err := args.Eval(c, i)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return dflt, nil
	}
	f, err := Num(v)
	if err != nil {
		return 0, at(err, strconv.Itoa(i))
	}
	idx := int(f)
	if idx < 0 {
		idx += n
	}
	if idx < 0 {
		idx = 0
	}
	if idx > n {
		idx = n
	}
	return idx, nil
}

func evalReverse(c *Ctx, args *Args) (interface{}, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	switch d := v.(type) {
	case string:
		b := []byte(d)
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
		return string(b), nil
	case []interface{}:
		res := make([]interface{}, len(d))
		for i, el := range d {
			res[len(d)-1-i] = el
		}
		return res, nil
	}
	return nil, Errf("reverse wants a list or string got %T", v)
}
