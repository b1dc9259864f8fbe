package exp

import (
	"math"
	"strings"
)

// Arithmetic operators. add and sub double as concatenation and removal for strings, lists and
// maps. The statistic reductions accept either variadic arguments or one list argument.
func init() {
	std("add", StyleList|StyleArg, evalAdd, "+", "concat")
	std("sub", StyleList|StyleArg, evalSub, "-")
	std("mul", StyleList, evalMul, "*")
	std("div", StyleList, evalDiv, "/")
	std("mod", StyleList, evalMod, "%")
	std("neg", StyleArg|StyleList, evalNeg)
	std("max", StyleList|StyleArg, evalExtreme(false))
	std("min", StyleList|StyleArg, evalExtreme(true))
	std("avg", StyleList|StyleArg, evalAvg)
	std("sum", StyleList|StyleArg, reduceNums(0, func(a, b float64) float64 { return a + b }))
	std("deviation", StyleList|StyleArg, evalDeviation)
}

func evalAdd(c *Ctx, args *Args) (interface{}, error) {
	vs, err := args.All(c)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, Errf("add wants arguments")
	}
	switch vs[0].(type) {
	case string:
		var b []byte
		for _, v := range vs {
			b = append(b, ToStr(v)...)
		}
		return string(b), nil
	case []interface{}:
		var res []interface{}
		for _, v := range vs {
			l, err := List(v)
			if err != nil {
				return nil, err
			}
			res = append(res, l...)
		}
		return res, nil
	case map[string]interface{}:
		res := make(map[string]interface{})
		for _, v := range vs {
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, Errf("want map got %T", v)
			}
			for k, mv := range m {
				res[k] = mv
			}
		}
		return res, nil
	}
	var sum float64
	for _, v := range vs {
		n, err := Num(v)
		if err != nil {
			return nil, err
		}
		sum += n
	}
	return sum, nil
}

func evalSub(c *Ctx, args *Args) (interface{}, error) {
	vs, err := args.All(c)
	if err != nil {
		return nil, err
	}
	if len(vs) == 1 {
		n, err := Num(vs[0])
		if err != nil {
			return nil, err
		}
		return -n, nil
	}
	if len(vs) < 2 {
		return nil, Errf("sub wants arguments")
	}
	switch d := vs[0].(type) {
	case []interface{}:
		res := make([]interface{}, 0, len(d))
		for _, v := range d {
			drop := false
			for _, w := range vs[1:] {
				if l, ok := w.([]interface{}); ok {
					for _, lv := range l {
						if Equal(v, lv) {
							drop = true
						}
					}
				} else if Equal(v, w) {
					drop = true
				}
			}
			if !drop {
				res = append(res, v)
			}
		}
		return res, nil
	case map[string]interface{}:
		res := make(map[string]interface{}, len(d))
		for k, v := range d {
			res[k] = v
		}
		for _, w := range vs[1:] {
			switch key := w.(type) {
			case string:
				delete(res, key)
			case []interface{}:
				for _, kv := range key {
					if s, ok := kv.(string); ok {
						delete(res, s)
					}
				}
			default:
				return nil, Errf("want key got %T", w)
			}
		}
		return res, nil
	case string:
		res := d
		for _, w := range vs[1:] {
			s, err := Str(w)
			if err != nil {
				return nil, err
			}
			res = strings.ReplaceAll(res, s, "")
		}
		return res, nil
	}
	n, err := Num(vs[0])
	if err != nil {
		return nil, err
	}
	for _, v := range vs[1:] {
		m, err := Num(v)
		if err != nil {
			return nil, err
		}
		n -= m
	}
	return n, nil
}

func evalMul(c *Ctx, args *Args) (interface{}, error) {
	vs, err := args.All(c)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, Errf("mul wants arguments")
	}
	res := 1.0
	for _, v := range vs {
		n, err := Num(v)
		if err != nil {
			return nil, err
		}
		res *= n
	}
	return res, nil
}

func evalDiv(c *Ctx, args *Args) (interface{}, error) {
	vs, err := args.All(c)
	if err != nil {
		return nil, err
	}
	if len(vs) < 2 {
		return nil, Errf("div wants two arguments")
	}
	n, err := Num(vs[0])
	if err != nil {
		return nil, err
	}
	for _, v := range vs[1:] {
		m, err := Num(v)
		if err != nil {
			return nil, err
		}
		if m == 0 {
			return nil, Errf("division by zero")
		}
		n /= m
	}
	return n, nil
}

func evalMod(c *Ctx, args *Args) (interface{}, error) {
	if args.N() != 2 {
		return nil, Errf("mod wants two arguments")
	}
	a, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	b, err := args.Eval(c, 1)
	if err != nil {
		return nil, err
	}
	an, err := Num(a)
	if err != nil {
		return nil, err
	}
	bn, err := Num(b)
	if err != nil {
		return nil, err
	}
	if bn == 0 {
		return nil, Errf("division by zero")
	}
	return math.Mod(an, bn), nil
}

func evalNeg(c *Ctx, args *Args) (interface{}, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	n, err := Num(v)
	if err != nil {
		return nil, err
	}
	return -n, nil
}

// evalExtreme returns max or min of the arguments, comparing numbers or strings.
func evalExtreme(min bool) func(*Ctx, *Args) (interface{}, error) {
	return func(c *Ctx, args *Args) (interface{}, error) {
		vs, err := args.Vals(c)
		if err != nil {
			return nil, err
		}
		if len(vs) == 0 {
			return nil, Errf("wants arguments")
		}
		res := vs[0]
		for _, v := range vs[1:] {
			less, err := Less(v, res)
			if err != nil {
				return nil, err
			}
			if less == min {
				res = v
			}
		}
		return res, nil
	}
}

func reduceNums(zero float64, f func(a, b float64) float64) func(*Ctx, *Args) (interface{}, error) {
	return func(c *Ctx, args *Args) (interface{}, error) {
		ns, err := nums(c, args)
		if err != nil {
			return nil, err
		}
		if len(ns) == 0 {
			return nil, Errf("wants arguments")
		}
		res := zero
		for _, n := range ns {
			res = f(res, n)
		}
		return res, nil
	}
}

func evalAvg(c *Ctx, args *Args) (interface{}, error) {
	ns, err := nums(c, args)
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return nil, Errf("avg wants arguments")
	}
	var sum float64
	for _, n := range ns {
		sum += n
	}
	return sum / float64(len(ns)), nil
}

// deviation returns the population standard deviation of its arguments.
func evalDeviation(c *Ctx, args *Args) (interface{}, error) {
	ns, err := nums(c, args)
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return nil, Errf("deviation wants arguments")
	}
	var sum float64
	for _, n := range ns {
		sum += n
	}
	mean := sum / float64(len(ns))
	var sq float64
	for _, n := range ns {
		sq += (n - mean) * (n - mean)
	}
	return math.Sqrt(sq / float64(len(ns))), nil
}

func nums(c *Ctx, args *Args) ([]float64, error) {
	vs, err := args.Vals(c)
	if err != nil {
		return nil, err
	}
	ns := make([]float64, 0, len(vs))
	for _, v := range vs {
		n, err := Num(v)
		if err != nil {
			return nil, err
		}
		ns = append(ns, n)
	}
	return ns, nil
}
