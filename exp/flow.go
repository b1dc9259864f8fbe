package exp

import "strconv"

// Control flow operators. Each operator receives unevaluated arguments and controls scope and
// evaluation order itself: each and with bind variables in a child context, case evaluates only
// the branch that matches and coalesce stops at the first non-null value.
func init() {
	std("each", StyleDict, evalEach)
	std("case", StyleList, evalCase)
	std("with", StyleDict, evalWith)
	std("coalesce", StyleList|StyleArg, evalCoalesce)
	std("and", StyleList, evalAnd)
	std("or", StyleList, evalOr)
	std("not", StyleArg|StyleList, evalNot, "false")
	std("object", StyleDict, evalObject)
}

// each loops over a list: {"each": {"in": list, "as": "x", "do": expr}}. The loop variable
// defaults to "it" and is bound in a child scope per element.
func evalEach(c *Ctx, args *Args) (interface{}, error) {
	in := args.Tag("in")
	do := args.Tag("do")
	if in == nil || do == nil {
		return nil, Errf("each needs in and do arguments")
	}
	name := "it"
	if as := args.Tag("as"); as != nil {
		s, err := symName(as)
		if err != nil {
			return nil, err
		}
		name = s
	}
	v, err := c.Eval(in)
	if err != nil {
		return nil, at(err, "in")
	}
	list, err := List(v)
	if err != nil {
		return nil, at(err, "in")
	}
	res := make([]interface{}, 0, len(list))
	for i, el := range list {
		v, err := c.Scope(name, el).Eval(do)
		if err != nil {
			return nil, at(at(err, itoa(i)), "do")
		}
		res = append(res, v)
	}
	return res, nil
}

// case takes ordered branches {"if": [cond, then]} and at most one {"else": expr} and returns
// the first branch whose condition is true, or null.
func evalCase(c *Ctx, args *Args) (interface{}, error) {
	for i, el := range args.List {
		b, ok := el.(*Call)
		if !ok {
			return nil, at(Errf("want if or else branch"), itoa(i))
		}
		switch b.Name {
		case "if":
			if b.List == nil || len(b.List) != 2 {
				return nil, at(Errf("if wants condition and value"), itoa(i))
			}
			ok, err := c.EvalBool(b.List[0])
			if err != nil {
				return nil, at(err, itoa(i))
			}
			if ok {
				v, err := c.Eval(b.List[1])
				if err != nil {
					return nil, at(err, itoa(i))
				}
				return v, nil
			}
		case "else":
			v, err := c.Eval(b.Arg)
			if err != nil {
				return nil, at(err, itoa(i))
			}
			return v, nil
		default:
			return nil, at(Errf("want if or else branch got %s", b.Name), itoa(i))
		}
	}
	return nil, nil
}

// with binds aliases for a sub expression: {"with": {"n": "name", "do": expr}}. All tags except
// do are evaluated in the parent scope and bound in a shared child scope.
func evalWith(c *Ctx, args *Args) (interface{}, error) {
	do := args.Tag("do")
	if do == nil {
		return nil, Errf("with needs a do argument")
	}
	n := c
	for _, t := range args.Dict {
		if t.Name == "do" {
			continue
		}
		v, err := c.Eval(t.El)
		if err != nil {
			return nil, at(err, t.Name)
		}
		n = n.Scope(t.Name, v)
	}
	v, err := n.Eval(do)
	if err != nil {
		return nil, at(err, "do")
	}
	return v, nil
}

// coalesce returns the first argument that evaluates to a non-null value. Unresolved identifiers
// count as null and do not fail the expression.
func evalCoalesce(c *Ctx, args *Args) (interface{}, error) {
	els := args.List
	if els == nil && args.Arg != nil {
		els = []El{args.Arg}
	}
	for i, el := range els {
		v, err := c.Eval(el)
		if err != nil {
			if IsUnres(err) {
				continue
			}
			return nil, at(err, itoa(i))
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func evalAnd(c *Ctx, args *Args) (interface{}, error) {
	if len(args.List) == 0 {
		return nil, Errf("and wants arguments")
	}
	for i, el := range args.List {
		ok, err := c.EvalBool(el)
		if err != nil {
			return nil, at(err, itoa(i))
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalOr(c *Ctx, args *Args) (interface{}, error) {
	if len(args.List) == 0 {
		return nil, Errf("or wants arguments")
	}
	for i, el := range args.List {
		ok, err := c.EvalBool(el)
		if err != nil {
			return nil, at(err, itoa(i))
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func evalNot(c *Ctx, args *Args) (interface{}, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

// object evaluates every tag value and returns the result as a map.
func evalObject(c *Ctx, args *Args) (interface{}, error) {
	res := make(map[string]interface{}, len(args.Dict))
	for _, t := range args.Dict {
		v, err := c.Eval(t.El)
		if err != nil {
			return nil, at(err, t.Name)
		}
		res[t.Name] = v
	}
	return res, nil
}

func symName(el El) (string, error) {
	switch d := el.(type) {
	case *Sym:
		return d.Name, nil
	case *Lit:
		if s, ok := d.Val.(string); ok {
			return s, nil
		}
	}
	return "", Errf("want name got %s", el)
}

func itoa(i int) string { return strconv.Itoa(i) }
