package exp

// Logic predicates and comparisons. eq is variadic and true when all arguments are equal; the
// ordered comparisons are binary. in and contains mirror each other with swapped operands.
func init() {
	std("true", StyleArg|StyleList, evalTrue)
	std("null", StyleArg|StyleList, evalNull, "is.null")
	std("-null", StyleArg|StyleList, negate(evalNull), "not.null")
	std("empty", StyleArg|StyleList, evalEmpty)
	std("eq", StyleList, evalEq, "=", "is", "equal", "equals")
	std("ne", StyleList, negate(evalEq), "!=", "neq", "not.equal")
	std("lt", StyleList, evalLt, "<", "less")
	std("gt", StyleList, evalGt, ">", "greater")
	std("lte", StyleList, negate(evalGt), "<=")
	std("gte", StyleList, negate(evalLt), ">=")
	std("in", StyleList, evalIn)
	std("-in", StyleList, negate(evalIn), "not.in")
	std("contains", StyleList, evalContains)
	std("-contains", StyleList, negate(evalContains), "not.contains")
}

func negate(f func(*Ctx, *Args) (interface{}, error)) func(*Ctx, *Args) (interface{}, error) {
	return func(c *Ctx, args *Args) (interface{}, error) {
		v, err := f(c, args)
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil
	}
}

func evalTrue(c *Ctx, args *Args) (interface{}, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	return Truthy(v), nil
}

func evalNull(c *Ctx, args *Args) (interface{}, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		if IsUnres(err) {
			return true, nil
		}
		return nil, err
	}
	return v == nil, nil
}

func evalEmpty(c *Ctx, args *Args) (interface{}, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	return Empty(v), nil
}

func evalEq(c *Ctx, args *Args) (interface{}, error) {
	vs, err := args.All(c)
	if err != nil {
		return nil, err
	}
	if len(vs) < 2 {
		return nil, Errf("eq wants two arguments")
	}
	for _, v := range vs[1:] {
		if !Equal(vs[0], v) {
			return false, nil
		}
	}
	return true, nil
}

func binary(c *Ctx, args *Args) (a, b interface{}, err error) {
	if args.N() != 2 {
		return nil, nil, Errf("wants two arguments")
	}
	a, err = args.Eval(c, 0)
	if err != nil {
		return
	}
	b, err = args.Eval(c, 1)
	return
}

func evalLt(c *Ctx, args *Args) (interface{}, error) {
	a, b, err := binary(c, args)
	if err != nil {
		return nil, err
	}
	ok, err := Less(a, b)
	if err != nil {
		return nil, err
	}
	return ok, nil
}

func evalGt(c *Ctx, args *Args) (interface{}, error) {
	a, b, err := binary(c, args)
	if err != nil {
		return nil, err
	}
	ok, err := Less(b, a)
	if err != nil {
		return nil, err
	}
	return ok, nil
}

func evalIn(c *Ctx, args *Args) (interface{}, error) {
	a, b, err := binary(c, args)
	if err != nil {
		return nil, err
	}
	ok, err := Contains(b, a)
	if err != nil {
		return nil, err
	}
	return ok, nil
}

func evalContains(c *Ctx, args *Args) (interface{}, error) {
	a, b, err := binary(c, args)
	if err != nil {
		return nil, err
	}
	ok, err := Contains(a, b)
	if err != nil {
		return nil, err
	}
	return ok, nil
}
