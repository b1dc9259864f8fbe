package exp

import "strings"

// String operators.
func init() {
	std("format", StyleList, evalFormat)
	std("replace", StyleList, evalReplace)
	std("trim", StyleArg|StyleList, evalTrim)
	std("upper", StyleArg|StyleList, evalUpper)
	std("lower", StyleArg|StyleList, evalLower)
	std("title", StyleArg|StyleList, evalTitle)
	std("split", StyleList, evalSplit)
}

// format replaces {} placeholders in the pattern with the remaining arguments in order.
func evalFormat(c *Ctx, args *Args) (interface{}, error) {
	if args.N() == 0 {
		return nil, Errf("format wants a pattern")
	}
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	pat, err := Str(v)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	next := 1
	for {
		i := strings.Index(pat, "{}")
		if i < 0 {
			b.WriteString(pat)
			break
		}
		b.WriteString(pat[:i])
		pat = pat[i+2:]
		if next >= args.N() {
			return nil, Errf("format wants %d arguments", next)
		}
		v, err := args.Eval(c, next)
		if err != nil {
			return nil, err
		}
		b.WriteString(ToStr(v))
		next++
	}
	return b.String(), nil
}

func evalReplace(c *Ctx, args *Args) (interface{}, error) {
	if args.N() != 3 {
		return nil, Errf("replace wants string, old and new")
	}
	var ss [3]string
	for i := range ss {
		v, err := args.Eval(c, i)
		if err != nil {
			return nil, err
		}
		ss[i], err = Str(v)
		if err != nil {
			return nil, err
		}
	}
	return strings.ReplaceAll(ss[0], ss[1], ss[2]), nil
}

func evalTrim(c *Ctx, args *Args) (interface{}, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, err
	}
	s, err := Str(v)
	if err != nil {
		return nil, err
	}
	if args.N() > 1 {
		v, err := args.Eval(c, 1)
		if err != nil {
			return nil, err
		}
		cut, err := Str(v)
		if err != nil {
			return nil, err
		}
		return strings.Trim(s, cut), nil
	}
	return strings.TrimSpace(s), nil
}

func evalUpper(c *Ctx, args *Args) (interface{}, error) {
	s, err := strArg(c, args)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func evalLower(c *Ctx, args *Args) (interface{}, error) {
	s, err := strArg(c, args)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func evalTitle(c *Ctx, args *Args) (interface{}, error) {
	s, err := strArg(c, args)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	up := true
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '-' || r == '_' {
			up = true
			b.WriteRune(r)
			continue
		}
		if up {
			b.WriteString(strings.ToUpper(string(r)))
			up = false
		} else {
			b.WriteString(strings.ToLower(string(r)))
		}
	}
	return b.String(), nil
}

func evalSplit(c *Ctx, args *Args) (interface{}, error) {
	a, b, err := binary(c, args)
	if err != nil {
		return nil, err
	}
	s, err := Str(a)
	if err != nil {
		return nil, err
	}
	sep, err := Str(b)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	res := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		res = append(res, p)
	}
	return res, nil
}

func strArg(c *Ctx, args *Args) (string, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return "", err
	}
	return Str(v)
}
