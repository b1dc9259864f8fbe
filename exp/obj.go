package exp

import (
	"sort"
	"time"
)

// Object, datetime and escaping operators. literal and identifier force the interpretation of
// their argument regardless of its surface form.
func init() {
	std("keys", StyleArg|StyleList, evalKeys)
	std("values", StyleArg|StyleList, evalValues)
	std("items", StyleArg|StyleList, evalItems)
	std("today", StyleAny, evalToday)
	std("now", StyleAny, evalNow)
	std("literal", StyleAny, evalLiteral)
	std("identifier", StyleArg|StyleList, evalIdentifier, "get")
}

func mapArg(c *Ctx, args *Args) (map[string]interface{}, []string, error) {
	v, err := args.Eval(c, 0)
	if err != nil {
		return nil, nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, nil, Errf("want map got %T", v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return m, keys, nil
}

func evalKeys(c *Ctx, args *Args) (interface{}, error) {
	_, keys, err := mapArg(c, args)
	if err != nil {
		return nil, err
	}
	res := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		res = append(res, k)
	}
	return res, nil
}

func evalValues(c *Ctx, args *Args) (interface{}, error) {
	m, keys, err := mapArg(c, args)
	if err != nil {
		return nil, err
	}
	res := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		res = append(res, m[k])
	}
	return res, nil
}

func evalItems(c *Ctx, args *Args) (interface{}, error) {
	m, keys, err := mapArg(c, args)
	if err != nil {
		return nil, err
	}
	res := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		res = append(res, map[string]interface{}{"key": k, "value": m[k]})
	}
	return res, nil
}

// Now can be swapped for deterministic tests.
var Now = time.Now

func evalToday(c *Ctx, args *Args) (interface{}, error) {
	return Now().UTC().Format("2006-01-02"), nil
}

func evalNow(c *Ctx, args *Args) (interface{}, error) {
	return Now().UTC().Format(time.RFC3339), nil
}

// literal returns its argument as a plain value without evaluation.
func evalLiteral(c *Ctx, args *Args) (interface{}, error) {
	switch {
	case args.List != nil:
		return Unparse(&Lst{Els: args.List}), nil
	case args.Dict != nil:
		m := make(map[string]interface{}, len(args.Dict))
		for _, t := range args.Dict {
			m[t.Name] = Unparse(t.El)
		}
		return m, nil
	}
	return Unparse(args.Arg), nil
}

// identifier resolves its argument as an identifier path even if it is a quoted string.
func evalIdentifier(c *Ctx, args *Args) (interface{}, error) {
	el := args.Idx(0)
	if el == nil {
		return nil, Errf("identifier wants a path")
	}
	var path string
	switch d := el.(type) {
	case *Sym:
		path = d.Name
	case *Lit:
		s, err := Str(d.Val)
		if err != nil {
			return nil, err
		}
		path = s
	default:
		v, err := c.Eval(el)
		if err != nil {
			return nil, err
		}
		s, err := Str(v)
		if err != nil {
			return nil, err
		}
		path = s
	}
	return c.Lookup(path)
}
