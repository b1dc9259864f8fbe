package exp

import (
	"fmt"
	"strconv"
	"strings"
)

// Err is an evaluation error. Path locates the failing element within the root expression.
type Err struct {
	Path  string
	Msg   string
	Unres bool
}

func (e *Err) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// Errf returns a new evaluation error with no path.
func Errf(format string, args ...interface{}) *Err {
	return &Err{Msg: fmt.Sprintf(format, args...)}
}

// IsUnres reports whether err is an unresolved identifier error, which coalesce intercepts.
func IsUnres(err error) bool {
	e, ok := err.(*Err)
	return ok && e.Unres
}

func at(err error, seg string) error {
	e, ok := err.(*Err)
	if !ok {
		e = &Err{Msg: err.Error()}
	}
	if e.Path == "" {
		e.Path = seg
	} else {
		e.Path = seg + "." + e.Path
	}
	return e
}

// Ctx is an evaluation context. It supplies the opaque request data, the current record for
// per-row evaluation, and named variables introduced by aliases and loop operators. Contexts
// form a chain: Scope returns a child context and evaluation never mutates a parent, so sibling
// branches cannot observe each other's bindings.
type Ctx struct {
	Reg     *Reg
	Request interface{}
	Record  interface{}
	Extra   map[string]interface{}
	vars    map[string]interface{}
	parent  *Ctx
}

// NewCtx returns a new root context using the standard operator registry.
func NewCtx(request, record interface{}) *Ctx {
	return &Ctx{Reg: Std, Request: request, Record: record}
}

// Scope returns a child context with the given variable bound.
func (c *Ctx) Scope(name string, val interface{}) *Ctx {
	n := *c
	n.vars = map[string]interface{}{name: val}
	n.parent = c
	return &n
}

// WithRecord returns a child context with the current record replaced.
func (c *Ctx) WithRecord(record interface{}) *Ctx {
	n := *c
	n.Record = record
	n.parent = c
	return &n
}

func (c *Ctx) val(name string) (interface{}, bool) {
	for s := c; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Eval evaluates the element and returns a plain value.
func (c *Ctx) Eval(el El) (interface{}, error) {
	switch d := el.(type) {
	case nil:
		return nil, nil
	case *Lit:
		return d.Val, nil
	case *Sym:
		return c.Lookup(d.Name)
	case *Lst:
		vs := make([]interface{}, 0, len(d.Els))
		for i, e := range d.Els {
			v, err := c.Eval(e)
			if err != nil {
				return nil, at(err, strconv.Itoa(i))
			}
			vs = append(vs, v)
		}
		return vs, nil
	case *Call:
		s := c.Reg.Spec(d.Name)
		if s == nil {
			return nil, &Err{Path: d.Name, Msg: "unknown operator"}
		}
		err := s.check(&d.Args)
		if err != nil {
			return nil, at(err, d.Name)
		}
		v, err := s.Eval(c, &d.Args)
		if err != nil {
			return nil, at(err, d.Name)
		}
		return v, nil
	}
	return nil, Errf("unexpected element %T", el)
}

// EvalBool evaluates the element and returns its truthiness.
func (c *Ctx) EvalBool(el El) (bool, error) {
	v, err := c.Eval(el)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Lookup resolves a dotted identifier path against the context. A leading dot addresses the
// context root with the keys request, record (or fields) and any extra data. A bare name is
// resolved against the variable chain first and the current record second.
func (c *Ctx) Lookup(name string) (interface{}, error) {
	path := name
	if strings.HasPrefix(path, ".") {
		return c.root(strings.TrimPrefix(path, "."), name)
	}
	head, rest, _ := strings.Cut(path, ".")
	if v, ok := c.val(head); ok {
		return follow(v, rest, name)
	}
	if c.Record != nil {
		v, ok := get(c.Record, path)
		if ok {
			return v, nil
		}
	}
	return nil, &Err{Path: name, Msg: "unresolved identifier", Unres: true}
}

func (c *Ctx) root(path, name string) (interface{}, error) {
	head, rest, _ := strings.Cut(path, ".")
	switch head {
	case "request":
		return follow(c.Request, rest, name)
	case "record", "fields":
		return follow(c.Record, rest, name)
	}
	if v, ok := c.Extra[head]; ok {
		return follow(v, rest, name)
	}
	return nil, &Err{Path: name, Msg: "unresolved identifier", Unres: true}
}

func follow(v interface{}, rest, name string) (interface{}, error) {
	if rest == "" {
		return v, nil
	}
	v, ok := get(v, rest)
	if !ok {
		return nil, &Err{Path: name, Msg: "unresolved identifier", Unres: true}
	}
	return v, nil
}

// get resolves a dotted path into nested maps, lists and keyed values.
func get(v interface{}, path string) (interface{}, bool) {
	for path != "" {
		var key string
		key, path, _ = strings.Cut(path, ".")
		switch d := v.(type) {
		case map[string]interface{}:
			var ok bool
			v, ok = d[key]
			if !ok {
				return nil, false
			}
		case []interface{}:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(d) {
				return nil, false
			}
			v = d[idx]
		case Keyer:
			var ok bool
			v, ok = d.Key(key)
			if !ok {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return v, true
}

// Keyer lets backend row or request types participate in identifier resolution without being
// converted to plain maps.
type Keyer interface {
	Key(string) (interface{}, bool)
}
