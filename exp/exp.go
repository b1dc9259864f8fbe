/*
Package exp implements the expression language used for every dynamic rule in a resq server:
access rules, computed field sources, default values and query filters.

Expressions have a compact JSON shape. Booleans, numbers, lists, maps with more than one key, the
empty map and quote-delimited strings are literals. Any other string is an identifier, resolved as
a dotted path against the evaluation context. A map with a single key is a call of the operator
registered under that key. The operator receives its arguments positional as a list, named as a
map, or as one single argument, according to its declared arity styles.

	".request.user.id"                       identifier into the request
	"name"                                   identifier into the current record
	"'literal text'"                         literal string
	{"eq": ["id", 1]}                        call with positional arguments
	{"with": {"n": "name", "do": "n"}}       call with named arguments
	{"not": "is_active"}                     call with a single argument
*/
package exp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// El is an expression element: a literal, a symbol, a list or a call.
type El interface {
	// String returns a compact JSON representation of the element.
	String() string
}

// Lit is a literal element holding a plain value.
type Lit struct{ Val interface{} }

// Sym is an identifier element holding a dotted lookup path.
type Sym struct{ Name string }

// Lst is a list element, evaluating each of its elements in place.
type Lst struct{ Els []El }

// Tag is a named argument of a call.
type Tag struct {
	Name string
	El   El
}

// Args holds call arguments. Exactly one of List, Dict or Arg describes the argument shape:
// positional, named or single.
type Args struct {
	List []El
	Dict []Tag
	Arg  El
}

// Call is an operator invocation.
type Call struct {
	Name string
	Args
}

func (l *Lit) String() string { b, _ := json.Marshal(l.Val); return string(b) }
func (s *Sym) String() string { return s.Name }
func (l *Lst) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, el := range l.Els {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(el.String())
	}
	b.WriteByte(']')
	return b.String()
}
func (c *Call) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{%q:", c.Name)
	switch {
	case c.List != nil:
		b.WriteString((&Lst{c.List}).String())
	case c.Dict != nil:
		b.WriteByte('{')
		for i, t := range c.Dict {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%q:%s", t.Name, t.El.String())
		}
		b.WriteByte('}')
	default:
		b.WriteString(c.Arg.String())
	}
	b.WriteByte('}')
	return b.String()
}

// Parse reads a raw JSON expression.
func Parse(raw []byte) (El, error) {
	var v interface{}
	err := json.Unmarshal(raw, &v)
	if err != nil {
		return nil, &Err{Path: "", Msg: fmt.Sprintf("malformed expression: %v", err)}
	}
	return FromVal(v), nil
}

// ParseString reads a raw JSON expression from a string.
func ParseString(raw string) (El, error) { return Parse([]byte(raw)) }

// FromVal turns a decoded JSON value into an expression element.
func FromVal(v interface{}) El {
	switch d := v.(type) {
	case nil, bool, float64, int, int64:
		return &Lit{Val: v}
	case string:
		if d == "" {
			return &Lit{Val: ""}
		}
		if q, ok := Unquote(d); ok {
			return &Lit{Val: q}
		}
		return &Sym{Name: d}
	case []interface{}:
		els := make([]El, 0, len(d))
		for _, e := range d {
			els = append(els, FromVal(e))
		}
		return &Lst{Els: els}
	case map[string]interface{}:
		if len(d) != 1 {
			// multi-key maps and the empty map are literals
			return &Lit{Val: d}
		}
		for key, arg := range d {
			return &Call{Name: key, Args: argsFromVal(arg)}
		}
	}
	return &Lit{Val: v}
}

// Unquote reports whether s is a quote-delimited string literal and returns its content.
func Unquote(s string) (string, bool) {
	if len(s) >= 2 {
		q := s[0]
		if (q == '\'' || q == '"') && s[len(s)-1] == q {
			return s[1 : len(s)-1], true
		}
	}
	return s, false
}

// Quote returns s as a quote-delimited string literal.
func Quote(s string) string { return "'" + s + "'" }

func argsFromVal(v interface{}) Args {
	switch d := v.(type) {
	case []interface{}:
		els := make([]El, 0, len(d))
		for _, e := range d {
			els = append(els, FromVal(e))
		}
		return Args{List: els}
	case map[string]interface{}:
		if len(d) == 1 {
			// a single key map argument is a nested call, same as FromVal
			return Args{Arg: FromVal(v)}
		}
		tags := make([]Tag, 0, len(d))
		for _, k := range sortedKeys(d) {
			tags = append(tags, Tag{Name: k, El: FromVal(d[k])})
		}
		return Args{Dict: tags}
	}
	return Args{Arg: FromVal(v)}
}

// Unparse returns the plain value encoding of an element, the inverse of FromVal.
func Unparse(el El) interface{} {
	switch d := el.(type) {
	case *Lit:
		return d.Val
	case *Sym:
		return d.Name
	case *Lst:
		vs := make([]interface{}, 0, len(d.Els))
		for _, e := range d.Els {
			vs = append(vs, Unparse(e))
		}
		return vs
	case *Call:
		var arg interface{}
		switch {
		case d.List != nil:
			vs := make([]interface{}, 0, len(d.List))
			for _, e := range d.List {
				vs = append(vs, Unparse(e))
			}
			arg = vs
		case d.Dict != nil:
			m := make(map[string]interface{}, len(d.Dict))
			for _, t := range d.Dict {
				m[t.Name] = Unparse(t.El)
			}
			arg = m
		default:
			arg = Unparse(d.Arg)
		}
		return map[string]interface{}{d.Name: arg}
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
