package qry

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/mb0/resq/exp"
)

// State holds the parsed feature parameters of one node path before schema resolution.
type State struct {
	Path   string
	Take   []string
	Whr    []exp.El
	Ord    []Ord
	Size   int
	Off    int64
	Token  string
	Grp    []Agg
	Action string

	// tags holds named filter clauses, comb the infix combinator referencing them.
	// Both fold into Whr when parameter parsing finishes.
	tags map[string]exp.El
	comb exp.El
}

// States maps dotted node paths to their parameter state. The root path is the empty string.
type States map[string]*State

func (ss States) state(path string) *State {
	s := ss[path]
	if s == nil {
		s = &State{Path: path}
		ss[path] = s
	}
	return s
}

// Paths returns all node paths in depth order.
func (ss States) Paths() []string {
	res := make([]string, 0, len(ss))
	for p := range ss {
		res = append(res, p)
	}
	depth := func(p string) int {
		if p == "" {
			return 0
		}
		return strings.Count(p, ".") + 1
	}
	sort.Slice(res, func(i, j int) bool {
		di, dj := depth(res[i]), depth(res[j])
		if di != dj {
			return di < dj
		}
		return res[i] < res[j]
	})
	return res
}

// ParseParams parses feature parameters into per-path states.
//
// A parameter key is a feature name, optionally dotted with a node path and followed by colon
// separated arguments:
//
//	take=id,name,-secret          take.author=*,email
//	where:active=true             where.comments:author:in=[1,2]
//	where={"or": [...]}           sort=name,-created
//	where:status:eq:a=draft       where=a and (b or not c)
//	page:size=10                  page:after=TOKEN        page:offset=20
//	group:total:count=*           group:latest:max=created
//	action=edit
func ParseParams(params map[string][]string) (States, error) {
	ss := make(States, len(params)+1)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		feat, path, args := splitKey(key)
		s := ss.state(path)
		for _, val := range params[key] {
			err := s.parse(feat, args, val)
			if err != nil {
				return nil, wrapErr(KindParse, "", err)
			}
		}
	}
	for _, s := range ss {
		if err := s.resolveTags(); err != nil {
			return nil, wrapErr(KindParse, "", err)
		}
	}
	return ss, nil
}

// splitKey splits a parameter key into feature name, node path and arguments.
func splitKey(key string) (feat, path string, args []string) {
	head, rest, ok := strings.Cut(key, ":")
	if ok {
		args = strings.Split(rest, ":")
	}
	feat, path, _ = strings.Cut(head, ".")
	return feat, path, args
}

func (s *State) parse(feat string, args []string, val string) error {
	switch feat {
	case "take":
		for _, f := range strings.Split(val, ",") {
			if f = strings.TrimSpace(f); f != "" {
				s.Take = append(s.Take, f)
			}
		}
	case "where":
		if len(args) == 3 {
			el, err := parseWhr(args[:2], val)
			if err != nil {
				return err
			}
			if s.tags == nil {
				s.tags = make(map[string]exp.El)
			}
			s.tags[args[2]] = el
			return nil
		}
		if len(args) == 0 && !strings.HasPrefix(strings.TrimSpace(val), "{") {
			el, err := parseComb(val)
			if err != nil {
				return err
			}
			s.comb = el
			return nil
		}
		el, err := parseWhr(args, val)
		if err != nil {
			return err
		}
		s.Whr = append(s.Whr, el)
	case "sort":
		for _, f := range strings.Split(val, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			o := Ord{Key: f}
			if f[0] == '-' {
				o = Ord{Key: f[1:], Desc: true}
			}
			s.Ord = append(s.Ord, o)
		}
	case "page":
		if len(args) != 1 {
			return ParseErrf("page wants one argument got %v", args)
		}
		switch args[0] {
		case "size":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return ParseErrf("invalid page size %q", val)
			}
			s.Size = n
		case "offset":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil || n < 0 {
				return ParseErrf("invalid page offset %q", val)
			}
			s.Off = n
		case "after":
			s.Token = val
		default:
			return ParseErrf("unknown page argument %s", args[0])
		}
	case "group":
		switch len(args) {
		case 1, 2:
		default:
			return ParseErrf("group wants name and operator got %v", args)
		}
		g := Agg{Name: args[0]}
		if len(args) == 2 {
			g.Op = args[1]
		} else {
			g.Op = val
			val = "*"
		}
		if val != "*" {
			g.Key = val
		}
		s.Grp = append(s.Grp, g)
	case "action":
		s.Action = val
	default:
		return ParseErrf("unknown parameter %s", feat)
	}
	return nil
}

// parseWhr builds a filter element from a where parameter. Without arguments the value is a
// raw expression. One argument names a field matched for equality, a second argument names the
// comparison operator. Values parse as json and fall back to plain strings.
func parseWhr(args []string, val string) (exp.El, error) {
	if len(args) == 0 {
		el, err := exp.ParseString(val)
		if err != nil {
			return nil, ParseErrf("invalid where expression %q: %v", val, err)
		}
		return el, nil
	}
	if len(args) > 2 {
		return nil, ParseErrf("where wants field and operator got %v", args)
	}
	op := "eq"
	if len(args) == 2 {
		op = args[1]
	}
	if exp.Std.Spec(op) == nil {
		return nil, ParseErrf("unknown where operator %s", op)
	}
	var v interface{}
	if err := json.Unmarshal([]byte(val), &v); err != nil {
		v = val
	}
	return &exp.Call{Name: op, Args: exp.Args{List: []exp.El{
		&exp.Sym{Name: args[0]}, &exp.Lit{Val: v},
	}}}, nil
}

// resolveTags folds tagged clauses into the filter list. A combinator expression references
// clauses by tag, without one the tagged clauses conjoin like untagged ones.
func (s *State) resolveTags() error {
	if s.comb == nil {
		keys := make([]string, 0, len(s.tags))
		for k := range s.tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s.Whr = append(s.Whr, s.tags[k])
		}
		return nil
	}
	el, err := substTags(s.comb, s.tags)
	if err != nil {
		return err
	}
	s.Whr = append(s.Whr, el)
	return nil
}

func substTags(el exp.El, tags map[string]exp.El) (exp.El, error) {
	switch d := el.(type) {
	case *exp.Sym:
		c, ok := tags[d.Name]
		if !ok {
			return nil, ParseErrf("unknown where tag %s", d.Name)
		}
		return c, nil
	case *exp.Call:
		args := make([]exp.El, len(d.List))
		for i, e := range d.List {
			s, err := substTags(e, tags)
			if err != nil {
				return nil, err
			}
			args[i] = s
		}
		return &exp.Call{Name: d.Name, Args: exp.Args{List: args}}, nil
	}
	return nil, ParseErrf("unexpected combinator element %s", el)
}

// and combines filter elements into one expression.
func and(els []exp.El) exp.El {
	switch len(els) {
	case 0:
		return nil
	case 1:
		return els[0]
	}
	return &exp.Call{Name: "and", Args: exp.Args{List: els}}
}
