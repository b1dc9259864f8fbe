package exp

// Style is a bit set of the argument shapes a spec accepts.
type Style uint

const (
	StyleList Style = 1 << iota // positional arguments
	StyleDict                   // named arguments
	StyleArg                    // one single argument
	StyleAny  = StyleList | StyleDict | StyleArg
)

// Spec describes a registered operator: its name, the accepted arity styles and the evaluation
// function. Eval receives the unevaluated arguments so that control flow operators can decide
// what to evaluate in which scope. Registered functions must not mutate the context; they are
// otherwise not assumed side-effect free by callers.
type Spec struct {
	Name  string
	Style Style
	Eval  func(c *Ctx, args *Args) (interface{}, error)
}

func (s *Spec) check(args *Args) error {
	var got Style
	switch {
	case args.List != nil:
		got = StyleList
	case args.Dict != nil:
		got = StyleDict
	default:
		got = StyleArg
	}
	if s.Style&got == 0 {
		return Errf("unexpected %s arguments", styleName(got))
	}
	return nil
}

func styleName(s Style) string {
	switch s {
	case StyleList:
		return "positional"
	case StyleDict:
		return "named"
	}
	return "single"
}

// Reg maps operator names to specs. A nil Reg falls back to the standard registry.
type Reg struct {
	specs  map[string]*Spec
	parent *Reg
}

// Std holds the built-in operators. It is populated by init functions across this package.
var Std = &Reg{specs: make(map[string]*Spec, 96)}

// NewReg returns an empty registry extending parent, or Std if parent is nil.
func NewReg(parent *Reg) *Reg {
	if parent == nil {
		parent = Std
	}
	return &Reg{specs: make(map[string]*Spec), parent: parent}
}

// Register adds a spec under its name and any extra alias names.
func (r *Reg) Register(s *Spec, aliases ...string) *Reg {
	r.specs[s.Name] = s
	for _, a := range aliases {
		r.specs[a] = s
	}
	return r
}

// Spec returns the spec registered under name or nil.
func (r *Reg) Spec(name string) *Spec {
	for ; r != nil; r = r.parent {
		if s, ok := r.specs[name]; ok {
			return s
		}
	}
	return nil
}

func std(name string, style Style, f func(c *Ctx, args *Args) (interface{}, error), aliases ...string) {
	Std.Register(&Spec{Name: name, Style: style, Eval: f}, aliases...)
}

// N returns the number of positional arguments.
func (a *Args) N() int { return len(a.List) }

// Idx returns the i-th positional argument, falling back to the single argument for index zero.
func (a *Args) Idx(i int) El {
	if a.List == nil {
		if i == 0 {
			return a.Arg
		}
		return nil
	}
	if i < 0 || i >= len(a.List) {
		return nil
	}
	return a.List[i]
}

// Tag returns the named argument el or nil.
func (a *Args) Tag(name string) El {
	for _, t := range a.Dict {
		if t.Name == name {
			return t.El
		}
	}
	return nil
}

// Eval evaluates the i-th positional argument.
func (a *Args) Eval(c *Ctx, i int) (interface{}, error) {
	el := a.Idx(i)
	if el == nil {
		return nil, Errf("missing argument %d", i)
	}
	v, err := c.Eval(el)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// All evaluates all positional arguments, or the single argument as a one element slice.
func (a *Args) All(c *Ctx) ([]interface{}, error) {
	els := a.List
	if els == nil && a.Arg != nil {
		els = []El{a.Arg}
	}
	vs := make([]interface{}, 0, len(els))
	for _, el := range els {
		v, err := c.Eval(el)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

// Vals evaluates all positional arguments and flattens a single list argument. Variadic numeric
// operators like max accept both max:[1,2,3] and max:[list].
func (a *Args) Vals(c *Ctx) ([]interface{}, error) {
	vs, err := a.All(c)
	if err != nil {
		return nil, err
	}
	if len(vs) == 1 {
		if l, ok := vs[0].([]interface{}); ok {
			return l, nil
		}
	}
	return vs, nil
}
