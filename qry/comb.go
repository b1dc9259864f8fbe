package qry

import (
	"strings"

	"github.com/mb0/resq/exp"
)

// parseComb parses an infix boolean combinator over tagged filter clauses, for example
// "a and (b or c)" or "not a". Tags remain symbols until resolveTags substitutes the clauses.
func parseComb(s string) (exp.El, error) {
	p := &comb{toks: lexComb(s)}
	el, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.peek() != "" {
		return nil, ParseErrf("unexpected %q in where combinator", p.peek())
	}
	return el, nil
}

type comb struct {
	toks []string
	pos  int
}

func (p *comb) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *comb) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *comb) or() (exp.El, error) {
	el, err := p.and()
	if err != nil {
		return nil, err
	}
	args := []exp.El{el}
	for p.peek() == "or" {
		p.next()
		el, err = p.and()
		if err != nil {
			return nil, err
		}
		args = append(args, el)
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return &exp.Call{Name: "or", Args: exp.Args{List: args}}, nil
}

func (p *comb) and() (exp.El, error) {
	el, err := p.factor()
	if err != nil {
		return nil, err
	}
	args := []exp.El{el}
	for p.peek() == "and" {
		p.next()
		el, err = p.factor()
		if err != nil {
			return nil, err
		}
		args = append(args, el)
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return &exp.Call{Name: "and", Args: exp.Args{List: args}}, nil
}

func (p *comb) factor() (exp.El, error) {
	switch t := p.next(); t {
	case "not":
		el, err := p.factor()
		if err != nil {
			return nil, err
		}
		return &exp.Call{Name: "not", Args: exp.Args{List: []exp.El{el}}}, nil
	case "(":
		el, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, ParseErrf("missing ) in where combinator")
		}
		return el, nil
	case "", ")", "and", "or":
		return nil, ParseErrf("incomplete where combinator")
	default:
		return &exp.Sym{Name: t}, nil
	}
}

func lexComb(s string) []string {
	var toks []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			toks = append(toks, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case ' ', '\t':
			flush()
		case '(', ')':
			flush()
			toks = append(toks, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return toks
}
