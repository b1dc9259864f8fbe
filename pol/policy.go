// Package pol resolves access rules into decisions.
//
// A decision is one of allow, deny or filter. Rules are looked up by action on each scope of
// the schema chain server, space, resource and field. All matching scopes must allow, filters
// and-compose, and any deny wins.
package pol

import (
	"fmt"
	"strings"

	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/exp"
)

// Decision is the result of resolving an action against access rules.
// The zero value is a plain allow.
type Decision struct {
	Deny   bool
	Filter exp.El
}

// Allowed and Denied are the two plain decisions.
var (
	Allowed = Decision{}
	Denied  = Decision{Deny: true}
)

// Allow reports whether the decision permits the action, possibly constrained by a filter.
func (d Decision) Allow() bool { return !d.Deny }

// And composes two decisions. Deny wins and filters combine into an and expression.
func (d Decision) And(o Decision) Decision {
	if d.Deny || o.Deny {
		return Denied
	}
	switch {
	case d.Filter == nil:
		return o
	case o.Filter == nil:
		return d
	}
	return Decision{Filter: &exp.Call{
		Name: "and",
		Args: exp.Args{List: []exp.El{d.Filter, o.Filter}},
	}}
}

// Error is a permission error naming the denied target and action.
type Error struct {
	Target string
	Action string
}

func (e *Error) Error() string {
	return fmt.Sprintf("action %s is not allowed on %s", e.Action, e.Target)
}

// Deny returns a permission error for target and action.
func Deny(target, action string) error { return &Error{Target: target, Action: action} }

// Resolve finds the most specific rules matching action and evaluates them. Empty rules allow,
// rules without a match deny. Rules evaluating to a boolean allow or deny directly. Rules that
// reference record data evaluate per row instead and become filters.
func Resolve(c *exp.Ctx, rules dom.Rules, action string) (Decision, error) {
	if len(rules) == 0 {
		return Allowed, nil
	}
	best := -1
	var els []exp.El
	for pat, x := range rules {
		for _, p := range strings.Split(pat, ",") {
			spec, ok := match(strings.TrimSpace(p), action)
			if !ok || spec < best {
				continue
			}
			if spec > best {
				best, els = spec, els[:0]
			}
			els = append(els, x.El)
		}
	}
	if best < 0 {
		return Denied, nil
	}
	res := Allowed
	for _, el := range els {
		d, err := resolve(c, el)
		if err != nil {
			return Denied, err
		}
		if d.Deny {
			return Denied, nil
		}
		res = res.And(d)
	}
	return res, nil
}

// match reports whether pattern pat matches action and how specific the match is:
// 2 for an exact match, 1 for the parent of a dotted action, 0 for the wildcard.
func match(pat, action string) (int, bool) {
	switch pat {
	case action:
		return 2, true
	case "*":
		return 0, true
	}
	if base, _, ok := strings.Cut(action, "."); ok && pat == base {
		return 1, true
	}
	return 0, false
}

func resolve(c *exp.Ctx, el exp.El) (Decision, error) {
	v, err := c.Eval(el)
	if err != nil {
		if exp.IsUnres(err) {
			// unresolved identifiers refer to record data, defer to the backend
			return Decision{Filter: el}, nil
		}
		return Denied, err
	}
	if b, ok := v.(bool); ok {
		if b {
			return Allowed, nil
		}
		return Denied, nil
	}
	// non-boolean results act as record filters, never as truthiness
	return Decision{Filter: el}, nil
}

// Resolver resolves decisions against a validated schema.
type Resolver struct {
	Srv *dom.Server
}

// Can resolves action for a resource by composing the server, space and resource scopes.
// Any deny short-circuits.
func (r *Resolver) Can(c *exp.Ctx, res *dom.Resource, action string) (Decision, error) {
	var spCan dom.Rules
	if sp := r.Srv.Space(strings.SplitN(res.Qual(), ".", 2)[0]); sp != nil {
		spCan = sp.Can
	}
	d := Allowed
	for _, rules := range []dom.Rules{r.Srv.Can, spCan, res.Can} {
		sd, err := Resolve(c, rules, action)
		if err != nil {
			return Denied, err
		}
		if sd.Deny {
			return Denied, nil
		}
		d = d.And(sd)
	}
	return d, nil
}

// CanField resolves action for a field alone, without the resource chain. Callers compose it
// with the resource decision so that field denies can prune instead of failing the request.
func (r *Resolver) CanField(c *exp.Ctx, f *dom.Field, action string) (Decision, error) {
	return Resolve(c, f.Can, action)
}

// CanOpt resolves action for an enumerated option value. Values without a declared option or
// without option rules follow the field decision.
func (r *Resolver) CanOpt(c *exp.Ctx, f *dom.Field, val interface{}, action string) (Decision, error) {
	o := f.Opt(val)
	if o == nil {
		return Allowed, nil
	}
	return Resolve(c, o.Can, action)
}
