// Package dom describes resq schemas: servers, spaces, resources and fields with their access
// rules and feature configuration. Schemas are read once at process start and are immutable
// afterwards, all lookups are pure reads.
package dom

import (
	"encoding/json"
	"strings"

	"github.com/mb0/resq/exp"
)

// Expr wraps an expression element for schema loading.
type Expr struct{ exp.El }

func (x *Expr) UnmarshalJSON(b []byte) error {
	el, err := exp.Parse(b)
	if err != nil {
		return err
	}
	x.El = el
	return nil
}

func (x Expr) MarshalJSON() ([]byte, error) {
	if x.El == nil {
		return []byte("null"), nil
	}
	return json.Marshal(exp.Unparse(x.El))
}

// Rules maps an action pattern to an access rule expression. A pattern is one or more comma
// separated action names, each optionally dotted with a field key: "get", "get,set" or
// "get.secret". The expression evaluates to a boolean for allow or deny, or to a record filter.
type Rules map[string]Expr

// Opt is an enumerated field option that may carry its own access rule.
type Opt struct {
	Value interface{} `json:"value"`
	Can   Rules       `json:"can,omitempty"`
}

// Field describes one attribute of a resource.
//
// Source names the backend data for the field and defaults to the field key. For list link
// fields source instead names the back reference field on the target resource. A source given
// as root path or operator expression is computed at serialization time and cannot be written.
type Field struct {
	Name    string `json:"name"`
	Type    Typ    `json:"type"`
	Source  Expr   `json:"source,omitempty"`
	Default Expr   `json:"default,omitempty"`
	Primary bool   `json:"primary,omitempty"`
	Unique  bool   `json:"unique,omitempty"`
	Index   string `json:"index,omitempty"`
	Lazy    bool   `json:"lazy,omitempty"`
	Opts    []*Opt `json:"options,omitempty"`
	Can     Rules  `json:"can,omitempty"`
}

// Key returns the lowercase field name.
func (f *Field) Key() string { return strings.ToLower(f.Name) }

// IsLink reports whether the field references another resource.
func (f *Field) IsLink() bool { return f.Type.Link != "" }

// IsList reports whether the field holds many values.
func (f *Field) IsList() bool { return f.Type.List }

// SrcPath returns the backend data path for the field, or empty if the source is computed.
func (f *Field) SrcPath() string {
	if f.Source.El == nil {
		return f.Key()
	}
	if s, ok := f.Source.El.(*exp.Sym); ok && !strings.HasPrefix(s.Name, ".") {
		return s.Name
	}
	return ""
}

// SrcExp returns the computed source expression or nil for plain backend fields.
func (f *Field) SrcExp() exp.El {
	if f.Source.El == nil {
		return nil
	}
	if s, ok := f.Source.El.(*exp.Sym); ok && !strings.HasPrefix(s.Name, ".") {
		return nil
	}
	return f.Source.El
}

// Opt returns the option with the given value or nil.
func (f *Field) Opt(val interface{}) *Opt {
	for _, o := range f.Opts {
		if exp.Equal(o.Value, val) {
			return o
		}
	}
	return nil
}

// Resource describes one entity type exposed by the api. Singleton resources hold exactly one
// record and drop the collection operations.
type Resource struct {
	Name      string          `json:"name"`
	Singleton bool            `json:"singleton,omitempty"`
	Source    string          `json:"source,omitempty"`
	Fields    []*Field        `json:"fields"`
	Can       Rules           `json:"can,omitempty"`
	Features  *Features       `json:"features,omitempty"`
	Before    map[string]Expr `json:"before,omitempty"`
	After     map[string]Expr `json:"after,omitempty"`
	space     string
}

// Key returns the lowercase resource name.
func (r *Resource) Key() string { return strings.ToLower(r.Name) }

// Qual returns the space qualified resource key.
func (r *Resource) Qual() string { return r.space + "." + r.Key() }

// Table returns the backend source name, defaulting to the qualified key.
func (r *Resource) Table() string {
	if r.Source != "" {
		return r.Source
	}
	return r.Qual()
}

// Field returns the field for key or nil.
func (r *Resource) Field(key string) *Field {
	if r != nil {
		for _, f := range r.Fields {
			if f.Key() == key {
				return f
			}
		}
	}
	return nil
}

// PK returns the primary key field or nil.
func (r *Resource) PK() *Field {
	if r != nil {
		for _, f := range r.Fields {
			if f.Primary {
				return f
			}
		}
	}
	return nil
}

// Deflt returns the default projection, that is all fields not marked lazy.
func (r *Resource) Deflt() []*Field {
	res := make([]*Field, 0, len(r.Fields))
	for _, f := range r.Fields {
		if f.Lazy {
			continue
		}
		res = append(res, f)
	}
	return res
}

// Space is a namespace for resources.
type Space struct {
	Name      string      `json:"name"`
	Can       Rules       `json:"can,omitempty"`
	Resources []*Resource `json:"resources"`
}

// Key returns the lowercase space name.
func (s *Space) Key() string { return strings.ToLower(s.Name) }

// Resource returns the resource for key or nil.
func (s *Space) Resource(key string) *Resource {
	if s != nil {
		for _, r := range s.Resources {
			if r.Key() == key {
				return r
			}
		}
	}
	return nil
}

// Server is the root of a schema and collects all spaces.
type Server struct {
	Name     string    `json:"name"`
	Can      Rules     `json:"can,omitempty"`
	Features *Features `json:"features,omitempty"`
	Spaces   []*Space  `json:"spaces"`
}

// Space returns the space for key or nil.
func (s *Server) Space(key string) *Space {
	if s != nil {
		for _, sp := range s.Spaces {
			if sp.Key() == key {
				return sp
			}
		}
	}
	return nil
}

// Resource returns the resource for the qualified key "space.resource" or nil.
func (s *Server) Resource(key string) *Resource {
	sp, rest, ok := strings.Cut(key, ".")
	if !ok {
		return nil
	}
	return s.Space(sp).Resource(rest)
}

// Feat returns the effective feature configuration for a resource, falling back to the server
// features and finally the defaults.
func (s *Server) Feat(r *Resource) *Features {
	if r != nil && r.Features != nil {
		return r.Features
	}
	if s != nil && s.Features != nil {
		return s.Features
	}
	return DefaultFeatures
}
