package dom

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/mb0/resq/exp"
	"github.com/pkg/errors"
)

// Read decodes a server schema from json and validates it.
func Read(r io.Reader) (*Server, error) {
	var s Server
	err := json.NewDecoder(r).Decode(&s)
	if err != nil {
		return nil, errors.WithMessage(err, "decode schema")
	}
	err = Validate(&s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadFile reads and validates the server schema at path.
func ReadFile(path string) (*Server, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Validate checks schema consistency and resolves link targets to their qualified form.
// It must be called once before the schema is used.
func Validate(s *Server) error {
	if s.Name == "" {
		return errors.New("server requires a name")
	}
	seen := map[string]bool{}
	for _, sp := range s.Spaces {
		if sp.Name == "" {
			return errors.New("space requires a name")
		}
		if seen[sp.Key()] {
			return errors.Errorf("duplicate space %s", sp.Key())
		}
		seen[sp.Key()] = true
		rseen := map[string]bool{}
		for _, r := range sp.Resources {
			r.space = sp.Key()
			if r.Name == "" {
				return errors.Errorf("resource in space %s requires a name", sp.Key())
			}
			if rseen[r.Key()] {
				return errors.Errorf("duplicate resource %s", r.Qual())
			}
			rseen[r.Key()] = true
		}
	}
	// qualify all link targets first, back reference checks read links across resources
	for _, sp := range s.Spaces {
		for _, r := range sp.Resources {
			for _, f := range r.Fields {
				if f.Type.Link != "" && !strings.Contains(f.Type.Link, ".") {
					f.Type.Link = sp.Key() + "." + f.Type.Link
				}
			}
		}
	}
	for _, sp := range s.Spaces {
		for _, r := range sp.Resources {
			err := validateRes(s, r)
			if err != nil {
				return errors.WithMessagef(err, "resource %s", r.Qual())
			}
		}
	}
	return nil
}

func validateRes(s *Server, r *Resource) error {
	if len(r.Fields) == 0 {
		return errors.New("requires fields")
	}
	var pk *Field
	fseen := map[string]bool{}
	for _, f := range r.Fields {
		if f.Name == "" {
			return errors.New("field requires a name")
		}
		if fseen[f.Key()] {
			return errors.Errorf("duplicate field %s", f.Key())
		}
		fseen[f.Key()] = true
		if f.Primary {
			if pk != nil {
				return errors.Errorf("fields %s and %s both primary", pk.Key(), f.Key())
			}
			pk = f
		}
		err := validateField(s, r, f)
		if err != nil {
			return errors.WithMessagef(err, "field %s", f.Key())
		}
	}
	if pk == nil && !r.Singleton {
		return errors.New("requires a primary field")
	}
	if fs := r.Features; fs != nil && fs.Page != nil && fs.Page.Max > 0 &&
		fs.Page.Size > fs.Page.Max {
		return errors.Errorf("page size %d above max %d", fs.Page.Size, fs.Page.Max)
	}
	return nil
}

func validateField(s *Server, r *Resource, f *Field) error {
	if f.Type.Kind == "" && f.Type.Link == "" {
		return errors.New("requires a type")
	}
	if f.Type.Link == "" {
		return nil
	}
	tgt := s.Resource(f.Type.Link)
	if tgt == nil {
		return errors.Errorf("link target %s not found", f.Type.Link)
	}
	if f.Type.List {
		// list links name the back reference field on the target, defaulting to the
		// owning resource key
		if f.Source.El == nil {
			f.Source.El = &exp.Sym{Name: r.Key()}
		}
		src := f.SrcPath()
		if src == "" {
			return nil
		}
		rev := tgt.Field(src)
		if rev == nil {
			return errors.Errorf("back reference %s not found on %s", src, tgt.Qual())
		}
		if rev.Type.Link != r.Qual() {
			return errors.Errorf("back reference %s.%s does not link %s",
				tgt.Qual(), src, r.Qual())
		}
	}
	return nil
}
