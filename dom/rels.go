package dom

import "fmt"

// Rel describes the cardinality of a link between two resources a and b.
type Rel uint

const (
	RelN1 Rel = iota // many a to one b, a plain link field
	Rel1N            // one a to many b, a list link field
)

// ResRef is a resource pointer with an optional field key.
type ResRef struct {
	*Resource
	Key string
}

func (r ResRef) String() string {
	if r.Key == "" {
		return r.Qual()
	}
	return fmt.Sprintf("%s.%s", r.Qual(), r.Key)
}

// Relation links resource a to resource b through a link field on a.
type Relation struct {
	Rel
	A, B ResRef
}

func (r Relation) String() string { return fmt.Sprintf("%s>%s", r.A, r.B) }

// ResRels contains outgoing and incoming relations for a resource.
type ResRels struct {
	*Resource
	Out, In []Relation
}

// Relations maps qualified resource keys to all relations of that resource.
type Relations map[string]*ResRels

// Relate collects all link relations between the resources of a validated server schema.
func Relate(s *Server) Relations {
	res := make(Relations)
	for _, sp := range s.Spaces {
		for _, r := range sp.Resources {
			for _, f := range r.Fields {
				if !f.IsLink() {
					continue
				}
				rel := Relation{
					A: ResRef{r, f.Key()},
					B: ResRef{Resource: s.Resource(f.Type.Link)},
				}
				if f.IsList() {
					rel.Rel = Rel1N
					rel.B.Key = f.SrcPath()
				}
				res.add(rel)
			}
		}
	}
	return res
}

func (rs Relations) add(r Relation) {
	a := rs.upsert(r.A.Resource)
	a.Out = append(a.Out, r)
	b := rs.upsert(r.B.Resource)
	b.In = append(b.In, r)
}

func (rs Relations) upsert(r *Resource) *ResRels {
	key := r.Qual()
	res := rs[key]
	if res == nil {
		res = &ResRels{Resource: r}
		rs[key] = res
	}
	return res
}
