package dom

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Page configures pagination for collection gets.
type Page struct {
	Size int `json:"size,omitempty"`
	Max  int `json:"max_size,omitempty"`
}

// Group configures the aggregation operators allowed in group parameters.
type Group struct {
	Ops []string `json:"operators,omitempty"`
}

// Features toggles query capabilities. A feature set to false rejects the matching query
// parameter with a schema error. Nil pointers mean the feature is off.
type Features struct {
	Take    bool   `json:"take,omitempty"`
	Where   bool   `json:"where,omitempty"`
	Sort    bool   `json:"sort,omitempty"`
	Inspect bool   `json:"inspect,omitempty"`
	Action  bool   `json:"action,omitempty"`
	Page    *Page  `json:"page,omitempty"`
	Group   *Group `json:"group,omitempty"`
}

// DefaultFeatures enables everything with the standard page sizes.
var DefaultFeatures = &Features{
	Take: true, Where: true, Sort: true, Inspect: true, Action: true,
	Page:  &Page{Size: 50, Max: 100},
	Group: &Group{Ops: []string{"count", "sum", "avg", "max", "min", "distinct"}},
}

// GroupOp reports whether op is an allowed aggregation operator.
func (fs *Features) GroupOp(op string) bool {
	if fs == nil || fs.Group == nil {
		return false
	}
	for _, o := range fs.Group.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// PageSize returns the effective page size for a requested size, clamping to the maximum and
// falling back to the default when size is zero.
func (fs *Features) PageSize(size int) int {
	p := fs.Page
	if p == nil {
		p = DefaultFeatures.Page
	}
	if size <= 0 {
		return p.Size
	}
	if p.Max > 0 && size > p.Max {
		return p.Max
	}
	return size
}

// UnmarshalJSON accepts both the object form and the shorthand where a feature key maps to a
// plain boolean: {"page": true} enables paging with default sizes.
func (fs *Features) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for key, v := range raw {
		var on bool
		obj := v[0] == '{'
		if !obj {
			if err := json.Unmarshal(v, &on); err != nil {
				return errors.WithMessagef(err, "feature %s", key)
			}
		}
		var err error
		switch key {
		case "take":
			fs.Take = on
		case "where":
			fs.Where = on
		case "sort":
			fs.Sort = on
		case "inspect":
			fs.Inspect = on
		case "action":
			fs.Action = on
		case "page":
			if obj {
				fs.Page = new(Page)
				err = json.Unmarshal(v, fs.Page)
			} else if on {
				fs.Page = DefaultFeatures.Page
			}
		case "group":
			if obj {
				fs.Group = new(Group)
				err = json.Unmarshal(v, fs.Group)
			} else if on {
				fs.Group = DefaultFeatures.Group
			}
		default:
			err = errors.Errorf("unknown feature %s", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
