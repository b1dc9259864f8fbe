package dom

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Kind names a primitive field type.
type Kind string

const (
	KindAny  Kind = "any"
	KindBool Kind = "bool"
	KindInt  Kind = "int"
	KindNum  Kind = "num"
	KindStr  Kind = "str"
	KindTime Kind = "time"
	KindMap  Kind = "map"
)

// Typ is a field type. The compact string form is the kind name, or "@space.res" for links,
// optionally prefixed with "list|" for many values and suffixed with "?" for nullable types:
// "int", "str?", "@app.user", "list|@app.comment".
type Typ struct {
	Kind Kind
	Link string
	List bool
	Null bool
}

// ParseTyp parses the compact type string form.
func ParseTyp(s string) (t Typ, err error) {
	raw := s
	if strings.HasSuffix(s, "?") {
		t.Null = true
		s = s[:len(s)-1]
	}
	if strings.HasPrefix(s, "list|") {
		t.List = true
		s = s[5:]
	}
	if strings.HasPrefix(s, "@") {
		t.Link = s[1:]
		if t.Link == "" {
			return t, errors.Errorf("empty link type %q", raw)
		}
		return t, nil
	}
	switch Kind(s) {
	case KindAny, KindBool, KindInt, KindNum, KindStr, KindTime, KindMap:
		t.Kind = Kind(s)
	default:
		return t, errors.Errorf("unknown type %q", raw)
	}
	return t, nil
}

func (t Typ) String() string {
	var b strings.Builder
	if t.List {
		b.WriteString("list|")
	}
	if t.Link != "" {
		b.WriteByte('@')
		b.WriteString(t.Link)
	} else {
		b.WriteString(string(t.Kind))
	}
	if t.Null {
		b.WriteByte('?')
	}
	return b.String()
}

func (t *Typ) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.Errorf("expect type string got %s", b)
	}
	nt, err := ParseTyp(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*t = nt
	return nil
}

func (t Typ) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// Check validates a single json decoded value against the type and returns nil or a descriptive
// error. Link values are checked against the target primary key type by the caller.
func (t Typ) Check(v interface{}) error {
	if v == nil {
		if t.Null {
			return nil
		}
		return errors.Errorf("%s is not nullable", t)
	}
	if t.List {
		vs, ok := v.([]interface{})
		if !ok {
			return errors.Errorf("expect list for %s got %T", t, v)
		}
		el := t
		el.List, el.Null = false, true
		for i, e := range vs {
			if err := el.Check(e); err != nil {
				return errors.WithMessagef(err, "index %d", i)
			}
		}
		return nil
	}
	if t.Link != "" {
		switch v.(type) {
		case float64, int, int64, string:
			return nil
		}
		return errors.Errorf("expect key for %s got %T", t, v)
	}
	switch t.Kind {
	case KindAny:
	case KindBool:
		if _, ok := v.(bool); !ok {
			return errors.Errorf("expect bool got %T", v)
		}
	case KindInt:
		switch n := v.(type) {
		case int, int64:
		case float64:
			if n != float64(int64(n)) {
				return errors.Errorf("expect int got %v", n)
			}
		default:
			return errors.Errorf("expect int got %T", v)
		}
	case KindNum:
		switch v.(type) {
		case float64, int, int64:
		default:
			return errors.Errorf("expect num got %T", v)
		}
	case KindStr:
		if _, ok := v.(string); !ok {
			return errors.Errorf("expect str got %T", v)
		}
	case KindTime:
		s, ok := v.(string)
		if !ok {
			return errors.Errorf("expect time got %T", v)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return errors.Errorf("expect rfc 3339 time got %q", s)
		}
	case KindMap:
		if _, ok := v.(map[string]interface{}); !ok {
			return errors.Errorf("expect map got %T", v)
		}
	}
	return nil
}
