// Package domtest has a default schema and helpers for testing.
package domtest

import (
	"encoding/json"
	"strings"

	"github.com/mb0/resq/dom"
	"github.com/pkg/errors"
)

// Fixture bundles a validated test schema with raw backend rows keyed by qualified resource.
type Fixture struct {
	*dom.Server
	Fix map[string][]map[string]interface{}
}

// New reads the schema and fixture rows from json strings.
func New(raw, fix string) (*Fixture, error) {
	res := &Fixture{}
	s, err := dom.Read(strings.NewReader(raw))
	if err != nil {
		return nil, errors.WithMessage(err, "schema")
	}
	res.Server = s
	err = json.Unmarshal([]byte(fix), &res.Fix)
	if err != nil {
		return nil, errors.WithMessage(err, "fixture")
	}
	return res, nil
}

func Must(f *Fixture, err error) *Fixture {
	if err != nil {
		panic(err)
	}
	return f
}

// Keys returns the fixture row keys.
func (f *Fixture) Keys() []string {
	res := make([]string, 0, len(f.Fix))
	for k := range f.Fix {
		res = append(res, k)
	}
	return res
}

// Rows returns a deep copy of the fixture rows for key, so tests can write without clobbering
// the shared fixture.
func (f *Fixture) Rows(key string) []map[string]interface{} {
	rows := f.Fix[key]
	res := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		c := make(map[string]interface{}, len(row))
		for k, v := range row {
			c[k] = v
		}
		res[i] = c
	}
	return res
}
