// Package qry turns one structured client request into an ordered sequence of backend
// operations and assembles a single nested response.
//
// A request is parsed into a node tree, every node is annotated with its resolved access
// decision, the tree is compiled into operations with one batched prefetch per link field per
// depth, operations execute through a backend adapter and the rows merge back into the tree
// shape. Plans for repeated parameter sets are cached.
package qry

import (
	"context"

	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/exp"
	"github.com/pkg/errors"
)

// Row outcomes of a failed atomic write batch.
var (
	ErrRolledBack = errors.New("rolled back")
	ErrSkipped    = errors.New("skipped")
)

// Ord is one sort key.
type Ord struct {
	Key  string `json:"key"`
	Desc bool   `json:"desc,omitempty"`
}

// Agg is one aggregation output of a grouped operation.
type Agg struct {
	Name string `json:"name"`
	Op   string `json:"op"`
	Key  string `json:"key,omitempty"`
}

// Win asks the backend for a per-parent rank limit: the top Lim rows per partition value,
// ordered by Ord. Keys carries the parent identifier set the partition column is matched
// against. This replaces a global limit that would starve later parents.
type Win struct {
	Part string        `json:"part"`
	Keys []interface{} `json:"keys"`
	Lim  int64         `json:"lim"`
	Off  int64         `json:"off,omitempty"`
	Ord  []Ord         `json:"ord,omitempty"`
}

// Op is one resolved read operation against a backend source. Field sources in Whr, Ord, Grp
// and Win refer to backend column names, not logical field keys.
type Op struct {
	Res  *dom.Resource
	Cols []string
	Whr  exp.El
	Ord  []Ord
	Off  int64
	Lim  int64
	Grp  []Agg
	Win  *Win
}

// Sel is the outcome of a read operation: either plain rows, or a single aggregated map for
// grouped operations. More reports whether rows exist beyond the requested page.
type Sel struct {
	Rows []map[string]interface{}
	Agg  map[string]interface{}
	More bool
}

// Write is one resolved write operation. Rows are payload rows in backend column names, index
// aligned with the client payload; nil rows were rejected upstream and must be skipped. For
// atomic writes the backend applies rows in order inside a transaction and rolls everything
// back on the first failure.
type Write struct {
	Res    *dom.Resource
	Action string
	Rows   []map[string]interface{}
	Atomic bool
}

// Wrote is the backend write outcome, index aligned with the write rows. After an atomic
// failure at index k, indexes below k report ErrRolledBack and indexes above k ErrSkipped.
type Wrote struct {
	Rows []map[string]interface{}
	Errs []error
}

// Backend executes resolved operations against a concrete datastore. Filters arrive as
// expression trees restricted to the boolean and comparison operator subset and are already
// access composed.
type Backend interface {
	Query(ctx context.Context, c *exp.Ctx, op *Op) (*Sel, error)
	Exec(ctx context.Context, c *exp.Ctx, w *Write) (*Wrote, error)
}

// Actions of the request vocabulary.
const (
	ActGet     = "get"
	ActAdd     = "add"
	ActSet     = "set"
	ActEdit    = "edit"
	ActDelete  = "delete"
	ActExplain = "explain"
	ActInspect = "inspect"
)

func writeAction(action string) bool {
	switch action {
	case ActAdd, ActSet, ActEdit, ActDelete:
		return true
	}
	return false
}
