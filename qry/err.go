package qry

import (
	"fmt"

	"github.com/mb0/resq/exp"
	"github.com/mb0/resq/pol"
)

// Kind classifies request errors. Parse and schema errors fail a request before any backend
// call, the other kinds attach to the response tree at the failing node's path.
type Kind int

const (
	KindParse Kind = iota + 1
	KindSchema
	KindPermission
	KindEval
	KindValidation
	KindBackend
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindSchema:
		return "schema"
	case KindPermission:
		return "permission"
	case KindEval:
		return "evaluation"
	case KindValidation:
		return "validation"
	case KindBackend:
		return "backend"
	case KindNotFound:
		return "not found"
	}
	return "unknown"
}

// Err is a request error located at a response tree path.
type Err struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Err) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error at %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Err) Unwrap() error { return e.Err }

// Fatal reports whether the error fails the whole request before execution.
func (e *Err) Fatal() bool { return e.Kind == KindParse || e.Kind == KindSchema }

// ParseErrf returns a new parse error.
func ParseErrf(format string, args ...interface{}) *Err {
	return &Err{Kind: KindParse, Err: fmt.Errorf(format, args...)}
}

// SchemaErrf returns a new schema error.
func SchemaErrf(format string, args ...interface{}) *Err {
	return &Err{Kind: KindSchema, Err: fmt.Errorf(format, args...)}
}

// NotFoundErrf returns a new not found error.
func NotFoundErrf(format string, args ...interface{}) *Err {
	return &Err{Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

// ValidErrf returns a new validation error.
func ValidErrf(format string, args ...interface{}) *Err {
	return &Err{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// wrapErr classifies err and locates it at path, keeping an existing location and kind.
func wrapErr(kind Kind, path string, err error) *Err {
	switch e := err.(type) {
	case *Err:
		if e.Path == "" {
			e.Path = path
		}
		return e
	case *pol.Error:
		return &Err{Kind: KindPermission, Path: path, Err: err}
	case *exp.Err:
		return &Err{Kind: KindEval, Path: path, Err: err}
	}
	return &Err{Kind: kind, Path: path, Err: err}
}
