// Package filter compiles document selection expressions.
//
// A filter is a CUE struct of constraints over document fields, for example
//
//	form: "Memo"
//	priority: >=3
//	tags: [...string]
//
// A document matches when unifying its fields with the filter produces a
// concrete value without conflicts, and every regular field the filter names
// is present in the document.
package filter

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/docsync/internal/ir"
)

// Filter is a compiled selection expression.
// Safe for concurrent use; evaluation is serialized internally.
type Filter struct {
	expr  string
	mu    sync.Mutex
	ctx   *cue.Context
	value cue.Value
}

// Compile parses and checks a filter expression.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmptyExpression
	}

	ctx := cuecontext.New()
	v := ctx.CompileString(expr, cue.Filename("filter"))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{
			Field:   "filter",
			Message: fmt.Sprintf("expression must be a struct of field constraints, got %s", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	return &Filter{expr: expr, ctx: ctx, value: v}, nil
}

// MustCompile is like Compile but panics on error.
// Use only in tests or with constant expressions.
func MustCompile(expr string) *Filter {
	f, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the normalized expression text.
func (f *Filter) String() string {
	return f.expr
}

// Match reports whether a document's fields satisfy the filter.
// An error means the fields could not be evaluated at all; a constraint
// violation is simply a non-match.
func (f *Filter) Match(fields ir.Fields) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fields == nil {
		fields = ir.Fields{}
	}
	doc := f.ctx.Encode(fields.ToMap())
	if err := doc.Err(); err != nil {
		return false, fmt.Errorf("encode fields: %w", err)
	}

	present, err := fieldsPresent(f.value, doc)
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}

	unified := f.value.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return false, nil
	}
	return true, nil
}

// fieldsPresent checks that every regular field of constraint exists in doc,
// descending into nested structs. Unification alone would let a concrete
// filter value fill in a field the document never had.
func fieldsPresent(constraint, doc cue.Value) (bool, error) {
	iter, err := constraint.Fields()
	if err != nil {
		return false, formatCUEError(err)
	}
	for iter.Next() {
		sel := iter.Selector()
		got := doc.LookupPath(cue.MakePath(sel))
		if !got.Exists() {
			return false, nil
		}
		sub := iter.Value()
		if sub.IncompleteKind() == cue.StructKind {
			if got.Kind() != cue.StructKind {
				return false, nil
			}
			ok, err := fieldsPresent(sub, got)
			if err != nil || !ok {
				return ok, err
			}
		}
	}
	return true, nil
}
