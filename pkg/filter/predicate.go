// Package filter turns client query parameters (filter, sort, range, meta)
// into a storage-independent predicate tree.
//
// Parameters are JSON only; nothing is evaluated. A predicate is rendered to
// SQL by pgstore and evaluated in memory by Match.
package filter

import (
	"fmt"
	"strings"
)

// Op is a comparison operator.
type Op string

const (
	OpEq    Op = "eq"
	OpILike Op = "ilike" // case-insensitive substring
	OpGt    Op = "gt"
	OpLt    Op = "lt"
	OpIn    Op = "in"
	OpNotIn Op = "notin"
)

// Predicate is one of And, Or or Cmp.
type Predicate interface {
	fmt.Stringer
	predicate()
}

// And matches when every member matches. An empty And matches everything.
type And []Predicate

// Or matches when any member matches. An empty Or matches nothing.
type Or []Predicate

// Cmp compares a field against a value. For OpIn and OpNotIn, Value is a []any.
// OpEq against nil tests for null.
type Cmp struct {
	Field string
	Op    Op
	Value any
}

func (And) predicate() {}
func (Or) predicate()  {}
func (Cmp) predicate() {}

func (a And) String() string { return join("AND", a) }
func (o Or) String() string  { return join("OR", o) }

func (c Cmp) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

func join(sep string, ps []Predicate) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, " "+sep+" ") + ")"
}

// Eq is shorthand for Cmp{field, OpEq, v}.
func Eq(field string, v any) Cmp { return Cmp{Field: field, Op: OpEq, Value: v} }

// In is shorthand for Cmp{field, OpIn, values}.
func In(field string, values []any) Cmp { return Cmp{Field: field, Op: OpIn, Value: values} }

// NotIn is shorthand for Cmp{field, OpNotIn, values}.
func NotIn(field string, values []any) Cmp { return Cmp{Field: field, Op: OpNotIn, Value: values} }

// All combines predicates with AND, skipping nil members and flattening
// nested Ands. It returns nil when nothing is left.
func All(ps ...Predicate) Predicate {
	var out And
	for _, p := range ps {
		switch t := p.(type) {
		case nil:
		case And:
			out = append(out, t...)
		default:
			out = append(out, t)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
