package crud

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/edgeflare/radmin/pkg/authz"
	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
)

// Error taxonomy of the engine. Callers match with errors.Is / errors.As.
var (
	ErrUnknownEntity      = schema.ErrUnknownEntity
	ErrNotFound           = store.ErrNotFound
	ErrRelatedNotFound    = fmt.Errorf("related object %w", store.ErrNotFound)
	ErrInvalidFilterValue = filter.ErrInvalidFilterValue
	ErrInvalidSortSpec    = filter.ErrInvalidSortSpec
	ErrInvalidRangeSpec   = filter.ErrInvalidRangeSpec
	ErrNoFileUploaded     = errors.New("no file uploaded")
	ErrMaxDepthExceeded   = errors.New("maximum nesting depth exceeded")
	ErrForbidden          = authz.ErrForbidden
	ErrUnauthenticated    = authz.ErrUnauthenticated
)

// RelatedNotFoundError reports a relation id that does not resolve.
type RelatedNotFoundError struct {
	Field  string
	Entity string
	ID     any
}

func (e *RelatedNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %v does not exist", e.Field, e.Entity, e.ID)
}

func (e *RelatedNotFoundError) Unwrap() error { return ErrRelatedNotFound }

// ValidationError maps field names to client-facing messages. Fields of
// nested records are keyed "<collection>.<index>.<field>".
type ValidationError struct {
	Errors map[string][]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Errors))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Errors[k], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Errors == nil {
		e.Errors = make(map[string][]string)
	}
	e.Errors[field] = append(e.Errors[field], msg)
}

func (e *ValidationError) empty() bool { return len(e.Errors) == 0 }

// prefixed returns a copy with every key prefixed.
func (e *ValidationError) prefixed(prefix string) *ValidationError {
	out := &ValidationError{Errors: make(map[string][]string, len(e.Errors))}
	for k, v := range e.Errors {
		out.Errors[prefix+k] = v
	}
	return out
}

// IntegrityError is a storage constraint violation that is not tied to one
// field, such as a duplicate key.
type IntegrityError struct {
	Message string
	Err     error
}

func (e *IntegrityError) Error() string { return e.Message }

func (e *IntegrityError) Unwrap() error { return e.Err }

// storeError turns storage constraint and coercion failures into the
// engine's validation taxonomy.
func storeError(err error) error {
	if err == nil {
		return nil
	}

	var ce *schema.CoerceError
	if errors.As(err, &ce) {
		v := &ValidationError{}
		v.add(ce.Field, ce.Message)
		return v
	}

	var cons *store.ConstraintError
	if errors.As(err, &cons) {
		switch {
		case errors.Is(cons, store.ErrNotNullViolation) && cons.Column != "":
			v := &ValidationError{}
			v.add(cons.Column, "This field may not be null.")
			return v
		case errors.Is(cons, store.ErrUniqueViolation):
			msg := "A record with this value already exists."
			if cons.Column != "" {
				msg = fmt.Sprintf("A record with this %s already exists.", cons.Column)
			}
			return &IntegrityError{Message: msg, Err: err}
		}
		msg := cons.Detail
		if msg == "" {
			msg = cons.Error()
		}
		return &IntegrityError{Message: msg, Err: err}
	}

	for _, kind := range []error{store.ErrUniqueViolation, store.ErrForeignKeyViolation, store.ErrCheckViolation, store.ErrNotNullViolation} {
		if errors.Is(err, kind) {
			return &IntegrityError{Message: err.Error(), Err: err}
		}
	}
	return err
}
