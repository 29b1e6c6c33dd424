package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/edgeflare/radmin/pkg/schema"
)

// SearchKey is the free-text key: a substring match across every text field.
const SearchKey = "q"

const opSep = "|op="

// operators maps the |op= suffix onto an Op. Anything else is dropped.
var operators = map[string]Op{
	"like":  OpILike,
	"ilike": OpILike,
	">":     OpGt,
	"<":     OpLt,
}

// Compile turns an expression into a predicate over d. Constraints are
// ANDed; keys are visited in sorted order so the result is deterministic.
// It returns nil when nothing constrains the set.
func Compile(expr Expression, d *schema.EntityDescriptor) (Predicate, error) {
	keys := make([]string, 0, len(expr))
	for k := range expr {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var preds []Predicate
	for _, k := range keys {
		field, op, ok := splitKey(k)
		if !ok {
			continue
		}

		v, err := single(expr[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}

		if field == SearchKey && !d.HasField(SearchKey) {
			if v != nil {
				preds = append(preds, search(d, v))
			}
			continue
		}

		f, found := d.Field(field)
		if !found {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidFilterValue, field)
		}

		if op == OpILike && f.Type != schema.TypeUUID {
			preds = append(preds, Cmp{Field: field, Op: OpILike, Value: fmt.Sprint(v)})
			continue
		}

		cv, err := schema.Coerce(f, v)
		if err != nil {
			var ce *schema.CoerceError
			if errors.As(err, &ce) {
				return nil, fmt.Errorf("%w: %s: %s", ErrInvalidFilterValue, field, ce.Message)
			}
			return nil, err
		}
		if op == OpILike {
			cv = fmt.Sprint(cv)
		}
		preds = append(preds, Cmp{Field: field, Op: op, Value: cv})
	}
	return All(preds...), nil
}

// splitKey separates the field from an optional |op= suffix. ok is false
// for unrecognized operators.
func splitKey(k string) (field string, op Op, ok bool) {
	field, suffix, found := strings.Cut(k, opSep)
	if !found {
		return k, OpEq, true
	}
	op, ok = operators[strings.ToLower(suffix)]
	return field, op, ok
}

// single reduces list values (or textual list literals) to their sole element.
func single(v any) (any, error) {
	if s, ok := v.(string); ok {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			var list []any
			if err := decodeJSON(trimmed, &list); err != nil {
				return nil, fmt.Errorf("%w: malformed list literal", ErrInvalidFilterValue)
			}
			v = list
		}
	}
	list, ok := v.([]any)
	if !ok {
		if n, isNum := v.(json.Number); isNum {
			return string(n), nil
		}
		return v, nil
	}
	if len(list) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one value, got %d", ErrInvalidFilterValue, len(list))
	}
	return single(list[0])
}

// search ORs a case-insensitive match over every text field. Entities
// without text fields get no constraint.
func search(d *schema.EntityDescriptor, v any) Predicate {
	needle := fmt.Sprint(v)
	text := d.TextFields()
	if len(text) == 0 {
		return nil
	}
	or := make(Or, 0, len(text))
	for _, f := range text {
		or = append(or, Cmp{Field: f.Name, Op: OpILike, Value: needle})
	}
	return or
}
