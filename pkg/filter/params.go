package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/edgeflare/radmin/pkg/schema"
)

var (
	ErrInvalidFilterValue = errors.New("invalid filter value")
	ErrInvalidSortSpec    = errors.New("invalid sort specification")
	ErrInvalidRangeSpec   = errors.New("invalid range specification")
)

// DefaultRange is the page requested when no range parameter is given.
var DefaultRange = Range{Start: 0, End: 9}

// Expression maps a key, optionally suffixed with |op=<operator>, to a value.
type Expression map[string]any

// Sort orders by one field.
type Sort struct {
	Field string
	Desc  bool
}

// Range is an inclusive [Start, End] index pair.
type Range struct {
	Start int
	End   int
}

// Limit is the page size. Non-positive when End < Start.
func (r Range) Limit() int { return r.End - r.Start + 1 }

// Meta carries options that are not filters.
type Meta struct {
	Embed []string `json:"embed"`
}

// Params are the parsed list parameters of a request.
type Params struct {
	Filter Expression
	Sort   Sort
	Range  Range
	Meta   Meta
}

// ParseParams reads filter, sort, range and meta from query values. Absent
// parameters get defaults: no filter, primary key ascending and DefaultRange.
func ParseParams(q url.Values, d *schema.EntityDescriptor) (Params, error) {
	p := Params{
		Filter: Expression{},
		Sort:   Sort{Field: d.PrimaryKey},
		Range:  DefaultRange,
	}

	if raw := q.Get("filter"); raw != "" {
		expr, err := ParseExpression(raw)
		if err != nil {
			return p, err
		}
		p.Filter = expr
	}

	if raw := q.Get("sort"); raw != "" {
		s, err := ParseSort(raw, d)
		if err != nil {
			return p, err
		}
		p.Sort = s
	}

	if raw := q.Get("range"); raw != "" {
		r, err := ParseRange(raw)
		if err != nil {
			return p, err
		}
		p.Range = r
	}

	if raw := q.Get("meta"); raw != "" {
		m, err := ParseMeta(raw)
		if err != nil {
			return p, err
		}
		p.Meta = m
	}
	return p, nil
}

// ParseExpression decodes a JSON object.
func ParseExpression(raw string) (Expression, error) {
	var expr Expression
	if err := decodeJSON(raw, &expr); err != nil {
		return nil, fmt.Errorf("%w: filter must be a JSON object", ErrInvalidFilterValue)
	}
	if expr == nil {
		expr = Expression{}
	}
	return expr, nil
}

// ParseSort decodes ["field", "ASC"|"DESC"]. The field must be declared.
func ParseSort(raw string, d *schema.EntityDescriptor) (Sort, error) {
	var pair []string
	if err := decodeJSON(raw, &pair); err != nil || len(pair) != 2 {
		return Sort{}, fmt.Errorf("%w: expected [\"field\", \"ASC|DESC\"]", ErrInvalidSortSpec)
	}
	if !d.HasField(pair[0]) {
		return Sort{}, fmt.Errorf("%w: unknown field %q", ErrInvalidSortSpec, pair[0])
	}
	switch strings.ToUpper(pair[1]) {
	case "ASC":
		return Sort{Field: pair[0]}, nil
	case "DESC":
		return Sort{Field: pair[0], Desc: true}, nil
	}
	return Sort{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidSortSpec, pair[1])
}

// ParseRange decodes [start, end]. A negative start is rejected; an end
// before start yields an empty page.
func ParseRange(raw string) (Range, error) {
	var pair []int
	if err := decodeJSON(raw, &pair); err != nil || len(pair) != 2 {
		return Range{}, fmt.Errorf("%w: expected [start, end]", ErrInvalidRangeSpec)
	}
	if pair[0] < 0 {
		return Range{}, fmt.Errorf("%w: negative start", ErrInvalidRangeSpec)
	}
	return Range{Start: pair[0], End: pair[1]}, nil
}

// ParseMeta decodes {"embed": [...]}.
func ParseMeta(raw string) (Meta, error) {
	var m Meta
	if err := decodeJSON(raw, &m); err != nil {
		return Meta{}, fmt.Errorf("%w: meta must be a JSON object", ErrInvalidFilterValue)
	}
	return m, nil
}

// ParseIDs decodes the id list of bulk operations. It accepts a JSON array
// or a single scalar.
func ParseIDs(raw string) ([]any, error) {
	var v any
	if err := decodeJSON(raw, &v); err != nil {
		// bare ids such as ?id=7 or ?id=abc
		return []any{raw}, nil
	}
	switch t := v.(type) {
	case []any:
		return t, nil
	case map[string]any:
		return nil, fmt.Errorf("%w: ids must be a list", ErrInvalidFilterValue)
	}
	return []any{v}, nil
}

func decodeJSON(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}
