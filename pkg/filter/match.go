package filter

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// Match evaluates p against a row of canonical values (int64, float64,
// string, bool, time.Time, nil). A nil predicate matches every row.
func Match(p Predicate, row map[string]any) bool {
	switch t := p.(type) {
	case nil:
		return true
	case And:
		for _, m := range t {
			if !Match(m, row) {
				return false
			}
		}
		return true
	case Or:
		for _, m := range t {
			if Match(m, row) {
				return true
			}
		}
		return false
	case Cmp:
		return matchCmp(t, row[t.Field])
	}
	return false
}

func matchCmp(c Cmp, v any) bool {
	switch c.Op {
	case OpEq:
		if c.Value == nil || v == nil {
			return c.Value == nil && v == nil
		}
		n, ok := Compare(v, c.Value)
		return ok && n == 0
	case OpGt, OpLt:
		if v == nil || c.Value == nil {
			return false
		}
		n, ok := Compare(v, c.Value)
		if !ok {
			return false
		}
		if c.Op == OpGt {
			return n > 0
		}
		return n < 0
	case OpILike:
		if v == nil {
			return false
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(c.Value)))
	case OpIn, OpNotIn:
		found := false
		list, _ := c.Value.([]any)
		for _, want := range list {
			if v == nil || want == nil {
				continue
			}
			if n, ok := Compare(v, want); ok && n == 0 {
				found = true
				break
			}
		}
		if c.Op == OpIn {
			return found
		}
		// NOT IN never matches null, as in SQL
		return v != nil && !found
	}
	return false
}

// Compare orders two canonical values. ok is false when the values are not
// comparable. Integers and floats compare numerically.
func Compare(a, b any) (n int, ok bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y), true
		case float64:
			return cmp.Compare(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmp.Compare(x, y), true
		case int64:
			return cmp.Compare(x, float64(y)), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			}
			return 1, true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}
