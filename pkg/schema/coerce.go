package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CoerceError reports a value that does not fit the field's type. Message is
// meant for API clients.
type CoerceError struct {
	Field   string
	Message string
}

func (e *CoerceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const dateLayout = "2006-01-02"

// Coerce normalizes v to the canonical Go representation of the field type:
// int64, float64, bool, string (text and uuid), time.Time, or the value itself
// for json and array fields. nil passes through.
func Coerce(f FieldDescriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if n, ok := v.(json.Number); ok {
		v = string(n)
	}

	switch f.Type {
	case TypeText:
		switch t := v.(type) {
		case string:
			return t, nil
		case bool, int, int32, int64, float64:
			return fmt.Sprint(t), nil
		}
		return nil, coerceErr(f, "Not a valid string.")

	case TypeInteger:
		switch t := v.(type) {
		case int:
			return int64(t), nil
		case int32:
			return int64(t), nil
		case int64:
			return t, nil
		case float64:
			if t != math.Trunc(t) {
				return nil, coerceErr(f, "A valid integer is required.")
			}
			return int64(t), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, coerceErr(f, "A valid integer is required.")
			}
			return n, nil
		}
		return nil, coerceErr(f, "A valid integer is required.")

	case TypeFloat:
		switch t := v.(type) {
		case float64:
			return t, nil
		case float32:
			return float64(t), nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, coerceErr(f, "A valid number is required.")
			}
			return n, nil
		}
		return nil, coerceErr(f, "A valid number is required.")

	case TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case float64:
			if t == 0 || t == 1 {
				return t == 1, nil
			}
		case int64:
			if t == 0 || t == 1 {
				return t == 1, nil
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "t", "1", "yes", "on":
				return true, nil
			case "false", "f", "0", "no", "off":
				return false, nil
			}
		}
		return nil, coerceErr(f, "Must be a valid boolean.")

	case TypeUUID:
		switch t := v.(type) {
		case uuid.UUID:
			return t.String(), nil
		case [16]byte:
			return uuid.UUID(t).String(), nil
		case string:
			id, err := uuid.Parse(strings.TrimSpace(t))
			if err != nil {
				return nil, coerceErr(f, "Must be a valid UUID.")
			}
			return id.String(), nil
		}
		return nil, coerceErr(f, "Must be a valid UUID.")

	case TypeDate:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			d, err := time.Parse(dateLayout, strings.TrimSpace(t))
			if err != nil {
				if ts, err2 := time.Parse(time.RFC3339, strings.TrimSpace(t)); err2 == nil {
					return ts, nil
				}
				return nil, coerceErr(f, "Date has wrong format. Use YYYY-MM-DD.")
			}
			return d, nil
		}
		return nil, coerceErr(f, "Date has wrong format. Use YYYY-MM-DD.")

	case TypeDateTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			s := strings.TrimSpace(t)
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", dateLayout} {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts, nil
				}
			}
		}
		return nil, coerceErr(f, "Datetime has wrong format.")

	case TypeArray:
		switch t := v.(type) {
		case []any:
			return t, nil
		case []string:
			out := make([]any, len(t))
			for i, s := range t {
				out[i] = s
			}
			return out, nil
		case string:
			var out []any
			if err := json.Unmarshal([]byte(t), &out); err != nil {
				return nil, coerceErr(f, "Expected a list of items.")
			}
			return out, nil
		}
		return nil, coerceErr(f, "Expected a list of items.")
	}

	// json and unknown native types pass through untouched
	return v, nil
}

func coerceErr(f FieldDescriptor, msg string) error {
	return &CoerceError{Field: f.Name, Message: msg}
}
