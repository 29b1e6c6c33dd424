package util

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errInvalidInput = errors.New("invalid input or empty path")
	errNoWildcard   = errors.New("no matching elements found for wildcard path")
)

// Jq extracts a value from decoded JSON, typically token claims, with a
// dotted path in the style of the jq cli:
//
//	realm_access.roles
//	resource_access.radmin.roles[0]
//	groups[].name
//
// "[]" and "[*]" collect the rest of the path from every element and flatten
// array results one level.
func Jq(input map[string]any, path string) (any, error) {
	path = strings.TrimPrefix(path, ".")
	if input == nil || path == "" {
		return nil, errInvalidInput
	}
	return walk(input, strings.Split(path, "."))
}

func walk(current any, segments []string) (any, error) {
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object at %q", seg)
		}

		name, index, indexed, err := parseSegment(seg)
		if err != nil {
			return nil, err
		}
		value, ok := obj[name]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", name)
		}
		if !indexed {
			current = value
			continue
		}

		list, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array at %q", name)
		}
		if index == "" || index == "*" {
			rest := segments[i+1:]
			if len(rest) == 0 {
				return list, nil
			}
			return collect(list, rest)
		}
		n, err := strconv.Atoi(index)
		if err != nil || n < 0 || n >= len(list) {
			return nil, fmt.Errorf("invalid index %s at %q", index, name)
		}
		current = list[n]
	}
	return current, nil
}

// parseSegment splits "name[index]". indexed is false for a plain key.
func parseSegment(seg string) (name, index string, indexed bool, err error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, "", false, nil
	}
	if !strings.HasSuffix(seg, "]") || open == len(seg)-1 {
		return "", "", false, fmt.Errorf("malformed array syntax in %q", seg)
	}
	return seg[:open], seg[open+1 : len(seg)-1], true, nil
}

func collect(list []any, rest []string) (any, error) {
	out := make([]any, 0, len(list))
	for _, item := range list {
		v, err := walk(item, rest)
		if err != nil {
			continue
		}
		if nested, ok := v.([]any); ok {
			out = append(out, nested...)
		} else {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, errNoWildcard
	}
	return out, nil
}
