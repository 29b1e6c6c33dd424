package changefeed

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"
)

// Transform types.
const (
	TransformFilter  = "filter"
	TransformExtract = "extract"
	TransformReplace = "replace"
)

var ErrInvalidTransform = errors.New("invalid transform")

// Transform is one configured step of a connector's transform chain.
type Transform struct {
	Type   string         `mapstructure:"type"`
	Config map[string]any `mapstructure:"config"`
}

// TransformFunc rewrites an event. Returning a nil event with a nil error
// drops it for the connector. Implementations must not modify the maps of the
// event they receive; it is shared by every connector.
type TransformFunc func(*Event) (*Event, error)

// FilterConfig keeps events whose entity and operation match. Entity refs are
// "namespace.entity" or a bare "entity"; either part may be a path.Match glob.
type FilterConfig struct {
	Entities   []string `mapstructure:"entities"`
	Exclude    []string `mapstructure:"exclude"`
	Operations []string `mapstructure:"operations"`
}

// ExtractConfig keeps only the listed fields of Before and After.
type ExtractConfig struct {
	Fields []string `mapstructure:"fields"`
}

// ReplaceConfig renames namespaces, entities and fields. Map keys are bare
// names; config loading lowercases them and splits keys on dots.
type ReplaceConfig struct {
	Namespaces map[string]string  `mapstructure:"namespaces"`
	Entities   map[string]string  `mapstructure:"entities"`
	Fields     map[string]string  `mapstructure:"fields"`
	Regex      []RegexReplacement `mapstructure:"regex"`
}

// RegexReplacement rewrites a namespace, entity or field name.
type RegexReplacement struct {
	// Type is namespace, entity or field.
	Type    string `mapstructure:"type"`
	Pattern string `mapstructure:"pattern"`
	Replace string `mapstructure:"replace"`
}

// Chain builds the transforms in order. The result is nil when there is
// nothing to apply.
func Chain(transforms []Transform) (TransformFunc, error) {
	var fns []TransformFunc
	for i, t := range transforms {
		fn, err := buildTransform(t)
		if err != nil {
			return nil, fmt.Errorf("transform %d (%s): %w", i, t.Type, err)
		}
		fns = append(fns, fn)
	}
	if len(fns) == 0 {
		return nil, nil
	}
	return func(e *Event) (*Event, error) {
		current := e
		for _, fn := range fns {
			next, err := fn(current)
			if err != nil {
				return nil, err
			}
			if next == nil {
				return nil, nil
			}
			current = next
		}
		return current, nil
	}, nil
}

func buildTransform(t Transform) (TransformFunc, error) {
	switch t.Type {
	case TransformFilter:
		var cfg FilterConfig
		if err := DecodeConfig(t.Config, &cfg); err != nil {
			return nil, err
		}
		return Filter(cfg)
	case TransformExtract:
		var cfg ExtractConfig
		if err := DecodeConfig(t.Config, &cfg); err != nil {
			return nil, err
		}
		return Extract(cfg)
	case TransformReplace:
		var cfg ReplaceConfig
		if err := DecodeConfig(t.Config, &cfg); err != nil {
			return nil, err
		}
		return Replace(cfg)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTransform, t.Type)
}

type entityRef struct {
	namespace string // empty matches any namespace
	entity    string
}

func parseEntityRef(ref string) (entityRef, error) {
	r := entityRef{entity: ref}
	if ns, name, ok := strings.Cut(ref, "."); ok {
		r = entityRef{namespace: ns, entity: name}
	}
	if r.entity == "" {
		return r, fmt.Errorf("%w: empty entity in %q", ErrInvalidTransform, ref)
	}
	for _, p := range []string{r.namespace, r.entity} {
		if _, err := path.Match(p, ""); err != nil {
			return r, fmt.Errorf("%w: bad pattern %q", ErrInvalidTransform, ref)
		}
	}
	return r, nil
}

func (r entityRef) matches(e *Event) bool {
	if r.namespace != "" {
		if ok, _ := path.Match(r.namespace, e.Namespace); !ok {
			return false
		}
	}
	ok, _ := path.Match(r.entity, e.Entity)
	return ok
}

func parseEntityRefs(refs []string) ([]entityRef, error) {
	out := make([]entityRef, 0, len(refs))
	for _, ref := range refs {
		r, err := parseEntityRef(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Filter drops events outside the configured entities and operations.
func Filter(cfg FilterConfig) (TransformFunc, error) {
	if len(cfg.Entities) == 0 && len(cfg.Exclude) == 0 && len(cfg.Operations) == 0 {
		return nil, fmt.Errorf("%w: filter needs entities, exclude or operations", ErrInvalidTransform)
	}
	for _, op := range cfg.Operations {
		switch Operation(op) {
		case OperationCreate, OperationUpdate, OperationDelete:
		default:
			return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidTransform, op)
		}
	}
	include, err := parseEntityRefs(cfg.Entities)
	if err != nil {
		return nil, err
	}
	exclude, err := parseEntityRefs(cfg.Exclude)
	if err != nil {
		return nil, err
	}

	return func(e *Event) (*Event, error) {
		if len(cfg.Operations) > 0 && !slices.Contains(cfg.Operations, string(e.Op)) {
			return nil, nil
		}
		for _, r := range exclude {
			if r.matches(e) {
				return nil, nil
			}
		}
		if len(include) > 0 && !slices.ContainsFunc(include, func(r entityRef) bool { return r.matches(e) }) {
			return nil, nil
		}
		return e, nil
	}, nil
}

// Extract keeps only cfg.Fields in Before and After.
func Extract(cfg ExtractConfig) (TransformFunc, error) {
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("%w: extract needs at least one field", ErrInvalidTransform)
	}
	pick := func(in map[string]any) map[string]any {
		if in == nil {
			return nil
		}
		out := make(map[string]any, len(cfg.Fields))
		for _, f := range cfg.Fields {
			if v, ok := in[f]; ok {
				out[f] = v
			}
		}
		return out
	}
	return func(e *Event) (*Event, error) {
		out := *e
		out.Before = pick(e.Before)
		out.After = pick(e.After)
		return &out, nil
	}, nil
}

type compiledRegex struct {
	kind    string
	re      *regexp.Regexp
	replace string
}

// Replace renames the event's namespace, entity and field keys.
func Replace(cfg ReplaceConfig) (TransformFunc, error) {
	if len(cfg.Namespaces) == 0 && len(cfg.Entities) == 0 && len(cfg.Fields) == 0 && len(cfg.Regex) == 0 {
		return nil, fmt.Errorf("%w: replace needs at least one replacement", ErrInvalidTransform)
	}
	var rules []compiledRegex
	for _, r := range cfg.Regex {
		switch r.Type {
		case "namespace", "entity", "field":
		default:
			return nil, fmt.Errorf("%w: unknown replacement type %q", ErrInvalidTransform, r.Type)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTransform, r.Pattern, err)
		}
		rules = append(rules, compiledRegex{kind: r.Type, re: re, replace: r.Replace})
	}

	fieldName := func(k string) string {
		if n, ok := cfg.Fields[k]; ok {
			k = n
		}
		for _, r := range rules {
			if r.kind == "field" {
				k = r.re.ReplaceAllString(k, r.replace)
			}
		}
		return k
	}
	renameKeys := func(in map[string]any) map[string]any {
		if in == nil {
			return nil
		}
		out := make(map[string]any, len(in))
		for k, v := range in {
			out[fieldName(k)] = v
		}
		return out
	}
	rewriteFields := len(cfg.Fields) > 0 || slices.ContainsFunc(rules, func(r compiledRegex) bool { return r.kind == "field" })

	return func(e *Event) (*Event, error) {
		out := *e
		if n, ok := cfg.Namespaces[out.Namespace]; ok {
			out.Namespace = n
		}
		if n, ok := cfg.Entities[out.Entity]; ok {
			out.Entity = n
		}
		for _, r := range rules {
			switch r.kind {
			case "namespace":
				out.Namespace = r.re.ReplaceAllString(out.Namespace, r.replace)
			case "entity":
				out.Entity = r.re.ReplaceAllString(out.Entity, r.replace)
			}
		}
		if rewriteFields {
			out.Before = renameKeys(e.Before)
			out.After = renameKeys(e.After)
		}
		return &out, nil
	}, nil
}
