package scalarweb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Args is what a caller passes to a method: an ordered list, a set of named
// values or nothing. The wire form is chosen by the MethodSpec in Bind.
type Args struct {
	shape  Shape
	values []any
	named  map[string]any
}

func Positional(values ...any) Args {
	return Args{shape: SHAPE_POSITIONAL, values: values}
}

func Keyed(named map[string]any) Args {
	return Args{shape: SHAPE_KEYED, named: named}
}

func NoArgs() Args {
	return Args{shape: SHAPE_EMPTY}
}

func (a Args) Shape() Shape {
	if a.shape == "" {
		return SHAPE_EMPTY
	}
	return a.shape
}

func (a Args) Values() []any {
	return a.values
}

func (a Args) Named() map[string]any {
	return a.named
}

// ParseArgs reads arguments from JSON: a list is positional, an object is
// keyed, null or nothing is empty.
func ParseArgs(raw []byte) (Args, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NoArgs(), nil
	}
	switch raw[0] {
	case '[':
		var values []any
		if err := json.Unmarshal(raw, &values); err != nil {
			return Args{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		return Positional(values...), nil
	case '{':
		var named map[string]any
		if err := json.Unmarshal(raw, &named); err != nil {
			return Args{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		return Keyed(named), nil
	}
	return Args{}, fmt.Errorf("%w: want a list, an object or null", ErrInvalidArguments)
}

// Bind validates args against spec and returns the params list to send.
// Positional and empty methods get a list, keyed methods get a list holding
// one object.
func Bind(spec MethodSpec, args Args) ([]any, error) {
	if spec.Degraded {
		return bindDegraded(args), nil
	}
	switch spec.Shape {
	case SHAPE_EMPTY:
		if len(args.values) > 0 || len(args.named) > 0 {
			return nil, fmt.Errorf("%w: %s takes no arguments", ErrInvalidArguments, spec.Name)
		}
		return []any{}, nil
	case SHAPE_KEYED:
		return bindKeyed(spec, args)
	default:
		return bindPositional(spec, args)
	}
}

func bindDegraded(args Args) []any {
	switch args.Shape() {
	case SHAPE_KEYED:
		return []any{args.named}
	case SHAPE_POSITIONAL:
		if args.values == nil {
			return []any{}
		}
		return args.values
	}
	return []any{}
}

func bindKeyed(spec MethodSpec, args Args) ([]any, error) {
	var named map[string]any
	switch args.Shape() {
	case SHAPE_KEYED:
		named = args.named
	case SHAPE_POSITIONAL:
		if len(args.values) == 1 {
			if m, ok := args.values[0].(map[string]any); ok {
				named = m
			}
		}
	}
	if named == nil {
		return nil, fmt.Errorf("%w: %s takes one keyed object", ErrInvalidArguments, spec.Name)
	}

	opaque := len(spec.Params) == 1 && strings.HasPrefix(spec.Params[0].Type, PARAM_TYPE_JSON) && strings.HasPrefix(spec.Params[0].Name, "arg")
	if !opaque {
		known := make(map[string]Param, len(spec.Params))
		for _, p := range spec.Params {
			known[p.Name] = p
		}
		for key, value := range named {
			p, ok := known[key]
			if !ok {
				return nil, fmt.Errorf("%w: %s has no parameter %q", ErrInvalidArguments, spec.Name, key)
			}
			if err := checkType(p, value); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, spec.Name, err)
			}
		}
	}
	return []any{named}, nil
}

func bindPositional(spec MethodSpec, args Args) ([]any, error) {
	if args.Shape() == SHAPE_KEYED {
		return nil, fmt.Errorf("%w: %s takes positional arguments", ErrInvalidArguments, spec.Name)
	}
	values := args.values
	variadic := len(spec.Params) > 0 && spec.Params[len(spec.Params)-1].Type == PARAM_TYPE_JSON_ARRAY
	switch {
	case variadic && len(values) < len(spec.Params)-1:
		return nil, fmt.Errorf("%w: %s takes at least %d arguments, got %d", ErrInvalidArguments, spec.Name, len(spec.Params)-1, len(values))
	case !variadic && len(values) != len(spec.Params):
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrInvalidArguments, spec.Name, len(spec.Params), len(values))
	}
	for i, value := range values {
		if i >= len(spec.Params) {
			break
		}
		if err := checkType(spec.Params[i], value); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, spec.Name, err)
		}
	}
	if values == nil {
		return []any{}, nil
	}
	return values, nil
}

// checkType validates primitive types only. Candidate lists are advisory,
// firmware accepts values it does not advertise.
func checkType(p Param, value any) error {
	base, array := strings.CutSuffix(p.Type, "*")
	if !isPrimitiveType(base) {
		return nil
	}
	if array {
		list, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: want a list of %s", p.Name, base)
		}
		for _, v := range list {
			if !matchesType(base, v) {
				return fmt.Errorf("%s: want a list of %s, got %T", p.Name, base, v)
			}
		}
		return nil
	}
	if !matchesType(base, value) {
		return fmt.Errorf("%s: want %s, got %T", p.Name, base, value)
	}
	return nil
}

func matchesType(t string, value any) bool {
	switch t {
	case PARAM_TYPE_BOOL:
		_, ok := value.(bool)
		return ok
	case PARAM_TYPE_STRING:
		_, ok := value.(string)
		return ok
	case PARAM_TYPE_INT:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return v == math.Trunc(v)
		case float32:
			return float64(v) == math.Trunc(float64(v))
		case json.Number:
			_, err := v.Int64()
			return err == nil
		}
		return false
	case PARAM_TYPE_DOUBLE:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
			return true
		}
		return false
	}
	return true
}
