package scalarweb

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// methodType is one row of a getMethodTypes answer:
// [name, parameter specs, response specs, version].
type methodType struct {
	Name      string
	Params    []string
	Responses []string
	Version   string
}

func parseMethodTypes(res *Result) ([]methodType, error) {
	rows, err := res.Rows()
	if err != nil {
		return nil, fmt.Errorf("decode method types: %w", err)
	}
	var types []methodType
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		var mt methodType
		if err := json.Unmarshal(row[0], &mt.Name); err != nil || mt.Name == "" {
			continue
		}
		_ = json.Unmarshal(row[1], &mt.Params)
		_ = json.Unmarshal(row[2], &mt.Responses)
		_ = json.Unmarshal(row[3], &mt.Version)
		if mt.Version == "" {
			mt.Version = DEFAULT_API_VERSION
		}
		types = append(types, mt)
	}
	return types, nil
}

func shapeOf(specs []string) Shape {
	if len(specs) == 0 {
		return SHAPE_EMPTY
	}
	if strings.HasPrefix(strings.TrimSpace(specs[0]), "{") {
		return SHAPE_KEYED
	}
	return SHAPE_POSITIONAL
}

func isPrimitiveType(spec string) bool {
	switch strings.TrimSuffix(spec, "*") {
	case PARAM_TYPE_BOOL, PARAM_TYPE_INT, PARAM_TYPE_DOUBLE, PARAM_TYPE_STRING:
		return true
	}
	return false
}

type specField struct {
	Key    string
	Value  string
	Nested bool
}

// parseObjectSpec decodes a keyed parameter spec such as
// {"uri":"string","cnt":"int"} keeping the key order of the device.
func parseObjectSpec(spec string) ([]specField, error) {
	dec := json.NewDecoder(strings.NewReader(spec))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('{') {
		return nil, errors.New("object spec expected")
	}
	var fields []specField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.New("object key expected")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		field := specField{Key: key}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil {
			field.Value = value
		} else if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
			field.Nested = true
		} else {
			field.Value = string(raw)
		}
		fields = append(fields, field)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

func keyedFieldType(value string) string {
	if isPrimitiveType(value) {
		return value
	}
	if strings.HasSuffix(value, "*") {
		return PARAM_TYPE_STRING + "*"
	}
	return PARAM_TYPE_JSON
}

// parseParams turns the parameter specs of a method into named parameters.
// opts is the result of the matching getSupported call, if any.
func parseParams(specs []string, opts []json.RawMessage) []Param {
	params := []Param{}
	positional := 0
	nextName := func() string {
		name := fmt.Sprintf("arg%d", positional)
		positional++
		return name
	}

	for _, spec := range specs {
		switch {
		case isPrimitiveType(spec):
			params = append(params, Param{Name: nextName(), Type: spec, Candidates: listCandidates(opts)})
		case strings.HasSuffix(spec, "*"):
			params = append(params, Param{Name: nextName(), Type: PARAM_TYPE_JSON_ARRAY, Candidates: []any{}})
		default:
			fields, err := parseObjectSpec(spec)
			if err != nil {
				params = append(params, Param{Name: nextName(), Type: PARAM_TYPE_JSON, Candidates: []any{}})
				continue
			}
			if len(opts) == 0 && slices.ContainsFunc(fields, func(f specField) bool { return f.Nested }) {
				params = append(params, Param{Name: nextName(), Type: PARAM_TYPE_JSON, Candidates: []any{}})
				continue
			}
			candidates := objectCandidates(opts)
			for _, f := range fields {
				t := PARAM_TYPE_JSON
				if !f.Nested {
					t = keyedFieldType(f.Value)
				}
				params = append(params, Param{Name: f.Key, Type: t, Candidates: candidates})
			}
		}
	}
	return params
}

// listCandidates reads the first element of a getSupported answer, either a
// plain list or an object carrying a candidate list.
func listCandidates(opts []json.RawMessage) []any {
	if len(opts) == 0 {
		return []any{}
	}
	var list []any
	if err := json.Unmarshal(opts[0], &list); err == nil && list != nil {
		return list
	}
	return objectCandidates(opts)
}

func objectCandidates(opts []json.RawMessage) []any {
	if len(opts) == 0 {
		return []any{}
	}
	var obj struct {
		Candidate []any `json:"candidate"`
	}
	if err := json.Unmarshal(opts[0], &obj); err == nil && obj.Candidate != nil {
		return obj.Candidate
	}
	return []any{}
}

var specialMethods = map[string]func(opts []json.RawMessage) []Param{
	"setExposureCompensation": exposureCompensationParams,
	"setWhiteBalance":         whiteBalanceParams,
	"setStillSize":            stillSizeParams,
}

// maxRangeValues bounds a firmware-supplied candidate range.
const maxRangeValues = 1024

// intRange expands [from, to] by step, guarding against bad steps. At most
// maxRangeValues values are produced.
func intRange(from, to, step int) []int {
	if step <= 0 || from > to {
		return nil
	}
	var out []int
	for v := from; v <= to && len(out) < maxRangeValues; v += step {
		out = append(out, v)
		if v > math.MaxInt-step {
			break
		}
	}
	return out
}

func sortedInts(set map[int]struct{}) []any {
	values := make([]int, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	slices.Sort(values)
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func sortedStrings(set map[string]struct{}) []any {
	values := make([]string, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	slices.Sort(values)
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

// exposureCompensationParams expects [[max...], [min...], [step...]].
func exposureCompensationParams(opts []json.RawMessage) []Param {
	evs := map[int]struct{}{}
	if len(opts) >= 3 {
		var maxs, mins, steps []int
		errMax := json.Unmarshal(opts[0], &maxs)
		errMin := json.Unmarshal(opts[1], &mins)
		errStep := json.Unmarshal(opts[2], &steps)
		if errMax == nil && errMin == nil && errStep == nil {
			for i := 0; i < len(maxs) && i < len(mins) && i < len(steps); i++ {
				for _, v := range intRange(mins[i], maxs[i], steps[i]) {
					evs[v] = struct{}{}
				}
			}
		}
	}
	return []Param{{Name: "EV", Type: PARAM_TYPE_INT, Candidates: sortedInts(evs)}}
}

// whiteBalanceParams expects [[{whiteBalanceMode, colorTemperatureRange}...]]
// where the range is [max, min, step].
func whiteBalanceParams(opts []json.RawMessage) []Param {
	modes := []any{}
	temps := map[int]struct{}{}
	if len(opts) > 0 {
		var entries []struct {
			Mode  string `json:"whiteBalanceMode"`
			Range []int  `json:"colorTemperatureRange"`
		}
		if err := json.Unmarshal(opts[0], &entries); err == nil {
			for _, e := range entries {
				modes = append(modes, e.Mode)
				if len(e.Range) == 3 {
					for _, v := range intRange(e.Range[1], e.Range[0], e.Range[2]) {
						temps[v] = struct{}{}
					}
				}
			}
		}
	}
	return []Param{
		{Name: "WhiteBalanceMode", Type: PARAM_TYPE_STRING, Candidates: modes},
		{Name: "ColorTempEnable", Type: PARAM_TYPE_BOOL, Candidates: []any{}},
		{Name: "ColorTemp", Type: PARAM_TYPE_INT, Candidates: sortedInts(temps)},
	}
}

// stillSizeParams expects [[{aspect, size}...]].
func stillSizeParams(opts []json.RawMessage) []Param {
	aspects := map[string]struct{}{}
	sizes := map[string]struct{}{}
	if len(opts) > 0 {
		var entries []struct {
			Aspect *string `json:"aspect"`
			Size   *string `json:"size"`
		}
		if err := json.Unmarshal(opts[0], &entries); err == nil {
			for _, e := range entries {
				if e.Aspect != nil {
					aspects[*e.Aspect] = struct{}{}
				}
				if e.Size != nil {
					sizes[*e.Size] = struct{}{}
				}
			}
		}
	}
	return []Param{
		{Name: "aspect", Type: PARAM_TYPE_STRING, Candidates: sortedStrings(aspects)},
		{Name: "size", Type: PARAM_TYPE_STRING, Candidates: sortedStrings(sizes)},
	}
}

// supportedMethod names the getSupported counterpart of a setter, e.g.
// setShootMode -> getSupportedShootMode.
func supportedMethod(method string) (string, bool) {
	rest, ok := strings.CutPrefix(method, "set")
	if !ok || rest == "" {
		return "", false
	}
	return "getSupported" + rest, true
}

func buildMethodSpec(mt methodType, opts []json.RawMessage) MethodSpec {
	spec := MethodSpec{
		Name:    mt.Name,
		Shape:   shapeOf(mt.Params),
		Version: mt.Version,
		Access:  Classify(mt.Name),
	}
	if special, ok := specialMethods[mt.Name]; ok {
		spec.Params = special(opts)
	} else {
		spec.Params = parseParams(mt.Params, opts)
	}
	return spec
}
