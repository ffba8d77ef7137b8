package scalarweb

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawList(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		out = append(out, json.RawMessage(v))
	}
	return out
}

func TestParseParamsPrimitive(t *testing.T) {

	assert := assert.New(t)

	params := parseParams([]string{"string", "int"}, rawList(`["still","movie"]`))
	require.Len(t, params, 2)
	assert.Equal(Param{Name: "arg0", Type: "string", Candidates: []any{"still", "movie"}}, params[0])
	assert.Equal("arg1", params[1].Name)
	assert.Equal("int", params[1].Type)

	params = parseParams([]string{"bool"}, nil)
	assert.Equal([]Param{{Name: "arg0", Type: "bool", Candidates: []any{}}}, params)
}

func TestParseParamsCandidateObject(t *testing.T) {

	params := parseParams([]string{"string"}, rawList(`{"candidate":["Off","On"]}`))
	require.Len(t, params, 1)
	assert.Equal(t, []any{"Off", "On"}, params[0].Candidates)
}

func TestParseParamsStarAndUnknown(t *testing.T) {

	assert := assert.New(t)

	params := parseParams([]string{"{\"uri\":\"string\"}*"}, nil)
	assert.Equal([]Param{{Name: "arg0", Type: PARAM_TYPE_JSON_ARRAY, Candidates: []any{}}}, params)

	params = parseParams([]string{"not a spec"}, nil)
	assert.Equal([]Param{{Name: "arg0", Type: PARAM_TYPE_JSON, Candidates: []any{}}}, params)
}

func TestParseParamsKeyed(t *testing.T) {

	assert := assert.New(t)

	params := parseParams([]string{`{"uri":"string", "stIdx":"int", "flags":"weird*", "mode":"weird"}`}, nil)
	require.Len(t, params, 4)
	// device key order is kept
	assert.Equal("uri", params[0].Name)
	assert.Equal("stIdx", params[1].Name)
	assert.Equal("int", params[1].Type)
	assert.Equal("string*", params[2].Type)
	assert.Equal(PARAM_TYPE_JSON, params[3].Type)

	params = parseParams([]string{`{"flip":"string"}`}, rawList(`{"candidate":["Off","On"]}`))
	assert.Equal([]Param{{Name: "flip", Type: "string", Candidates: []any{"Off", "On"}}}, params)
}

func TestParseParamsNested(t *testing.T) {

	assert := assert.New(t)

	params := parseParams([]string{`{"trackingFocus":{"mode":"string"}}`}, nil)
	assert.Equal([]Param{{Name: "arg0", Type: PARAM_TYPE_JSON, Candidates: []any{}}}, params)

	params = parseParams([]string{`{"trackingFocus":{"mode":"string"}, "x":"int"}`}, rawList(`{"candidate":[1]}`))
	require.Len(t, params, 2)
	assert.Equal("trackingFocus", params[0].Name)
	assert.Equal(PARAM_TYPE_JSON, params[0].Type)
	assert.Equal("int", params[1].Type)
}

func TestExposureCompensationParams(t *testing.T) {

	assert := assert.New(t)

	params := exposureCompensationParams(rawList(`[6]`, `[-6]`, `[3]`))
	assert.Equal([]Param{{Name: "EV", Type: "int", Candidates: []any{-6, -3, 0, 3, 6}}}, params)

	// union of two ranges, a zero step contributes nothing
	params = exposureCompensationParams(rawList(`[2,9]`, `[-2,9]`, `[2,0]`))
	assert.Equal([]any{-2, 0, 2}, params[0].Candidates)

	params = exposureCompensationParams(nil)
	assert.Equal([]any{}, params[0].Candidates)
}

func TestIntRangeBounded(t *testing.T) {

	assert := assert.New(t)

	assert.Equal([]int{1, 3, 5}, intRange(1, 5, 2))
	assert.Nil(intRange(5, 1, 1))
	assert.Nil(intRange(1, 5, 0))
	assert.Len(intRange(-1000000000, 1000000000, 1), maxRangeValues)
	assert.Equal([]int{math.MaxInt - 1}, intRange(math.MaxInt-1, math.MaxInt, 5))

	// a malformed firmware range stays bounded
	params := exposureCompensationParams(rawList(`[1000000000]`, `[-1000000000]`, `[1]`))
	assert.Len(params[0].Candidates, maxRangeValues)
}

func TestWhiteBalanceParams(t *testing.T) {

	assert := assert.New(t)

	params := whiteBalanceParams(rawList(`[{"whiteBalanceMode":"Daylight","colorTemperatureRange":[]},{"whiteBalanceMode":"Auto WB","colorTemperatureRange":[]},{"whiteBalanceMode":"Color Temperature","colorTemperatureRange":[3000,2500,250]}]`))
	require.Len(t, params, 3)
	assert.Equal(Param{Name: "WhiteBalanceMode", Type: "string", Candidates: []any{"Daylight", "Auto WB", "Color Temperature"}}, params[0])
	assert.Equal(Param{Name: "ColorTempEnable", Type: "bool", Candidates: []any{}}, params[1])
	assert.Equal(Param{Name: "ColorTemp", Type: "int", Candidates: []any{2500, 2750, 3000}}, params[2])
}

func TestStillSizeParams(t *testing.T) {

	params := stillSizeParams(rawList(`[{"aspect":"4:3","size":"20M"},{"aspect":"16:9","size":"17M"},{"aspect":"4:3","size":"5M"}]`))
	assert.Equal(t, []Param{
		{Name: "aspect", Type: "string", Candidates: []any{"16:9", "4:3"}},
		{Name: "size", Type: "string", Candidates: []any{"17M", "20M", "5M"}},
	}, params)
}

func TestBuildMethodSpec(t *testing.T) {

	assert := assert.New(t)

	spec := buildMethodSpec(methodType{Name: "setShootMode", Params: []string{"string"}, Version: "1.0"}, rawList(`["still"]`))
	assert.Equal(SHAPE_POSITIONAL, spec.Shape)
	assert.Equal(ACCESS_WRITE, spec.Access)
	assert.Equal([]any{"still"}, spec.Params[0].Candidates)

	spec = buildMethodSpec(methodType{Name: "getEvent", Params: []string{"bool"}, Version: "1.0"}, nil)
	assert.True(spec.IsRead())

	spec = buildMethodSpec(methodType{Name: "getVersions", Version: "1.0"}, nil)
	assert.Equal(SHAPE_EMPTY, spec.Shape)
	assert.Equal([]Param{}, spec.Params)

	spec = buildMethodSpec(methodType{Name: "setCurrentTime", Params: []string{`{"dateTime":"string"}`}, Version: "1.0"}, nil)
	assert.Equal(SHAPE_KEYED, spec.Shape)

	spec = buildMethodSpec(methodType{Name: "setExposureCompensation", Params: []string{"int"}, Version: "1.0"}, rawList(`[3]`, `[-3]`, `[3]`))
	assert.Equal("EV", spec.Params[0].Name)
}

func TestSupportedMethod(t *testing.T) {

	assert := assert.New(t)

	name, ok := supportedMethod("setShootMode")
	assert.True(ok)
	assert.Equal("getSupportedShootMode", name)

	_, ok = supportedMethod("actZoom")
	assert.False(ok)
	_, ok = supportedMethod("set")
	assert.False(ok)
}

func TestClassify(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(ACCESS_READ, Classify("getEvent"))
	assert.Equal(ACCESS_READ, Classify("getAvailableShootMode"))
	assert.Equal(ACCESS_READ, Classify("shootModeCandidates"))
	assert.Equal(ACCESS_WRITE, Classify("setShootMode"))
	assert.Equal(ACCESS_WRITE, Classify("actTakePicture"))
	assert.Equal(ACCESS_WRITE, Classify("startLiveview"))
	// prefix must start a word
	assert.Equal(ACCESS_WRITE, Classify("getaway"))
	assert.Equal(ACCESS_WRITE, Classify("get"))
}
