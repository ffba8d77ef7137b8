package scalarweb

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestResolver(fastSetup bool) *Resolver {
	logger, _ := zap.NewDevelopment()
	return NewResolver(NewClient(nil, logger, nil), http.DefaultClient, fastSetup, logger)
}

func TestResolve(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()

	schema, desc, err := newTestResolver(false).Resolve(context.Background(), dev.Location())
	require.NoError(t, err)

	assert.Equal(TEST_DEVICE_NAME, desc.FriendlyName)
	assert.Equal(TEST_DEVICE_NAME, schema.FriendlyName)
	assert.Len(schema.Endpoints, 5)
	for _, name := range []string{"camera", "system", "avContent", "guide", "accessControl"} {
		require.Contains(t, schema.Endpoints, name)
		assert.False(schema.Endpoints[name].Degraded, name)
	}

	// not in the description, placed on the shared action list URL
	assert.Equal(dev.ActionListURL()+"/accessControl", schema.Endpoints["accessControl"].URL)
	assert.Contains(schema.Endpoints["accessControl"].Methods, "actEnableMethods")

	camera := schema.Endpoints["camera"]
	assert.Equal(dev.ActionListURL()+"/camera", camera.URL)

	shootMode := camera.Methods["setShootMode"]
	assert.Equal(ACCESS_WRITE, shootMode.Access)
	assert.Equal(SHAPE_POSITIONAL, shootMode.Shape)
	assert.Equal([]any{"still", "movie", "looprec", "intervalstill"}, shootMode.Params[0].Candidates)

	assert.Equal([]Param{{Name: "EV", Type: "int", Candidates: []any{-6, -3, 0, 3, 6}}}, camera.Methods["setExposureCompensation"].Params)

	wb := camera.Methods["setWhiteBalance"].Params
	require.Len(t, wb, 3)
	assert.Equal([]any{"Auto WB", "Color Temperature"}, wb[0].Candidates)
	assert.Equal([]any{2500, 2600, 2700, 2800, 2900, 3000}, wb[2].Candidates)

	assert.Equal([]any{"Off", "On"}, camera.Methods["setFlipSetting"].Params[0].Candidates)
	assert.Equal(PARAM_TYPE_JSON, camera.Methods["setTrackingFocus"].Params[0].Type)
	assert.True(camera.Methods["getEvent"].IsRead())

	count := schema.Endpoints["avContent"].Methods["getContentCount"]
	assert.Equal("1.2", count.Version)
	assert.Equal(SHAPE_KEYED, count.Shape)
	assert.Equal("string*", schema.Endpoints["avContent"].Methods["deleteContent"].Params[0].Type)

	assert.Equal(1, dev.Calls("camera", "getSupportedShootMode"))
}

func TestResolveDeterministic(t *testing.T) {

	dev := NewTestDevice()
	defer dev.Close()

	resolver := newTestResolver(false)
	first, _, err := resolver.Resolve(context.Background(), dev.Location())
	require.NoError(t, err)
	second, _, err := resolver.Resolve(context.Background(), dev.Location())
	require.NoError(t, err)

	a, err := first.MarshalIndent()
	require.NoError(t, err)
	b, err := second.MarshalIndent()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestResolveFastSetup(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()

	schema, _, err := newTestResolver(true).Resolve(context.Background(), dev.Location())
	require.NoError(t, err)

	assert.Equal(0, dev.Calls("camera", "getSupportedShootMode"))
	assert.Equal([]any{}, schema.Endpoints["camera"].Methods["setShootMode"].Params[0].Candidates)
	// special methods keep their shape without candidates
	assert.Equal("EV", schema.Endpoints["camera"].Methods["setExposureCompensation"].Params[0].Name)
}

func TestResolveDegradedEndpoint(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()
	dev.DisableIntrospection("avContent")

	schema, _, err := newTestResolver(true).Resolve(context.Background(), dev.Location())
	require.NoError(t, err)

	av := schema.Endpoints["avContent"]
	assert.True(av.Degraded)
	assert.Empty(av.Methods)
	assert.False(schema.Endpoints["camera"].Degraded)

	_, spec, err := schema.Lookup("avContent", "getSchemeList")
	require.NoError(t, err)
	assert.True(spec.Degraded)
	assert.Equal(ACCESS_READ, spec.Access)

	_, _, err = schema.Lookup("avContent", "")
	assert.ErrorIs(err, ErrUnknownMethod)
}

func TestResolveDefaultEndpoints(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()
	dev.DisableServiceProtocols()

	schema, _, err := newTestResolver(true).Resolve(context.Background(), dev.Location())
	require.NoError(t, err)

	assert.Len(schema.Endpoints, len(DEFAULT_ENDPOINTS))
	for _, name := range DEFAULT_ENDPOINTS {
		assert.Contains(schema.Endpoints, name)
	}
	assert.NotContains(schema.Endpoints, "accessControl")
}

func TestResolveUnreachable(t *testing.T) {

	dev := NewTestDevice()
	location := dev.Location()
	dev.Close()

	_, _, err := newTestResolver(true).Resolve(context.Background(), location)
	assert.ErrorIs(t, err, ErrDeviceUnreachable)
}

func TestResolveNoServices(t *testing.T) {
	_, err := newTestResolver(true).ResolveDescription(context.Background(), &Description{FriendlyName: "empty"})
	assert.ErrorIs(t, err, ErrNoServices)
}

func TestSchemaLookup(t *testing.T) {

	assert := assert.New(t)

	schema := &Schema{Endpoints: map[string]*Endpoint{
		"camera": {Name: "camera", Methods: map[string]MethodSpec{"getEvent": {Name: "getEvent"}}},
	}}

	ep, spec, err := schema.Lookup("camera", "getEvent")
	require.NoError(t, err)
	assert.Equal("camera", ep.Name)
	assert.Equal("getEvent", spec.Name)

	_, _, err = schema.Lookup("camera", "getNothing")
	assert.ErrorIs(err, ErrUnknownMethod)
	_, _, err = schema.Lookup("lens", "getEvent")
	assert.ErrorIs(err, ErrUnknownEndpoint)
}
