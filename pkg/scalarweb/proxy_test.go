package scalarweb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProxy(t *testing.T, dev *TestDevice) *Proxy {
	resolver := newTestResolver(false)
	schema, _, err := resolver.Resolve(context.Background(), dev.Location())
	require.NoError(t, err)
	return NewProxy(schema, NewClient(nil, zap.NewNop(), nil))
}

func TestProxyInvoke(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()
	proxy := newTestProxy(t, dev)

	_, err := proxy.Invoke(context.Background(), "camera", "setShootMode", Positional("movie"))
	require.NoError(t, err)
	assert.Equal("movie", dev.ShootMode())

	res, err := proxy.Invoke(context.Background(), "camera", "getShootMode", NoArgs())
	require.NoError(t, err)
	var mode string
	require.NoError(t, res.Value(0, &mode))
	assert.Equal("movie", mode)
}

func TestProxyRejectsWithoutNetwork(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()
	proxy := newTestProxy(t, dev)
	before := dev.TotalCalls()

	_, err := proxy.Invoke(context.Background(), "camera", "setNothing", Positional(1))
	assert.ErrorIs(err, ErrUnknownMethod)

	_, err = proxy.Invoke(context.Background(), "lens", "getEvent", NoArgs())
	assert.ErrorIs(err, ErrUnknownEndpoint)

	_, err = proxy.Invoke(context.Background(), "camera", "setShootMode", Positional(1))
	assert.ErrorIs(err, ErrInvalidArguments)

	assert.Equal(before, dev.TotalCalls())
}

func TestProxyKeyed(t *testing.T) {

	dev := NewTestDevice()
	defer dev.Close()
	proxy := newTestProxy(t, dev)

	_, err := proxy.Invoke(context.Background(), "system", "setCurrentTime", Keyed(map[string]any{
		"dateTime":             "2024-01-01T00:00:00Z",
		"timeZoneOffsetMinute": 60,
		"dstOffsetMinute":      0,
	}))
	require.NoError(t, err)

	calls := dev.CallLog()
	last := calls[len(calls)-1]
	assert.Equal(t, "setCurrentTime", last.Method)
	assert.JSONEq(t, `[{"dateTime":"2024-01-01T00:00:00Z","timeZoneOffsetMinute":60,"dstOffsetMinute":0}]`, string(last.Params))
}

func TestProxyDeviceError(t *testing.T) {

	dev := NewTestDevice()
	defer dev.Close()
	proxy := newTestProxy(t, dev)

	_, err := proxy.Invoke(context.Background(), "camera", "setShootMode", Positional("movie"))
	require.NoError(t, err)

	_, err = proxy.Invoke(context.Background(), "camera", "actTakePicture", NoArgs())
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ERROR_CODE_NOT_AVAILABLE_NOW, perr.Code)
}

func TestBoundCallKey(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()
	proxy := newTestProxy(t, dev)

	call, err := proxy.Bind("camera", "getEvent", Positional(false))
	require.NoError(t, err)
	assert.Equal("camera.getEvent@1.0[false]", call.Key())

	other, err := proxy.Bind("camera", "getEvent", Positional(true))
	require.NoError(t, err)
	assert.NotEqual(call.Key(), other.Key())

	a, err := proxy.Bind("system", "setCurrentTime", Keyed(map[string]any{"dateTime": "x", "dstOffsetMinute": 0}))
	require.NoError(t, err)
	b, err := proxy.Bind("system", "setCurrentTime", Keyed(map[string]any{"dstOffsetMinute": 0, "dateTime": "x"}))
	require.NoError(t, err)
	assert.Equal(a.Key(), b.Key())

	req := call.Request()
	assert.Equal("getEvent", req.Method)
	assert.Equal("1.0", req.Version)
	assert.Equal([]any{false}, req.Params)
}
