package scalarweb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEndpoint(dev *TestDevice, name string) Endpoint {
	return Endpoint{Name: name, URL: EndpointURL(dev.ActionListURL(), name)}
}

func TestClientCall(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()

	client := NewClient(nil, zap.NewNop(), nil)
	res, err := client.Call(context.Background(), testEndpoint(dev, "camera"), Request{Method: "getShootMode"})
	require.NoError(t, err)

	var mode string
	require.NoError(t, res.Value(0, &mode))
	assert.Equal("still", mode)
	assert.Equal(1, res.ID)

	calls := dev.CallLog()
	require.Len(t, calls, 1)
	// params is sent as a list even when empty
	assert.JSONEq("[]", string(calls[0].Params))
}

func TestClientProtocolError(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()

	client := NewClient(nil, zap.NewNop(), nil)
	_, err := client.Call(context.Background(), testEndpoint(dev, "camera"), Request{Method: "setShootMode", Params: []any{"movie"}})
	require.NoError(t, err)

	_, err = client.Call(context.Background(), testEndpoint(dev, "camera"), Request{Method: "actTakePicture"})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(ERROR_CODE_NOT_AVAILABLE_NOW, perr.Code)
	assert.Equal("Not Available Now", perr.Message)
	assert.NotErrorIs(err, ErrDeviceUnreachable)
}

func TestClientHTTPStatus(t *testing.T) {

	dev := NewTestDevice()
	defer dev.Close()

	client := NewClient(nil, zap.NewNop(), nil)
	_, err := client.Call(context.Background(), Endpoint{Name: "camera", URL: dev.Server.URL + "/nowhere"}, Request{Method: "getEvent"})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusNotFound, perr.Code)
	assert.Equal(t, "Not Found", perr.Message)
}

func TestClientMalformedBody(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	client := NewClient(nil, zap.NewNop(), nil)
	_, err := client.Call(context.Background(), Endpoint{Name: "camera", URL: srv.URL}, Request{Method: "getEvent"})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ERROR_CODE_MALFORMED_RESPONSE, perr.Code)
}

func TestClientUnreachable(t *testing.T) {

	dev := NewTestDevice()
	ep := testEndpoint(dev, "camera")
	dev.Close()

	var recorded error
	instrument := &Instrument{RecordCall: func(endpoint, method string, elapsed time.Duration, err error) {
		recorded = err
	}}
	client := NewClient(nil, zap.NewNop(), instrument)
	_, err := client.Call(context.Background(), ep, Request{Method: "getEvent"})

	assert.ErrorIs(t, err, ErrDeviceUnreachable)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ep.URL, terr.URL)
	assert.Equal(t, err, recorded)
}

func TestClientAccessControlFix(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()

	client := NewClient(nil, zap.NewNop(), nil)
	res, err := client.Call(context.Background(), testEndpoint(dev, "accessControl"), Request{Method: "getMethodTypes", Params: []any{""}})
	require.NoError(t, err)

	types, err := parseMethodTypes(res)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal("actEnableMethods", types[0].Name)
	assert.Equal("getMethodTypes", types[1].Name)
}

func TestNextIDWraps(t *testing.T) {

	assert := assert.New(t)

	client := NewClient(nil, zap.NewNop(), nil)
	assert.Equal(1, client.NextID("camera"))
	assert.Equal(2, client.NextID("camera"))
	// ids are kept per endpoint
	assert.Equal(1, client.NextID("system"))

	client.ids["camera"] = REQUEST_ID_MAX
	assert.Equal(REQUEST_ID_MAX, client.NextID("camera"))
	assert.Equal(1, client.NextID("camera"))
}

func TestDecodeEnvelope(t *testing.T) {

	assert := assert.New(t)

	res, err := decodeEnvelope([]byte(`{"result":[true,"x"],"id":7}`))
	require.NoError(t, err)
	assert.Equal(7, res.ID)
	var ok bool
	require.NoError(t, res.Value(0, &ok))
	assert.True(ok)
	assert.Error(res.Value(2, &ok))

	_, err = decodeEnvelope([]byte(`{"error":[12,"No Such Method"],"id":7}`))
	assert.Equal(&ProtocolError{Code: ERROR_CODE_NO_SUCH_METHOD, Message: "No Such Method"}, err)

	res, err = decodeEnvelope([]byte(`{"results":[["a",1],["b",2]],"id":1}`))
	require.NoError(t, err)
	rows, err := res.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var name string
	require.NoError(t, json.Unmarshal(rows[1][0], &name))
	assert.Equal("b", name)
}

func TestFixDoubleCommas(t *testing.T) {
	assert.Equal(t, `[1,2,3]`, string(fixDoubleCommas([]byte(`[1,,2,,,3]`))))
}
