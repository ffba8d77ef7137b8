package scalarweb

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchDescription(t *testing.T) {

	assert := assert.New(t)

	dev := NewTestDevice()
	defer dev.Close()

	desc, err := FetchDescription(context.Background(), http.DefaultClient, dev.Location())
	require.NoError(t, err)

	assert.Equal(TEST_DEVICE_NAME, desc.FriendlyName)
	assert.Equal("Sony Corporation", desc.Manufacturer)
	assert.Equal("1.0", desc.APIVersion)
	assert.Equal("RemoteShooting", desc.DefaultFunction)
	assert.Equal(dev.Server.URL+"/liveview/liveviewstream", desc.LiveViewURL)
	require.Len(t, desc.Services, 4)
	assert.Equal(Service{Type: "guide", URL: dev.ActionListURL()}, desc.Services[0])
	assert.Equal("avContent", desc.Services[3].Type)
}

func TestFetchDescriptionNotFound(t *testing.T) {

	dev := NewTestDevice()
	defer dev.Close()

	_, err := FetchDescription(context.Background(), http.DefaultClient, dev.Server.URL+"/missing.xml")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusNotFound, perr.Code)
}

func TestFetchDescriptionUnreachable(t *testing.T) {

	dev := NewTestDevice()
	location := dev.Location()
	dev.Close()

	_, err := FetchDescription(context.Background(), http.DefaultClient, location)
	assert.ErrorIs(t, err, ErrDeviceUnreachable)
}

func TestParseDescriptionInvalid(t *testing.T) {
	_, err := ParseDescription([]byte("<root><device>"))
	assert.Error(t, err)
}

func TestEndpointURL(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("http://10.0.0.1:10000/sony/camera", EndpointURL("http://10.0.0.1:10000/sony", "camera"))
	assert.Equal("http://10.0.0.1:10000/sony/camera", EndpointURL("http://10.0.0.1:10000/sony/", "camera"))
}

func TestMostCommonURL(t *testing.T) {

	assert := assert.New(t)

	desc := &Description{Services: []Service{
		{Type: "guide", URL: "http://a/sony"},
		{Type: "camera", URL: "http://b/sony"},
		{Type: "system", URL: "http://b/sony"},
	}}
	assert.Equal("http://b/sony", desc.mostCommonURL())

	// ties go to the first listed
	desc = &Description{Services: []Service{
		{Type: "guide", URL: "http://a/sony"},
		{Type: "camera", URL: "http://b/sony"},
	}}
	assert.Equal("http://a/sony", desc.mostCommonURL())

	assert.Equal("", (&Description{}).mostCommonURL())
}
