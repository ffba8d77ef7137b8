package scalarweb

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"time"
)

const TEST_DEVICE_NAME = "HDR-AS50"

// TestCall is one request seen by a TestDevice, with its start and end
// sequence numbers.
type TestCall struct {
	Endpoint string
	Method   string
	Params   json.RawMessage
	Start    int
	End      int
}

type testMethod struct {
	params    []string
	responses []string
	version   string
	handler   func(params json.RawMessage) (any, *ProtocolError)
}

// TestDevice is an in-process camera speaking the ScalarWebAPI over HTTP.
type TestDevice struct {
	Server *httptest.Server

	mu               sync.Mutex
	methods          map[string]map[string]testMethod
	noIntrospection  map[string]bool
	noGuideProtocols bool
	delay            time.Duration
	calls            []TestCall
	seq              int
	inFlight         int
	maxInFlight      int

	shootMode    string
	cameraStatus string
}

func NewTestDevice() *TestDevice {
	d := &TestDevice{
		noIntrospection: map[string]bool{},
		shootMode:       "still",
		cameraStatus:    "IDLE",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /dd.xml", d.serveDescription)
	mux.HandleFunc("POST /sony/{endpoint}", d.serveEndpoint)
	d.Server = httptest.NewServer(mux)

	d.mu.Lock()
	d.methods = map[string]map[string]testMethod{
		"guide":         d.guideMethods(),
		"system":        d.systemMethods(),
		"camera":        d.cameraMethods(),
		"avContent":     d.avContentMethods(),
		"accessControl": {},
	}
	d.mu.Unlock()
	return d
}

func (d *TestDevice) Close() {
	d.Server.Close()
}

func (d *TestDevice) Location() string {
	return d.Server.URL + "/dd.xml"
}

func (d *TestDevice) ActionListURL() string {
	return d.Server.URL + "/sony"
}

// SetDelay makes every endpoint call take at least the given time.
func (d *TestDevice) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// DisableIntrospection makes getMethodTypes fail on the endpoint.
func (d *TestDevice) DisableIntrospection(endpoint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noIntrospection[endpoint] = true
}

// DisableServiceProtocols makes guide.getServiceProtocols fail.
func (d *TestDevice) DisableServiceProtocols() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noGuideProtocols = true
}

func (d *TestDevice) Calls(endpoint, method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Endpoint == endpoint && c.Method == method {
			n++
		}
	}
	return n
}

func (d *TestDevice) TotalCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *TestDevice) CallLog() []TestCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]TestCall(nil), d.calls...)
}

func (d *TestDevice) MaxInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

func (d *TestDevice) ShootMode() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shootMode
}

func (d *TestDevice) serveDescription(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	fmt.Fprintf(w, testDescriptionXML, TEST_DEVICE_NAME, d.ActionListURL(), d.ActionListURL(), d.ActionListURL(), d.ActionListURL(), d.Server.URL)
}

func (d *TestDevice) serveEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	var req struct {
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		ID      int             `json:"id"`
		Version string          `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	d.seq++
	idx := len(d.calls)
	d.calls = append(d.calls, TestCall{Endpoint: endpoint, Method: req.Method, Params: req.Params, Start: d.seq})
	d.inFlight++
	d.maxInFlight = max(d.maxInFlight, d.inFlight)
	delay := d.delay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	raw, result, perr := d.dispatch(endpoint, req.Method, req.Params)

	d.mu.Lock()
	d.seq++
	d.calls[idx].End = d.seq
	d.inFlight--
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case raw != "":
		fmt.Fprint(w, raw)
	case perr != nil:
		json.NewEncoder(w).Encode(map[string]any{"error": []any{perr.Code, perr.Message}, "id": req.ID})
	default:
		json.NewEncoder(w).Encode(map[string]any{"result": result, "id": req.ID})
	}
}

func (d *TestDevice) dispatch(endpoint, method string, params json.RawMessage) (string, any, *ProtocolError) {
	d.mu.Lock()
	methods, ok := d.methods[endpoint]
	noIntrospection := d.noIntrospection[endpoint]
	noGuide := d.noGuideProtocols
	d.mu.Unlock()

	if !ok {
		return "", nil, &ProtocolError{Code: ERROR_CODE_NO_SUCH_METHOD, Message: "No Such Service"}
	}
	if method == "getMethodTypes" {
		if noIntrospection {
			return "", nil, &ProtocolError{Code: ERROR_CODE_NO_SUCH_METHOD, Message: "No Such Method"}
		}
		if endpoint == "accessControl" {
			return testAccessControlMethodTypes, nil, nil
		}
		return d.methodTypes(methods), nil, nil
	}
	if endpoint == "guide" && method == "getServiceProtocols" {
		if noGuide {
			return "", nil, &ProtocolError{Code: ERROR_CODE_NO_SUCH_METHOD, Message: "No Such Method"}
		}
		return testServiceProtocols, nil, nil
	}
	m, ok := methods[method]
	if !ok {
		return "", nil, &ProtocolError{Code: ERROR_CODE_NO_SUCH_METHOD, Message: "No Such Method"}
	}
	result, perr := m.handler(params)
	return "", result, perr
}

func (d *TestDevice) methodTypes(methods map[string]testMethod) string {
	rows := []any{[]any{"getMethodTypes", []string{"string"}, []string{"string*", "string*", "string*", "string"}, "1.0"}}
	for _, name := range sortedMethodNames(methods) {
		m := methods[name]
		rows = append(rows, []any{name, m.params, m.responses, m.version})
	}
	body, _ := json.Marshal(map[string]any{"results": rows, "id": 1})
	return string(body)
}

func sortedMethodNames(methods map[string]testMethod) []string {
	return slices.Sorted(maps.Keys(methods))
}

func fixed(result ...any) func(json.RawMessage) (any, *ProtocolError) {
	if result == nil {
		result = []any{}
	}
	return func(json.RawMessage) (any, *ProtocolError) {
		return result, nil
	}
}

func (d *TestDevice) guideMethods() map[string]testMethod {
	return map[string]testMethod{
		"getServiceProtocols": {responses: []string{"string", "string*"}, version: "1.0", handler: fixed()},
		"getVersions":         {responses: []string{"string*"}, version: "1.0", handler: fixed([]string{"1.0"})},
	}
}

func (d *TestDevice) systemMethods() map[string]testMethod {
	return map[string]testMethod{
		"getVersions":          {responses: []string{"string*"}, version: "1.0", handler: fixed([]string{"1.0"})},
		"setCurrentTime":       {params: []string{"{\"dateTime\":\"string\", \"timeZoneOffsetMinute\":\"int\", \"dstOffsetMinute\":\"int\"}"}, version: "1.0", handler: fixed()},
		"getSystemInformation": {responses: []string{"{\"product\":\"string\", \"modelName\":\"string\", \"version\":\"string\"}"}, version: "1.0", handler: fixed(map[string]any{"product": "ActionCam", "modelName": TEST_DEVICE_NAME, "version": "3.00"})},
	}
}

func (d *TestDevice) cameraMethods() map[string]testMethod {
	return map[string]testMethod{
		"getEvent": {
			params:    []string{"bool"},
			responses: []string{"{\"type\":\"string\"}*"},
			version:   "1.0",
			handler: func(json.RawMessage) (any, *ProtocolError) {
				d.mu.Lock()
				defer d.mu.Unlock()
				return d.eventLocked(), nil
			},
		},
		"getShootMode": {
			responses: []string{"string"},
			version:   "1.0",
			handler: func(json.RawMessage) (any, *ProtocolError) {
				d.mu.Lock()
				defer d.mu.Unlock()
				return []any{d.shootMode}, nil
			},
		},
		"setShootMode": {
			params:  []string{"string"},
			version: "1.0",
			handler: func(params json.RawMessage) (any, *ProtocolError) {
				var args []string
				if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
					return nil, &ProtocolError{Code: ERROR_CODE_ILLEGAL_ARGUMENT, Message: "Illegal Argument"}
				}
				d.mu.Lock()
				defer d.mu.Unlock()
				d.shootMode = args[0]
				return []any{0}, nil
			},
		},
		"getSupportedShootMode": {responses: []string{"string*"}, version: "1.0", handler: fixed([]string{"still", "movie", "looprec", "intervalstill"})},
		"getAvailableShootMode": {responses: []string{"string", "string*"}, version: "1.0", handler: fixed("still", []string{"still", "movie", "looprec", "intervalstill"})},
		"actTakePicture": {
			responses: []string{"string*"},
			version:   "1.0",
			handler: func(json.RawMessage) (any, *ProtocolError) {
				d.mu.Lock()
				defer d.mu.Unlock()
				if d.shootMode != "still" {
					return nil, &ProtocolError{Code: ERROR_CODE_NOT_AVAILABLE_NOW, Message: "Not Available Now"}
				}
				return []any{[]string{d.Server.URL + "/postview/pict.jpg"}}, nil
			},
		},
		"actZoom":                          {params: []string{"string", "string"}, responses: []string{"int"}, version: "1.0", handler: fixed(0)},
		"setExposureCompensation":          {params: []string{"int"}, responses: []string{"int"}, version: "1.0", handler: fixed(0)},
		"getSupportedExposureCompensation": {responses: []string{"int*", "int*", "int*"}, version: "1.0", handler: fixed([]int{6}, []int{-6}, []int{3})},
		"setWhiteBalance":                  {params: []string{"string", "bool", "int"}, responses: []string{"int"}, version: "1.0", handler: fixed(0)},
		"getSupportedWhiteBalance":         {responses: []string{"{\"whiteBalanceMode\":\"string\", \"colorTemperatureRange\":\"int*\"}*"}, version: "1.0", handler: fixed([]any{map[string]any{"whiteBalanceMode": "Auto WB", "colorTemperatureRange": []int{}}, map[string]any{"whiteBalanceMode": "Color Temperature", "colorTemperatureRange": []int{3000, 2500, 100}}})},
		"setStillSize":                     {params: []string{"string", "string"}, responses: []string{"int"}, version: "1.0", handler: fixed(0)},
		"getSupportedStillSize":            {responses: []string{"{\"aspect\":\"string\", \"size\":\"string\"}*"}, version: "1.0", handler: fixed([]any{map[string]any{"aspect": "16:9", "size": "2M"}, map[string]any{"aspect": "4:3", "size": "12M"}, map[string]any{"aspect": "4:3", "size": "2M"}})},
		"setLiveviewFrameInfo":             {params: []string{"{\"frameInfo\":\"bool\"}"}, version: "1.0", handler: fixed()},
		"setFlipSetting":                   {params: []string{"{\"flip\":\"string\"}"}, version: "1.0", handler: fixed()},
		"getSupportedFlipSetting":          {responses: []string{"{\"candidate\":\"string*\"}"}, version: "1.0", handler: fixed(map[string]any{"candidate": []string{"Off", "On"}})},
		"startMovieRec":                    {responses: []string{"int"}, version: "1.0", handler: fixed(0)},
		"stopMovieRec":                     {responses: []string{"string"}, version: "1.0", handler: fixed("")},
		"startLiveview":                    {responses: []string{"string"}, version: "1.0", handler: fixed(d.Server.URL + "/liveview/liveviewstream")},
		"setTrackingFocus":                 {params: []string{"{\"trackingFocus\":{\"mode\":\"string\"}}"}, version: "1.0", handler: fixed()},
	}
}

func (d *TestDevice) avContentMethods() map[string]testMethod {
	return map[string]testMethod{
		"getSchemeList":       {responses: []string{"{\"scheme\":\"string\"}*"}, version: "1.0", handler: fixed([]any{map[string]any{"scheme": "storage"}})},
		"getSourceList":       {params: []string{"{\"scheme\":\"string\"}"}, responses: []string{"{\"source\":\"string\"}*"}, version: "1.0", handler: fixed([]any{map[string]any{"source": "storage:memoryCard1"}})},
		"getContentCount":     {params: []string{"{\"uri\":\"string\", \"target\":\"string\", \"view\":\"string\"}"}, responses: []string{"{\"count\":\"int\"}"}, version: "1.2", handler: fixed(map[string]any{"count": 0})},
		"deleteContent":       {params: []string{"{\"uri\":\"string*\"}"}, version: "1.1", handler: fixed()},
		"setStreamingContent": {params: []string{"{\"remotePlayType\":\"string\", \"uri\":\"string\"}"}, responses: []string{"{\"playbackUrl\":\"string\"}"}, version: "1.0", handler: fixed(map[string]any{"playbackUrl": ""})},
	}
}

func (d *TestDevice) eventLocked() []any {
	return []any{
		map[string]any{"type": "availableApiList", "names": []string{"getEvent", "setShootMode", "actTakePicture"}},
		map[string]any{"type": "cameraStatus", "cameraStatus": d.cameraStatus},
		map[string]any{"type": "zoomInformation", "zoomPosition": 0, "zoomNumberBox": 1, "zoomIndexCurrentBox": 0, "zoomPositionCurrentBox": 0},
		map[string]any{"type": "liveviewStatus", "liveviewStatus": true},
		nil,
		[]any{},
		nil,
		nil,
		nil,
		nil,
		[]any{map[string]any{"type": "storageInformation", "storageID": "Memory Card 1", "recordTarget": true, "numberOfRecordableImages": 1200, "recordableTime": 120}},
		nil,
		map[string]any{"type": "cameraFunction", "currentCameraFunction": "Remote Shooting", "cameraFunctionCandidates": []string{"Remote Shooting", "Contents Transfer"}},
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		map[string]any{"type": "shootMode", "currentShootMode": d.shootMode, "shootModeCandidates": []string{"still", "movie", "looprec", "intervalstill"}},
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		map[string]any{"type": "focusStatus", "focusStatus": "Not Focusing"},
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		[]any{map[string]any{"type": "batteryInfo", "batteryID": "1", "status": "active", "additionalStatus": "batteryNearEnd", "levelNumer": 1, "levelDenom": 4, "description": ""}},
	}
}

const testServiceProtocols = `{"results":[["camera",["xhrpost:jsonizer"]],["system",["xhrpost:jsonizer"]],["avContent",["xhrpost:jsonizer"]],["guide",["xhrpost:jsonizer"]],["accessControl",["xhrpost:jsonizer"]]],"id":1}`

// Firmware on this model emits an empty list element in the accessControl
// table.
const testAccessControlMethodTypes = `{"results":[["actEnableMethods",["{\"methods\":\"string\", \"developerName\":\"string\", \"developerID\":\"string\", \"sg\":\"string\"}"],["{\"dg\":\"string\"}"],"1.0"],,["getMethodTypes",["string"],["string","string*","string*","string"],"1.0"]],"id":1}`

const testDescriptionXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion>
    <major>1</major>
    <minor>0</minor>
  </specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:Basic:1</deviceType>
    <friendlyName>%s</friendlyName>
    <manufacturer>Sony Corporation</manufacturer>
    <manufacturerURL>http://www.sony.net/</manufacturerURL>
    <modelDescription>SonyDigitalMediaDevice</modelDescription>
    <modelName>SonyImagingDevice</modelName>
    <UDN>uuid:00000000-0005-0010-8000-10a5d0c7e1b2</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-sony-com:service:ScalarWebAPI:1</serviceType>
        <serviceId>urn:schemas-sony-com:serviceId:ScalarWebAPI</serviceId>
        <SCPDURL/>
        <controlURL/>
        <eventSubURL/>
      </service>
    </serviceList>
    <av:X_ScalarWebAPI_DeviceInfo xmlns:av="urn:schemas-sony-com:av">
      <av:X_ScalarWebAPI_Version>1.0</av:X_ScalarWebAPI_Version>
      <av:X_ScalarWebAPI_ServiceList>
        <av:X_ScalarWebAPI_Service>
          <av:X_ScalarWebAPI_ServiceType>guide</av:X_ScalarWebAPI_ServiceType>
          <av:X_ScalarWebAPI_ActionList_URL>%s</av:X_ScalarWebAPI_ActionList_URL>
          <av:X_ScalarWebAPI_AccessType/>
        </av:X_ScalarWebAPI_Service>
        <av:X_ScalarWebAPI_Service>
          <av:X_ScalarWebAPI_ServiceType>system</av:X_ScalarWebAPI_ServiceType>
          <av:X_ScalarWebAPI_ActionList_URL>%s</av:X_ScalarWebAPI_ActionList_URL>
          <av:X_ScalarWebAPI_AccessType/>
        </av:X_ScalarWebAPI_Service>
        <av:X_ScalarWebAPI_Service>
          <av:X_ScalarWebAPI_ServiceType>camera</av:X_ScalarWebAPI_ServiceType>
          <av:X_ScalarWebAPI_ActionList_URL>%s</av:X_ScalarWebAPI_ActionList_URL>
          <av:X_ScalarWebAPI_AccessType/>
        </av:X_ScalarWebAPI_Service>
        <av:X_ScalarWebAPI_Service>
          <av:X_ScalarWebAPI_ServiceType>avContent</av:X_ScalarWebAPI_ServiceType>
          <av:X_ScalarWebAPI_ActionList_URL>%s</av:X_ScalarWebAPI_ActionList_URL>
          <av:X_ScalarWebAPI_AccessType/>
        </av:X_ScalarWebAPI_Service>
      </av:X_ScalarWebAPI_ServiceList>
      <av:X_ScalarWebAPI_ImagingDevice>
        <av:X_ScalarWebAPI_LiveView_URL>%s/liveview/liveviewstream</av:X_ScalarWebAPI_LiveView_URL>
        <av:X_ScalarWebAPI_DefaultFunction>RemoteShooting</av:X_ScalarWebAPI_DefaultFunction>
      </av:X_ScalarWebAPI_ImagingDevice>
    </av:X_ScalarWebAPI_DeviceInfo>
  </device>
</root>
`
