package scalarweb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	REQUEST_ID_MAX = 0x7FFFFFFF

	DEFAULT_API_VERSION = "1.0"
)

// Caller performs one request against one endpoint. *Client is the wire
// implementation; sessions wrap it to serialize access to a device.
type Caller interface {
	Call(ctx context.Context, endpoint Endpoint, req Request) (*Result, error)
}

type Instrument struct {
	RecordCall func(endpoint, method string, elapsed time.Duration, err error)
}

type Client struct {
	http       *http.Client
	logger     *zap.Logger
	instrument *Instrument

	mu  sync.Mutex
	ids map[string]int
}

func NewClient(httpClient *http.Client, logger *zap.Logger, instrument *Instrument) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		http:       httpClient,
		logger:     logger,
		instrument: instrument,
		ids:        map[string]int{},
	}
}

// NextID returns the request id for the endpoint, wrapping back to 1 after
// REQUEST_ID_MAX.
func (c *Client) NextID(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[endpoint]
	if !ok {
		id = 1
	}
	c.ids[endpoint] = id%REQUEST_ID_MAX + 1
	return id
}

func (c *Client) Call(ctx context.Context, endpoint Endpoint, req Request) (*Result, error) {
	if req.ID == 0 {
		req.ID = c.NextID(endpoint.Name)
	}
	if req.Version == "" {
		req.Version = DEFAULT_API_VERSION
	}
	if req.Params == nil {
		req.Params = []any{}
	}

	start := time.Now()
	res, err := c.call(ctx, endpoint, req)
	if c.instrument != nil && c.instrument.RecordCall != nil {
		c.instrument.RecordCall(endpoint.Name, req.Method, time.Since(start), err)
	}
	return res, err
}

func (c *Client) call(ctx context.Context, endpoint Endpoint, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	c.logger.Debug("scalarweb: request", zap.String("url", endpoint.URL), zap.ByteString("body", body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{URL: endpoint.URL, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{URL: endpoint.URL, Err: err}
	}
	defer resp.Body.Close()

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: endpoint.URL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp.StatusCode)
	}
	if endpoint.Name == "accessControl" && req.Method == "getMethodTypes" {
		contents = fixDoubleCommas(contents)
	}
	c.logger.Debug("scalarweb: response", zap.String("url", endpoint.URL), zap.ByteString("body", contents))

	return decodeEnvelope(contents)
}
