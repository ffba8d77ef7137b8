package scalarweb

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrDeviceUnreachable = errors.New("scalarweb: device unreachable")
	ErrUnknownEndpoint   = errors.New("scalarweb: unknown endpoint")
	ErrUnknownMethod     = errors.New("scalarweb: unknown method")
	ErrInvalidArguments  = errors.New("scalarweb: invalid arguments")
	ErrNoServices        = errors.New("scalarweb: description lists no ScalarWebAPI services")
)

// Device error codes. Codes above 1000 are vendor specific, HTTP failures
// are reported with their status code.
const (
	ERROR_CODE_ANY                   = 1
	ERROR_CODE_TIMEOUT               = 2
	ERROR_CODE_ILLEGAL_ARGUMENT      = 3
	ERROR_CODE_NO_SUCH_METHOD        = 12
	ERROR_CODE_UNSUPPORTED_VERSION   = 14
	ERROR_CODE_UNSUPPORTED_OPERATION = 15
	ERROR_CODE_MALFORMED_RESPONSE    = 504
	ERROR_CODE_NOT_AVAILABLE_NOW     = 40401
)

// TransportError is a call that never produced a device response. It
// matches ErrDeviceUnreachable.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("scalarweb: transport failure on %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrDeviceUnreachable, e.Err}
}

func (e *TransportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ProtocolError is a response whose error member is populated, or an HTTP
// answer that could not be decoded as an envelope.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("scalarweb: device error %d: %s", e.Code, e.Message)
}

func httpStatusError(status int) *ProtocolError {
	return &ProtocolError{Code: status, Message: http.StatusText(status)}
}

// SchemaResolutionError records an endpoint whose introspection failed.
type SchemaResolutionError struct {
	Endpoint string
	Err      error
}

func (e *SchemaResolutionError) Error() string {
	return fmt.Sprintf("scalarweb: resolve endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *SchemaResolutionError) Unwrap() error {
	return e.Err
}
