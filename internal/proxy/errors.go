package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// MaxBufferedResponse bounds non-streaming upstream bodies (10 MiB).
const MaxBufferedResponse = 10 << 20

var (
	// ErrProxyDisabled is returned for services not marked as proxied.
	ErrProxyDisabled = errors.New("proxying is disabled for this service")

	// ErrInvalidTargetURL is returned when a target override is malformed or
	// points away from the service origin.
	ErrInvalidTargetURL = errors.New("invalid target url")

	// ErrInvalidRequest is returned when a JSON-RPC request lacks a method.
	ErrInvalidRequest = errors.New("invalid JSON-RPC request")

	// ErrResponseTooLarge is returned when a buffered upstream body exceeds MaxBufferedResponse.
	ErrResponseTooLarge = errors.New("upstream response too large")

	// ErrStream marks a failure while relaying an upstream stream.
	ErrStream = errors.New("upstream stream failed")
)

// UpstreamHTTPError is returned when the upstream answers with a non-2xx status.
type UpstreamHTTPError struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("upstream returned %s", e.Status)
}
