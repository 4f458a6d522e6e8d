package upstream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adshao/go-binance/v2/common"
)

// ErrMissingCredentials is returned by Signed when no API key pair is configured.
var ErrMissingCredentials = errors.New("binance api credentials are not configured")

// UpstreamError is a non-2xx answer from Binance. Status and Body are relayed
// to the caller unchanged.
type UpstreamError struct {
	Market Market
	Path   string
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	if apiErr, ok := e.APIError(); ok {
		return fmt.Sprintf("binance %s %s: status %d: code=%d msg=%s", e.Market, e.Path, e.Status, apiErr.Code, apiErr.Message)
	}
	return fmt.Sprintf("binance %s %s: status %d", e.Market, e.Path, e.Status)
}

// APIError decodes the standard {"code":..,"msg":..} error body.
func (e *UpstreamError) APIError() (*common.APIError, bool) {
	apiErr := new(common.APIError)
	if err := json.Unmarshal(e.Body, apiErr); err != nil || (apiErr.Code == 0 && apiErr.Message == "") {
		return nil, false
	}
	return apiErr, true
}

// Data returns the body as parsed JSON, or as a string when it is not JSON.
func (e *UpstreamError) Data() interface{} {
	if json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	return string(e.Body)
}

// TransportError covers failures that never produced a usable upstream
// answer: request construction, network errors, unreadable or non-JSON bodies.
type TransportError struct {
	Market Market
	Path   string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("binance %s %s: %s: %v", e.Market, e.Path, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
