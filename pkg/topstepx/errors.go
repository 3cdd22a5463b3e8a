package topstepx

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrHistoricalData = errors.New("historical data failed")
	ErrAccountQuery   = errors.New("account search failed")
	ErrContractSearch = errors.New("contract search failed")
	ErrOrderPlacement = errors.New("order placement failed")
	ErrPositionQuery  = errors.New("position search failed")
)

// UnknownErrorCode is reported when the gateway rejected a request without
// an errorCode.
const UnknownErrorCode = -1

// GatewayError is a rejection reported by the gateway, or a failure to reach
// a decision about one. It matches its Kind and its cause with errors.Is and
// errors.As.
type GatewayError struct {
	Kind    error
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s (code: %d)", e.Kind, e.Message, e.Code)
}

func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// TransportError is a network, timeout or non-2xx failure from the adapter.
type TransportError struct {
	Method string
	Path   string
	Status int // 0 when no response was received
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
