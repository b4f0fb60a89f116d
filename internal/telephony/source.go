package telephony

import (
	"context"
	"errors"
	"time"

	"callsync/internal/calls"
)

// ErrSourceUnavailable is returned when the call log cannot be read
// (transport failure, timeout, non-2xx, malformed body).
var ErrSourceUnavailable = errors.New("telephony: call source unavailable")

// CallSource reads completed calls from the telephony provider's call log.
//
// Rules:
// - No provider wire types escape the adapter; callers see calls.CallEvent only.
// - One call to FetchCalls is one bounded HTTP request.
type CallSource interface {
	FetchCalls(ctx context.Context, req FetchCallsRequest) (CallPage, error)
}

type FetchCallsRequest struct {
	// Since is the inclusive lower bound on call start time.
	Since time.Time
	// Until is the upper bound on call start time; zero means "up to now".
	Until time.Time
	// PageSize is the provider page size (records per request).
	PageSize int
	// Page is 1-based.
	Page int
}

// CallPage is one page of the call log in provider order (newest first).
type CallPage struct {
	Records []calls.CallEvent
	HasNext bool

	// Invalid counts provider records dropped because they could not be mapped
	// (missing session id or start time).
	Invalid int
}
