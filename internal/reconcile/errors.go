package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"callsync/internal/auth"
	"callsync/internal/crm"
	"callsync/internal/telephony"
)

// FailureKind classifies why a pass (or one call) failed.
type FailureKind string

const (
	FailureAuth              FailureKind = "auth_failed"
	FailureSourceUnavailable FailureKind = "source_unavailable"
	FailureLookup            FailureKind = "lookup_failed"
	FailureWrite             FailureKind = "write_failed"
	FailureCursor            FailureKind = "cursor_unavailable"
	FailureLock              FailureKind = "lock_unavailable"
	FailureCancelled         FailureKind = "cancelled"
	FailureInternal          FailureKind = "internal"
)

// Kind maps an error from a collaborator onto the failure taxonomy.
func Kind(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, auth.ErrAuthFailed):
		return FailureAuth
	case errors.Is(err, telephony.ErrSourceUnavailable):
		return FailureSourceUnavailable
	case errors.Is(err, crm.ErrWriteFailed):
		return FailureWrite
	case errors.Is(err, crm.ErrLookupFailed):
		return FailureLookup
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	default:
		return FailureInternal
	}
}

// writeDetails renders CRM rejection details for the summary error list.
func writeDetails(err error) string {
	var werr *crm.WriteError
	if !errors.As(err, &werr) {
		return ""
	}
	if len(werr.Details) == 0 {
		return werr.Body
	}
	parts := make([]string, 0, len(werr.Details))
	for _, d := range werr.Details {
		p := fmt.Sprintf("%s: %s", d.ErrorCode, d.Message)
		if len(d.Fields) > 0 {
			p += " [" + strings.Join(d.Fields, ", ") + "]"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "; ")
}
