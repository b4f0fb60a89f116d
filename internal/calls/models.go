package calls

import "time"

// CallEvent is one call-log record as reported by the telephony provider.
//
// Invariants:
// - CorrelationKey (the provider session id) is stable across re-fetches of the same call.
// - Events are immutable once fetched.
//
// Provider wire fields are mapped into this shape by internal/telephony; nothing
// provider-specific should leak past that adapter.
type CallEvent struct {
	CorrelationKey string    `json:"correlation_key"`
	Direction      Direction `json:"direction"`
	Type           CallType  `json:"type"`

	From Party `json:"from"`
	To   Party `json:"to"`

	// Legs are ordered as reported by the provider.
	Legs []Leg `json:"legs,omitempty"`

	StartTime time.Time `json:"start_time"`
	// DurationSeconds is the billable call duration.
	DurationSeconds int `json:"duration_seconds"`
	// Result is the provider disposition code (e.g. "Accepted", "Missed").
	Result string `json:"result"`
}

// Party is one side of a call or leg.
type Party struct {
	PhoneNumber     string `json:"phone_number,omitempty"`
	Name            string `json:"name,omitempty"`
	ExtensionID     string `json:"extension_id,omitempty"`
	ExtensionNumber string `json:"extension_number,omitempty"`
	Location        string `json:"location,omitempty"`
}

// Leg is a segment of a call (transfer, queue hop, forward).
type Leg struct {
	From Party `json:"from"`
	To   Party `json:"to"`
}

type Direction string

const (
	DirectionInbound  Direction = "Inbound"
	DirectionOutbound Direction = "Outbound"
)

type CallType string

const (
	CallTypeVoice CallType = "Voice"
	CallTypeFax   CallType = "Fax"
)

// IsVoice reports whether the event is in scope for reconciliation.
func (c CallEvent) IsVoice() bool {
	return c.Type == CallTypeVoice
}

// EndTime is start + duration.
func (c CallEvent) EndTime() time.Time {
	return c.StartTime.Add(time.Duration(c.DurationSeconds) * time.Second)
}

// ExternalNumber is the phone number of the party outside the organization:
// the caller for inbound calls, the callee for outbound calls.
func (c CallEvent) ExternalNumber() string {
	if c.Direction == DirectionInbound {
		return c.From.PhoneNumber
	}
	return c.To.PhoneNumber
}
