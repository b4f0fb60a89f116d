package reconcile

import (
	"fmt"

	"callsync/internal/calls"
	"callsync/internal/crm"
	"callsync/internal/identity"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// BuildActivity maps a call and its resolved identity onto the Task payload.
func BuildActivity(c calls.CallEvent, id identity.Resolved) crm.ActivityRecord {
	start := c.StartTime.UTC()
	end := c.EndTime().UTC()

	// Inbound names the dialed number, outbound the calling line.
	counterpart := c.From.PhoneNumber
	if c.Direction == calls.DirectionInbound {
		counterpart = c.To.PhoneNumber
	}

	return crm.ActivityRecord{
		Subject:               fmt.Sprintf("%s to %s", c.Direction, counterpart),
		Status:                "Completed",
		ActivityDate:          start.Format("2006-01-02"),
		Priority:              "Normal",
		TaskSubtype:           "Call",
		CallType:              string(c.Direction),
		CallDurationInSeconds: c.DurationSeconds,
		CallDisposition:       c.Result,
		CallObject:            c.CorrelationKey,
		OwnerID:               id.OwnerID,

		CallStartTime:  start.Format(isoMillis),
		CallEndTime:    end.Format(isoMillis),
		CallUniqueID:   c.CorrelationKey,
		CallerName:     nullable(c.From.Name),
		CalleeName:     nullable(c.To.Name),
		CallerLocation: nullable(c.From.Location),
		CalleeLocation: nullable(c.To.Location),
		FromNumber:     c.From.PhoneNumber,
		ToNumber:       c.To.PhoneNumber,
		LoggingType:    "call",
		Extension:      nullable(id.Extension),

		WhoID:  id.WhoID,
		WhatID: id.WhatID,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
