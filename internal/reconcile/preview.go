package reconcile

import (
	"context"
	"time"

	"callsync/internal/calls"
	"callsync/internal/identity"
	"callsync/internal/telephony"
)

const (
	previewWindow       = 24 * time.Hour
	DefaultPreviewLimit = 5
	MaxPreviewLimit     = 100
)

// PreviewItem shows how one recent call would be attributed.
type PreviewItem struct {
	CorrelationKey string `json:"correlation_key"`
	Direction      string `json:"direction"`
	Type           string `json:"type"`
	From           string `json:"from"`
	To             string `json:"to"`
	StartTime      string `json:"start_time"`
	LegsCount      int    `json:"legs_count"`

	FromExtensionNumber string `json:"from_extension_number,omitempty"`
	FromExtensionID     string `json:"from_extension_id,omitempty"`
	ToExtensionNumber   string `json:"to_extension_number,omitempty"`
	ToExtensionID       string `json:"to_extension_id,omitempty"`

	ActingParty string `json:"acting_party,omitempty"`
	Extension   string `json:"extension,omitempty"`

	OwnerID     string               `json:"owner_id"`
	OwnerSource identity.OwnerSource `json:"owner_source"`
	WhoID       string               `json:"who_id,omitempty"`
	WhatID      string               `json:"what_id,omitempty"`
	RecordKind  string               `json:"record_kind,omitempty"`

	// WouldSync is false for calls that are never written (non-voice).
	WouldSync bool `json:"would_sync"`
}

// Preview fetches the most recent calls from the last 24 hours and derives
// their attribution. It writes nothing and does not take the pass lock.
func (e *Engine) Preview(ctx context.Context, limit int) ([]PreviewItem, error) {
	switch {
	case limit <= 0:
		limit = DefaultPreviewLimit
	case limit > MaxPreviewLimit:
		limit = MaxPreviewLimit
	}

	owner, err := e.deps.CRM.IntegrationUserID(ctx)
	if err != nil {
		return nil, err
	}

	page, err := e.deps.Source.FetchCalls(ctx, telephony.FetchCallsRequest{
		Since:    e.now().Add(-previewWindow),
		PageSize: limit,
		Page:     1,
	})
	if err != nil {
		return nil, err
	}

	out := make([]PreviewItem, 0, len(page.Records))
	for _, c := range page.Records {
		id := e.deps.Resolver.Resolve(ctx, c, owner)
		out = append(out, previewItem(c, id))
	}
	return out, nil
}

func previewItem(c calls.CallEvent, id identity.Resolved) PreviewItem {
	return PreviewItem{
		CorrelationKey:      c.CorrelationKey,
		Direction:           string(c.Direction),
		Type:                string(c.Type),
		From:                firstNonEmpty(c.From.Name, c.From.PhoneNumber),
		To:                  firstNonEmpty(c.To.Name, c.To.PhoneNumber),
		StartTime:           c.StartTime.UTC().Format(isoMillis),
		LegsCount:           len(c.Legs),
		FromExtensionNumber: c.From.ExtensionNumber,
		FromExtensionID:     c.From.ExtensionID,
		ToExtensionNumber:   c.To.ExtensionNumber,
		ToExtensionID:       c.To.ExtensionID,
		ActingParty:         id.OwnerName,
		Extension:           id.Extension,
		OwnerID:             id.OwnerID,
		OwnerSource:         id.OwnerSource,
		WhoID:               id.WhoID,
		WhatID:              id.WhatID,
		RecordKind:          string(id.RecordKind),
		WouldSync:           c.IsVoice(),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
