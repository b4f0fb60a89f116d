package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"callsync/internal/calls"
	"callsync/internal/config"
	"callsync/internal/crm"
)

type fakeLookup struct {
	contacts map[string]crm.Party
	leads    map[string]crm.Party
	users    map[string]string

	partyErr error
	userErr  error

	userCalls  int
	phoneCalls []string
}

func (f *fakeLookup) FindPartyByPhone(ctx context.Context, kind crm.RecordKind, digits string) (crm.Party, bool, error) {
	f.phoneCalls = append(f.phoneCalls, string(kind)+":"+digits)
	if f.partyErr != nil {
		return crm.Party{}, false, f.partyErr
	}
	src := f.contacts
	if kind == crm.KindLead {
		src = f.leads
	}
	p, ok := src[digits]
	return p, ok, nil
}

func (f *fakeLookup) FindUserByName(ctx context.Context, name string) (string, bool, error) {
	f.userCalls++
	if f.userErr != nil {
		return "", false, f.userErr
	}
	id, ok := f.users[name]
	return id, ok, nil
}

func newResolver(l Lookup) *Resolver {
	return NewResolver(l, config.DefaultNamePrefixes, config.DefaultExtensionPrefixes, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func inboundCall() calls.CallEvent {
	return calls.CallEvent{
		CorrelationKey: "S1",
		Direction:      calls.DirectionInbound,
		Type:           calls.CallTypeVoice,
		From:           calls.Party{PhoneNumber: "+1 (555) 123-4567", Name: "Jane Customer"},
		To:             calls.Party{PhoneNumber: "+15559876543", Name: "Customer Service"},
		Legs: []calls.Leg{
			{To: calls.Party{Name: "Customer Service Queue"}},
			{To: calls.Party{Name: "Alice Smith", ExtensionNumber: "101"}},
		},
	}
}

func TestResolve_ContactWithAccountAndUserOwner(t *testing.T) {
	l := &fakeLookup{
		contacts: map[string]crm.Party{"5551234567": {Kind: crm.KindContact, ID: "003C", AccountID: "001A"}},
		users:    map[string]string{"Alice Smith": "005ALICE"},
	}
	got := newResolver(l).Resolve(context.Background(), inboundCall(), "005XYZ")

	if got.WhoID != "003C" || got.WhatID != "001A" || got.RecordKind != crm.KindContact {
		t.Fatalf("unexpected party: %+v", got)
	}
	if got.OwnerID != "005ALICE" || got.OwnerSource != OwnerFromUser {
		t.Fatalf("unexpected owner: %+v", got)
	}
	if got.Extension != "101" {
		t.Fatalf("expected extension 101, got %q", got.Extension)
	}
	if len(l.phoneCalls) != 1 {
		t.Fatalf("lead lookup should be skipped after a contact hit: %v", l.phoneCalls)
	}
}

func TestResolve_LeadHasNoAccount(t *testing.T) {
	l := &fakeLookup{
		leads: map[string]crm.Party{"5551234567": {Kind: crm.KindLead, ID: "00QL"}},
	}
	got := newResolver(l).Resolve(context.Background(), inboundCall(), "005XYZ")
	if got.WhoID != "00QL" || got.WhatID != "" || got.RecordKind != crm.KindLead {
		t.Fatalf("unexpected party: %+v", got)
	}
}

func TestResolve_OutboundUsesCalleeNumberAndCallerName(t *testing.T) {
	l := &fakeLookup{
		contacts: map[string]crm.Party{"5550001111": {Kind: crm.KindContact, ID: "003C"}},
		users:    map[string]string{"Bob Rep": "005BOB"},
	}
	c := calls.CallEvent{
		CorrelationKey: "S2",
		Direction:      calls.DirectionOutbound,
		Type:           calls.CallTypeVoice,
		From:           calls.Party{PhoneNumber: "+15559876543", Name: "Bob Rep", ExtensionNumber: "202"},
		To:             calls.Party{PhoneNumber: "555-000-1111"},
	}
	got := newResolver(l).Resolve(context.Background(), c, "005XYZ")
	if got.WhoID != "003C" || got.OwnerID != "005BOB" || got.Extension != "202" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolve_OwnerFallbackToIntegrationUser(t *testing.T) {
	cases := []struct {
		name string
		call calls.CallEvent
		l    *fakeLookup
	}{
		{
			name: "no acting party",
			call: calls.CallEvent{Direction: calls.DirectionInbound, Type: calls.CallTypeVoice},
			l:    &fakeLookup{},
		},
		{
			name: "name matches no user",
			call: inboundCall(),
			l:    &fakeLookup{users: map[string]string{}},
		},
		{
			name: "user lookup fails",
			call: inboundCall(),
			l:    &fakeLookup{userErr: crm.ErrLookupFailed},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := newResolver(tc.l).Resolve(context.Background(), tc.call, "005XYZ")
			if got.OwnerID != "005XYZ" || got.OwnerSource != OwnerIntegrationFallback {
				t.Fatalf("expected integration fallback, got %+v", got)
			}
		})
	}
}

func TestResolve_PartyLookupFailureIsNotFatal(t *testing.T) {
	l := &fakeLookup{partyErr: errors.New("timeout"), users: map[string]string{"Alice Smith": "005ALICE"}}
	got := newResolver(l).Resolve(context.Background(), inboundCall(), "005XYZ")
	if got.WhoID != "" || got.OwnerID != "005ALICE" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if len(l.phoneCalls) != 2 {
		t.Fatalf("expected contact and lead attempts, got %v", l.phoneCalls)
	}
}

func TestResolve_CachesUserLookupsIncludingMisses(t *testing.T) {
	l := &fakeLookup{users: map[string]string{}}
	r := newResolver(l)
	for i := 0; i < 3; i++ {
		r.Resolve(context.Background(), inboundCall(), "005XYZ")
	}
	if l.userCalls != 1 {
		t.Fatalf("expected a single user lookup, got %d", l.userCalls)
	}
}

func TestResolve_DoesNotCacheLookupErrors(t *testing.T) {
	l := &fakeLookup{userErr: errors.New("boom")}
	r := newResolver(l)
	r.Resolve(context.Background(), inboundCall(), "005XYZ")
	r.Resolve(context.Background(), inboundCall(), "005XYZ")
	if l.userCalls != 2 {
		t.Fatalf("expected lookup retried after error, got %d", l.userCalls)
	}
}
