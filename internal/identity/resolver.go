package identity

import (
	"context"
	"log/slog"
	"time"

	"callsync/internal/calls"
	"callsync/internal/crm"

	cache "github.com/patrickmn/go-cache"
)

// OwnerSource records how the owner of an activity was chosen.
type OwnerSource string

const (
	OwnerFromUser            OwnerSource = "user"
	OwnerIntegrationFallback OwnerSource = "integration_default"
)

// Resolved is the identity derived for one call. Never persisted.
type Resolved struct {
	WhoID      string
	WhatID     string
	RecordKind crm.RecordKind

	OwnerID     string
	OwnerSource OwnerSource
	// OwnerName is the acting-party name that was looked up, if any.
	OwnerName string

	Extension string
}

// Lookup is the subset of the CRM client the resolver needs.
type Lookup interface {
	FindPartyByPhone(ctx context.Context, kind crm.RecordKind, digits string) (crm.Party, bool, error)
	FindUserByName(ctx context.Context, name string) (string, bool, error)
}

// Resolver matches calls to CRM parties and owners.
//
// Rules:
// - Lookup failures are logged and treated as "not found".
// - OwnerID is always populated; the integration user is the fallback.
type Resolver struct {
	lookup     Lookup
	nameFilter calls.GenericNameFilter
	extFilter  calls.GenericNameFilter
	users      *cache.Cache
	log        *slog.Logger
}

// userMiss is cached for names that matched no user.
const userMiss = ""

func NewResolver(lookup Lookup, namePrefixes, extensionPrefixes []string, userTTL time.Duration, log *slog.Logger) *Resolver {
	if userTTL <= 0 {
		userTTL = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		lookup:     lookup,
		nameFilter: calls.NewGenericNameFilter(namePrefixes),
		extFilter:  calls.NewGenericNameFilter(extensionPrefixes),
		users:      cache.New(userTTL, 2*userTTL),
		log:        log,
	}
}

// Resolve never fails; fallbackOwner is the integration user id.
func (r *Resolver) Resolve(ctx context.Context, c calls.CallEvent, fallbackOwner string) Resolved {
	log := r.log.With("correlation_key", c.CorrelationKey)
	out := Resolved{}

	if digits := calls.NormalizePhone(c.ExternalNumber()); digits != "" {
		out.applyParty(r.findParty(ctx, log, digits))
	}

	if ext, ok := calls.ActingExtension(c, r.extFilter); ok {
		out.Extension = ext
	}

	if name, ok := calls.ActingPartyName(c, r.nameFilter); ok {
		out.OwnerName = name
		if id, found := r.findUser(ctx, log, name); found {
			out.OwnerID = id
			out.OwnerSource = OwnerFromUser
			return out
		}
		log.Info("no crm user for acting party, using integration user", "name", name)
	}

	out.OwnerID = fallbackOwner
	out.OwnerSource = OwnerIntegrationFallback
	return out
}

func (r *Resolver) findParty(ctx context.Context, log *slog.Logger, digits string) (crm.Party, bool) {
	for _, kind := range []crm.RecordKind{crm.KindContact, crm.KindLead} {
		p, ok, err := r.lookup.FindPartyByPhone(ctx, kind, digits)
		if err != nil {
			log.Warn("party lookup failed", "kind", kind, "error", err)
			continue
		}
		if ok {
			return p, true
		}
	}
	return crm.Party{}, false
}

func (r *Resolver) findUser(ctx context.Context, log *slog.Logger, name string) (string, bool) {
	if v, ok := r.users.Get(name); ok {
		id := v.(string)
		return id, id != userMiss
	}

	id, ok, err := r.lookup.FindUserByName(ctx, name)
	if err != nil {
		// Not cached: the next call retries.
		log.Warn("user lookup failed", "name", name, "error", err)
		return "", false
	}
	if !ok {
		id = userMiss
	}
	r.users.SetDefault(name, id)
	return id, ok
}

func (out *Resolved) applyParty(p crm.Party, ok bool) {
	if !ok {
		return
	}
	out.WhoID = p.ID
	out.RecordKind = p.Kind
	if p.Kind == crm.KindContact {
		out.WhatID = p.AccountID
	}
}
