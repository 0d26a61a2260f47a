package identity

import (
	"context"
	"log/slog"
	"sync"
)

// Owner is the account whose mentions are relevant. Either form may be
// unknown; both may be known at once.
type Owner struct {
	Phone   string `json:"phone,omitempty"`   // canonical phone digits
	Opaque  string `json:"opaque,omitempty"`  // canonical opaque base
	Display string `json:"display,omitempty"` // human-readable mention form
}

// Known reports whether any comparable form of the owner is set.
func (o Owner) Known() bool {
	return o.Phone != "" || o.Opaque != ""
}

// DisplayForm is what owner mention tokens are rewritten to.
func (o Owner) DisplayForm() string {
	switch {
	case o.Display != "":
		return o.Display
	case o.Phone != "":
		return o.Phone
	default:
		return o.Opaque
	}
}

// PhoneLookup maps an opaque base to a phone via the live session store.
type PhoneLookup func(ctx context.Context, opaque string) (string, error)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Owner     Owner             // statically configured owner forms
	Aliases   map[string]string // opaque base -> phone digits
	CrossForm bool              // allow alias bridging between schemes
	Logger    *slog.Logger
}

// Resolver holds the owner identity and matches referenced tokens against it.
type Resolver struct {
	mu        sync.RWMutex
	owner     Owner
	aliases   map[string]string
	crossForm bool
	lookup    PhoneLookup
	logger    *slog.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		aliases:   make(map[string]string, len(cfg.Aliases)),
		crossForm: cfg.CrossForm,
		logger:    cfg.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	for k, v := range cfg.Aliases {
		base, phone := CanonicalOpaque(k), CanonicalPhone(v)
		if base == "" || phone == "" {
			continue
		}
		r.aliases[base] = phone
	}
	r.SetOwner(cfg.Owner)
	return r
}

// SetLookup installs the live opaque->phone lookup.
func (r *Resolver) SetLookup(fn PhoneLookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookup = fn
}

// SetOwner fills owner forms that are still unknown. Forms already set are
// never overwritten. Returns true if anything changed.
func (r *Resolver) SetOwner(o Owner) bool {
	phone := CanonicalPhone(o.Phone)
	opaque := CanonicalOpaque(o.Opaque)

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	if r.owner.Phone == "" && phone != "" {
		r.owner.Phone = phone
		changed = true
	}
	if r.owner.Opaque == "" && opaque != "" {
		r.owner.Opaque = opaque
		changed = true
	}
	if r.owner.Display == "" && o.Display != "" {
		r.owner.Display = o.Display
		changed = true
	}
	if changed {
		r.logger.Info("owner identity updated",
			"phone", r.owner.Phone, "opaque", r.owner.Opaque, "display", r.owner.Display)
	}
	return changed
}

// Owner returns a snapshot of the owner identity.
func (r *Resolver) Owner() Owner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// IsOwnerReferenced reports whether any token in refs resolves to the owner.
// An unknown owner or an empty set never matches.
func (r *Resolver) IsOwnerReferenced(ctx context.Context, refs []string) bool {
	if len(refs) == 0 {
		return false
	}
	for _, ref := range refs {
		if r.MatchesOwner(ctx, ref) {
			return true
		}
	}
	return false
}

// MatchesOwner reports whether a single raw token resolves to the owner,
// checking the phone form and the opaque form independently.
func (r *Resolver) MatchesOwner(ctx context.Context, token string) bool {
	r.mu.RLock()
	owner, crossForm, lookup := r.owner, r.crossForm, r.lookup
	alias := ""
	if crossForm {
		alias = r.aliases[CanonicalOpaque(token)]
	}
	r.mu.RUnlock()

	if !owner.Known() || token == "" {
		return false
	}
	if owner.Phone != "" && CanonicalPhone(token) == owner.Phone {
		return true
	}
	if owner.Opaque != "" && CanonicalOpaque(token) == owner.Opaque {
		return true
	}
	if !crossForm || owner.Phone == "" || !IsOpaque(token) {
		return false
	}
	if alias != "" {
		return alias == owner.Phone
	}
	if lookup == nil {
		return false
	}
	phone, err := lookup(ctx, CanonicalOpaque(token))
	if err != nil {
		r.logger.Debug("opaque lookup failed", "token", token, "err", err)
		return false
	}
	return CanonicalPhone(phone) == owner.Phone
}
