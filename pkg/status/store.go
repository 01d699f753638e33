// Package status caches the canonical 2FA state for the current account and
// is the single shared resource read by every flow.
package status

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rentstack/twofa-gateway/pkg/authapi"
)

// Status is the cached per-account 2FA state.
//
// The reachable states satisfy Verified => Enabled => HasSecret; responses
// violating that are normalized downward on ingest. HasBackupCodes is
// independent of the chain.
type Status struct {
	Enabled        bool
	Verified       bool
	HasSecret      bool
	HasBackupCodes bool
}

// Freshness tags where the cached status last came from.
type Freshness int

const (
	// FreshnessUnknown means no data has arrived yet (or the store was reset).
	FreshnessUnknown Freshness = iota
	// FreshnessCached means the status was last written by a local optimistic
	// merge, not a server response.
	FreshnessCached
	// FreshnessCanonical means the status was last written by a successful
	// server fetch.
	FreshnessCanonical
)

// ErrKind classifies the last fetch failure for display purposes.
type ErrKind string

const (
	ErrKindNone         ErrKind = ""
	ErrKindNetwork      ErrKind = "network"
	ErrKindUnauthorized ErrKind = "unauthorized"
	ErrKindUnknown      ErrKind = "unknown"
)

// Patch is a partial status update; nil fields are left untouched.
type Patch struct {
	Enabled        *bool
	Verified       *bool
	HasSecret      *bool
	HasBackupCodes *bool
}

// FetchFunc retrieves the account's status from the auth service. The caller
// binds the session token when constructing the store.
type FetchFunc func(ctx context.Context) (authapi.TwoFactorStatus, error)

// Store caches the account's 2FA status. Safe for concurrent use; writes are
// last-write-wins, which is acceptable because status reads are idempotent.
type Store struct {
	mu        sync.Mutex
	fetch     FetchFunc
	current   Status
	freshness Freshness
	errKind   ErrKind
	lastErr   error
	observer  func(Status)
}

// Option configures a Store.
type Option func(*Store)

// WithObserver registers a callback invoked with the fresh status after
// every successful fetch. It is called without the store lock held.
func WithObserver(fn func(Status)) Option {
	return func(s *Store) {
		s.observer = fn
	}
}

// NewStore creates a status store backed by fetch.
func NewStore(fetch FetchFunc, opts ...Option) *Store {
	s := &Store{fetch: fetch}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch refreshes the status from the auth service. On failure the last-known
// fields are preserved, the error kind is recorded, and the error is returned
// for callers that care; nothing panics across this boundary.
func (s *Store) Fetch(ctx context.Context) (Status, error) {
	fetched, err := s.fetch(ctx)
	if err != nil {
		kind := classify(err)
		s.mu.Lock()
		s.errKind = kind
		s.lastErr = err
		last := s.current
		s.mu.Unlock()
		slog.Error("Failed to fetch 2FA status", "kind", kind, "err", err)
		return last, err
	}

	fresh := normalize(Status{
		Enabled:        fetched.Enabled,
		Verified:       fetched.Verified,
		HasSecret:      fetched.HasSecret,
		HasBackupCodes: fetched.HasBackupCodes,
	})

	s.mu.Lock()
	s.current = fresh
	s.freshness = FreshnessCanonical
	s.errKind = ErrKindNone
	s.lastErr = nil
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(fresh)
	}
	return fresh, nil
}

// Update applies a local optimistic merge, used by flows that already know a
// mutation's outcome before the next full refresh.
func (s *Store) Update(patch Patch) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.Verified != nil {
		next.Verified = *patch.Verified
	}
	if patch.HasSecret != nil {
		next.HasSecret = *patch.HasSecret
	}
	if patch.HasBackupCodes != nil {
		next.HasBackupCodes = *patch.HasBackupCodes
	}

	s.current = normalize(next)
	s.freshness = FreshnessCached
	return s.current
}

// Reset forces every field back to its disabled/unknown default, used on
// logout or after a hard disable.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Status{}
	s.freshness = FreshnessUnknown
	s.errKind = ErrKindNone
	s.lastErr = nil
}

// Current returns the cached status.
func (s *Store) Current() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Freshness reports whether the cached status is canonical or a local merge.
func (s *Store) Freshness() Freshness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freshness
}

// LastError returns the recorded fetch failure, if any.
func (s *Store) LastError() (ErrKind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errKind, s.lastErr
}

// normalize collapses impossible combinations downward so the invariant
// Verified => Enabled => HasSecret always holds for stored values.
func normalize(in Status) Status {
	out := in
	if !out.HasSecret {
		out.Enabled = false
	}
	if !out.Enabled {
		out.Verified = false
	}
	if out != in {
		slog.Warn("Normalized inconsistent 2FA status",
			"enabled", in.Enabled, "verified", in.Verified, "hasSecret", in.HasSecret)
	}
	return out
}

func classify(err error) ErrKind {
	switch {
	case errors.Is(err, authapi.ErrTransport):
		return ErrKindNetwork
	case errors.Is(err, authapi.ErrUnauthorized):
		return ErrKindUnauthorized
	default:
		return ErrKindUnknown
	}
}
