// Package policy holds the process-wide "require two-factor for admins"
// flag. The flag has two sources: the admin settings service and a local
// mirror persisted in the local store, kept so a toggle takes effect
// immediately without waiting for a settings refetch. The effective value is
// the OR of the two sources.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rentstack/twofa-gateway/pkg/localstore"
)

// Store is the process-wide policy flag with a publish/subscribe channel.
type Store struct {
	mu       sync.Mutex
	local    localstore.Store
	settings bool // last value from the settings service
	mirror   bool // OR of the persisted mirror keys
	subs     map[int]func(bool)
	nextSub  int
}

// NewStore creates a policy store persisting its mirror in local.
func NewStore(local localstore.Store) *Store {
	return &Store{
		local: local,
		subs:  make(map[int]func(bool)),
	}
}

// Load seeds the mirror from the persisted keys. Called once at startup,
// before any settings refresh has completed.
func (s *Store) Load(ctx context.Context) error {
	current, legacy, err := s.readMirror(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.mirror = current || legacy
	s.mu.Unlock()
	return nil
}

// ApplySettings records a fresh value from the settings service and syncs
// the persisted mirror to it. Subscribers observe any change to the
// effective value.
func (s *Store) ApplySettings(ctx context.Context, required bool) error {
	if err := s.writeMirror(ctx, required); err != nil {
		return err
	}

	s.mu.Lock()
	before := s.effectiveLocked()
	s.settings = required
	s.mirror = required
	after := s.effectiveLocked()
	subs := s.snapshotSubs()
	s.mu.Unlock()

	if before != after {
		notify(subs, after)
	}
	return nil
}

// SetRequired flips the flag locally, ahead of the next settings round trip.
// The mirror is persisted under both keys so older readers see it too.
func (s *Store) SetRequired(ctx context.Context, required bool) error {
	if err := s.writeMirror(ctx, required); err != nil {
		return err
	}

	s.mu.Lock()
	before := s.effectiveLocked()
	s.mirror = required
	after := s.effectiveLocked()
	subs := s.snapshotSubs()
	s.mu.Unlock()

	if before != after {
		notify(subs, after)
	}
	return nil
}

// Required returns the effective flag value: settings OR mirror.
func (s *Store) Required() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked()
}

// Subscribe registers fn to be called whenever the effective value changes.
// The returned function unsubscribes.
func (s *Store) Subscribe(fn func(required bool)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) effectiveLocked() bool {
	return s.settings || s.mirror
}

func (s *Store) snapshotSubs() []func(bool) {
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Store) readMirror(ctx context.Context) (current, legacy bool, err error) {
	currentRaw, _, err := s.local.Get(ctx, localstore.KeyRequireTwoFactor)
	if err != nil {
		return false, false, fmt.Errorf("failed to read policy mirror: %w", err)
	}
	legacyRaw, _, err := s.local.Get(ctx, localstore.KeyLegacyRequire2FA)
	if err != nil {
		return false, false, fmt.Errorf("failed to read legacy policy mirror: %w", err)
	}
	return localstore.Truthy(currentRaw), localstore.Truthy(legacyRaw), nil
}

func (s *Store) writeMirror(ctx context.Context, required bool) error {
	value := "false"
	if required {
		value = "true"
	}
	if err := s.local.Set(ctx, localstore.KeyRequireTwoFactor, value); err != nil {
		return fmt.Errorf("failed to persist policy mirror: %w", err)
	}
	if err := s.local.Set(ctx, localstore.KeyLegacyRequire2FA, value); err != nil {
		return fmt.Errorf("failed to persist legacy policy mirror: %w", err)
	}
	return nil
}

func notify(subs []func(bool), required bool) {
	slog.Info("Two-factor enforcement policy changed", "required", required)
	for _, fn := range subs {
		fn(required)
	}
}
