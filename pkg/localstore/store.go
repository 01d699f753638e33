// Package localstore is the gateway's persisted client state: a small
// key-value store holding the authenticated user blob and the policy mirror
// flags. It is the Go counterpart of the browser's local storage.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known keys. The two policy keys are intentionally both kept: older
// frontend builds wrote admin.require2fa, and the mirror is read as the OR
// of the two.
const (
	KeyUser             = "user"
	KeyRequireTwoFactor = "twofactor.required"
	KeyLegacyRequire2FA = "admin.require2fa"
)

// ErrNoUser indicates no user blob is present; the caller must treat this as
// an authentication precondition failure, not a transient error.
var ErrNoUser = errors.New("no user in local store")

// Store is a string key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// StoredUser is the persisted shape of the authenticated user blob.
type StoredUser struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

// CurrentUser reads and decodes the user blob. A missing blob, an
// undecodable blob or a blob without an id all resolve to ErrNoUser: every
// one of them means the pre-2FA login context is gone.
func CurrentUser(ctx context.Context, store Store) (StoredUser, error) {
	raw, ok, err := store.Get(ctx, KeyUser)
	if err != nil {
		return StoredUser{}, fmt.Errorf("failed to read user: %w", err)
	}
	if !ok {
		return StoredUser{}, ErrNoUser
	}

	var user StoredUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return StoredUser{}, fmt.Errorf("%w: corrupt user blob", ErrNoUser)
	}
	if user.ID == "" {
		return StoredUser{}, fmt.Errorf("%w: user blob has no id", ErrNoUser)
	}
	return user, nil
}

// SaveUser persists the user blob.
func SaveUser(ctx context.Context, store Store, user StoredUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return store.Set(ctx, KeyUser, string(data))
}

// Truthy reports whether a stored flag value means true.
func Truthy(value string) bool {
	return value == "true" || value == "1"
}
