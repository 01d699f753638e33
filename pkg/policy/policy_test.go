package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentstack/twofa-gateway/pkg/localstore"
	"github.com/rentstack/twofa-gateway/pkg/policy"
)

func newFileStore(t *testing.T) localstore.Store {
	store, err := localstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStore_LoadFromMirror(t *testing.T) {
	ctx := context.Background()

	t.Run("current key", func(t *testing.T) {
		local := newFileStore(t)
		require.NoError(t, local.Set(ctx, localstore.KeyRequireTwoFactor, "true"))

		store := policy.NewStore(local)
		require.NoError(t, store.Load(ctx))
		assert.True(t, store.Required())
	})

	t.Run("legacy key alone still counts", func(t *testing.T) {
		local := newFileStore(t)
		require.NoError(t, local.Set(ctx, localstore.KeyLegacyRequire2FA, "1"))

		store := policy.NewStore(local)
		require.NoError(t, store.Load(ctx))
		assert.True(t, store.Required())
	})

	t.Run("neither key", func(t *testing.T) {
		store := policy.NewStore(newFileStore(t))
		require.NoError(t, store.Load(ctx))
		assert.False(t, store.Required())
	})
}

func TestStore_SetRequiredPersistsBothKeys(t *testing.T) {
	ctx := context.Background()
	local := newFileStore(t)
	store := policy.NewStore(local)

	require.NoError(t, store.SetRequired(ctx, true))
	assert.True(t, store.Required())

	current, _, err := local.Get(ctx, localstore.KeyRequireTwoFactor)
	require.NoError(t, err)
	legacy, _, err := local.Get(ctx, localstore.KeyLegacyRequire2FA)
	require.NoError(t, err)
	assert.Equal(t, "true", current)
	assert.Equal(t, "true", legacy)

	// A fresh store sees the persisted value.
	reloaded := policy.NewStore(local)
	require.NoError(t, reloaded.Load(ctx))
	assert.True(t, reloaded.Required())
}

func TestStore_EffectiveIsOrOfSources(t *testing.T) {
	ctx := context.Background()
	store := policy.NewStore(newFileStore(t))

	require.NoError(t, store.ApplySettings(ctx, true))
	assert.True(t, store.Required())

	// Clearing the mirror alone does not clear the settings source.
	require.NoError(t, store.SetRequired(ctx, false))
	assert.True(t, store.Required())

	require.NoError(t, store.ApplySettings(ctx, false))
	assert.False(t, store.Required())
}

func TestStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	store := policy.NewStore(newFileStore(t))

	var seen []bool
	unsubscribe := store.Subscribe(func(required bool) {
		seen = append(seen, required)
	})

	require.NoError(t, store.SetRequired(ctx, true))
	// Same effective value again: no extra notification.
	require.NoError(t, store.ApplySettings(ctx, true))
	require.NoError(t, store.ApplySettings(ctx, false))
	assert.Equal(t, []bool{true, false}, seen)

	unsubscribe()
	require.NoError(t, store.SetRequired(ctx, true))
	assert.Equal(t, []bool{true, false}, seen)
}
