package twofa_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentstack/twofa-gateway/pkg/localstore"
	"github.com/rentstack/twofa-gateway/pkg/twofa"
)

func newChallenge(t *testing.T, withUser bool) (*twofa.Challenge, *harness) {
	h := newHarness(t)

	local, err := localstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	if withUser {
		user := localstore.StoredUser{ID: h.userID, Username: "renter@example.com"}
		require.NoError(t, localstore.SaveUser(context.Background(), local, user))
	}

	// Enroll the account so TOTP and backup codes are live.
	_, err = h.client.Setup(context.Background(), h.token)
	require.NoError(t, err)

	return twofa.NewChallenge(h.client, local), h
}

func TestChallenge_TOTPSuccess(t *testing.T) {
	challenge, h := newChallenge(t, true)
	ctx := context.Background()

	assert.Equal(t, twofa.ModeTOTP, challenge.Mode())
	assert.False(t, challenge.Verified())

	code, err := h.stub.CurrentCode(h.userID)
	require.NoError(t, err)
	require.NoError(t, challenge.Input(ctx, code))

	assert.True(t, challenge.Verified())
	token, ok := challenge.Token()
	assert.True(t, ok)
	assert.NotEmpty(t, token)
	assert.Equal(t, 1, h.proxy.count("/2fa/verify-token"))

	// A resolved challenge ignores further input.
	require.NoError(t, challenge.Input(ctx, "999999"))
	assert.Equal(t, 1, h.proxy.count("/2fa/verify-token"))
}

func TestChallenge_BackupSuccess(t *testing.T) {
	challenge, h := newChallenge(t, true)
	ctx := context.Background()

	account, ok := h.stub.Account(h.userID)
	require.True(t, ok)
	var backupCode string
	for code := range account.BackupCodes {
		backupCode = code
		break
	}
	require.NotEmpty(t, backupCode)

	challenge.SwitchMode(twofa.ModeBackup)
	require.NoError(t, challenge.Input(ctx, backupCode))

	assert.True(t, challenge.Verified())
	token, ok := challenge.Token()
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	// Consumed server-side.
	after, ok := h.stub.Account(h.userID)
	require.True(t, ok)
	assert.NotContains(t, after.BackupCodes, backupCode)
}

func TestChallenge_MissingUserIsFatal(t *testing.T) {
	challenge, h := newChallenge(t, false)
	ctx := context.Background()

	err := challenge.Input(ctx, "123456")
	assert.ErrorIs(t, err, twofa.ErrMissingUser)
	assert.Equal(t, twofa.MsgMissingUser, challenge.Err())

	// The precondition failed before any verify call was attempted.
	assert.Zero(t, h.proxy.count("/2fa/verify-token"))
	assert.Zero(t, h.proxy.count("/2fa/verify-backup"))

	// Fatal: later input is ignored, not retried.
	require.NoError(t, challenge.Input(ctx, "654321"))
	assert.Zero(t, h.proxy.count("/2fa/verify-token"))
	assert.False(t, challenge.Verified())
}

func TestChallenge_AutoSubmitTrigger(t *testing.T) {
	ctx := context.Background()

	t.Run("totp fires at exactly 6", func(t *testing.T) {
		challenge, h := newChallenge(t, true)
		for _, value := range []string{"1", "12345", "1234567"} {
			require.NoError(t, challenge.Input(ctx, value))
		}
		assert.Zero(t, h.proxy.count("/2fa/verify-token"))

		require.NoError(t, challenge.Input(ctx, "000000"))
		require.NoError(t, challenge.Input(ctx, "000000"))
		assert.Equal(t, 1, h.proxy.count("/2fa/verify-token"))
		assert.Equal(t, twofa.MsgInvalidCode, challenge.Err())
	})

	t.Run("backup fires at exactly 8", func(t *testing.T) {
		challenge, h := newChallenge(t, true)
		challenge.SwitchMode(twofa.ModeBackup)

		require.NoError(t, challenge.Input(ctx, "AAAA"))
		assert.Zero(t, h.proxy.count("/2fa/verify-backup"))

		require.NoError(t, challenge.Input(ctx, "AAAAAAAA"))
		assert.Equal(t, 1, h.proxy.count("/2fa/verify-backup"))
		assert.Equal(t, twofa.MsgInvalidBackup, challenge.Err())
	})

	t.Run("malformed backup code never sent", func(t *testing.T) {
		challenge, h := newChallenge(t, true)
		challenge.SwitchMode(twofa.ModeBackup)

		require.NoError(t, challenge.Input(ctx, "abcdefgh"))
		assert.Zero(t, h.proxy.count("/2fa/verify-backup"))
		assert.Equal(t, twofa.MsgInvalidBackup, challenge.Err())
	})
}

func TestChallenge_SwitchModeClearsError(t *testing.T) {
	challenge, _ := newChallenge(t, true)
	ctx := context.Background()

	require.NoError(t, challenge.Input(ctx, "000000"))
	require.Equal(t, twofa.MsgInvalidCode, challenge.Err())

	challenge.SwitchMode(twofa.ModeBackup)
	assert.Equal(t, twofa.ModeBackup, challenge.Mode())
	assert.Empty(t, challenge.Err())

	// Switching to the current mode is a no-op.
	challenge.SwitchMode(twofa.ModeBackup)
	assert.Equal(t, twofa.ModeBackup, challenge.Mode())
}
