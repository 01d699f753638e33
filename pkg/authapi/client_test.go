package authapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentstack/twofa-gateway/pkg/authapi"
	"github.com/rentstack/twofa-gateway/pkg/authstub"
)

func newStubClient(t *testing.T) (*authapi.Client, *authstub.Server, string, string) {
	stub := authstub.NewServer()
	id, token, err := stub.AddAccount("admin@example.com", "pwd", "admin")
	require.NoError(t, err)

	server := httptest.NewServer(stub.Handler())
	t.Cleanup(server.Close)

	return authapi.NewClient(server.URL, nil), stub, id, token
}

func TestClient_Status(t *testing.T) {
	client, _, _, token := newStubClient(t)
	ctx := context.Background()

	status, err := client.Status(ctx, token)
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.False(t, status.Verified)
	assert.False(t, status.HasSecret)
	assert.False(t, status.HasBackupCodes)
}

func TestClient_SetupAndVerify(t *testing.T) {
	client, stub, id, token := newStubClient(t)
	ctx := context.Background()

	material, err := client.Setup(ctx, token)
	require.NoError(t, err)
	assert.NotEmpty(t, material.Secret)
	assert.Contains(t, material.QRCode, "data:image/png;base64,")
	assert.Len(t, material.BackupCodes, 10)
	for _, code := range material.BackupCodes {
		assert.Regexp(t, `^[A-Z0-9]{8}$`, code)
	}

	// Wrong code is a credential rejection.
	err = client.Verify(ctx, token, "000000")
	assert.ErrorIs(t, err, authapi.ErrInvalidCredential)

	// The current TOTP code enables the account.
	code, err := stub.CurrentCode(id)
	require.NoError(t, err)
	require.NoError(t, client.Verify(ctx, token, code))

	status, err := client.Status(ctx, token)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.True(t, status.Verified)
	assert.True(t, status.HasSecret)
	assert.True(t, status.HasBackupCodes)
}

func TestClient_PreSessionVerify(t *testing.T) {
	client, stub, id, token := newStubClient(t)
	ctx := context.Background()

	material, err := client.Setup(ctx, token)
	require.NoError(t, err)

	t.Run("totp", func(t *testing.T) {
		code, err := stub.CurrentCode(id)
		require.NoError(t, err)

		session, err := client.VerifyToken(ctx, id, code)
		require.NoError(t, err)
		assert.NotEmpty(t, session.Token)
	})

	t.Run("backup code is consumed", func(t *testing.T) {
		code := material.BackupCodes[0]

		session, err := client.VerifyBackup(ctx, id, code)
		require.NoError(t, err)
		assert.NotEmpty(t, session.Token)

		// Single use: the same code is rejected the second time.
		_, err = client.VerifyBackup(ctx, id, code)
		assert.ErrorIs(t, err, authapi.ErrInvalidCredential)
	})
}

func TestClient_Disable(t *testing.T) {
	client, stub, id, token := newStubClient(t)
	ctx := context.Background()

	_, err := client.Setup(ctx, token)
	require.NoError(t, err)
	code, err := stub.CurrentCode(id)
	require.NoError(t, err)
	require.NoError(t, client.Verify(ctx, token, code))

	t.Run("wrong password", func(t *testing.T) {
		err := client.Disable(ctx, token, "not-the-password")
		assert.ErrorIs(t, err, authapi.ErrInvalidCredential)
	})

	t.Run("missing session", func(t *testing.T) {
		err := client.Disable(ctx, "bogus-token", "pwd")
		assert.ErrorIs(t, err, authapi.ErrUnauthorized)
	})

	t.Run("success resets all fields", func(t *testing.T) {
		require.NoError(t, client.Disable(ctx, token, "pwd"))

		status, err := client.Status(ctx, token)
		require.NoError(t, err)
		assert.False(t, status.Enabled)
		assert.False(t, status.Verified)
		assert.False(t, status.HasSecret)
		assert.False(t, status.HasBackupCodes)
	})
}

func TestClient_BackupCodesReplace(t *testing.T) {
	client, _, _, token := newStubClient(t)
	ctx := context.Background()

	_, err := client.Setup(ctx, token)
	require.NoError(t, err)

	first, err := client.BackupCodes(ctx, token, "pwd")
	require.NoError(t, err)
	second, err := client.BackupCodes(ctx, token, "pwd")
	require.NoError(t, err)

	assert.Len(t, second, 10)
	assert.NotEqual(t, first, second)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	t.Run("unexpected status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		client := authapi.NewClient(server.URL, nil)
		_, err := client.Status(context.Background(), "token")
		assert.ErrorIs(t, err, authapi.ErrUnexpected)
		assert.NotErrorIs(t, err, authapi.ErrInvalidCredential)
	})

	t.Run("transport failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // refuse connections

		client := authapi.NewClient(server.URL, nil)
		_, err := client.Status(context.Background(), "token")
		assert.ErrorIs(t, err, authapi.ErrTransport)
	})
}
