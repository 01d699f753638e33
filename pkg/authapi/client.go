package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Client is the typed HTTP client for the auth service 2FA endpoints.
// All methods return taxonomy errors (see errors.go) so callers can map them
// to user-facing messages without inspecting HTTP details.
//
// The client applies no timeout of its own; inject an http.Client with a
// timeout if the deployment needs one.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the auth service at baseURL. If httpClient
// is nil, http.DefaultClient is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Status fetches the current 2FA status for the authenticated account.
// Idempotent.
func (c *Client) Status(ctx context.Context, token string) (TwoFactorStatus, error) {
	var status TwoFactorStatus
	err := c.do(ctx, "status", http.MethodGet, "/2fa/status", token, nil, &status)
	return status, err
}

// Setup requests new setup material (secret, QR code, backup codes).
// One-shot per setup session.
func (c *Client) Setup(ctx context.Context, token string) (SetupMaterial, error) {
	var material SetupMaterial
	err := c.do(ctx, "setup", http.MethodPost, "/2fa/setup", token, nil, &material)
	return material, err
}

// Verify submits a 6-digit TOTP code during setup. A success transitions the
// account from disabled to enabled server-side.
func (c *Client) Verify(ctx context.Context, token, code string) error {
	return c.do(ctx, "verify", http.MethodPost, "/2fa/verify", token, verifyRequest{Code: code}, nil)
}

// VerifyToken submits a TOTP code for the login-time challenge. No session
// token exists yet; the account is identified by userID.
func (c *Client) VerifyToken(ctx context.Context, userID, code string) (SessionToken, error) {
	var tok SessionToken
	err := c.do(ctx, "verify-token", http.MethodPost, "/2fa/verify-token", "",
		preSessionVerifyRequest{UserID: userID, Code: code}, &tok)
	return tok, err
}

// VerifyBackup submits a backup code for the login-time challenge. A success
// consumes the code server-side.
func (c *Client) VerifyBackup(ctx context.Context, userID, code string) (SessionToken, error) {
	var tok SessionToken
	err := c.do(ctx, "verify-backup", http.MethodPost, "/2fa/verify-backup", "",
		preSessionVerifyRequest{UserID: userID, Code: code}, &tok)
	return tok, err
}

// Disable turns 2FA off after confirming the current password. Resets all
// status fields server-side.
func (c *Client) Disable(ctx context.Context, token, password string) error {
	return c.do(ctx, "disable", http.MethodPost, "/2fa/disable", token,
		passwordRequest{CurrentPassword: password}, nil)
}

// BackupCodes regenerates the backup-code set after confirming the current
// password. The previous set is fully replaced server-side.
func (c *Client) BackupCodes(ctx context.Context, token, password string) ([]string, error) {
	var resp backupCodesResponse
	err := c.do(ctx, "backup-codes", http.MethodPost, "/2fa/backup-codes", token,
		passwordRequest{CurrentPassword: password}, &resp)
	return resp.BackupCodes, err
}

// Profile fetches the canonical account profile used by the enforcement gate.
func (c *Client) Profile(ctx context.Context, token string) (Profile, error) {
	var profile Profile
	err := c.do(ctx, "profile", http.MethodGet, "/profile", token, nil, &profile)
	return profile, err
}

func (c *Client) do(ctx context.Context, op, method, path, token string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil && method != http.MethodGet {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Auth service request failed", "op", op, "err", err)
		return fmt.Errorf("%s: %w: %v", op, ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain for connection reuse.
		io.Copy(io.Discard, resp.Body)
		return statusError(op, resp.StatusCode)
	}

	if respBody == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		slog.Error("Failed to decode auth service response", "op", op, "err", err)
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}
