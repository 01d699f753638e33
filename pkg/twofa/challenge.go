package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rentstack/twofa-gateway/pkg/authapi"
	"github.com/rentstack/twofa-gateway/pkg/localstore"
)

// Mode selects which proof the login-time challenge is collecting. The two
// proofs are equivalent: satisfying either resolves the challenge.
type Mode int

const (
	// ModeTOTP collects a 6-digit authenticator code.
	ModeTOTP Mode = iota
	// ModeBackup collects an 8-character backup code. A successful backup
	// code is consumed server-side and cannot be reused.
	ModeBackup
)

func (m Mode) String() string {
	if m == ModeBackup {
		return "backup"
	}
	return "totp"
}

// ErrMissingUser is returned when the pre-2FA login context is gone. The
// flow is dead at that point; the user has to log in again.
var ErrMissingUser = errors.New("missing user context")

// Challenge is the login-time 2FA challenge: exactly one outstanding
// challenge per login attempt, resolved to a session token on success.
//
// The account identifier comes from the user blob the login step persisted;
// its absence is a fatal precondition and no network call is made.
type Challenge struct {
	mu     sync.Mutex
	client *authapi.Client
	local  localstore.Store

	mode     Mode
	verified bool
	fatal    bool
	token    string

	submitSeq  uint64
	inFlight   bool
	firedInput string

	inlineErr string
}

// NewChallenge creates a challenge starting in TOTP mode.
func NewChallenge(client *authapi.Client, local localstore.Store) *Challenge {
	return &Challenge{
		client: client,
		local:  local,
	}
}

// SwitchMode flips between the authenticator and backup sub-forms, clearing
// both sub-forms' errors and field values.
func (c *Challenge) SwitchMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == mode {
		return
	}
	c.mode = mode
	c.firedInput = ""
	c.inlineErr = ""
}

// Input feeds the current value of the active sub-form's field.
//
// Auto-submit fires exactly once when the value reaches the mode's full
// length (6 digits for TOTP, 8 characters for backup). It is suppressed once
// the challenge has succeeded, while a submission is in flight, and for
// repeated deliveries of the same value, so re-renders never duplicate a
// network call.
func (c *Challenge) Input(ctx context.Context, value string) error {
	c.mu.Lock()
	if c.verified || c.inFlight || c.fatal {
		c.mu.Unlock()
		return nil
	}

	mode := c.mode
	trigger := TOTPCodeLength
	if mode == ModeBackup {
		trigger = BackupCodeLength
	}
	if len(value) != trigger {
		c.firedInput = ""
		c.mu.Unlock()
		return nil
	}
	if value == c.firedInput {
		c.mu.Unlock()
		return nil
	}
	c.firedInput = value

	// Format validation: malformed codes are rejected inline, never sent.
	var formatErr error
	if mode == ModeTOTP {
		formatErr = ValidateTOTPCode(value)
	} else {
		formatErr = ValidateBackupCode(value)
	}
	if formatErr != nil {
		if mode == ModeTOTP {
			c.inlineErr = MsgInvalidCode
		} else {
			c.inlineErr = MsgInvalidBackup
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Precondition: the login step must have left a user blob behind.
	user, err := localstore.CurrentUser(ctx, c.local)
	if err != nil {
		c.mu.Lock()
		c.fatal = true
		c.inlineErr = MsgMissingUser
		c.mu.Unlock()
		slog.Warn("Login-time 2FA challenge without user context", "err", err)
		return fmt.Errorf("%w: %v", ErrMissingUser, err)
	}

	c.mu.Lock()
	c.submitSeq++
	submitID := c.submitSeq
	c.inFlight = true
	c.inlineErr = ""
	c.mu.Unlock()

	var session authapi.SessionToken
	if mode == ModeTOTP {
		session, err = c.client.VerifyToken(ctx, user.ID, value)
	} else {
		session, err = c.client.VerifyBackup(ctx, user.ID, value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if err != nil {
		switch {
		case errors.Is(err, authapi.ErrInvalidCredential):
			if mode == ModeTOTP {
				c.inlineErr = MsgInvalidCode
			} else {
				c.inlineErr = MsgInvalidBackup
			}
		default:
			c.inlineErr = MsgGenericRetry
			slog.Error("Login-time 2FA verify failed", "mode", mode, "submitId", submitID, "err", err)
		}
		// Unlimited retries at this layer; mode switch stays available.
		return nil
	}

	c.verified = true
	c.token = session.Token
	return nil
}

// Mode returns the active sub-form.
func (c *Challenge) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Verified reports whether the challenge has been satisfied.
func (c *Challenge) Verified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verified
}

// Token returns the session token once the challenge has resolved.
func (c *Challenge) Token() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.verified
}

// Err returns the inline error to display, if any.
func (c *Challenge) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inlineErr
}
