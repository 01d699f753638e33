package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rentstack/twofa-gateway/pkg/authapi"
	"github.com/rentstack/twofa-gateway/pkg/status"
)

// ViewState selects which management overlay is visible. Exactly one is
// visible at a time; the type makes that mutual exclusivity structural
// instead of a convention across independent booleans.
type ViewState int

const (
	ViewIdle ViewState = iota
	ViewSetup
	ViewDisable
	ViewBackupCodes
	ViewPasswordPrompt
)

func (v ViewState) String() string {
	switch v {
	case ViewIdle:
		return "idle"
	case ViewSetup:
		return "setup"
	case ViewDisable:
		return "disable"
	case ViewBackupCodes:
		return "backup_codes"
	case ViewPasswordPrompt:
		return "password_prompt"
	default:
		return "unknown"
	}
}

// ErrViewLocked is returned when the user tries to dismiss a view the
// enforcement gate is holding open.
var ErrViewLocked = errors.New("view is locked by enforcement")

// Manager drives the post-enablement operations: disabling 2FA and
// regenerating backup codes, each behind a current-password confirmation.
// Both fail closed: the status store is only touched after an explicit
// success response.
type Manager struct {
	mu     sync.Mutex
	client *authapi.Client
	status *status.Store
	token  string

	view   ViewState
	locked bool // enforcement gate holds the setup view open

	codes     []string
	inFlight  bool
	inlineErr string
}

// NewManager creates a manager bound to the account's session token.
func NewManager(client *authapi.Client, statusStore *status.Store, token string) *Manager {
	return &Manager{
		client: client,
		status: statusStore,
		token:  token,
	}
}

// Open switches to the given view, closing whichever was visible.
func (m *Manager) Open(view ViewState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked && view != ViewSetup {
		return ErrViewLocked
	}
	m.view = view
	m.inlineErr = ""
	return nil
}

// Close dismisses the visible view. Refused while the enforcement gate holds
// the setup view open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked {
		return ErrViewLocked
	}
	m.view = ViewIdle
	m.inlineErr = ""
	m.codes = nil
	return nil
}

// ForceOpenSetup opens the setup view without a close affordance. Used by
// the enforcement gate; only ReleaseForce lets the view close again.
func (m *Manager) ForceOpenSetup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.view = ViewSetup
	m.locked = true
}

// ReleaseForce lifts the enforcement lock and closes the setup view. Called
// when the enforcement condition clears, i.e. setup actually completed.
func (m *Manager) ReleaseForce() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked {
		return
	}
	m.locked = false
	if m.view == ViewSetup {
		m.view = ViewIdle
	}
}

// Disable turns 2FA off after confirming the current password. On success
// the status store is reset and refreshed; on any error no state changes.
func (m *Manager) Disable(ctx context.Context, password string) error {
	if err := m.begin(password); err != nil {
		return err
	}

	err := m.client.Disable(ctx, m.token, password)

	m.mu.Lock()
	m.inFlight = false
	if err != nil {
		m.inlineErr = passwordActionMessage(err)
		m.mu.Unlock()
		slog.Error("Failed to disable 2FA", "err", err)
		return fmt.Errorf("failed to disable 2FA: %w", err)
	}
	m.view = ViewIdle
	m.codes = nil
	m.mu.Unlock()

	// Hard disable: drop everything, then pull canonical state.
	m.status.Reset()
	m.status.Fetch(ctx)
	return nil
}

// RegenerateBackupCodes replaces the backup-code set after confirming the
// current password. The displayed set is the new response only; previous
// codes are invalidated wholesale server-side and never accumulate here.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, password string) ([]string, error) {
	if err := m.begin(password); err != nil {
		return nil, err
	}

	codes, err := m.client.BackupCodes(ctx, m.token, password)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false

	if err != nil {
		m.inlineErr = passwordActionMessage(err)
		slog.Error("Failed to regenerate backup codes", "err", err)
		return nil, fmt.Errorf("failed to regenerate backup codes: %w", err)
	}

	// Replace, never append.
	m.codes = codes
	m.view = ViewBackupCodes

	has := len(codes) > 0
	m.status.Update(status.Patch{HasBackupCodes: &has})

	out := make([]string, len(m.codes))
	copy(out, m.codes)
	return out, nil
}

// begin runs the shared validation and re-entrancy gate for the two
// password-confirmed mutations.
func (m *Manager) begin(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		return fmt.Errorf("operation already in progress")
	}
	if err := ValidatePassword(password); err != nil {
		m.inlineErr = MsgPasswordRequired
		return err
	}
	m.inFlight = true
	m.inlineErr = ""
	return nil
}

// Codes returns a copy of the currently displayed backup codes.
func (m *Manager) Codes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	codes := make([]string, len(m.codes))
	copy(codes, m.codes)
	return codes
}

// Code returns one backup code for the copy-to-clipboard affordance.
func (m *Manager) Code(i int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i < 0 || i >= len(m.codes) {
		return "", fmt.Errorf("no backup code at index %d", i)
	}
	return m.codes[i], nil
}

// ExportText renders the displayed codes as the downloadable text document.
// Client-local convenience; no server round trip.
func (m *Manager) ExportText() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	b.WriteString("Two-factor authentication backup codes\n")
	b.WriteString("Each code can be used once. Store them somewhere safe.\n\n")
	for _, code := range m.codes {
		b.WriteString(code)
		b.WriteByte('\n')
	}
	return b.String()
}

// View returns the visible overlay.
func (m *Manager) View() ViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Locked reports whether the enforcement gate is holding the view open.
func (m *Manager) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// Err returns the inline error to display, if any.
func (m *Manager) Err() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inlineErr
}

// passwordActionMessage is the three-way error mapping shared by every
// password-confirmed destructive action: credential rejection, authorization
// failure and everything else each get their own remediation message.
func passwordActionMessage(err error) string {
	switch {
	case errors.Is(err, authapi.ErrInvalidCredential):
		return MsgInvalidPassword
	case errors.Is(err, authapi.ErrUnauthorized):
		return MsgMustLogin
	default:
		return MsgGenericRetry
	}
}
