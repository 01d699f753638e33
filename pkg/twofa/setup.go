package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rentstack/twofa-gateway/pkg/authapi"
	"github.com/rentstack/twofa-gateway/pkg/status"
)

// SetupState is the setup flow's position in its state machine.
type SetupState int

const (
	// SetupIdle is the initial state before Begin.
	SetupIdle SetupState = iota
	// SetupEnrolling shows the QR code, secret and backup codes. The user
	// must explicitly continue; codes are acknowledged, never skipped by a
	// timer.
	SetupEnrolling
	// SetupVerifying accepts the 6-digit confirmation code.
	SetupVerifying
	// SetupDone is terminal: the account is enabled and verified.
	SetupDone
	// SetupCancelled is terminal: the flow was aborted before anything was
	// enabled server-side.
	SetupCancelled
)

func (s SetupState) String() string {
	switch s {
	case SetupIdle:
		return "idle"
	case SetupEnrolling:
		return "enrolling"
	case SetupVerifying:
		return "verifying"
	case SetupDone:
		return "done"
	case SetupCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrBadTransition is returned when an operation is invoked in a state
	// that does not permit it.
	ErrBadTransition = errors.New("invalid setup transition")
)

// SetupFlow drives one setup session: fetch material, show it, confirm with
// a TOTP code. The material lives only for the session and is discarded on
// completion or cancellation.
type SetupFlow struct {
	mu     sync.Mutex
	client *authapi.Client
	status *status.Store
	token  string

	state    SetupState
	material authapi.SetupMaterial

	// Auto-submit bookkeeping. submitSeq is a monotonically increasing
	// submission id; generation is bumped on cancel so a late verify result
	// is recognized and dropped instead of mutating a dead flow.
	submitSeq  uint64
	generation uint64
	inFlight   bool
	firedInput string

	inlineErr string
}

// NewSetupFlow creates a setup flow bound to the account's session token.
func NewSetupFlow(client *authapi.Client, statusStore *status.Store, token string) *SetupFlow {
	return &SetupFlow{
		client: client,
		status: statusStore,
		token:  token,
	}
}

// Begin requests setup material from the auth service and enters the
// enrolling state. One-shot per flow.
func (f *SetupFlow) Begin(ctx context.Context) error {
	f.mu.Lock()
	if f.state != SetupIdle {
		f.mu.Unlock()
		return fmt.Errorf("%w: begin from %s", ErrBadTransition, f.state)
	}
	f.mu.Unlock()

	material, err := f.client.Setup(ctx, f.token)
	if err != nil {
		slog.Error("Failed to fetch setup material", "err", err)
		return fmt.Errorf("failed to start 2FA setup: %w", err)
	}

	f.mu.Lock()
	f.material = material
	f.state = SetupEnrolling
	f.mu.Unlock()
	return nil
}

// Advance moves from enrolling to verifying. User-initiated only: there is
// no automatic progression past the backup-code display.
func (f *SetupFlow) Advance() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != SetupEnrolling {
		return fmt.Errorf("%w: advance from %s", ErrBadTransition, f.state)
	}
	f.state = SetupVerifying
	return nil
}

// Back returns from verifying to enrolling. The material is not refetched;
// the original codes stay valid for this session.
func (f *SetupFlow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != SetupVerifying {
		return fmt.Errorf("%w: back from %s", ErrBadTransition, f.state)
	}
	f.state = SetupEnrolling
	f.firedInput = ""
	f.inlineErr = ""
	return nil
}

// Cancel aborts the flow. Allowed only while enrolling: once a verify is
// possible the user finishes or goes back first. Nothing is enabled
// server-side and the material is discarded.
func (f *SetupFlow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != SetupEnrolling {
		return fmt.Errorf("%w: cancel from %s", ErrBadTransition, f.state)
	}
	f.state = SetupCancelled
	f.material = authapi.SetupMaterial{}
	f.generation++
	f.inlineErr = ""
	return nil
}

// InputCode feeds the current value of the confirmation code field.
//
// Submission fires exactly once when the 6th digit arrives: repeated calls
// with the same value (re-renders, trailing keystrokes) are ignored, as are
// calls while a submission is in flight or after the flow completed. A code
// shorter than 6 digits never triggers a network call.
func (f *SetupFlow) InputCode(ctx context.Context, code string) error {
	f.mu.Lock()
	if f.state != SetupVerifying {
		f.mu.Unlock()
		return fmt.Errorf("%w: code input from %s", ErrBadTransition, f.state)
	}
	if f.inFlight {
		f.mu.Unlock()
		return nil
	}
	if len(code) != TOTPCodeLength {
		// Still typing, or deleted a digit: re-arm for the next full code.
		f.firedInput = ""
		f.mu.Unlock()
		return nil
	}
	if code == f.firedInput {
		// Duplicate delivery of the same completed value.
		f.mu.Unlock()
		return nil
	}
	if err := ValidateTOTPCode(code); err != nil {
		f.inlineErr = MsgInvalidCode
		f.firedInput = code
		f.mu.Unlock()
		return nil
	}

	f.submitSeq++
	submitID := f.submitSeq
	generation := f.generation
	f.firedInput = code
	f.inFlight = true
	f.inlineErr = ""
	f.mu.Unlock()

	err := f.client.Verify(ctx, f.token, code)

	f.mu.Lock()
	f.inFlight = false
	if f.generation != generation {
		// The flow was cancelled while the request was in flight; the late
		// result must not resurrect it.
		f.mu.Unlock()
		slog.Info("Dropping late setup verify result", "submitId", submitID)
		return nil
	}

	if err != nil {
		if errors.Is(err, authapi.ErrInvalidCredential) {
			f.inlineErr = MsgInvalidCode
		} else {
			f.inlineErr = MsgGenericRetry
			slog.Error("Setup verify failed", "submitId", submitID, "err", err)
		}
		// Stay in verifying; the user may retry indefinitely. Rate limiting
		// is the auth service's concern.
		f.mu.Unlock()
		return nil
	}

	f.state = SetupDone
	f.material = authapi.SetupMaterial{}
	f.mu.Unlock()

	f.refreshStatus(ctx)
	return nil
}

// refreshStatus pulls canonical status after a successful verify, falling
// back to an optimistic merge if the fetch fails.
func (f *SetupFlow) refreshStatus(ctx context.Context) {
	if _, err := f.status.Fetch(ctx); err != nil {
		enabled := true
		f.status.Update(status.Patch{
			Enabled:   &enabled,
			Verified:  &enabled,
			HasSecret: &enabled,
		})
	}
}

// State returns the flow's current state.
func (f *SetupFlow) State() SetupState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Material returns the setup material while the flow holds it.
func (f *SetupFlow) Material() (authapi.SetupMaterial, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != SetupEnrolling && f.state != SetupVerifying {
		return authapi.SetupMaterial{}, false
	}
	return f.material, true
}

// Err returns the inline error to display, if any.
func (f *SetupFlow) Err() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inlineErr
}
