package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/rentstack/twofa-gateway/pkg/authapi"
	"github.com/rentstack/twofa-gateway/pkg/localstore"
	"github.com/rentstack/twofa-gateway/pkg/session"
	"github.com/rentstack/twofa-gateway/pkg/status"
	"github.com/rentstack/twofa-gateway/pkg/twofa"
)

// Handle owns the per-session flow instances and exposes them over HTTP.
// Flows are session-scoped: one setup flow and one manager per account
// session, one challenge per login attempt.
type Handle struct {
	client *authapi.Client
	local  localstore.Store

	mu         sync.Mutex
	setups     map[string]*twofa.SetupFlow // keyed by user ID
	managers   map[string]*twofa.Manager   // keyed by user ID
	statuses   map[string]*status.Store    // keyed by user ID
	challenges map[string]*twofa.Challenge // keyed by challenge ID
}

// NewHandle creates a new Handle
func NewHandle(client *authapi.Client, local localstore.Store) *Handle {
	return &Handle{
		client:     client,
		local:      local,
		setups:     make(map[string]*twofa.SetupFlow),
		managers:   make(map[string]*twofa.Manager),
		statuses:   make(map[string]*status.Store),
		challenges: make(map[string]*twofa.Challenge),
	}
}

// Router returns the authenticated 2FA API. Mount behind session.Verifier
// and session.Middleware.
func Router(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Post("/status/reset", h.ResetStatus)

	r.Post("/setup", h.BeginSetup)
	r.Get("/setup", h.GetSetup)
	r.Post("/setup/advance", h.AdvanceSetup)
	r.Post("/setup/back", h.BackSetup)
	r.Post("/setup/cancel", h.CancelSetup)
	r.Post("/setup/code", h.SetupCode)

	r.Post("/manage/disable", h.Disable)
	r.Post("/manage/backup-codes", h.RegenerateBackupCodes)
	r.Get("/manage/backup-codes/export", h.ExportBackupCodes)

	return r
}

// ChallengeRouter returns the pre-session challenge API. No session token
// exists yet at this point of the login sequence.
func ChallengeRouter(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Post("/", h.StartChallenge)
	r.Post("/{challengeID}/code", h.ChallengeCode)
	r.Post("/{challengeID}/mode", h.ChallengeMode)

	return r
}

// StatusFor returns the session's status store, creating it on first use.
// The store's observer releases the enforcement lock on the session's
// manager as soon as a fetched status satisfies the policy, which is what
// closes the forced overlay without user action.
func (h *Handle) StatusFor(user session.AuthUser) *status.Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusForLocked(user)
}

func (h *Handle) statusForLocked(user session.AuthUser) *status.Store {
	if store, ok := h.statuses[user.ID]; ok {
		return store
	}

	token := user.Token
	userID := user.ID
	store := status.NewStore(
		func(ctx context.Context) (authapi.TwoFactorStatus, error) {
			return h.client.Status(ctx, token)
		},
		status.WithObserver(func(fresh status.Status) {
			if fresh.Enabled && fresh.Verified {
				if manager := h.ManagerFor(userID); manager != nil {
					manager.ReleaseForce()
				}
			}
		}),
	)
	h.statuses[user.ID] = store
	return store
}

// ManagerFor returns the session's management overlay, or nil if none has
// been created yet. Used by the enforcement gate's overlay resolver.
func (h *Handle) ManagerFor(userID string) *twofa.Manager {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.managers[userID]
}

func (h *Handle) managerFor(user session.AuthUser) *twofa.Manager {
	h.mu.Lock()
	defer h.mu.Unlock()

	if manager, ok := h.managers[user.ID]; ok {
		return manager
	}
	manager := twofa.NewManager(h.client, h.statusForLocked(user), user.Token)
	h.managers[user.ID] = manager
	return manager
}

// GetStatus refreshes and returns the session's 2FA status. A refresh
// failure is reported alongside the last-known fields rather than replacing
// them.
func (h *Handle) GetStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	store := h.StatusFor(user)
	current, err := store.Fetch(r.Context())
	kind, _ := store.LastError()

	resp := statusResponse{
		Enabled:        current.Enabled,
		Verified:       current.Verified,
		HasSecret:      current.HasSecret,
		HasBackupCodes: current.HasBackupCodes,
	}
	if err != nil {
		resp.ErrorKind = string(kind)
	}
	render.JSON(w, r, resp)
}

// ResetStatus forces the cached status back to its defaults. Used on logout.
func (h *Handle) ResetStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	h.StatusFor(user).Reset()
	render.JSON(w, r, map[string]string{"result": "success"})
}

// BeginSetup starts a fresh setup flow for the session, replacing any
// finished or abandoned one.
func (h *Handle) BeginSetup(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	flow := twofa.NewSetupFlow(h.client, h.statusForLocked(user), user.Token)
	h.setups[user.ID] = flow
	h.mu.Unlock()

	if err := flow.Begin(r.Context()); err != nil {
		slog.Error("Failed to begin 2FA setup", "user", user.ID, "err", err)
		http.Error(w, twofa.MsgGenericRetry, http.StatusBadGateway)
		return
	}
	h.renderSetup(w, r, flow)
}

// GetSetup reports the setup flow's state and, while it holds it, the
// material.
func (h *Handle) GetSetup(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	flow := h.setupFor(user)
	if flow == nil {
		http.Error(w, "no setup in progress", http.StatusNotFound)
		return
	}
	h.renderSetup(w, r, flow)
}

// AdvanceSetup moves the flow from the code display to verification.
func (h *Handle) AdvanceSetup(w http.ResponseWriter, r *http.Request) {
	h.setupTransition(w, r, (*twofa.SetupFlow).Advance)
}

// BackSetup returns the flow from verification to the code display.
func (h *Handle) BackSetup(w http.ResponseWriter, r *http.Request) {
	h.setupTransition(w, r, (*twofa.SetupFlow).Back)
}

// CancelSetup aborts the flow; allowed only before verification starts.
func (h *Handle) CancelSetup(w http.ResponseWriter, r *http.Request) {
	h.setupTransition(w, r, (*twofa.SetupFlow).Cancel)
}

func (h *Handle) setupTransition(w http.ResponseWriter, r *http.Request, transition func(*twofa.SetupFlow) error) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	flow := h.setupFor(user)
	if flow == nil {
		http.Error(w, "no setup in progress", http.StatusNotFound)
		return
	}
	if err := transition(flow); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.renderSetup(w, r, flow)
}

// SetupCode feeds the confirmation code field's current value to the flow.
func (h *Handle) SetupCode(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	flow := h.setupFor(user)
	if flow == nil {
		http.Error(w, "no setup in progress", http.StatusNotFound)
		return
	}

	var req codeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "unable to parse body", http.StatusBadRequest)
		return
	}
	if err := flow.InputCode(r.Context(), req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.renderSetup(w, r, flow)
}

func (h *Handle) renderSetup(w http.ResponseWriter, r *http.Request, flow *twofa.SetupFlow) {
	resp := setupResponse{
		State: flow.State().String(),
		Error: flow.Err(),
	}
	if material, ok := flow.Material(); ok {
		resp.Secret = material.Secret
		resp.QRCode = material.QRCode
		resp.BackupCodes = material.BackupCodes
	}
	render.JSON(w, r, resp)
}

func (h *Handle) setupFor(user session.AuthUser) *twofa.SetupFlow {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setups[user.ID]
}

// Disable turns 2FA off after confirming the current password.
func (h *Handle) Disable(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req passwordRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "unable to parse body", http.StatusBadRequest)
		return
	}

	manager := h.managerFor(user)
	if err := manager.Disable(r.Context(), req.CurrentPassword); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: manager.Err()})
		return
	}
	render.JSON(w, r, map[string]string{"result": "success"})
}

// RegenerateBackupCodes replaces the backup-code set after confirming the
// current password, returning the new set exactly once.
func (h *Handle) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req passwordRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "unable to parse body", http.StatusBadRequest)
		return
	}

	manager := h.managerFor(user)
	codes, err := manager.RegenerateBackupCodes(r.Context(), req.CurrentPassword)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: manager.Err()})
		return
	}
	render.JSON(w, r, backupCodesResponse{BackupCodes: codes})
}

// ExportBackupCodes serves the displayed codes as a downloadable text file.
// Purely client-local; no auth service round trip.
func (h *Handle) ExportBackupCodes(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	manager := h.managerFor(user)
	if len(manager.Codes()) == 0 {
		http.Error(w, "no backup codes to export", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="backup-codes.txt"`)
	w.Write([]byte(manager.ExportText()))
}

// StartChallenge opens a login-time challenge and returns its id.
func (h *Handle) StartChallenge(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()

	h.mu.Lock()
	h.challenges[id] = twofa.NewChallenge(h.client, h.local)
	h.mu.Unlock()

	render.JSON(w, r, map[string]string{"challengeId": id})
}

// ChallengeCode feeds the active sub-form's field value to the challenge.
func (h *Handle) ChallengeCode(w http.ResponseWriter, r *http.Request) {
	challenge := h.challengeFrom(w, r)
	if challenge == nil {
		return
	}

	var req codeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "unable to parse body", http.StatusBadRequest)
		return
	}

	// A missing user blob is fatal and already reflected in the challenge's
	// inline error; the response carries it either way.
	challenge.Input(r.Context(), req.Value)

	resp := challengeResponse{
		Mode:     challenge.Mode().String(),
		Verified: challenge.Verified(),
		Error:    challenge.Err(),
	}
	if token, ok := challenge.Token(); ok {
		resp.Token = token
	}
	render.JSON(w, r, resp)
}

// ChallengeMode switches between the authenticator and backup sub-forms.
func (h *Handle) ChallengeMode(w http.ResponseWriter, r *http.Request) {
	challenge := h.challengeFrom(w, r)
	if challenge == nil {
		return
	}

	var req modeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "unable to parse body", http.StatusBadRequest)
		return
	}

	switch req.Mode {
	case "totp":
		challenge.SwitchMode(twofa.ModeTOTP)
	case "backup":
		challenge.SwitchMode(twofa.ModeBackup)
	default:
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return
	}

	render.JSON(w, r, challengeResponse{
		Mode:     challenge.Mode().String(),
		Verified: challenge.Verified(),
	})
}

func (h *Handle) challengeFrom(w http.ResponseWriter, r *http.Request) *twofa.Challenge {
	id := chi.URLParam(r, "challengeID")

	h.mu.Lock()
	challenge := h.challenges[id]
	h.mu.Unlock()

	if challenge == nil {
		http.Error(w, "unknown challenge", http.StatusNotFound)
		return nil
	}
	return challenge
}

func requireUser(w http.ResponseWriter, r *http.Request) (session.AuthUser, bool) {
	user, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "missing or invalid session", http.StatusUnauthorized)
		return session.AuthUser{}, false
	}
	return user, true
}
