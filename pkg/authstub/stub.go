// Package authstub is an in-memory implementation of the auth service 2FA
// endpoints. It backs the gateway's tests and the local development server;
// production deployments point the gateway at the real auth service instead.
package authstub

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"
)

const (
	totpIssuer = "rentstack"

	backupCodeCount  = 10
	backupCodeLength = 8
)

const backupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Account is one user record held by the stub.
type Account struct {
	ID           string
	Username     string
	Role         string
	PasswordHash []byte

	Secret      string
	Enabled     bool
	Verified    bool
	BackupCodes map[string]bool // unused codes
}

// Server holds stub state and serves the auth service HTTP surface.
type Server struct {
	mu        sync.Mutex
	accounts  map[string]*Account // keyed by account ID
	sessions  map[string]string   // session token -> account ID
	jwtSecret []byte
}

// Option configures a Server.
type Option func(*Server)

// WithJWTSecret sets the key used to sign issued session tokens. The gateway
// verifying those tokens must be configured with the same key.
func WithJWTSecret(secret []byte) Option {
	return func(s *Server) {
		s.jwtSecret = secret
	}
}

// NewServer creates an empty stub server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		accounts:  make(map[string]*Account),
		sessions:  make(map[string]string),
		jwtSecret: []byte("very-secure-jwt-secret"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAccount registers an account and returns its ID and a live session
// token. The password is stored bcrypt-hashed, as the real service does.
func (s *Server) AddAccount(username, password, role string) (id, token string, err error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash password: %w", err)
	}

	account := &Account{
		ID:           uuid.New().String(),
		Username:     username,
		Role:         role,
		PasswordHash: hash,
		BackupCodes:  make(map[string]bool),
	}
	token, err = s.signSession(account.ID, role)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	s.sessions[token] = account.ID
	return account.ID, token, nil
}

// Account returns a snapshot of the account record, for test assertions.
func (s *Server) Account(id string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, false
	}
	snapshot := *account
	snapshot.BackupCodes = make(map[string]bool, len(account.BackupCodes))
	for code, unused := range account.BackupCodes {
		snapshot.BackupCodes[code] = unused
	}
	return snapshot, true
}

// CurrentCode computes the TOTP code currently valid for the account's
// secret. Test helper.
func (s *Server) CurrentCode(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok || account.Secret == "" {
		return "", fmt.Errorf("no secret for account %s", id)
	}
	return totp.GenerateCode(account.Secret, time.Now().UTC())
}

// Handler returns the auth service HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/2fa/status", s.handleStatus)
	r.Post("/2fa/setup", s.handleSetup)
	r.Post("/2fa/verify", s.handleVerify)
	r.Post("/2fa/verify-token", s.handleVerifyToken)
	r.Post("/2fa/verify-backup", s.handleVerifyBackup)
	r.Post("/2fa/disable", s.handleDisable)
	r.Post("/2fa/backup-codes", s.handleBackupCodes)
	r.Get("/profile", s.handleProfile)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	account := s.authenticate(w, r)
	if account == nil {
		return
	}

	s.mu.Lock()
	resp := map[string]bool{
		"enabled":        account.Enabled,
		"verified":       account.Verified,
		"hasSecret":      account.Secret != "",
		"hasBackupCodes": len(account.BackupCodes) > 0,
	}
	s.mu.Unlock()

	render.JSON(w, r, resp)
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	account := s.authenticate(w, r)
	if account == nil {
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account.Username,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "account", account.ID, "err", err)
		http.Error(w, "failed to generate secret", http.StatusInternalServerError)
		return
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		slog.Error("Failed to render qr code", "account", account.ID, "err", err)
		http.Error(w, "failed to render qr code", http.StatusInternalServerError)
		return
	}

	codes, err := generateBackupCodes()
	if err != nil {
		http.Error(w, "failed to generate backup codes", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	account.Secret = key.Secret()
	account.Enabled = false
	account.Verified = false
	account.BackupCodes = make(map[string]bool, len(codes))
	for _, code := range codes {
		account.BackupCodes[code] = true
	}
	s.mu.Unlock()

	render.JSON(w, r, map[string]any{
		"secret":      key.Secret(),
		"qrCode":      "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		"backupCodes": codes,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	account := s.authenticate(w, r)
	if account == nil {
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "unable to parse body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	secret := account.Secret
	s.mu.Unlock()

	if secret == "" || !totp.Validate(req.Code, secret) {
		http.Error(w, "invalid verification code", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	account.Enabled = true
	account.Verified = true
	s.mu.Unlock()

	render.JSON(w, r, map[string]any{})
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Code   string `json:"code"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "unable to parse body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	account, ok := s.accounts[req.UserID]
	var secret string
	if ok {
		secret = account.Secret
	}
	s.mu.Unlock()

	if !ok || secret == "" || !totp.Validate(req.Code, secret) {
		http.Error(w, "invalid verification code", http.StatusBadRequest)
		return
	}

	s.issueToken(w, r, req.UserID)
}

func (s *Server) handleVerifyBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Code   string `json:"code"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "unable to parse body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	account, ok := s.accounts[req.UserID]
	valid := ok && account.BackupCodes[req.Code]
	if valid {
		// Single use: consume the code.
		delete(account.BackupCodes, req.Code)
	}
	s.mu.Unlock()

	if !valid {
		http.Error(w, "invalid backup code", http.StatusBadRequest)
		return
	}

	s.issueToken(w, r, req.UserID)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	account := s.authenticate(w, r)
	if account == nil {
		return
	}
	if !s.confirmPassword(w, r, account) {
		return
	}

	s.mu.Lock()
	account.Secret = ""
	account.Enabled = false
	account.Verified = false
	account.BackupCodes = make(map[string]bool)
	s.mu.Unlock()

	render.JSON(w, r, map[string]string{"message": "two-factor authentication disabled"})
}

func (s *Server) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	account := s.authenticate(w, r)
	if account == nil {
		return
	}
	if !s.confirmPassword(w, r, account) {
		return
	}

	codes, err := generateBackupCodes()
	if err != nil {
		http.Error(w, "failed to generate backup codes", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	// Full replace: the previous set is invalidated wholesale.
	account.BackupCodes = make(map[string]bool, len(codes))
	for _, code := range codes {
		account.BackupCodes[code] = true
	}
	s.mu.Unlock()

	render.JSON(w, r, map[string]any{"backupCodes": codes})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	account := s.authenticate(w, r)
	if account == nil {
		return
	}

	s.mu.Lock()
	resp := map[string]any{
		"id":                account.ID,
		"role":              account.Role,
		"twoFactorEnabled":  account.Enabled,
		"twoFactorVerified": account.Verified,
	}
	s.mu.Unlock()

	render.JSON(w, r, resp)
}

// authenticate resolves the bearer token to an account, writing a 401 and
// returning nil when the session is missing or unknown.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) *Account {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[token]
	if !ok {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return nil
	}
	return s.accounts[id]
}

// confirmPassword checks the currentPassword field against the account's
// bcrypt hash. Wrong password is a 400, matching the real service.
func (s *Server) confirmPassword(w http.ResponseWriter, r *http.Request, account *Account) bool {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "unable to parse body", http.StatusBadRequest)
		return false
	}

	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(req.CurrentPassword)); err != nil {
		http.Error(w, "invalid current password", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, accountID string) {
	s.mu.Lock()
	role := ""
	if account, ok := s.accounts[accountID]; ok {
		role = account.Role
	}
	s.mu.Unlock()

	token, err := s.signSession(accountID, role)
	if err != nil {
		slog.Error("Failed to sign session token", "account", accountID, "err", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.sessions[token] = accountID
	s.mu.Unlock()

	render.JSON(w, r, map[string]string{"token": token})
}

// signSession mints the HS256 session JWT carrying the claims the gateway's
// session middleware reads.
func (s *Server) signSession(accountID, role string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   accountID,
		"roles": []string{role},
		"jti":   uuid.New().String(),
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// generateBackupCodes produces a fresh set of 8-character uppercase
// alphanumeric codes.
func generateBackupCodes() ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		var b strings.Builder
		for j := 0; j < backupCodeLength; j++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeAlphabet))))
			if err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			b.WriteByte(backupCodeAlphabet[n.Int64()])
		}
		codes = append(codes, b.String())
	}
	return codes, nil
}
