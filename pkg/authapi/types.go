package authapi

// TwoFactorStatus is the server-sourced 2FA state for one account.
type TwoFactorStatus struct {
	Enabled        bool `json:"enabled"`
	Verified       bool `json:"verified"`
	HasSecret      bool `json:"hasSecret"`
	HasBackupCodes bool `json:"hasBackupCodes"`
}

// SetupMaterial is the one-shot payload returned by POST /setup. It is held
// in memory for the duration of a setup session and never persisted.
type SetupMaterial struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
}

// Profile is the canonical account profile used by the enforcement gate.
type Profile struct {
	ID                string `json:"id"`
	Role              string `json:"role"`
	TwoFactorEnabled  bool   `json:"twoFactorEnabled"`
	TwoFactorVerified bool   `json:"twoFactorVerified"`
}

// SessionToken is returned by the pre-session verify endpoints.
type SessionToken struct {
	Token string `json:"token"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type preSessionVerifyRequest struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}
