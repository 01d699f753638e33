package twofa

import (
	"fmt"
	"regexp"
)

const (
	// TOTPCodeLength is the exact length of an authenticator code.
	TOTPCodeLength = 6
	// BackupCodeLength is the exact length of a backup code. The auth
	// service issues 8-character uppercase alphanumeric codes and auto-submit
	// triggers only at this length, so a partial code is never sent.
	BackupCodeLength = 8
)

var (
	totpCodeRegex   = regexp.MustCompile(`^\d{6}$`)
	backupCodeRegex = regexp.MustCompile(`^[A-Z0-9]{8}$`)
)

// User-facing messages. These are part of the product contract: tests and
// the frontend match on them verbatim.
const (
	MsgInvalidCode      = "Invalid verification code"
	MsgInvalidBackup    = "Invalid backup code"
	MsgInvalidPassword  = "Invalid current password"
	MsgMustLogin        = "You must be logged in to perform this action"
	MsgGenericRetry     = "Something went wrong. Please try again."
	MsgMissingUser      = "Missing user context. Please login again."
	MsgPasswordRequired = "Current password is required"
)

// ValidateTOTPCode checks the 6-digit authenticator code format. Malformed
// codes are rejected before any network call.
func ValidateTOTPCode(code string) error {
	if !totpCodeRegex.MatchString(code) {
		return fmt.Errorf("verification code must be %d digits", TOTPCodeLength)
	}
	return nil
}

// ValidateBackupCode checks the backup code format: exactly 8 uppercase
// letters or digits.
func ValidateBackupCode(code string) error {
	if !backupCodeRegex.MatchString(code) {
		return fmt.Errorf("backup code must be %d uppercase letters or digits", BackupCodeLength)
	}
	return nil
}

// ValidatePassword checks the current-password confirmation input. Only
// non-emptiness is required: the account is already authenticated, so this
// is lighter than login validation.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("current password is required")
	}
	return nil
}
