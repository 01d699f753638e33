// Package twofa implements the client-side two-factor authentication
// lifecycle for the rentstack frontend gateway.
//
// The package drives three session-scoped flows against the auth service:
//
//   - SetupFlow: secret/QR/backup-code enrollment followed by a one-time
//     TOTP confirmation, taking an account from disabled to enabled.
//   - Challenge: the login-time TOTP-or-backup-code challenge, resolved to
//     a session token.
//   - Manager: post-enablement operations (disable, backup-code
//     regeneration), each behind a current-password confirmation.
//
// # Basic Usage
//
//	client := authapi.NewClient(authServiceURL, nil)
//	statusStore := status.NewStore(func(ctx context.Context) (authapi.TwoFactorStatus, error) {
//		return client.Status(ctx, sessionToken)
//	})
//
//	flow := twofa.NewSetupFlow(client, statusStore, sessionToken)
//	if err := flow.Begin(ctx); err != nil {
//		return err
//	}
//	material, _ := flow.Material() // show QR, secret, backup codes
//	flow.Advance()                 // user acknowledged the codes
//	flow.InputCode(ctx, "492018")  // auto-submits at the 6th digit
//
// # Auto-submit semantics
//
// Code fields submit exactly once when the input reaches the full code
// length (6 digits for TOTP, 8 characters for backup codes). Every flow
// guards the trigger with an in-flight flag, a completed flag and the last
// fired value, so repeated deliveries of the same input never duplicate a
// network call. Input shorter than the full length never submits.
//
// All network failures stay local to the flow that produced them: the flows
// record an inline message (Err methods) and leave their state unchanged, so
// the host application never crashes on a late or failed response.
package twofa
