// Package enforce gates privileged routes behind the organization's 2FA
// policy: an admin session with the policy flag set must have a verified
// second factor before the route renders.
package enforce

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/render"
	"github.com/rentstack/twofa-gateway/pkg/authapi"
	"github.com/rentstack/twofa-gateway/pkg/policy"
	"github.com/rentstack/twofa-gateway/pkg/session"
	"github.com/rentstack/twofa-gateway/pkg/status"
	"github.com/rentstack/twofa-gateway/pkg/twofa"
)

// Decision is the guard's verdict for one request.
type Decision int

const (
	// DecisionAllow renders the privileged route normally.
	DecisionAllow Decision = iota
	// DecisionRedirectLogin sends an unauthenticated request to login,
	// preserving the attempted path.
	DecisionRedirectLogin
	// DecisionRedirectHome sends an authenticated non-admin to the
	// non-privileged home.
	DecisionRedirectHome
	// DecisionForceSetup holds the setup overlay open with no close
	// affordance until the account satisfies the policy.
	DecisionForceSetup
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionRedirectHome:
		return "redirect_home"
	case DecisionForceSetup:
		return "force_setup"
	default:
		return "unknown"
	}
}

// ProfileFunc fetches the canonical account profile for the session token.
type ProfileFunc func(ctx context.Context, token string) (authapi.Profile, error)

// StatusResolver finds the cached status store for a user's session. Used as
// the fallback while the canonical profile is unavailable.
type StatusResolver func(user session.AuthUser) *status.Store

// OverlayResolver finds the management overlay for a user's session, so the
// guard can hold its setup view open. May return nil.
type OverlayResolver func(userID string) *twofa.Manager

// Guard evaluates the enforcement policy for privileged routes.
type Guard struct {
	policy     *policy.Store
	status     StatusResolver
	profile    ProfileFunc
	adminRoles []string
	overlay    OverlayResolver

	loginPath string
	homePath  string
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithOverlayResolver wires the guard to per-session management overlays.
func WithOverlayResolver(resolver OverlayResolver) GuardOption {
	return func(g *Guard) {
		g.overlay = resolver
	}
}

// WithRedirects overrides the login and home redirect targets.
func WithRedirects(loginPath, homePath string) GuardOption {
	return func(g *Guard) {
		g.loginPath = loginPath
		g.homePath = homePath
	}
}

// NewGuard creates an enforcement guard.
func NewGuard(policyStore *policy.Store, statuses StatusResolver, profile ProfileFunc, adminRoles []string, opts ...GuardOption) *Guard {
	g := &Guard{
		policy:     policyStore,
		status:     statuses,
		profile:    profile,
		adminRoles: adminRoles,
		loginPath:  "/login",
		homePath:   "/",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate computes the verdict for one request. The canonical profile is
// fetched once per call and preferred over the cached status; the cache is
// only the fallback for the window where the profile is unavailable.
func (g *Guard) Evaluate(ctx context.Context, user session.AuthUser, authenticated bool) Decision {
	if !authenticated {
		return DecisionRedirectLogin
	}

	profile, profileErr := g.profile(ctx, user.Token)
	if profileErr != nil {
		slog.Error("Failed to fetch canonical profile", "user", user.ID, "err", profileErr)
	}

	admin := session.IsAdmin(user, g.adminRoles)
	if profileErr == nil {
		admin = g.isAdminRole(profile.Role)
	}
	if !admin {
		return DecisionRedirectHome
	}

	var enabled, verified bool
	if profileErr == nil {
		enabled = profile.TwoFactorEnabled
		verified = profile.TwoFactorVerified
	} else if store := g.status(user); store != nil {
		// Canonical data unavailable: make sure the cache has settled at
		// least once before deciding from it.
		if store.Freshness() == status.FreshnessUnknown {
			store.Fetch(ctx)
		}
		cached := store.Current()
		enabled = cached.Enabled
		verified = cached.Verified
	}

	if g.policy.Required() && !(enabled && verified) {
		return DecisionForceSetup
	}
	return DecisionAllow
}

// Middleware applies the guard to every request of a privileged route.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, authenticated := session.FromContext(r.Context())

		decision := g.Evaluate(r.Context(), user, authenticated)
		switch decision {
		case DecisionRedirectLogin:
			target := g.loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusFound)

		case DecisionRedirectHome:
			http.Redirect(w, r, g.homePath, http.StatusFound)

		case DecisionForceSetup:
			if g.overlay != nil {
				if manager := g.overlay(user.ID); manager != nil {
					manager.ForceOpenSetup()
				}
			}
			render.Status(r, http.StatusLocked)
			render.JSON(w, r, map[string]any{
				"twoFactorRequired": true,
				"message":           "Two-factor authentication is required for administrator accounts.",
			})

		default:
			// Enforcement satisfied or not required: lift any standing lock
			// so a previously forced overlay closes on its own.
			if g.overlay != nil {
				if manager := g.overlay(user.ID); manager != nil {
					manager.ReleaseForce()
				}
			}
			next.ServeHTTP(w, r)
		}
	})
}

func (g *Guard) isAdminRole(role string) bool {
	for _, admin := range g.adminRoles {
		if role == admin {
			return true
		}
	}
	return false
}
