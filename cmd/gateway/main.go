package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
	"github.com/tendant/chi-demo/app"

	"github.com/rentstack/twofa-gateway/pkg/authapi"
	"github.com/rentstack/twofa-gateway/pkg/config"
	"github.com/rentstack/twofa-gateway/pkg/enforce"
	"github.com/rentstack/twofa-gateway/pkg/localstore"
	"github.com/rentstack/twofa-gateway/pkg/policy"
	"github.com/rentstack/twofa-gateway/pkg/session"
	"github.com/rentstack/twofa-gateway/pkg/status"
	"github.com/rentstack/twofa-gateway/pkg/twofa/api"
)

type Config struct {
	GatewayConfig config.GatewayConfig
	StoreConfig   config.StoreConfig
	AppConfig     app.AppConfig
}

func main() {
	cfg := Config{}
	cleanenv.ReadEnv(&cfg)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	var storeConfig localstore.StoreConfig
	copier.Copy(&storeConfig, &cfg.StoreConfig)
	local, err := localstore.NewStore(cfg.StoreConfig.Persistence, storeConfig)
	if err != nil {
		slog.Error("Failed creating local store", "persistence", cfg.StoreConfig.Persistence, "err", err)
		os.Exit(-1)
	}

	policyStore := policy.NewStore(local)
	if err := policyStore.Load(context.Background()); err != nil {
		slog.Error("Failed loading policy mirror", "err", err)
		os.Exit(-1)
	}
	if cfg.GatewayConfig.RequireTwoFactor {
		if err := policyStore.SetRequired(context.Background(), true); err != nil {
			slog.Error("Failed seeding policy flag", "err", err)
			os.Exit(-1)
		}
	}

	refreshInterval, err := cfg.GatewayConfig.ParseStatusRefreshInterval()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(-1)
	}
	slog.Info("Gateway configured",
		"authService", cfg.GatewayConfig.AuthServiceURL,
		"adminRoles", cfg.GatewayConfig.AdminRoles,
		"statusRefresh", refreshInterval)

	client := authapi.NewClient(cfg.GatewayConfig.AuthServiceURL, nil)
	handle := api.NewHandle(client, local)

	adminRoles := cfg.GatewayConfig.ParseAdminRoles()
	guard := enforce.NewGuard(
		policyStore,
		func(user session.AuthUser) *status.Store { return handle.StatusFor(user) },
		client.Profile,
		adminRoles,
		enforce.WithOverlayResolver(handle.ManagerFor),
		enforce.WithRedirects(cfg.GatewayConfig.LoginPath, cfg.GatewayConfig.HomePath),
	)

	tokenAuth := jwtauth.New("HS256", []byte(cfg.GatewayConfig.JwtSecret), nil)

	// Pre-session challenge surface: no session token exists yet.
	server.R.Mount("/api/2fa/challenge", api.ChallengeRouter(handle))

	// Authenticated 2FA surface.
	server.R.Group(func(r chi.Router) {
		r.Use(session.Verifier(tokenAuth))
		r.Use(session.Middleware)
		r.Mount("/api/2fa", api.Router(handle))
	})

	// Privileged routes sit behind the enforcement gate.
	server.R.Group(func(r chi.Router) {
		r.Use(session.Verifier(tokenAuth))
		r.Use(session.Middleware)
		r.Use(guard.Middleware)
		r.Get("/admin/dashboard", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, map[string]string{"result": "ok"})
		})
	})

	// Admin settings toggle, mirrored for immediate effect across replicas.
	server.R.Group(func(r chi.Router) {
		r.Use(session.Verifier(tokenAuth))
		r.Use(session.Middleware)
		r.Post("/api/settings/require-2fa", func(w http.ResponseWriter, r *http.Request) {
			user, ok := session.FromContext(r.Context())
			if !ok || !session.IsAdmin(user, adminRoles) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			var req struct {
				Required bool `json:"required"`
			}
			if err := render.DecodeJSON(r.Body, &req); err != nil {
				http.Error(w, "unable to parse body", http.StatusBadRequest)
				return
			}
			if err := policyStore.ApplySettings(r.Context(), req.Required); err != nil {
				slog.Error("Failed updating policy", "err", err)
				http.Error(w, "failed to update policy", http.StatusInternalServerError)
				return
			}
			render.JSON(w, r, map[string]bool{"required": policyStore.Required()})
		})
	})

	server.Run()
}
