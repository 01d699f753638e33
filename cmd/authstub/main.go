package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/rentstack/twofa-gateway/pkg/authstub"
)

type Config struct {
	Addr         string `env:"AUTHSTUB_ADDR" env-default:":4000"`
	JwtSecret    string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	SeedUsername string `env:"AUTHSTUB_SEED_USERNAME" env-default:"admin@example.com"`
	SeedPassword string `env:"AUTHSTUB_SEED_PASSWORD" env-default:"pwd"`
	SeedRole     string `env:"AUTHSTUB_SEED_ROLE" env-default:"admin"`
}

// Runs the in-memory auth service for local development of the gateway.
func main() {
	config := Config{}
	cleanenv.ReadEnv(&config)

	stub := authstub.NewServer(authstub.WithJWTSecret([]byte(config.JwtSecret)))
	id, token, err := stub.AddAccount(config.SeedUsername, config.SeedPassword, config.SeedRole)
	if err != nil {
		slog.Error("Failed seeding account", "err", err)
		os.Exit(-1)
	}
	slog.Info("Seeded account", "id", id, "username", config.SeedUsername, "token", token)

	slog.Info("Auth stub listening", "addr", config.Addr)
	if err := http.ListenAndServe(config.Addr, stub.Handler()); err != nil {
		slog.Error("Server failed", "err", err)
		os.Exit(-1)
	}
}
