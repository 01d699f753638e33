// Package config holds the gateway's runtime configuration, loaded from
// environment variables with cleanenv.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

// GatewayConfig is the top-level gateway configuration.
type GatewayConfig struct {
	// AuthServiceURL is the base URL of the upstream auth service.
	AuthServiceURL string `env:"AUTH_SERVICE_URL" env-default:"http://localhost:4000"`

	// JwtSecret verifies the session tokens issued at login.
	JwtSecret string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`

	// AdminRoles is the comma-separated list of roles treated as privileged.
	AdminRoles string `env:"ADMIN_ROLES" env-default:"admin,superadmin"`

	// RequireTwoFactor seeds the enforcement policy flag before the first
	// settings refresh.
	RequireTwoFactor bool `env:"REQUIRE_TWO_FACTOR" env-default:"false"`

	// StatusRefreshInterval is how often cached 2FA status is considered
	// worth refreshing (ISO 8601 format, e.g. "PT5M", or Go format "5m").
	StatusRefreshInterval string `env:"STATUS_REFRESH_INTERVAL" env-default:"PT5M"`

	// LoginPath and HomePath are the enforcement gate's redirect targets.
	LoginPath string `env:"LOGIN_PATH" env-default:"/login"`
	HomePath  string `env:"HOME_PATH" env-default:"/"`
}

// StoreConfig selects and configures the local store backend.
type StoreConfig struct {
	// Persistence is "file" or "redis".
	Persistence   string `env:"STORE_PERSISTENCE" env-default:"file"`
	DataDir       string `env:"STORE_DATA_DIR" env-default:"./data"`
	RedisAddr     string `env:"STORE_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"STORE_REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"STORE_REDIS_DB" env-default:"0"`
	KeyPrefix     string `env:"STORE_KEY_PREFIX" env-default:"twofa-gateway"`
}

// ParseAdminRoles splits the configured role list.
func (c *GatewayConfig) ParseAdminRoles() []string {
	parts := strings.Split(c.AdminRoles, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

// ParseStatusRefreshInterval parses the refresh interval setting.
func (c *GatewayConfig) ParseStatusRefreshInterval() (time.Duration, error) {
	d, err := parseISO8601OrGoDuration(c.StatusRefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid status refresh interval %q: %w", c.StatusRefreshInterval, err)
	}
	return d, nil
}

// parseISO8601OrGoDuration tries to parse as ISO 8601 first, then as Go duration
func parseISO8601OrGoDuration(s string) (time.Duration, error) {
	isoDuration, err := duration.Parse(s)
	if err == nil {
		return isoDuration.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}
