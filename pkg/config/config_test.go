package config

import (
	"testing"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayConfig_Defaults(t *testing.T) {
	var cfg GatewayConfig
	require.NoError(t, cleanenv.ReadEnv(&cfg))

	assert.Equal(t, "http://localhost:4000", cfg.AuthServiceURL)
	assert.False(t, cfg.RequireTwoFactor)
	assert.Equal(t, "/login", cfg.LoginPath)
	assert.Equal(t, "/", cfg.HomePath)
}

func TestGatewayConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AUTH_SERVICE_URL", "http://auth.internal:8080")
	t.Setenv("REQUIRE_TWO_FACTOR", "true")
	t.Setenv("ADMIN_ROLES", "ops, admin ,")

	var cfg GatewayConfig
	require.NoError(t, cleanenv.ReadEnv(&cfg))

	assert.Equal(t, "http://auth.internal:8080", cfg.AuthServiceURL)
	assert.True(t, cfg.RequireTwoFactor)
	assert.Equal(t, []string{"ops", "admin"}, cfg.ParseAdminRoles())
}

func TestGatewayConfig_ParseStatusRefreshInterval(t *testing.T) {
	tests := []struct {
		value   string
		want    time.Duration
		wantErr bool
	}{
		{value: "PT5M", want: 5 * time.Minute},
		{value: "PT1H30M", want: 90 * time.Minute},
		{value: "5m", want: 5 * time.Minute},
		{value: "90s", want: 90 * time.Second},
		{value: "not-a-duration", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			cfg := GatewayConfig{StatusRefreshInterval: tc.value}
			got, err := cfg.ParseStatusRefreshInterval()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
