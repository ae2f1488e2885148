package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("JWT_SECRET", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "staging")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestValidateAllowsDevDefaults(t *testing.T) {
	cfg := &Config{Environment: "development", JWTSecret: "launchforge-dev-secret"}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsDevSecretInProduction(t *testing.T) {
	cfg := &Config{Environment: "production", JWTSecret: "launchforge-dev-secret"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidateRejectsShortSecretInProduction(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgresql://example")

	cfg := &Config{Environment: "production", JWTSecret: "short"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}

func TestValidateAcceptsStrongProductionConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgresql://example")

	cfg := &Config{Environment: "production", JWTSecret: strings.Repeat("k", 48)}
	assert.NoError(t, cfg.Validate())
}
