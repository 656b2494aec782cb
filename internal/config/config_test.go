package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultOracleTimeout, cfg.OracleTimeout)
	assert.Equal(t, DefaultDetectorInterval, cfg.DetectorInterval)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
}

func TestLoad_Durations(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "ORACLE_TIMEOUT", "1500ms")
	setEnv(t, "DETECTOR_INTERVAL", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, cfg.OracleTimeout)
	assert.Equal(t, 2*time.Minute, cfg.DetectorInterval)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:              "8080",
			Env:               "development",
			OracleTimeout:     DefaultOracleTimeout,
			DetectorInterval:  DefaultDetectorInterval,
			EscalatorInterval: DefaultEscalatorInterval,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty port",
			mutate:  func(c *Config) { c.Port = "" },
			wantErr: "PORT",
		},
		{
			name:    "non-positive oracle timeout",
			mutate:  func(c *Config) { c.OracleTimeout = 0 },
			wantErr: "ORACLE_TIMEOUT",
		},
		{
			name:    "detector interval too small",
			mutate:  func(c *Config) { c.DetectorInterval = time.Second },
			wantErr: "DETECTOR_INTERVAL",
		},
		{
			name:    "escalator interval too small",
			mutate:  func(c *Config) { c.EscalatorInterval = 30 * time.Second },
			wantErr: "ESCALATOR_INTERVAL",
		},
		{
			name:    "production without admin secret",
			mutate:  func(c *Config) { c.Env = "production" },
			wantErr: "ADMIN_SECRET",
		},
		{
			name: "production with admin secret",
			mutate: func(c *Config) {
				c.Env = "production"
				c.AdminSecret = "s3cret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "45s")
	setEnv(t, "TEST_DUR_INVALID", "soon")

	assert.Equal(t, 45*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_INVALID", time.Minute))
}
