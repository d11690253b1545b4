package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "people.db", cfg.SQLitePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, "@every 1h", cfg.VestingCron)
	assert.Equal(t, 4, cfg.VestingWorkers)
	assert.Equal(t, 500, cfg.VestingBatchSize)
	assert.Equal(t, 3, cfg.PostTerminationExerciseMonths)
	assert.Equal(t, 3, cfg.InsertMaxAttempts)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	// GIVEN: Prefixed environment variables
	t.Setenv("PEOPLE_PORT", "9090")
	t.Setenv("PEOPLE_DB_DRIVER", "Postgres")
	t.Setenv("PEOPLE_DATABASE_URL", "postgres://localhost/people")
	t.Setenv("PEOPLE_LOG_PRETTY", "true")
	t.Setenv("PEOPLE_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("PEOPLE_BASE_CURRENCY", "eur")
	t.Setenv("PEOPLE_VESTING_WORKERS", "8")

	// WHEN: Loading
	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	// THEN: They win over defaults
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/people", cfg.DatabaseURL)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "EUR", cfg.BaseCurrency)
	assert.Equal(t, 8, cfg.VestingWorkers)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PEOPLE_VESTING_CRON=@daily\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PEOPLE_VESTING_CRON") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "@daily", cfg.VestingCron)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"unknown driver", "PEOPLE_DB_DRIVER", "mysql", "DB_DRIVER"},
		{"postgres without url", "PEOPLE_DB_DRIVER", "postgres", "DATABASE_URL"},
		{"bad currency", "PEOPLE_BASE_CURRENCY", "dollars", "BASE_CURRENCY"},
		{"no workers", "PEOPLE_VESTING_WORKERS", "0", "VESTING_WORKERS"},
		{"no attempts", "PEOPLE_INSERT_MAX_ATTEMPTS", "0", "INSERT_MAX_ATTEMPTS"},
		{"bad rate", "PEOPLE_EXCHANGE_RATES", "EUR/USD=abc", "EXCHANGE_RATES"},
		{"bad pair", "PEOPLE_EXCHANGE_RATES", "EURUSD=1.1", "EXCHANGE_RATES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load(noEnvFile(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ExchangeRates(t *testing.T) {
	t.Setenv("PEOPLE_EXCHANGE_RATES", "eur/usd=1.10, GBP/USD=1.27")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	require.Len(t, cfg.ExchangeRates, 2)
	assert.Equal(t, "EUR", cfg.ExchangeRates[0].From)
	assert.Equal(t, "USD", cfg.ExchangeRates[0].To)
	assert.Equal(t, "1.1", cfg.ExchangeRates[0].Rate.String())
	assert.Equal(t, "GBP", cfg.ExchangeRates[1].From)
}
