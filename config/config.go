/*
Package config loads server settings from the environment.

SOURCES (later wins):
  1. Defaults below
  2. A .env file in the working directory, when present
  3. Environment variables prefixed with PEOPLE_ (PEOPLE_PORT, PEOPLE_DB_DRIVER, ...)

Command-line flags in cmd/server override the loaded values.
*/
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds application configuration.
type Config struct {
	Port           string
	DBDriver       string
	SQLitePath     string
	DatabaseURL    string
	LogLevel       string
	LogPretty      bool
	AllowedOrigins []string
	BaseCurrency   string
	ExchangeRates  []ExchangeRate

	// Vesting
	VestingCron                   string
	VestingWorkers                int
	VestingBatchSize              int
	PostTerminationExerciseMonths int
	InsertMaxAttempts             int
}

// ExchangeRate converts one unit of From into To.
type ExchangeRate struct {
	From string
	To   string
	Rate decimal.Decimal
}

// Load reads configuration. envFiles defaults to ".env"; missing files are
// ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetEnvPrefix("PEOPLE")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "people.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("BASE_CURRENCY", "USD")
	v.SetDefault("EXCHANGE_RATES", "")
	v.SetDefault("VESTING_CRON", "@every 1h")
	v.SetDefault("VESTING_WORKERS", 4)
	v.SetDefault("VESTING_BATCH_SIZE", 500)
	v.SetDefault("POST_TERMINATION_EXERCISE_MONTHS", 3)
	v.SetDefault("INSERT_MAX_ATTEMPTS", 3)

	cfg := &Config{
		Port:                          v.GetString("PORT"),
		DBDriver:                      strings.ToLower(v.GetString("DB_DRIVER")),
		SQLitePath:                    v.GetString("SQLITE_PATH"),
		DatabaseURL:                   v.GetString("DATABASE_URL"),
		LogLevel:                      v.GetString("LOG_LEVEL"),
		LogPretty:                     v.GetBool("LOG_PRETTY"),
		AllowedOrigins:                splitList(v.GetString("ALLOWED_ORIGINS")),
		BaseCurrency:                  strings.ToUpper(v.GetString("BASE_CURRENCY")),
		VestingCron:                   v.GetString("VESTING_CRON"),
		VestingWorkers:                v.GetInt("VESTING_WORKERS"),
		VestingBatchSize:              v.GetInt("VESTING_BATCH_SIZE"),
		PostTerminationExerciseMonths: v.GetInt("POST_TERMINATION_EXERCISE_MONTHS"),
		InsertMaxAttempts:             v.GetInt("INSERT_MAX_ATTEMPTS"),
	}
	rates, err := parseRates(v.GetString("EXCHANGE_RATES"))
	if err != nil {
		return nil, err
	}
	cfg.ExchangeRates = rates

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q (want %s or %s)", c.DBDriver, DriverSQLite, DriverPostgres)
	}
	if len(c.BaseCurrency) != 3 {
		return fmt.Errorf("config: BASE_CURRENCY must be a 3-letter code, got %q", c.BaseCurrency)
	}
	if c.VestingWorkers < 1 {
		return fmt.Errorf("config: VESTING_WORKERS must be at least 1")
	}
	if c.VestingBatchSize < 1 {
		return fmt.Errorf("config: VESTING_BATCH_SIZE must be at least 1")
	}
	if c.InsertMaxAttempts < 1 {
		return fmt.Errorf("config: INSERT_MAX_ATTEMPTS must be at least 1")
	}
	if c.PostTerminationExerciseMonths < 0 {
		return fmt.Errorf("config: POST_TERMINATION_EXERCISE_MONTHS cannot be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRates reads "EUR/USD=1.10,GBP/USD=1.27".
func parseRates(s string) ([]ExchangeRate, error) {
	var out []ExchangeRate
	for _, item := range splitList(s) {
		pair, value, ok := strings.Cut(item, "=")
		from, to, okPair := strings.Cut(pair, "/")
		if !ok || !okPair {
			return nil, fmt.Errorf("config: EXCHANGE_RATES entry %q must look like EUR/USD=1.10", item)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("config: EXCHANGE_RATES entry %q has an invalid rate", item)
		}
		out = append(out, ExchangeRate{
			From: strings.ToUpper(strings.TrimSpace(from)),
			To:   strings.ToUpper(strings.TrimSpace(to)),
			Rate: rate,
		})
	}
	return out, nil
}
