package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port            string
	Environment     string
	OTelServiceName string
	OTelEndpoint    string

	LedgerBackend  string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	SweepInterval time.Duration
	GracePeriod   time.Duration

	Scorer           string
	ScorerSeed       uint64
	LevelPreferences string

	Rates       map[string]float64
	DefaultRate float64

	SlotsFile         string
	SeedLevels        []string
	SeedSlotsPerLevel int
}

// Load reads the configuration from the environment. Malformed values are
// reported rather than replaced by defaults.
func Load() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Port:            envOr("APP_PORT", "8080"),
		Environment:     envOr("ENVIRONMENT", "development"),
		OTelServiceName: envOr("OTEL_SERVICE_NAME", "parking-allocator"),
		OTelEndpoint:    envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),

		LedgerBackend:  strings.ToLower(envOr("LEDGER_BACKEND", BackendMemory)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisKeyPrefix: envOr("REDIS_KEY_PREFIX", "parking"),

		Scorer:           envOr("SCORER", "best-fit"),
		LevelPreferences: os.Getenv("ROLE_LEVEL_PREFERENCES"),

		SlotsFile:  os.Getenv("SLOTS_FILE"),
		SeedLevels: splitList(envOr("SEED_LEVELS", "L1,L2,L3")),
	}

	var err error
	cfg.RedisDB, err = envOrInt("REDIS_DB", 0)
	collect(err)
	cfg.SweepInterval, err = envOrDuration("SWEEP_INTERVAL", time.Minute)
	collect(err)
	cfg.GracePeriod, err = envOrDuration("BOOKING_GRACE_PERIOD", 30*time.Minute)
	collect(err)
	cfg.ScorerSeed, err = envOrUint("SCORER_SEED", 42)
	collect(err)
	cfg.DefaultRate, err = envOrFloat("DEFAULT_RATE", 60)
	collect(err)
	cfg.SeedSlotsPerLevel, err = envOrInt("SEED_SLOTS_PER_LEVEL", 10)
	collect(err)
	cfg.Rates, err = parseRates(os.Getenv("PARKING_RATES"))
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.LedgerBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND %q: expected memory, postgres or redis", c.LedgerBackend))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval))
	}
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("BOOKING_GRACE_PERIOD must not be negative, got %s", c.GracePeriod))
	}
	if c.DefaultRate < 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_RATE must not be negative, got %v", c.DefaultRate))
	}
	if c.SeedSlotsPerLevel < 0 {
		errs = append(errs, fmt.Errorf("SEED_SLOTS_PER_LEVEL must not be negative, got %d", c.SeedSlotsPerLevel))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envOrInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}

func envOrUint(key string, fallback uint64) (uint64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	u, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return u, nil
}

func envOrDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRates reads "role=rate,role=rate".
func parseRates(raw string) (map[string]float64, error) {
	rates := make(map[string]float64)
	for _, entry := range splitList(raw) {
		role, value, ok := strings.Cut(entry, "=")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("PARKING_RATES: entry %q, expected role=rate", entry)
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || rate < 0 {
			return nil, fmt.Errorf("PARKING_RATES: invalid rate for %s: %q", role, value)
		}
		rates[role] = rate
	}
	return rates, nil
}
