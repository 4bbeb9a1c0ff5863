package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "parking-allocator", cfg.OTelServiceName)
	assert.Equal(t, "http://localhost:4318", cfg.OTelEndpoint)
	assert.Equal(t, BackendMemory, cfg.LedgerBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "parking", cfg.RedisKeyPrefix)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 30*time.Minute, cfg.GracePeriod)
	assert.Equal(t, "best-fit", cfg.Scorer)
	assert.Equal(t, uint64(42), cfg.ScorerSeed)
	assert.InDelta(t, 60.0, cfg.DefaultRate, 0.001)
	assert.Empty(t, cfg.Rates)
	assert.Equal(t, []string{"L1", "L2", "L3"}, cfg.SeedLevels)
	assert.Equal(t, 10, cfg.SeedSlotsPerLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("LEDGER_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/parking")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("BOOKING_GRACE_PERIOD", "0s")
	t.Setenv("SCORER", "rotation")
	t.Setenv("SCORER_SEED", "7")
	t.Setenv("PARKING_RATES", "guest=60, official=30")
	t.Setenv("SEED_LEVELS", "B1, B2")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.LedgerBackend)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Zero(t, cfg.GracePeriod)
	assert.Equal(t, "rotation", cfg.Scorer)
	assert.Equal(t, uint64(7), cfg.ScorerSeed)
	assert.Equal(t, map[string]float64{"guest": 60, "official": 30}, cfg.Rates)
	assert.Equal(t, []string{"B1", "B2"}, cfg.SeedLevels)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestInvalidValuesAreErrors(t *testing.T) {
	tests := map[string][2]string{
		"bad duration":      {"SWEEP_INTERVAL", "soon"},
		"zero interval":     {"SWEEP_INTERVAL", "0s"},
		"negative grace":    {"BOOKING_GRACE_PERIOD", "-1m"},
		"bad seed":          {"SCORER_SEED", "-3"},
		"bad rate":          {"PARKING_RATES", "guest=free"},
		"bad rate entry":    {"PARKING_RATES", "guest"},
		"bad backend":       {"LEDGER_BACKEND", "etcd"},
		"postgres no url":   {"LEDGER_BACKEND", "postgres"},
		"bad default rate":  {"DEFAULT_RATE", "abc"},
		"bad slots a level": {"SEED_SLOTS_PER_LEVEL", "many"},
	}

	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			os.Clearenv()
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
