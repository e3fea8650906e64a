package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LotteryLedger/internal/config"
)

// isolate runs the test from an empty directory so no .env or
// config/lotteryledger.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, int64(100_000), cfg.SnapshotInterval)
	assert.Equal(t, config.ClockSystem, cfg.Clock)

	units, err := cfg.FaucetUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(1000_000_000), units)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("LOTTO_PERSIST_BATCH_SIZE", "7")
	t.Setenv("LOTTO_PERSIST_FLUSH_TIMEOUT", "250ms")
	t.Setenv("LOTTO_RESOLVER", "oracle")
	t.Setenv("LOTTO_FAUCET_AMOUNT", "12.5")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.PersistBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, "oracle", cfg.Resolver)

	units, err := cfg.FaucetUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(12_500_000), units)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grpc_addr: \":7000\"\nhttp_addr: \":7001\"\nclock: manual\nclock_start: 1700000000\n"), 0o600))
	t.Setenv("LOTTO_HTTP_ADDR", ":7101")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.GRPCAddr)
	assert.Equal(t, ":7101", cfg.HTTPAddr, "environment wins over the file")
	assert.Equal(t, config.ClockManual, cfg.Clock)
	assert.Equal(t, int64(1_700_000_000), cfg.ClockStart)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOTTO_METRICS_ADDR=:9999\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LOTTO_METRICS_ADDR") })

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.MetricsAddr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := config.Load("does-not-exist.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		errSub string
	}{
		{"bad clock", map[string]string{"LOTTO_CLOCK": "sundial"}, "clock must be"},
		{"system resolver", map[string]string{"LOTTO_RESOLVER": "system:market"}, "must be a user account"},
		{"zero faucet", map[string]string{"LOTTO_FAUCET_AMOUNT": "0"}, "faucet_amount must be positive"},
		{"garbage faucet", map[string]string{"LOTTO_FAUCET_AMOUNT": "lots"}, "faucet_amount"},
		{"zero batch", map[string]string{"LOTTO_PERSIST_BATCH_SIZE": "0"}, "persist_batch_size must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}
