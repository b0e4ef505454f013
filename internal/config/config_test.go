package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
mode = "serve"

[ledger]
owner_address = "0x1111111111111111111111111111111111111111"

[escrow]
timeout = "5m"

[server]
port = 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0x1111111111111111111111111111111111111111", cfg.Ledger.OwnerAddress)
	assert.Equal(t, 5*time.Minute, cfg.Escrow.Timeout.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Untouched fields keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeTempConfig(t, `
[ledger]
owner_address = "0x1111111111111111111111111111111111111111"

[server]
port = 9090
`)
	t.Setenv("ESCROWD_SERVER_PORT", "7777")
	t.Setenv("ESCROWD_ESCROW_TIMEOUT", "90s")
	t.Setenv("ESCROWD_LEDGER_SEED_ACCOUNTS", "0x2222222222222222222222222222222222222222, 0x3333333333333333333333333333333333333333")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Escrow.Timeout.Duration)
	assert.Len(t, cfg.Ledger.SeedAccounts, 2)
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Escrow.Timeout.Duration = 0
	cfg.Server.Port = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode must be one of")
	assert.Contains(t, err.Error(), "log_level must be one of")
	assert.Contains(t, err.Error(), "escrow.timeout must be positive")
	assert.Contains(t, err.Error(), "server.port must be between")
}

func TestValidateRequiresOwnerIdentity(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.owner_address is required")

	cfg.Ledger.OwnerAddress = "0x1111111111111111111111111111111111111111"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := Defaults()
	cfg.Ledger.OwnerAddress = "not-an-address"
	cfg.Ledger.SeedAccounts = []string{"0xzz"}
	cfg.Escrow.Address = "also-bad"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.owner_address is not a valid hex address")
	assert.Contains(t, err.Error(), "seed_accounts contains invalid address")
	assert.Contains(t, err.Error(), "escrow.address is not a valid hex address")
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Server.APIKey = "hunter2"
	cfg.Notify.WebhookURL = "https://backend.example.com/hooks/secret-token"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.WebhookURL)

	// The original is untouched.
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	// Mutating the redacted copy's slices must not leak back.
	red.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "*", cfg.Server.CORSOrigins[0])
}
