package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/lp-rewards-agent/internal/types"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, AnchorFirst, cfg.AnchorPolicy)
	assert.False(t, cfg.SubtractRemovals)
	assert.Equal(t, SettlementCCTP, cfg.SettlementMode)
	assert.Equal(t, 60, cfg.AttestationMaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.AttestationPollInterval)
	assert.Equal(t, uint64(0), cfg.ListenerBackfillBlocks)
	assert.Contains(t, cfg.Chains, types.ChainSepolia)
	assert.Contains(t, cfg.Chains, types.ChainBaseSepolia)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ANCHOR_POLICY", "LAST")
	t.Setenv("SUBTRACT_REMOVALS", "true")
	t.Setenv("ATTESTATION_POLL_INTERVAL", "5s")
	t.Setenv("CHAIN_BASE_SEPOLIA_HOOK_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("CHAIN_SEPOLIA_WS_ENDPOINT", "wss://example.invalid")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, AnchorLast, cfg.AnchorPolicy)
	assert.True(t, cfg.SubtractRemovals)
	assert.Equal(t, 5*time.Second, cfg.AttestationPollInterval)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", cfg.Chains[types.ChainBaseSepolia].HookAddress)
	assert.Equal(t, "wss://example.invalid", cfg.Chains[types.ChainSepolia].WSEndpoint)
}

func TestLoad_SupportedChainsDisablesOthers(t *testing.T) {
	t.Setenv("SUPPORTED_CHAINS", "sepolia")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Chains[types.ChainSepolia].Enabled)
	assert.False(t, cfg.Chains[types.ChainBaseSepolia].Enabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := `
port: "9090"
store_backend: memory
settlement_mode: attest-only
attestation_max_attempts: 3
claim_response_wait: 2s
burn_confirm_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, SettlementAttestOnly, cfg.SettlementMode)
	assert.Equal(t, 3, cfg.AttestationMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.ClaimResponseWait)
	assert.Equal(t, 45*time.Second, cfg.BurnConfirmTimeout)
	// chains not mentioned in the file keep their defaults
	assert.Equal(t, int64(11155111), cfg.Chains[types.ChainSepolia].ChainID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad anchor", func(c *Config) { c.AnchorPolicy = "middle" }, true},
		{"bad mode", func(c *Config) { c.SettlementMode = "wormhole" }, true},
		{"postgres without dsn", func(c *Config) { c.StoreBackend = StorePostgres }, true},
		{"unknown treasury chain", func(c *Config) { c.TreasuryChain = "mainnet" }, true},
		{"zero attempts", func(c *Config) { c.AttestationMaxAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
