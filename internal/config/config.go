// Package config provides configuration loading and management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/lp-rewards-agent/internal/types"
)

// Anchor policies for position time-weighting
const (
	AnchorFirst = "first"
	AnchorLast  = "last"
)

// Settlement modes
const (
	SettlementCCTP       = "cctp"
	SettlementAttestOnly = "attest-only"
)

// Store backends
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Event store
	StoreBackend string `yaml:"store_backend"`
	StorePath    string `yaml:"store_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`

	// Treasury signer and the chain its USDC balance lives on
	TreasuryPrivateKey string               `yaml:"treasury_private_key"`
	TreasuryChain      types.SupportedChain `yaml:"treasury_chain"`

	Chains map[types.SupportedChain]types.ChainConfig `yaml:"chains"`

	// Reward math
	AnchorPolicy     string `yaml:"anchor_policy"`
	SubtractRemovals bool   `yaml:"subtract_removals"`

	// Settlement
	SettlementMode          string        `yaml:"settlement_mode"`
	AttestationURL          string        `yaml:"attestation_url"`
	AttestationPollInterval time.Duration `yaml:"attestation_poll_interval"`
	AttestationMaxAttempts  int           `yaml:"attestation_max_attempts"`
	ClaimResponseWait       time.Duration `yaml:"claim_response_wait"`
	BurnConfirmTimeout      time.Duration `yaml:"burn_confirm_timeout"`
	BlockConfirmations      int           `yaml:"block_confirmations"`
	StorageRetryMaxElapsed  time.Duration `yaml:"storage_retry_max_elapsed"`

	// Circuit breaker around the attestation service
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitResetDelay       time.Duration `yaml:"circuit_reset_delay"`

	// Listener
	ListenerBackfillBlocks uint64 `yaml:"listener_backfill_blocks"`

	// HTTP API
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	RateLimitRPS          float64       `yaml:"rate_limit_rps"`
	RateLimitBurst        int           `yaml:"rate_limit_burst"`
	RequireClaimSignature bool          `yaml:"require_claim_signature"`
	SignatureMaxAge       time.Duration `yaml:"signature_max_age"`

	// Claim notifications
	WebhookURL      string        `yaml:"webhook_url"`
	WebhookAPIKey   string        `yaml:"webhook_api_key"`
	NotifyBatchSize int           `yaml:"notify_batch_size"`
	NotifyInterval  time.Duration `yaml:"notify_interval"`

	// OpenTelemetry endpoint for observability
	OtelEndpoint string `yaml:"otel_endpoint"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Port:                    "3001",
		LogLevel:                "info",
		LogFormat:               "text",
		StoreBackend:            StoreFile,
		StorePath:               "data/store.json",
		TreasuryChain:           types.ChainSepolia,
		Chains:                  types.DefaultChains(),
		AnchorPolicy:            AnchorFirst,
		SettlementMode:          SettlementCCTP,
		AttestationURL:          "https://iris-api-sandbox.circle.com/v1",
		AttestationPollInterval: 20 * time.Second,
		AttestationMaxAttempts:  60,
		ClaimResponseWait:       60 * time.Second,
		BurnConfirmTimeout:      2 * time.Minute,
		BlockConfirmations:      1,
		StorageRetryMaxElapsed:  30 * time.Second,
		CircuitFailureThreshold: 5,
		CircuitResetDelay:       time.Minute,
		RequestTimeout:          15 * time.Second,
		RateLimitRPS:            2,
		RateLimitBurst:          5,
		SignatureMaxAge:         10 * time.Minute,
		NotifyBatchSize:         20,
		NotifyInterval:          30 * time.Second,
	}
}

// Validate checks the cross-field constraints of the configuration
func (c Config) Validate() error {
	switch c.AnchorPolicy {
	case AnchorFirst, AnchorLast:
	default:
		return fmt.Errorf("invalid anchor policy %q", c.AnchorPolicy)
	}
	switch c.SettlementMode {
	case SettlementCCTP, SettlementAttestOnly:
	default:
		return fmt.Errorf("invalid settlement mode %q", c.SettlementMode)
	}
	switch c.StoreBackend {
	case StoreFile:
		if c.StorePath == "" {
			return fmt.Errorf("store path required for file backend")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres dsn required for postgres backend")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store backend %q", c.StoreBackend)
	}
	treasury, ok := c.Chains[c.TreasuryChain]
	if !ok || !treasury.Enabled {
		return fmt.Errorf("treasury chain %q is not an enabled chain", c.TreasuryChain)
	}
	if c.AttestationPollInterval <= 0 || c.AttestationMaxAttempts <= 0 {
		return fmt.Errorf("attestation polling needs a positive interval and attempt count")
	}
	return nil
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsUint64 retrieves an environment variable as an unsigned integer with a default value
func GetEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value, exists := GetEnv(key); exists {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a bool with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func envPrefix(tag types.SupportedChain) string {
	return "CHAIN_" + strings.ToUpper(strings.ReplaceAll(string(tag), "-", "_")) + "_"
}
