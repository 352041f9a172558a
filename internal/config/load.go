package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/lp-rewards-agent/internal/types"
)

// Load builds the configuration from defaults, an optional YAML file and the environment,
// in that order of precedence (environment wins).
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileData, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
		logrus.Infof("Loaded configuration from %s", configPath)
	}

	applyEnvOverrides(&cfg)
	loadChainsFromEnv(&cfg)

	for tag, c := range cfg.Chains {
		if c.Tag == "" {
			c.Tag = tag
			cfg.Chains[tag] = c
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the loaded configuration
func applyEnvOverrides(cfg *Config) {
	cfg.Port = GetEnvOrDefault("PORT", cfg.Port)
	cfg.LogLevel = GetEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = GetEnvOrDefault("LOG_FORMAT", cfg.LogFormat)

	cfg.StoreBackend = strings.ToLower(GetEnvOrDefault("STORE_BACKEND", cfg.StoreBackend))
	cfg.StorePath = GetEnvOrDefault("STORE_PATH", cfg.StorePath)
	cfg.PostgresDSN = GetEnvOrDefault("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.TreasuryPrivateKey = GetEnvOrDefault("TREASURY_PRIVATE_KEY", cfg.TreasuryPrivateKey)
	cfg.TreasuryChain = types.SupportedChain(strings.ToLower(GetEnvOrDefault("TREASURY_CHAIN", string(cfg.TreasuryChain))))

	cfg.AnchorPolicy = strings.ToLower(GetEnvOrDefault("ANCHOR_POLICY", cfg.AnchorPolicy))
	cfg.SubtractRemovals = GetEnvAsBool("SUBTRACT_REMOVALS", cfg.SubtractRemovals)

	cfg.SettlementMode = strings.ToLower(GetEnvOrDefault("SETTLEMENT_MODE", cfg.SettlementMode))
	cfg.AttestationURL = GetEnvOrDefault("ATTESTATION_URL", cfg.AttestationURL)
	cfg.AttestationPollInterval = GetEnvAsDuration("ATTESTATION_POLL_INTERVAL", cfg.AttestationPollInterval)
	cfg.AttestationMaxAttempts = GetEnvAsInt("ATTESTATION_MAX_ATTEMPTS", cfg.AttestationMaxAttempts)
	cfg.ClaimResponseWait = GetEnvAsDuration("CLAIM_RESPONSE_WAIT", cfg.ClaimResponseWait)
	cfg.BurnConfirmTimeout = GetEnvAsDuration("CLAIM_BURN_CONFIRM_TIMEOUT", cfg.BurnConfirmTimeout)
	cfg.BlockConfirmations = GetEnvAsInt("BLOCK_CONFIRMATIONS", cfg.BlockConfirmations)
	cfg.StorageRetryMaxElapsed = GetEnvAsDuration("STORAGE_RETRY_MAX_ELAPSED", cfg.StorageRetryMaxElapsed)

	cfg.CircuitFailureThreshold = GetEnvAsInt("CIRCUIT_FAILURE_THRESHOLD", cfg.CircuitFailureThreshold)
	cfg.CircuitResetDelay = GetEnvAsDuration("CIRCUIT_RESET_DELAY", cfg.CircuitResetDelay)

	cfg.ListenerBackfillBlocks = GetEnvAsUint64("LISTENER_BACKFILL_BLOCKS", cfg.ListenerBackfillBlocks)

	cfg.RequestTimeout = GetEnvAsDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RateLimitRPS = GetEnvAsFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = GetEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.RequireClaimSignature = GetEnvAsBool("REQUIRE_CLAIM_SIGNATURE", cfg.RequireClaimSignature)
	cfg.SignatureMaxAge = GetEnvAsDuration("SIGNATURE_MAX_AGE", cfg.SignatureMaxAge)

	cfg.WebhookURL = GetEnvOrDefault("WEBHOOK_URL", cfg.WebhookURL)
	cfg.WebhookAPIKey = GetEnvOrDefault("WEBHOOK_API_KEY", cfg.WebhookAPIKey)
	cfg.NotifyBatchSize = GetEnvAsInt("NOTIFY_BATCH_SIZE", cfg.NotifyBatchSize)
	cfg.NotifyInterval = GetEnvAsDuration("NOTIFY_INTERVAL", cfg.NotifyInterval)

	cfg.OtelEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OtelEndpoint)
}

// loadChainsFromEnv overlays CHAIN_<TAG>_* variables on every known chain and on any
// extra chain named in SUPPORTED_CHAINS
func loadChainsFromEnv(cfg *Config) {
	if cfg.Chains == nil {
		cfg.Chains = make(map[types.SupportedChain]types.ChainConfig)
	}

	if raw := os.Getenv("SUPPORTED_CHAINS"); raw != "" {
		wanted := make(map[types.SupportedChain]bool)
		for _, name := range strings.Split(raw, ",") {
			tag := types.SupportedChain(strings.ToLower(strings.TrimSpace(name)))
			if tag == "" {
				continue
			}
			wanted[tag] = true
			if _, ok := cfg.Chains[tag]; !ok {
				cfg.Chains[tag] = types.ChainConfig{Tag: tag, Name: string(tag), Enabled: true}
			}
		}
		for tag, c := range cfg.Chains {
			if !wanted[tag] {
				c.Enabled = false
				cfg.Chains[tag] = c
			}
		}
	}

	for tag, c := range cfg.Chains {
		prefix := envPrefix(tag)
		c.Enabled = GetEnvAsBool(prefix+"ENABLED", c.Enabled)
		c.Name = GetEnvOrDefault(prefix+"NAME", c.Name)
		c.ChainID = int64(GetEnvAsInt(prefix+"CHAIN_ID", int(c.ChainID)))
		c.RPCEndpoint = GetEnvOrDefault(prefix+"RPC_ENDPOINT", c.RPCEndpoint)
		c.WSEndpoint = GetEnvOrDefault(prefix+"WS_ENDPOINT", c.WSEndpoint)
		c.HookAddress = GetEnvOrDefault(prefix+"HOOK_ADDRESS", c.HookAddress)
		c.USDCAddress = GetEnvOrDefault(prefix+"USDC_ADDRESS", c.USDCAddress)
		c.TokenMessenger = GetEnvOrDefault(prefix+"TOKEN_MESSENGER", c.TokenMessenger)
		c.MessageTransmitter = GetEnvOrDefault(prefix+"MESSAGE_TRANSMITTER", c.MessageTransmitter)
		c.CCTPDomain = uint32(GetEnvAsInt(prefix+"CCTP_DOMAIN", int(c.CCTPDomain)))
		cfg.Chains[tag] = c
	}
}
