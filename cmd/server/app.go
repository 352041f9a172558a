package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/aggregate"
	"github.com/yourorg/lp-rewards-agent/internal/chain"
	"github.com/yourorg/lp-rewards-agent/internal/circuitbreaker"
	"github.com/yourorg/lp-rewards-agent/internal/claims"
	"github.com/yourorg/lp-rewards-agent/internal/config"
	"github.com/yourorg/lp-rewards-agent/internal/fetch"
	"github.com/yourorg/lp-rewards-agent/internal/listener"
	"github.com/yourorg/lp-rewards-agent/internal/notify"
	"github.com/yourorg/lp-rewards-agent/internal/otel"
	"github.com/yourorg/lp-rewards-agent/internal/query"
	"github.com/yourorg/lp-rewards-agent/internal/rewards"
	"github.com/yourorg/lp-rewards-agent/internal/security"
	"github.com/yourorg/lp-rewards-agent/internal/settlement"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
	"github.com/yourorg/lp-rewards-agent/internal/storage/file"
	"github.com/yourorg/lp-rewards-agent/internal/storage/memory"
	"github.com/yourorg/lp-rewards-agent/internal/storage/migrations"
	"github.com/yourorg/lp-rewards-agent/internal/storage/postgres"
	"github.com/yourorg/lp-rewards-agent/internal/types"
	"github.com/yourorg/lp-rewards-agent/internal/validation"
)

type appMode int

const (
	// appReadOnly connects the treasury chain only, for one-shot commands
	appReadOnly appMode = iota
	appServe
)

// app owns every long-lived component and closes them in reverse order
type app struct {
	cfg      config.Config
	registry *types.Registry
	store    storage.Store
	clients  map[int64]*chain.Client

	query        *query.Service
	breaker      *circuitbreaker.CircuitBreaker
	orchestrator *claims.Orchestrator
	listener     *listener.Listener
	notifier     *notify.WebhookNotifier

	shutdownTracer func()
}

func newApp(ctx context.Context, cfg config.Config, mode appMode) (*app, error) {
	a := &app{cfg: cfg, clients: make(map[int64]*chain.Client), shutdownTracer: func() {}}
	if err := a.build(ctx, mode); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, mode appMode) error {
	cfg := a.cfg
	var err error

	a.registry, err = types.NewRegistry(cfg.Chains)
	if err != nil {
		return fmt.Errorf("chain registry: %w", err)
	}
	treasuryChain, _ := a.registry.ByTag(cfg.TreasuryChain)

	key, err := chain.ParsePrivateKey(cfg.TreasuryPrivateKey)
	if err != nil {
		return fmt.Errorf("treasury key: %w", err)
	}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return err
	}

	for _, c := range a.registry.All() {
		if mode == appReadOnly && c.ChainID != treasuryChain.ChainID {
			continue
		}
		client := chain.NewClient(chain.ClientConfig{
			Chain:              c,
			BlockConfirmations: cfg.BlockConfirmations,
		}, key)
		if err := client.Connect(ctx); err != nil {
			if c.ChainID == treasuryChain.ChainID {
				return fmt.Errorf("connect treasury chain: %w", err)
			}
			logrus.WithError(err).WithField("chain", c.Tag).Warn("Chain unavailable, claims to it will fail until restart")
			continue
		}
		a.clients[c.ChainID] = client
	}
	source := a.clients[treasuryChain.ChainID]

	token := chain.NewToken(common.HexToAddress(treasuryChain.USDCAddress), source.Backend())
	treasury := chain.NewTreasury(token, source.Address())
	opts := aggregate.Options{
		Anchor:           aggregate.ParseAnchorPolicy(cfg.AnchorPolicy),
		SubtractRemovals: cfg.SubtractRemovals,
	}
	calc := rewards.NewCalculator(a.store, treasury, opts)
	a.query = query.NewService(a.store, calc, a.registry, treasuryChain, treasury.Address().Hex(), opts)

	if mode == appReadOnly {
		return nil
	}

	a.shutdownTracer = otel.InitTracer(cfg.OtelEndpoint)

	a.breaker = circuitbreaker.New("attestation", cfg.CircuitFailureThreshold).
		WithResetDelay(cfg.CircuitResetDelay).
		WithTripCallback(func(name string, lastErr error) {
			logrus.WithError(lastErr).Warnf("Circuit breaker %s tripped", name)
		})
	attestations := fetch.NewAttestationClient(cfg.AttestationURL, a.breaker, fetch.WithTimeout(cfg.RequestTimeout))

	destinations := make(map[int64]*chain.Client)
	for id, client := range a.clients {
		if id != treasuryChain.ChainID {
			destinations[id] = client
		}
	}
	backend := settlement.NewCCTPBackend(settlement.CCTPConfig{
		Source:       source,
		Destinations: destinations,
		Attestations: attestations,
		Poll: settlement.PollConfig{
			Interval:    cfg.AttestationPollInterval,
			MaxAttempts: cfg.AttestationMaxAttempts,
		},
		MintOnDestination: cfg.SettlementMode == config.SettlementCCTP,
	})

	orchOpts := []claims.Option{
		claims.WithMetrics(claims.NewMetrics(prometheus.DefaultRegisterer)),
		claims.WithVerifier(security.NewClaimVerifier(security.VerificationOptions{
			Required: cfg.RequireClaimSignature,
			MaxAge:   cfg.SignatureMaxAge,
		})),
	}
	if cfg.WebhookURL != "" {
		a.notifier = notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:       cfg.WebhookURL,
			APIKey:    cfg.WebhookAPIKey,
			BatchSize: cfg.NotifyBatchSize,
			Interval:  cfg.NotifyInterval,
			RetryMax:  3,
		})
		orchOpts = append(orchOpts, claims.WithNotifier(a.notifier))
	}

	a.orchestrator = claims.New(a.store, calc, backend, claims.Config{
		TreasuryChain:          treasuryChain,
		Chains:                 a.registry,
		ResponseWait:           cfg.ClaimResponseWait,
		BurnConfirmTimeout:     cfg.BurnConfirmTimeout,
		StorageRetryMaxElapsed: cfg.StorageRetryMaxElapsed,
	}, orchOpts...)

	a.listener = listener.New(a.watchers()...)

	logrus.WithFields(logrus.Fields{
		"treasury":       treasury.Address().Hex(),
		"treasury_chain": treasuryChain.Tag,
		"chains":         len(a.clients),
		"store":          cfg.StoreBackend,
		"settlement":     backend.Name(),
		"anchor_policy":  opts.Anchor.String(),
	}).Info("Agent initialized")
	return nil
}

func (a *app) watchers() []*listener.Watcher {
	expected := make(map[string]int64)
	for _, c := range a.registry.All() {
		expected[string(c.Tag)] = c.ChainID
	}
	vopts := validation.DefaultValidationOptions()
	vopts.ExpectedChainIDs = expected

	metrics := listener.NewMetrics(prometheus.DefaultRegisterer)
	var out []*listener.Watcher
	for _, c := range a.registry.All() {
		client, ok := a.clients[c.ChainID]
		if !ok {
			continue
		}
		if !client.HasWS() || c.HookAddress == "" {
			logrus.WithField("chain", c.Tag).Info("No WebSocket endpoint or hook address, not listening")
			continue
		}
		out = append(out, listener.NewWatcher(listener.WatcherConfig{
			Chain:          c,
			BackfillBlocks: a.cfg.ListenerBackfillBlocks,
			ReconnectBase:  2 * time.Second,
			ReconnectMax:   time.Minute,
			Validation:     vopts,
		}, listener.ClientConnector(client), a.store, metrics))
	}
	return out
}

// Close stops components in reverse start order. It is safe on a partially built app.
func (a *app) Close() {
	if a.listener != nil {
		a.listener.Stop()
	}
	if a.orchestrator != nil {
		a.orchestrator.Close()
	}
	if a.notifier != nil {
		a.notifier.Close()
	}
	for _, c := range a.clients {
		c.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close store")
		}
	}
	a.shutdownTracer()
}

// openStore opens the configured store backend
func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logrus.Warn("Using in-memory store, state is lost on restart")
		return memory.New(), nil
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return postgres.NewStore(pool), nil
	default:
		s, err := file.Open(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	}
}
