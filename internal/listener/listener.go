// Package listener subscribes to the hook contract on every enabled chain and
// appends decoded liquidity events to the store.
package listener

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/chain"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
	"github.com/yourorg/lp-rewards-agent/internal/types"
	"github.com/yourorg/lp-rewards-agent/internal/validation"
)

const (
	defaultReconnectBase = 2 * time.Second
	defaultReconnectMax  = 60 * time.Second
	logChannelBuffer     = 64
)

// LogSource is the subset of an ethclient the watcher needs
type LogSource interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Connector hands out the current subscription connection and redials it after a drop
type Connector interface {
	Source() LogSource
	Reconnect(ctx context.Context) error
}

// ClientConnector adapts a chain client's WebSocket connection
func ClientConnector(c *chain.Client) Connector {
	return clientConnector{c}
}

type clientConnector struct{ c *chain.Client }

func (cc clientConnector) Source() LogSource {
	if ws := cc.c.WSBackend(); ws != nil {
		return ws
	}
	return nil
}

func (cc clientConnector) Reconnect(ctx context.Context) error { return cc.c.ReconnectWS(ctx) }

// WatcherConfig configures one chain's watcher
type WatcherConfig struct {
	Chain types.ChainConfig

	// BackfillBlocks re-reads this many blocks before each (re)subscribe. Zero disables backfill.
	BackfillBlocks uint64

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	Validation validation.ValidationOptions
}

// Watcher follows one chain's hook contract
type Watcher struct {
	cfg     WatcherConfig
	hook    common.Address
	conn    Connector
	store   storage.EventStore
	metrics *Metrics

	lastBlock atomic.Uint64
}

// NewWatcher creates a watcher for cfg.Chain
func NewWatcher(cfg WatcherConfig, conn Connector, store storage.EventStore, metrics *Metrics) *Watcher {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = defaultReconnectMax
		if cfg.ReconnectMax < cfg.ReconnectBase {
			cfg.ReconnectMax = cfg.ReconnectBase
		}
	}
	return &Watcher{
		cfg:     cfg,
		hook:    common.HexToAddress(cfg.Chain.HookAddress),
		conn:    conn,
		store:   store,
		metrics: metrics,
	}
}

// Chain returns the watched chain's tag
func (w *Watcher) Chain() types.SupportedChain {
	return w.cfg.Chain.Tag
}

// LastBlock returns the highest block a log was seen in
func (w *Watcher) LastBlock() uint64 {
	return w.lastBlock.Load()
}

// Run subscribes until ctx is cancelled, reconnecting with exponential delay
func (w *Watcher) Run(ctx context.Context) {
	log := logrus.WithField("chain", w.cfg.Chain.Tag)
	delay := w.cfg.ReconnectBase
	query := chain.HookFilter(w.hook, nil)

	for {
		if ctx.Err() != nil {
			return
		}

		src := w.conn.Source()
		if src == nil {
			if err := w.conn.Reconnect(ctx); err != nil {
				log.WithError(err).Warn("Listener connect failed")
				w.metrics.reconnect(string(w.cfg.Chain.Tag))
				if !sleepOrDone(ctx, delay) {
					return
				}
				delay = w.nextDelay(delay)
				continue
			}
			if src = w.conn.Source(); src == nil {
				if !sleepOrDone(ctx, delay) {
					return
				}
				delay = w.nextDelay(delay)
				continue
			}
		}

		w.backfill(ctx, src, query)

		logs := make(chan ethtypes.Log, logChannelBuffer)
		sub, err := src.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			log.WithError(err).Warn("Listener subscribe failed")
			w.metrics.reconnect(string(w.cfg.Chain.Tag))
			if !sleepOrDone(ctx, delay) {
				return
			}
			delay = w.nextDelay(delay)
			_ = w.conn.Reconnect(ctx)
			continue
		}

		delay = w.cfg.ReconnectBase
		log.WithField("hook", w.hook.Hex()).Info("Listening for hook events")

		stopped := w.consume(ctx, sub, logs)
		sub.Unsubscribe()
		if stopped {
			return
		}

		w.metrics.reconnect(string(w.cfg.Chain.Tag))
		if !sleepOrDone(ctx, delay) {
			return
		}
		delay = w.nextDelay(delay)
		if err := w.conn.Reconnect(ctx); err != nil {
			log.WithError(err).Warn("Listener reconnect failed")
		}
	}
}

// consume handles logs until the subscription fails (false) or ctx ends (true)
func (w *Watcher) consume(ctx context.Context, sub ethereum.Subscription, logs <-chan ethtypes.Log) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case err := <-sub.Err():
			if err != nil {
				logrus.WithField("chain", w.cfg.Chain.Tag).WithError(err).Warn("Listener subscription dropped")
			}
			return false
		case lg := <-logs:
			w.HandleLog(ctx, lg)
		}
	}
}

func (w *Watcher) backfill(ctx context.Context, src LogSource, query ethereum.FilterQuery) {
	if w.cfg.BackfillBlocks == 0 {
		return
	}

	from := w.lastBlock.Load()
	if from == 0 {
		head, err := src.BlockNumber(ctx)
		if err != nil {
			logrus.WithField("chain", w.cfg.Chain.Tag).WithError(err).Warn("Backfill skipped, head unavailable")
			return
		}
		from = head
	}
	if from > w.cfg.BackfillBlocks {
		from -= w.cfg.BackfillBlocks
	} else {
		from = 0
	}

	q := query
	q.FromBlock = new(big.Int).SetUint64(from)
	logs, err := src.FilterLogs(ctx, q)
	if err != nil {
		logrus.WithField("chain", w.cfg.Chain.Tag).WithError(err).Warn("Backfill failed")
		return
	}
	for _, lg := range logs {
		w.HandleLog(ctx, lg)
	}
	if len(logs) > 0 {
		logrus.WithFields(logrus.Fields{
			"chain":      w.cfg.Chain.Tag,
			"count":      len(logs),
			"from_block": from,
		}).Info("Backfilled hook events")
	}
}

// HandleLog decodes, validates and stores one hook log. Duplicates are dropped.
func (w *Watcher) HandleLog(ctx context.Context, lg ethtypes.Log) {
	tag := string(w.cfg.Chain.Tag)
	fields := logrus.Fields{
		"chain":     tag,
		"tx":        lg.TxHash.Hex(),
		"log_index": lg.Index,
		"block":     lg.BlockNumber,
	}

	if lg.BlockNumber > w.lastBlock.Load() {
		w.lastBlock.Store(lg.BlockNumber)
	}

	if lg.Removed {
		// reorged out; the store is append-only so the original entry stays
		logrus.WithFields(fields).Warn("Ignoring removed (reorged) log")
		w.metrics.event(tag, "reorged")
		return
	}

	event, err := chain.DecodeLiquidityLog(tag, lg)
	if err != nil {
		logrus.WithFields(fields).WithError(err).Warn("Failed to decode hook log")
		w.metrics.event(tag, "decode_error")
		return
	}
	if err := validation.ValidateEvent(event, w.cfg.Validation); err != nil {
		logrus.WithFields(fields).WithError(err).Warn("Dropping invalid hook event")
		w.metrics.event(tag, "invalid")
		return
	}

	if err := w.store.AppendEvent(ctx, event); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			logrus.WithFields(fields).Debug("Duplicate hook event ignored")
			w.metrics.event(tag, "duplicate")
			return
		}
		logrus.WithFields(fields).WithError(err).Error("Failed to store hook event")
		w.metrics.event(tag, "store_error")
		return
	}

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"kind":     event.Kind,
		"provider": event.Provider,
		"delta":    event.LiquidityDelta.String(),
	}).Info("Stored liquidity event")
	w.metrics.event(tag, "stored")
}

func (w *Watcher) nextDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > w.cfg.ReconnectMax {
		next = w.cfg.ReconnectMax
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Listener runs one watcher per chain
type Listener struct {
	watchers []*Watcher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a listener over the given watchers
func New(watchers ...*Watcher) *Listener {
	return &Listener{watchers: watchers}
}

// Watchers returns the configured watchers
func (l *Listener) Watchers() []*Watcher {
	return l.watchers
}

// Start launches every watcher. It returns immediately.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	for _, w := range l.watchers {
		l.wg.Add(1)
		go func(w *Watcher) {
			defer l.wg.Done()
			w.Run(ctx)
		}(w)
	}
	logrus.Infof("Event listener started on %d chains", len(l.watchers))
}

// Stop cancels the watchers and waits for them to exit
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.cancel()
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
	logrus.Info("Event listener stopped")
}
