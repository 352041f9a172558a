// Package notify exports claim transitions to external systems.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/fetch"
	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/security"
)

// Notifier receives claim transitions. Implementations must not block.
type Notifier interface {
	Notify(event model.ClaimEvent)
}

// Nop discards events
type Nop struct{}

// Notify implements Notifier
func (Nop) Notify(model.ClaimEvent) {}

// WebhookConfig holds configuration for the webhook exporter
type WebhookConfig struct {
	URL       string
	APIKey    string
	BatchSize int

	// Interval flushes partial batches
	Interval time.Duration

	RetryMax int
}

// WebhookNotifier batches claim events and POSTs them to a webhook
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *retryablehttp.Client

	mu    sync.Mutex
	batch []model.ClaimEvent

	flushCh chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWebhookNotifier creates the notifier and starts its flush loop
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = config.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = fetch.NewLeveledLogger("webhook")

	ctx, cancel := context.WithCancel(context.Background())
	n := &WebhookNotifier{
		config:     config,
		httpClient: rc,
		batch:      make([]model.ClaimEvent, 0, config.BatchSize),
		flushCh:    make(chan struct{}, 1),
		cancel:     cancel,
	}

	n.wg.Add(1)
	go n.periodicExport(ctx)

	logrus.WithField("url", config.URL).Info("Claim webhook notifier initialized")
	return n
}

// Notify queues event; a full batch triggers an immediate export
func (n *WebhookNotifier) Notify(event model.ClaimEvent) {
	n.mu.Lock()
	n.batch = append(n.batch, event)
	full := len(n.batch) >= n.config.BatchSize
	n.mu.Unlock()

	if full {
		select {
		case n.flushCh <- struct{}{}:
		default:
		}
	}
}

// Close stops the flush loop after a final export
func (n *WebhookNotifier) Close() {
	n.cancel()
	n.wg.Wait()
}

func (n *WebhookNotifier) periodicExport(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.export(ctx)
		case <-n.flushCh:
			n.export(ctx)
		case <-ctx.Done():
			// final flush gets its own deadline since ctx is already done
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n.export(flushCtx)
			cancel()
			return
		}
	}
}

func (n *WebhookNotifier) export(ctx context.Context) {
	n.mu.Lock()
	if len(n.batch) == 0 {
		n.mu.Unlock()
		return
	}
	events := n.batch
	n.batch = make([]model.ClaimEvent, 0, n.config.BatchSize)
	n.mu.Unlock()

	if err := n.post(ctx, events); err != nil {
		logrus.WithError(err).WithField("count", len(events)).Error("Failed to export claim events to webhook")
		return
	}
	logrus.Debugf("Exported %d claim events to webhook", len(events))
}

func (n *WebhookNotifier) post(ctx context.Context, events []model.ClaimEvent) error {
	payload := struct {
		Events     []model.ClaimEvent `json:"events"`
		ExportTime string             `json:"export_time"`
		Count      int                `json:"count"`
	}{
		Events:     events,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(events),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payload-Keccak256", security.PayloadDigest(body))
	if n.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.config.APIKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}
