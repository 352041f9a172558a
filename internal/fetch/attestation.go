package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/circuitbreaker"
)

// AttestationStatus is the state Circle reports for a burn message
type AttestationStatus string

// Attestation statuses
const (
	AttestationPending  AttestationStatus = "pending_confirmations"
	AttestationComplete AttestationStatus = "complete"
)

// ErrAttestationUnavailable wraps failures talking to the attestation service
var ErrAttestationUnavailable = errors.New("attestation service unavailable")

// Attestation is one attestation lookup result
type Attestation struct {
	Status AttestationStatus

	// Signature bytes, set only when Status is complete
	Signature []byte
}

// Ready reports whether the attestation can be used to mint
func (a Attestation) Ready() bool {
	return a.Status == AttestationComplete && len(a.Signature) > 0
}

// AttestationClient queries Circle's attestation API
type AttestationClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	breaker    *circuitbreaker.CircuitBreaker
}

// NewAttestationClient creates a client for baseURL (e.g. https://iris-api-sandbox.circle.com/v1).
// breaker may be nil.
func NewAttestationClient(baseURL string, breaker *circuitbreaker.CircuitBreaker, opts ...Option) *AttestationClient {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &AttestationClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: StandardClient(newRetryClient("attestation", o)),
		apiKey:     o.apiKey,
		breaker:    breaker,
	}
}

// Fetch looks up the attestation for messageHash. A 404 means Circle has not seen
// the burn yet and is reported as pending.
func (c *AttestationClient) Fetch(ctx context.Context, messageHash common.Hash) (Attestation, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return Attestation{}, fmt.Errorf("%w: %v", ErrAttestationUnavailable, err)
		}
	}

	att, err := c.fetch(ctx, messageHash)
	if c.breaker != nil {
		if err != nil && ctx.Err() == nil {
			c.breaker.Failure(err)
		} else if err == nil {
			c.breaker.Success()
		}
	}
	return att, err
}

func (c *AttestationClient) fetch(ctx context.Context, messageHash common.Hash) (Attestation, error) {
	url := fmt.Sprintf("%s/attestations/%s", c.baseURL, messageHash.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Attestation{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	logrus.Debugf("Fetching attestation for %s", messageHash.Hex())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Attestation{}, fmt.Errorf("%w: %v", ErrAttestationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Attestation{Status: AttestationPending}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Attestation{}, fmt.Errorf("%w: status %d, body: %s", ErrAttestationUnavailable, resp.StatusCode, string(body))
	}

	var response struct {
		Status      string `json:"status"`
		Attestation string `json:"attestation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return Attestation{}, fmt.Errorf("error decoding response: %w", err)
	}

	if AttestationStatus(response.Status) != AttestationComplete {
		return Attestation{Status: AttestationPending}, nil
	}

	sig, err := hexutil.Decode(response.Attestation)
	if err != nil || len(sig) == 0 {
		return Attestation{}, fmt.Errorf("invalid attestation payload %q", response.Attestation)
	}
	return Attestation{Status: AttestationComplete, Signature: sig}, nil
}
