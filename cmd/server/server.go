package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/lp-rewards-agent/internal/circuitbreaker"
	"github.com/yourorg/lp-rewards-agent/internal/claims"
	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/query"
	"github.com/yourorg/lp-rewards-agent/internal/validation"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// ServerConfig holds the configuration for the HTTP API
type ServerConfig struct {
	// HTTP port to listen on
	Port string

	// Timeout for read-side requests
	RequestTimeout time.Duration

	// ClaimWait is how long POST /api/claim may block; the write timeout is derived from it
	ClaimWait time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	// Registerer for the HTTP metrics; nil uses the default registry
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// ClaimService is the write side used by the claim endpoints
type ClaimService interface {
	Submit(ctx context.Context, req claims.Request) (model.Claim, error)
	Retry(ctx context.Context, id string) (model.Claim, error)
	Backend() string
}

// Server is the agent's HTTP API
type Server struct {
	config  ServerConfig
	query   *query.Service
	claims  ClaimService
	breaker *circuitbreaker.CircuitBreaker

	metrics   *serverMetrics
	rateLimit *rate.Limiter
	handler   http.Handler
	server    *http.Server
}

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics(reg prometheus.Registerer, breaker *circuitbreaker.CircuitBreaker) *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lp_rewards_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"route", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lp_rewards_http_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lp_rewards_http_rate_limited_total",
				Help: "Claim requests rejected by the rate limiter",
			},
		),
	}
	reg.MustRegister(m.requestCounter, m.requestDuration, m.rateLimited)

	if breaker != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "lp_rewards_circuit_breaker_state",
				Help:        "Circuit breaker state (0=closed, 1=open, 2=half-open)",
				ConstLabels: prometheus.Labels{"dependency": breaker.Name()},
			},
			func() float64 { return float64(breaker.GetState()) },
		))
	}
	return m
}

// NewServer creates the API server. breaker may be nil.
func NewServer(config ServerConfig, q *query.Service, cs ClaimService, breaker *circuitbreaker.CircuitBreaker) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 15 * time.Second
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:  config,
		query:   q,
		claims:  cs,
		breaker: breaker,
		metrics: registerMetrics(config.Registerer, breaker),
	}
	if config.RateLimitRPS > 0 {
		s.rateLimit = rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitBurst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", config.RateLimitRPS, config.RateLimitBurst)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.instrument("health", s.handleHealth))
	mux.HandleFunc("GET /api/chains", s.instrument("chains", s.handleChains))
	mux.HandleFunc("GET /api/rewards", s.instrument("rewards_all", s.handleAllRewards))
	mux.HandleFunc("GET /api/rewards/{address}", s.instrument("rewards", s.handleRewards))
	mux.HandleFunc("GET /api/positions/{address}", s.instrument("positions", s.handlePositions))
	mux.HandleFunc("GET /api/treasury", s.instrument("treasury", s.handleTreasury))
	mux.HandleFunc("POST /api/claim", s.instrument("claim", s.limited(s.handleClaim)))
	mux.HandleFunc("GET /api/claims/{claimId}", s.instrument("claim_get", s.handleGetClaim))
	mux.HandleFunc("GET /api/claims/user/{address}", s.instrument("claims_user", s.handleUserClaims))
	mux.HandleFunc("POST /api/claims/{claimId}/retry", s.instrument("claim_retry", s.limited(s.handleRetryClaim)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

	return mux
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.ClaimWait + s.config.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logrus.Infof("Server starting on port %s", s.config.Port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error starting server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.requestCounter.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimit != nil && !s.rateLimit.Allow() {
			s.metrics.rateLimited.Inc()
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

func (s *Server) readContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

// healthResponse adds process-level state to the store health
type healthResponse struct {
	query.HealthView
	AttestationCircuit string `json:"attestationCircuit,omitempty"`
	Uptime             string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.readContext(r)
	defer cancel()

	view, err := s.query.Health(ctx)
	resp := healthResponse{HealthView: view, Uptime: time.Since(startTime).Round(time.Second).String()}
	if s.claims != nil {
		resp.Backend = s.claims.Backend()
	}
	if s.breaker != nil {
		resp.AttestationCircuit = s.breaker.GetState().String()
	}
	if err != nil {
		logrus.WithError(err).Warn("Health check degraded")
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.query.Chains())
}

func (s *Server) handleAllRewards(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.readContext(r)
	defer cancel()

	rewards, err := s.query.AllRewards(ctx)
	if err != nil {
		writeError(w, &claims.ExternalCallError{Op: "compute rewards", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, rewards)
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if err := validation.ValidateAddress(address); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.readContext(r)
	defer cancel()

	view, err := s.query.Rewards(ctx, address)
	if err != nil {
		writeError(w, &claims.ExternalCallError{Op: "compute rewards", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if err := validation.ValidateAddress(address); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.readContext(r)
	defer cancel()

	view, err := s.query.Positions(ctx, address)
	if err != nil {
		writeError(w, &claims.StorageError{Op: "load events", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.readContext(r)
	defer cancel()

	view, err := s.query.Treasury(ctx)
	if err != nil {
		writeError(w, &claims.ExternalCallError{Op: "treasury", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// claimRequest is the POST /api/claim body. amount may be a JSON string or number.
type claimRequest struct {
	Address            string      `json:"address"`
	Amount             json.Number `json:"amount,omitempty"`
	DestinationChainID int64       `json:"destinationChainId"`
	Signature          string      `json:"signature,omitempty"`
	SignedAt           int64       `json:"signedAt,omitempty"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&body); err != nil {
		writeError(w, &claims.ValidationError{Msg: "invalid request body"})
		return
	}

	claim, err := s.claims.Submit(r.Context(), claims.Request{
		Address:            body.Address,
		Amount:             body.Amount.String(),
		DestinationChainID: body.DestinationChainID,
		Signature:          body.Signature,
		SignedAt:           body.SignedAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, claimStatusCode(claim), query.NewClaimView(claim))
}

func (s *Server) handleRetryClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := s.claims.Retry(r.Context(), r.PathValue("claimId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, query.NewClaimView(claim))
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.readContext(r)
	defer cancel()

	view, err := s.query.Claim(ctx, r.PathValue("claimId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUserClaims(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if err := validation.ValidateAddress(address); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.readContext(r)
	defer cancel()

	views, err := s.query.ClaimsByRecipient(ctx, address)
	if err != nil {
		writeError(w, &claims.StorageError{Op: "list claims", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// claimStatusCode is 200 once the claim is attested or completed, 202 while it is still settling
func claimStatusCode(c model.Claim) int {
	switch c.Status {
	case model.StatusAttested, model.StatusCompleted:
		return http.StatusOK
	default:
		return http.StatusAccepted
	}
}
