// Package claims drives a reward claim from eligibility through burn, attestation
// and mint, recording the ledger debit at burn time.
package claims

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/notify"
	"github.com/yourorg/lp-rewards-agent/internal/otel"
	"github.com/yourorg/lp-rewards-agent/internal/security"
	"github.com/yourorg/lp-rewards-agent/internal/settlement"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
	"github.com/yourorg/lp-rewards-agent/internal/types"
	"github.com/yourorg/lp-rewards-agent/internal/validation"
)

// ErrClosed is returned for requests arriving after Close
var ErrClosed = errors.New("orchestrator closed")

// Store is the part of the persistence port the orchestrator uses
type Store interface {
	storage.ClaimStore
	storage.Ledger
}

// RewardSource yields a provider's current reward
type RewardSource interface {
	RewardFor(ctx context.Context, provider string) (model.Reward, error)
}

// Request is an incoming claim
type Request struct {
	Address string

	// Amount in base units; empty claims the full pending amount
	Amount string

	DestinationChainID int64

	// Signature is an optional EIP-191 signature over the claim intent
	Signature string
	SignedAt  int64
}

// Config holds orchestrator settings
type Config struct {
	TreasuryChain types.ChainConfig
	Chains        *types.Registry

	// ResponseWait bounds how long Submit waits for the attestation task
	ResponseWait time.Duration

	// StorageRetryMaxElapsed bounds retries of post-burn writes
	StorageRetryMaxElapsed time.Duration

	// BurnConfirmTimeout bounds the receipt wait for burns found in flight by Resume
	BurnConfirmTimeout time.Duration
}

// Orchestrator runs the claim state machine
type Orchestrator struct {
	store    Store
	rewards  RewardSource
	backend  settlement.Backend
	cfg      Config
	notifier notify.Notifier
	verifier *security.ClaimVerifier
	metrics  *Metrics
	now      func() time.Time
	newID    func() string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	tasksMu sync.Mutex
	tasks   map[string]chan struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithNotifier publishes claim transitions to n
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithVerifier checks request signatures
func WithVerifier(v *security.ClaimVerifier) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

// WithMetrics records Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the claim id generator
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// New creates an orchestrator. Background tasks live until Close.
func New(store Store, rewards RewardSource, backend settlement.Backend, cfg Config, opts ...Option) *Orchestrator {
	if cfg.ResponseWait <= 0 {
		cfg.ResponseWait = time.Minute
	}
	if cfg.StorageRetryMaxElapsed <= 0 {
		cfg.StorageRetryMaxElapsed = 30 * time.Second
	}
	if cfg.BurnConfirmTimeout <= 0 {
		cfg.BurnConfirmTimeout = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:    store,
		rewards:  rewards,
		backend:  backend,
		cfg:      cfg,
		notifier: notify.Nop{},
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		locks:    make(map[string]*sync.Mutex),
		tasks:    make(map[string]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Close stops background tasks and waits for them to exit. Claims left in
// attestation_pending are picked up again by Resume.
func (o *Orchestrator) Close() {
	o.tasksMu.Lock()
	o.closed = true
	o.tasksMu.Unlock()

	o.cancel()
	o.wg.Wait()
}

// Backend returns the settlement backend name
func (o *Orchestrator) Backend() string {
	return o.backend.Name()
}

// Submit validates and settles a claim. It returns once the attestation task has
// finished or ResponseWait has elapsed, whichever is first; in the latter case the
// returned claim is still pending_attestation and processing continues in the background.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (model.Claim, error) {
	ctx, span := otel.StartSpan(ctx, "claims.submit", "address", req.Address)
	defer span.End()

	if o.ctx.Err() != nil {
		return model.Claim{}, &ExternalCallError{Op: "submit", Err: ErrClosed}
	}

	addr, dest, intent, err := o.validateRequest(req)
	if err != nil {
		otel.RecordError(ctx, err)
		return model.Claim{}, err
	}

	// caller cancellation must not interrupt an irreversible burn
	runCtx := trace.ContextWithSpan(o.ctx, span)

	claim, done, err := o.settle(runCtx, addr, dest, req.Amount, intent)
	if err != nil {
		otel.RecordError(ctx, err)
		return claim, err
	}
	return o.awaitResult(ctx, claim, done)
}

// validateRequest checks the request shape and signature. The returned intent is nil
// for unsigned requests; a signed intent is consumed by settle once the claim is eligible.
func (o *Orchestrator) validateRequest(req Request) (string, types.ChainConfig, *security.ClaimIntent, error) {
	if err := validation.ValidateAddress(req.Address); err != nil {
		return "", types.ChainConfig{}, nil, validationf("invalid address: %v", err)
	}
	addr := model.NormalizeAddress(req.Address)

	if req.DestinationChainID == 0 {
		return "", types.ChainConfig{}, nil, validationf("destinationChainId is required")
	}
	dest, ok := o.cfg.Chains.ByID(req.DestinationChainID)
	if !ok {
		return "", types.ChainConfig{}, nil, validationf("unsupported destination chain %d", req.DestinationChainID)
	}
	if dest.ChainID == o.cfg.TreasuryChain.ChainID {
		return "", types.ChainConfig{}, nil, validationf("destination chain must differ from the treasury chain")
	}

	if o.verifier != nil {
		intent := security.ClaimIntent{
			Address:            addr,
			Amount:             req.Amount,
			DestinationChainID: req.DestinationChainID,
			Timestamp:          req.SignedAt,
		}
		if err := o.verifier.Verify(intent, req.Signature); err != nil {
			return "", types.ChainConfig{}, nil, validationf("signature rejected: %v", err)
		}
		if req.Signature != "" {
			return addr, dest, &intent, nil
		}
	}
	return addr, dest, nil, nil
}

// settle runs eligibility, approve and burn under the provider lock and starts the
// attestation task. The lock is held until the burn is recorded in the ledger so a
// second claim from the same provider sees the reduced pending amount.
func (o *Orchestrator) settle(ctx context.Context, addr string, dest types.ChainConfig, amountStr string, intent *security.ClaimIntent) (model.Claim, <-chan struct{}, error) {
	lock := o.providerLock(addr)
	lock.Lock()
	defer lock.Unlock()

	reward, err := o.rewards.RewardFor(ctx, addr)
	if err != nil {
		return model.Claim{}, nil, &ExternalCallError{Op: "compute rewards", Err: err}
	}
	pending := reward.Pending
	if pending == nil || pending.Sign() <= 0 {
		return model.Claim{}, nil, validationf("no pending rewards for %s", addr)
	}

	amount := new(big.Int).Set(pending)
	if amountStr != "" {
		v, err := validation.ParseAmount(amountStr)
		if err != nil {
			return model.Claim{}, nil, validationf("%v", err)
		}
		if v.Cmp(pending) > 0 {
			return model.Claim{}, nil, validationf("amount %s exceeds pending rewards %s", v, pending)
		}
		amount = v
	}

	if intent != nil {
		if err := o.verifier.Consume(*intent); err != nil {
			return model.Claim{}, nil, validationf("signature rejected: %v", err)
		}
	}

	now := o.now().UTC()
	claim := model.Claim{
		ID:                 o.newID(),
		Recipient:          addr,
		Amount:             amount,
		SourceChainID:      o.cfg.TreasuryChain.ChainID,
		DestinationChainID: dest.ChainID,
		Status:             model.StatusProcessing,
		Stage:              model.StageValidated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := o.store.SaveClaim(ctx, claim); err != nil {
		return model.Claim{}, nil, &StorageError{Op: "save claim", Err: err}
	}
	o.publish(claim)

	log := logrus.WithFields(logrus.Fields{
		"claim_id":    claim.ID,
		"recipient":   addr,
		"amount":      amount.String(),
		"destination": dest.Tag,
		"backend":     o.backend.Name(),
	})
	log.Info("Claim validated")

	approveTx, err := o.backend.Approve(ctx, amount)
	if err != nil {
		return o.failPreBurn(ctx, claim, "approve", err)
	}
	claim.ApproveTx = approveTx
	claim.Stage = model.StageApproved
	o.touch(&claim)
	// Resume relies on this stage to know a burn may be in flight
	if err := o.saveWithRetry(ctx, claim); err != nil {
		claim.Stage = model.StageFailed
		claim.Status = model.StatusFailed
		claim.Error = fmt.Sprintf("save claim: %v", err)
		o.publish(claim)
		o.metrics.outcome("pre_burn_failed")
		log.WithError(err).Error("Failed to persist approve stage, burn not sent")
		return claim, nil, &StorageError{Op: "save claim", Err: err}
	}

	burn, err := o.backend.Burn(ctx, common.HexToAddress(addr), amount, dest, func(txHash string) {
		claim.BurnTx = txHash
		claim.Stage = model.StageBurnSubmitted
		o.touch(&claim)
		if err := o.saveWithRetry(ctx, claim); err != nil {
			log.WithFields(claimFields(claim)).WithError(err).Error("Failed to persist burn submission")
		}
		o.publish(claim)
	})
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrBurnReverted):
			claim.BurnTx = burn.TxHash
			return o.failPreBurn(ctx, claim, "burn", err)
		case burn.TxHash == "":
			return o.failPreBurn(ctx, claim, "burn", err)
		}
		// broadcast without a usable receipt: the funds may already be gone
		claim.BurnTx = burn.TxHash
		failed, perr := o.failPostBurn(ctx, claim, fmt.Errorf("burn: %w", err))
		return failed, nil, perr
	}

	stored, err := o.burnConfirmed(ctx, claim, burn)
	if err != nil {
		return stored, nil, err
	}
	log.WithField("burn_tx", stored.BurnTx).Info("Burn recorded, ledger debited")

	return stored, o.startTask(stored), nil
}

// burnConfirmed stores the burn result and debits the ledger
func (o *Orchestrator) burnConfirmed(ctx context.Context, claim model.Claim, burn settlement.BurnResult) (model.Claim, error) {
	claim.BurnTx = burn.TxHash
	claim.MessageHash = burn.MessageHash.Hex()
	claim.Message = hexutil.Encode(burn.Message)
	claim.Stage = model.StageBurned
	claim.Status = model.StatusPendingAttestation
	o.touch(&claim)

	stored, err := o.recordBurn(ctx, claim)
	if err != nil {
		claim.NeedsReconciliation = true
		claim.Error = fmt.Sprintf("record burn: %v", err)
		logrus.WithFields(claimFields(claim)).WithError(err).Error("Burn could not be recorded in ledger, manual reconciliation required")
		o.publish(claim)
		o.metrics.outcome("post_burn_failed")
		return claim, &PostBurnError{ClaimID: claim.ID, Err: &StorageError{Op: "record burn", Err: err}}
	}
	o.publish(stored)
	return stored, nil
}

func (o *Orchestrator) awaitResult(ctx context.Context, claim model.Claim, done <-chan struct{}) (model.Claim, error) {
	timer := time.NewTimer(o.cfg.ResponseWait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}

	latest, err := o.store.GetClaim(context.WithoutCancel(ctx), claim.ID)
	if err != nil {
		logrus.WithError(err).WithField("claim_id", claim.ID).Warn("Failed to reload claim, returning last known state")
		return claim, nil
	}
	if latest.Status == model.StatusFailed {
		return latest, &PostBurnError{ClaimID: latest.ID, Err: errors.New(latest.Error)}
	}
	return latest, nil
}

func (o *Orchestrator) failPreBurn(ctx context.Context, claim model.Claim, op string, cause error) (model.Claim, <-chan struct{}, error) {
	claim.Stage = model.StageFailed
	claim.Status = model.StatusFailed
	claim.Error = fmt.Sprintf("%s: %v", op, cause)
	o.touch(&claim)
	if err := o.store.SaveClaim(ctx, claim); err != nil {
		logrus.WithError(err).WithField("claim_id", claim.ID).Warn("Failed to persist failed claim")
	}
	o.publish(claim)
	o.metrics.outcome("pre_burn_failed")
	logrus.WithFields(logrus.Fields{"claim_id": claim.ID, "op": op}).WithError(cause).Warn("Claim failed before burn, ledger unchanged")
	return claim, nil, &ExternalCallError{Op: op, Err: cause}
}

// failPostBurn debits the ledger for a burned claim and marks it for reconciliation
func (o *Orchestrator) failPostBurn(ctx context.Context, claim model.Claim, cause error) (model.Claim, error) {
	claim.Stage = model.StageFailed
	claim.Status = model.StatusFailed
	claim.NeedsReconciliation = true
	claim.Error = cause.Error()
	o.touch(&claim)

	if stored, err := o.recordBurn(ctx, claim); err != nil {
		logrus.WithFields(claimFields(claim)).WithError(err).Error("Failed to record burned claim, manual reconciliation required")
	} else {
		claim = stored
	}

	logrus.WithFields(claimFields(claim)).WithError(cause).Error("Claim failed after burn")
	o.publish(claim)
	o.metrics.outcome("post_burn_failed")
	return claim, &PostBurnError{ClaimID: claim.ID, Err: cause}
}

// Resume restarts attestation for claims left in flight by a previous process.
// Call it before serving requests. Claims interrupted mid-burn are confirmed against
// the chain when the burn tx is known; otherwise they are debited and flagged for
// reconciliation, and claims that never reached the burn are failed.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	processing, err := o.store.ClaimsByStatus(ctx, model.StatusProcessing)
	if err != nil {
		return 0, &StorageError{Op: "list processing claims", Err: err}
	}
	for _, c := range processing {
		switch {
		case c.Burned():
			o.resumeBurn(ctx, c)
		case c.Stage == model.StageApproved:
			_, _ = o.failPostBurn(ctx, c, errors.New("interrupted during burn, tx hash unknown"))
		default:
			c.Stage = model.StageFailed
			c.Status = model.StatusFailed
			c.Error = "interrupted before burn"
			o.touch(&c)
			if err := o.store.SaveClaim(ctx, c); err != nil {
				logrus.WithError(err).WithField("claim_id", c.ID).Warn("Failed to mark interrupted claim")
			}
		}
	}

	candidates, err := o.store.ClaimsByStatus(ctx, model.StatusPendingAttestation)
	if err != nil {
		return 0, &StorageError{Op: "list pending claims", Err: err}
	}
	if o.backend.MintsOnDestination() {
		attested, err := o.store.ClaimsByStatus(ctx, model.StatusAttested)
		if err != nil {
			return 0, &StorageError{Op: "list attested claims", Err: err}
		}
		for _, c := range attested {
			if c.MintTx == "" {
				candidates = append(candidates, c)
			}
		}
	}

	resumed := 0
	for _, c := range candidates {
		if c.MessageHash == "" {
			continue
		}
		if !c.Debited {
			stored, err := o.recordBurn(ctx, c)
			if err != nil {
				logrus.WithFields(claimFields(c)).WithError(err).Error("Failed to debit resumed claim")
				continue
			}
			c = stored
		}
		o.startTask(c)
		resumed++
	}
	if resumed > 0 {
		logrus.Infof("Resumed %d claims awaiting attestation or mint", resumed)
	}
	return resumed, nil
}

// resumeBurn settles a claim whose burn was sent by a previous process. A confirmed
// burn is debited and left pending_attestation for the resume loop below.
func (o *Orchestrator) resumeBurn(ctx context.Context, c model.Claim) {
	confirmCtx, cancel := context.WithTimeout(ctx, o.cfg.BurnConfirmTimeout)
	defer cancel()

	burn, err := o.backend.ConfirmBurn(confirmCtx, c.BurnTx)
	switch {
	case err == nil:
		if _, err := o.burnConfirmed(ctx, c, burn); err == nil {
			logrus.WithFields(claimFields(c)).Info("Interrupted burn confirmed, ledger debited")
		}
	case errors.Is(err, settlement.ErrBurnReverted):
		_, _, _ = o.failPreBurn(ctx, c, "burn", err)
	default:
		_, _ = o.failPostBurn(ctx, c, fmt.Errorf("interrupted after burn broadcast: %w", err))
	}
}

// Retry restarts processing of one queued claim, or re-attempts the mint of an
// attested claim whose mint failed.
func (o *Orchestrator) Retry(ctx context.Context, id string) (model.Claim, error) {
	c, err := o.store.GetClaim(ctx, id)
	if err != nil {
		return model.Claim{}, &StorageError{Op: "get claim", Err: err}
	}
	if o.isRunning(id) {
		return c, ErrNotRetryable
	}

	mints := o.backend.MintsOnDestination()
	switch {
	case c.Status == model.StatusPendingAttestation && c.MessageHash != "":
	case c.Stage == model.StageAttested && mints && c.MintTx == "":
	case c.Stage == model.StageFailed && c.NeedsReconciliation && mints && c.Attestation != "" && c.MintTx == "":
	default:
		return c, ErrNotRetryable
	}

	if !c.Debited {
		stored, err := o.recordBurn(ctx, c)
		if err != nil {
			return c, &StorageError{Op: "record burn", Err: err}
		}
		c = stored
	}
	c.Error = ""
	o.touch(&c)
	if err := o.store.SaveClaim(ctx, c); err != nil {
		return c, &StorageError{Op: "save claim", Err: err}
	}

	logrus.WithField("claim_id", c.ID).Info("Claim requeued")
	o.startTask(c)
	return c, nil
}

func (o *Orchestrator) startTask(claim model.Claim) <-chan struct{} {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()

	if done, ok := o.tasks[claim.ID]; ok {
		return done
	}
	done := make(chan struct{})
	if o.closed {
		close(done)
		return done
	}
	o.tasks[claim.ID] = done
	o.wg.Add(1)
	o.metrics.taskStarted()

	go func() {
		defer o.wg.Done()
		defer o.metrics.taskDone()
		defer func() {
			o.tasksMu.Lock()
			delete(o.tasks, claim.ID)
			o.tasksMu.Unlock()
			close(done)
		}()
		o.runAttestation(o.ctx, claim)
	}()
	return done
}

func (o *Orchestrator) isRunning(id string) bool {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()
	_, ok := o.tasks[id]
	return ok
}

func (o *Orchestrator) runAttestation(ctx context.Context, claim model.Claim) {
	ctx, span := otel.StartSpan(ctx, "claims.attestation", "claim_id", claim.ID)
	defer span.End()

	log := logrus.WithFields(logrus.Fields{
		"claim_id":     claim.ID,
		"message_hash": claim.MessageHash,
	})

	if claim.Attestation == "" {
		claim.Stage = model.StageAttestationPending
		claim.Status = model.StatusPendingAttestation
		o.touch(&claim)
		if err := o.saveWithRetry(ctx, claim); err != nil {
			log.WithError(err).Warn("Failed to persist attestation_pending stage")
		}
		o.publish(claim)

		sig, err := o.backend.AwaitAttestation(ctx, common.HexToHash(claim.MessageHash), func(attempt int) {
			o.metrics.attempt()
			claim.Attempts++
			o.touch(&claim)
			if err := o.store.SaveClaim(ctx, claim); err != nil {
				log.WithError(err).Warn("Failed to persist attestation attempt")
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Attestation task stopped, claim will resume on restart")
				return
			}
			otel.RecordError(ctx, err)
			claim.Stage = model.StageQueuedPendingMint
			claim.Status = model.StatusPendingAttestation
			if !errors.Is(err, settlement.ErrAttestationTimeout) {
				claim.Error = err.Error()
			}
			o.touch(&claim)
			if err := o.saveWithRetry(ctx, claim); err != nil {
				log.WithFields(claimFields(claim)).WithError(err).Error("Failed to persist queued claim")
			}
			o.publish(claim)
			o.metrics.outcome("queued")
			log.WithField("attempts", claim.Attempts).Warn("Attestation not available, claim queued pending mint")
			return
		}

		claim.Attestation = hexutil.Encode(sig)
		claim.Stage = model.StageAttested
		claim.Status = model.StatusAttested
		claim.Error = ""
		o.touch(&claim)
		if err := o.saveWithRetry(ctx, claim); err != nil {
			log.WithFields(claimFields(claim)).WithError(err).Error("Failed to persist attestation")
		}
		o.publish(claim)
		log.Info("Attestation received")
	}

	if !o.backend.MintsOnDestination() {
		o.metrics.outcome("attested")
		return
	}

	if err := o.mint(ctx, &claim); err != nil {
		if ctx.Err() != nil {
			log.Info("Mint interrupted, claim will resume on restart")
			return
		}
		otel.RecordError(ctx, err)
		claim.Stage = model.StageFailed
		claim.Status = model.StatusFailed
		claim.NeedsReconciliation = true
		claim.Error = fmt.Sprintf("mint: %v", err)
		o.touch(&claim)
		if serr := o.saveWithRetry(ctx, claim); serr != nil {
			log.WithError(serr).Error("Failed to persist mint failure")
		}
		logrus.WithFields(claimFields(claim)).WithError(err).Error("Mint failed after burn, manual reconciliation required")
		o.publish(claim)
		o.metrics.outcome("mint_failed")
		return
	}

	claim.Stage = model.StageCompleted
	claim.Status = model.StatusCompleted
	claim.NeedsReconciliation = false
	claim.Error = ""
	o.touch(&claim)
	if err := o.saveWithRetry(ctx, claim); err != nil {
		log.WithFields(claimFields(claim)).WithError(err).Error("Failed to persist completed claim")
	}
	o.publish(claim)
	o.metrics.outcome("completed")
	log.WithField("mint_tx", claim.MintTx).Info("Claim completed")
}

func (o *Orchestrator) mint(ctx context.Context, claim *model.Claim) error {
	dest, ok := o.cfg.Chains.ByID(claim.DestinationChainID)
	if !ok {
		return fmt.Errorf("destination chain %d not configured", claim.DestinationChainID)
	}
	message, err := hexutil.Decode(claim.Message)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	attestation, err := hexutil.Decode(claim.Attestation)
	if err != nil {
		return fmt.Errorf("decode attestation: %w", err)
	}

	mintTx, err := o.backend.Mint(ctx, dest, message, attestation)
	if err != nil {
		return err
	}
	claim.MintTx = mintTx
	return nil
}

func (o *Orchestrator) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = o.cfg.StorageRetryMaxElapsed
	return backoff.WithContext(b, ctx)
}

func (o *Orchestrator) recordBurn(ctx context.Context, claim model.Claim) (model.Claim, error) {
	var stored model.Claim
	op := func() error {
		var err error
		stored, err = o.store.RecordBurn(ctx, claim)
		if errors.Is(err, storage.ErrInvalidInput) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.RetryNotify(op, o.retryPolicy(ctx), func(err error, wait time.Duration) {
		logrus.WithError(err).WithField("claim_id", claim.ID).Warnf("Recording burn failed, retrying in %s", wait)
	})
	return stored, err
}

func (o *Orchestrator) saveWithRetry(ctx context.Context, claim model.Claim) error {
	op := func() error {
		err := o.store.SaveClaim(ctx, claim)
		if errors.Is(err, storage.ErrInvalidInput) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, o.retryPolicy(ctx), func(err error, wait time.Duration) {
		logrus.WithError(err).WithField("claim_id", claim.ID).Warnf("Saving claim failed, retrying in %s", wait)
	})
}

func (o *Orchestrator) providerLock(addr string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		o.locks[addr] = l
	}
	return l
}

func (o *Orchestrator) touch(c *model.Claim) {
	c.UpdatedAt = o.now().UTC()
}

func (o *Orchestrator) publish(c model.Claim) {
	o.notifier.Notify(model.NewClaimEvent(c))
}

func claimFields(c model.Claim) logrus.Fields {
	amount := ""
	if c.Amount != nil {
		amount = c.Amount.String()
	}
	return logrus.Fields{
		"claim_id":             c.ID,
		"recipient":            c.Recipient,
		"amount":               amount,
		"source_chain_id":      c.SourceChainID,
		"destination_chain_id": c.DestinationChainID,
		"approve_tx":           c.ApproveTx,
		"burn_tx":              c.BurnTx,
		"message_hash":         c.MessageHash,
		"message":              c.Message,
		"attestation":          c.Attestation,
		"mint_tx":              c.MintTx,
		"stage":                c.Stage,
		"status":               c.Status,
		"debited":              c.Debited,
	}
}
