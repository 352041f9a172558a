package claims

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yourorg/lp-rewards-agent/internal/aggregate"
	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/rewards"
	"github.com/yourorg/lp-rewards-agent/internal/security"
	"github.com/yourorg/lp-rewards-agent/internal/settlement"
	"github.com/yourorg/lp-rewards-agent/internal/settlement/mock"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
	"github.com/yourorg/lp-rewards-agent/internal/storage/memory"
	"github.com/yourorg/lp-rewards-agent/internal/storage/storagetest"
	"github.com/yourorg/lp-rewards-agent/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	provider     = "0x00000000000000000000000000000000000000a1"
	baseSepolia  = int64(84532)
	sepoliaID    = int64(11155111)
	treasuryBase = int64(1_000_000)
)

type fixedTreasury struct {
	balance *big.Int
	err     error
}

func (f fixedTreasury) Balance(context.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.balance), nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.ClaimEvent
}

func (r *recorder) Notify(e model.ClaimEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) stages() []model.ClaimStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ClaimStage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

// flakyStore fails RecordBurn a configurable number of times
type flakyStore struct {
	*memory.Store
	mu        sync.Mutex
	failBurns int
}

func (f *flakyStore) RecordBurn(ctx context.Context, c model.Claim) (model.Claim, error) {
	f.mu.Lock()
	if f.failBurns > 0 {
		f.failBurns--
		f.mu.Unlock()
		return model.Claim{}, errors.New("disk full")
	}
	f.mu.Unlock()
	return f.Store.RecordBurn(ctx, c)
}

type harness struct {
	store    *flakyStore
	backend  *mock.Backend
	orch     *Orchestrator
	notes    *recorder
	metrics  *Metrics
	treasury fixedTreasury
}

type harnessOpt func(*harnessConfig)

type harnessConfig struct {
	cfg      Config
	treasury fixedTreasury
	opts     []Option
}

func newHarness(t *testing.T, backend *mock.Backend, hopts ...harnessOpt) *harness {
	t.Helper()

	registry, err := types.NewRegistry(types.DefaultChains())
	require.NoError(t, err)
	sepolia, _ := registry.ByID(sepoliaID)

	hc := harnessConfig{
		cfg: Config{
			TreasuryChain:          sepolia,
			Chains:                 registry,
			ResponseWait:           2 * time.Second,
			StorageRetryMaxElapsed: 100 * time.Millisecond,
		},
		treasury: fixedTreasury{balance: big.NewInt(treasuryBase)},
	}
	for _, o := range hopts {
		o(&hc)
	}

	store := &flakyStore{Store: memory.New()}
	require.NoError(t, store.AppendEvent(context.Background(), storagetest.Event("sepolia", "0x1", 0, provider, 1000, 0)))

	calc := rewards.NewCalculator(store.Store, hc.treasury, aggregate.Options{}).
		WithClock(func() time.Time { return time.Unix(100, 0) })

	var seq int64
	notes := &recorder{}
	metrics := NewMetrics(prometheus.NewRegistry())
	opts := append([]Option{
		WithNotifier(notes),
		WithMetrics(metrics),
		WithIDGenerator(func() string { return fmt.Sprintf("claim-%d", atomic.AddInt64(&seq, 1)) }),
	}, hc.opts...)

	orch := New(store, calc, backend, hc.cfg, opts...)
	t.Cleanup(orch.Close)

	return &harness{store: store, backend: backend, orch: orch, notes: notes, metrics: metrics, treasury: hc.treasury}
}

func (h *harness) claimed(t *testing.T) int64 {
	t.Helper()
	v, err := h.store.Claimed(context.Background(), provider)
	require.NoError(t, err)
	return v.Int64()
}

func (h *harness) eventually(t *testing.T, id string, stage model.ClaimStage) model.Claim {
	t.Helper()
	var last model.Claim
	require.Eventually(t, func() bool {
		c, err := h.store.GetClaim(context.Background(), id)
		if err != nil {
			return false
		}
		last = c
		return c.Stage == stage
	}, 2*time.Second, 5*time.Millisecond, "claim %s never reached %s", id, stage)
	return last
}

func request(amount string) Request {
	return Request{Address: provider, Amount: amount, DestinationChainID: baseSepolia}
}

func TestSubmit_Completes(t *testing.T) {
	h := newHarness(t, mock.New())

	claim, err := h.orch.Submit(context.Background(), request(""))
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, claim.Status)
	assert.Equal(t, model.StageCompleted, claim.Stage)
	assert.Equal(t, int64(1_000_000), claim.Amount.Int64())
	assert.Equal(t, "0xburn1", claim.BurnTx)
	assert.Equal(t, "0xmint1", claim.MintTx)
	assert.NotEmpty(t, claim.MessageHash)
	assert.NotEmpty(t, claim.Attestation)
	assert.True(t, claim.Debited)
	assert.Equal(t, 1, claim.Attempts)
	assert.Equal(t, baseSepolia, claim.DestinationChainID)
	assert.Equal(t, sepoliaID, claim.SourceChainID)

	assert.Equal(t, int64(1_000_000), h.claimed(t), "ledger debited exactly once")

	assert.Equal(t, []model.ClaimStage{
		model.StageValidated,
		model.StageBurnSubmitted,
		model.StageBurned,
		model.StageAttestationPending,
		model.StageAttested,
		model.StageCompleted,
	}, h.notes.stages())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.outcomes.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.attestationAttempts))
}

func TestSubmit_PartialAmount(t *testing.T) {
	h := newHarness(t, mock.New())

	claim, err := h.orch.Submit(context.Background(), request("250000"))
	require.NoError(t, err)
	assert.Equal(t, int64(250_000), claim.Amount.Int64())
	assert.Equal(t, int64(250_000), h.claimed(t))

	// the rest stays claimable
	claim, err = h.orch.Submit(context.Background(), request(""))
	require.NoError(t, err)
	assert.Equal(t, int64(750_000), claim.Amount.Int64())
	assert.Equal(t, int64(1_000_000), h.claimed(t))

	_, err = h.orch.Submit(context.Background(), request(""))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmit_AttestOnly(t *testing.T) {
	backend := mock.New()
	backend.NoMint = true
	h := newHarness(t, backend)

	claim, err := h.orch.Submit(context.Background(), request(""))
	require.NoError(t, err)
	assert.Equal(t, model.StatusAttested, claim.Status)
	assert.Empty(t, claim.MintTx)

	_, _, mints, _ := backend.Counts()
	assert.Equal(t, 0, mints)
	assert.Equal(t, int64(1_000_000), h.claimed(t))
}

func TestSubmit_AttestationTimeoutQueuesAndDebits(t *testing.T) {
	backend := mock.New()
	backend.AttestAfter = 0
	backend.MaxAttempts = 3
	h := newHarness(t, backend)

	claim, err := h.orch.Submit(context.Background(), request(""))
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingAttestation, claim.Status)
	assert.Equal(t, model.StageQueuedPendingMint, claim.Stage)
	assert.Equal(t, 3, claim.Attempts)
	assert.NotEmpty(t, claim.BurnTx)
	assert.Equal(t, int64(1_000_000), h.claimed(t), "timeout still debits the burned amount")

	stored, err := h.store.GetClaim(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAttestation, stored.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.outcomes.WithLabelValues("queued")))
}

func TestSubmit_ResponseWaitElapses(t *testing.T) {
	backend := mock.New()
	backend.Gate = make(chan struct{})
	h := newHarness(t, backend, func(hc *harnessConfig) { hc.cfg.ResponseWait = 30 * time.Millisecond })

	claim, err := h.orch.Submit(context.Background(), request(""))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAttestation, claim.Status)
	assert.Equal(t, int64(1_000_000), h.claimed(t))

	close(backend.Gate)
	done := h.eventually(t, claim.ID, model.StageCompleted)
	assert.Equal(t, "0xmint1", done.MintTx)
	assert.Equal(t, int64(1_000_000), h.claimed(t), "completion after timeout must not debit again")
}

func TestSubmit_CallerCancelDoesNotStopSettlement(t *testing.T) {
	backend := mock.New()
	backend.Gate = make(chan struct{})
	h := newHarness(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim, err := h.orch.Submit(ctx, request(""))
	require.NoError(t, err)
	require.NotEmpty(t, claim.ID)

	close(backend.Gate)
	h.eventually(t, claim.ID, model.StageCompleted)
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t, mock.New())

	tests := []struct {
		name string
		req  Request
	}{
		{"bad address", Request{Address: "0xnope", DestinationChainID: baseSepolia}},
		{"zero address", Request{Address: "0x0000000000000000000000000000000000000000", DestinationChainID: baseSepolia}},
		{"missing destination", Request{Address: provider}},
		{"unknown destination", Request{Address: provider, DestinationChainID: 1}},
		{"destination is treasury chain", Request{Address: provider, DestinationChainID: sepoliaID}},
		{"amount above pending", request("1000001")},
		{"non-numeric amount", request("1.5")},
		{"zero amount", request("0")},
		{"provider without position", Request{Address: "0x00000000000000000000000000000000000000b2", DestinationChainID: baseSepolia}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Submit(context.Background(), tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	_, burns, _, _ := h.backend.Counts()
	assert.Equal(t, 0, burns)
	assert.Equal(t, int64(0), h.claimed(t))
}

func TestSubmit_TreasuryFailure(t *testing.T) {
	h := newHarness(t, mock.New(), func(hc *harnessConfig) {
		hc.treasury = fixedTreasury{err: errors.New("rpc down")}
	})

	_, err := h.orch.Submit(context.Background(), request(""))
	var eerr *ExternalCallError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "compute rewards", eerr.Op)
}

func TestSubmit_PreBurnFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *mock.Backend)
		op    string
	}{
		{"approve", func(b *mock.Backend) { b.ApproveErr = errors.New("nonce too low") }, "approve"},
		{"burn", func(b *mock.Backend) { b.BurnErr = errors.New("insufficient funds") }, "burn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := mock.New()
			tt.setup(backend)
			h := newHarness(t, backend)

			claim, err := h.orch.Submit(context.Background(), request(""))
			var eerr *ExternalCallError
			require.ErrorAs(t, err, &eerr)
			assert.Equal(t, tt.op, eerr.Op)

			assert.Equal(t, model.StatusFailed, claim.Status)
			assert.False(t, claim.NeedsReconciliation)
			assert.Equal(t, int64(0), h.claimed(t), "ledger untouched before burn")

			stored, err := h.store.GetClaim(context.Background(), claim.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StageFailed, stored.Stage)
			assert.False(t, stored.Debited)
		})
	}
}

func TestSubmit_BroadcastWithoutReceiptDebits(t *testing.T) {
	backend := mock.New()
	backend.BroadcastErr = errors.New("receipt timeout")
	h := newHarness(t, backend)

	claim, err := h.orch.Submit(context.Background(), request(""))
	var perr *PostBurnError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, claim.ID, perr.ClaimID)

	assert.Equal(t, model.StatusFailed, claim.Status)
	assert.True(t, claim.NeedsReconciliation)
	assert.Equal(t, "0xburn1", claim.BurnTx)
	assert.Equal(t, int64(1_000_000), h.claimed(t))
}

func TestSubmit_BurnRevertedLeavesLedgerUntouched(t *testing.T) {
	backend := mock.New()
	backend.Revert = true
	h := newHarness(t, backend)

	claim, err := h.orch.Submit(context.Background(), request(""))
	var eerr *ExternalCallError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "burn", eerr.Op)
	assert.ErrorIs(t, err, settlement.ErrBurnReverted)

	assert.Equal(t, model.StatusFailed, claim.Status)
	assert.False(t, claim.NeedsReconciliation)
	assert.Equal(t, "0xburn1", claim.BurnTx, "reverted tx kept for audit")
	assert.Equal(t, int64(0), h.claimed(t))

	stored, err := h.store.GetClaim(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.False(t, stored.Debited)
	assert.Equal(t, model.StageFailed, stored.Stage)

	// the full reward is still claimable
	backend.Revert = false
	again, err := h.orch.Submit(context.Background(), request(""))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, again.Status)
	assert.Equal(t, int64(1_000_000), h.claimed(t))
}

func TestSubmit_MintFailureNeedsReconciliation(t *testing.T) {
	backend := mock.New()
	backend.MintErr = errors.New("execution reverted")
	h := newHarness(t, backend)

	claim, err := h.orch.Submit(context.Background(), request(""))
	var perr *PostBurnError
	require.ErrorAs(t, err, &perr)

	assert.Equal(t, model.StatusFailed, claim.Status)
	assert.Equal(t, model.StageFailed, claim.Stage)
	assert.True(t, claim.NeedsReconciliation)
	assert.NotEmpty(t, claim.Attestation)
	assert.Contains(t, claim.Error, "mint")
	assert.Equal(t, int64(1_000_000), h.claimed(t), "ledger stays debited")

	// mint recovers on retry without another poll or debit
	backend.MintErr = nil
	_, _, _, pollsBefore := backend.Counts()
	_, err = h.orch.Retry(context.Background(), claim.ID)
	require.NoError(t, err)

	done := h.eventually(t, claim.ID, model.StageCompleted)
	assert.False(t, done.NeedsReconciliation)
	_, _, _, pollsAfter := backend.Counts()
	assert.Equal(t, pollsBefore, pollsAfter)
	assert.Equal(t, int64(1_000_000), h.claimed(t))
}

func TestSubmit_RecordBurnRetried(t *testing.T) {
	h := newHarness(t, mock.New(), func(hc *harnessConfig) { hc.cfg.StorageRetryMaxElapsed = 2 * time.Second })
	h.store.failBurns = 2

	claim, err := h.orch.Submit(context.Background(), request(""))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, claim.Status)
	assert.Equal(t, int64(1_000_000), h.claimed(t))
}

func TestSubmit_RecordBurnExhausted(t *testing.T) {
	h := newHarness(t, mock.New())
	h.store.failBurns = 1_000_000

	claim, err := h.orch.Submit(context.Background(), request(""))
	var perr *PostBurnError
	require.ErrorAs(t, err, &perr)
	var serr *StorageError
	assert.ErrorAs(t, err, &serr)

	assert.True(t, claim.NeedsReconciliation)
	assert.Equal(t, "0xburn1", claim.BurnTx)

	h.notes.mu.Lock()
	last := h.notes.events[len(h.notes.events)-1]
	h.notes.mu.Unlock()
	assert.True(t, last.NeedsReconciliation, "reconciliation claims are always published")
}

func TestSubmit_ConcurrentClaimsSameProvider(t *testing.T) {
	h := newHarness(t, mock.New())

	var (
		wg        sync.WaitGroup
		successes int32
		rejected  int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Submit(context.Background(), request(""))
			var verr *ValidationError
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.As(err, &verr):
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(4), rejected)
	assert.Equal(t, int64(1_000_000), h.claimed(t), "pending can only be claimed once")
}

func TestSubmit_SignatureRequired(t *testing.T) {
	verifier := security.NewClaimVerifier(security.VerificationOptions{Required: true})
	h := newHarness(t, mock.New(), func(hc *harnessConfig) { hc.opts = append(hc.opts, WithVerifier(verifier)) })

	_, err := h.orch.Submit(context.Background(), request(""))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "signature")
}

func TestSubmit_SignatureConsumedOnlyWhenEligible(t *testing.T) {
	verifier := security.NewClaimVerifier(security.VerificationOptions{Required: true})
	h := newHarness(t, mock.New(), func(hc *harnessConfig) { hc.opts = append(hc.opts, WithVerifier(verifier)) })
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := model.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex())

	req := Request{Address: signer, DestinationChainID: baseSepolia, SignedAt: time.Now().Unix()}
	intent := security.ClaimIntent{Address: signer, DestinationChainID: baseSepolia, Timestamp: req.SignedAt}
	sig, err := crypto.Sign(accounts.TextHash([]byte(intent.Message())), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	req.Signature = hexutil.Encode(sig)

	_, err = h.orch.Submit(ctx, req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "no pending rewards")

	require.NoError(t, h.store.AppendEvent(ctx, storagetest.Event("sepolia", "0x2", 0, signer, 1000, 0)))

	claim, err := h.orch.Submit(ctx, req)
	require.NoError(t, err, "rejected request must not use up the signature")
	assert.Equal(t, model.StatusCompleted, claim.Status)

	_, err = h.orch.Submit(ctx, req)
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, verifier.Verify(intent, req.Signature), security.ErrSignatureReplayed)
}

func TestSubmit_AfterClose(t *testing.T) {
	h := newHarness(t, mock.New())
	h.orch.Close()

	_, err := h.orch.Submit(context.Background(), request(""))
	assert.ErrorIs(t, err, ErrClosed)
}

func seededClaim(id string, status model.ClaimStatus, stage model.ClaimStage) model.Claim {
	c := storagetest.Claim(id, provider, 400_000)
	c.Status = status
	c.Stage = stage
	c.BurnTx = "0xburnseed"
	c.Message = hexutil.Encode([]byte("seed message"))
	c.MessageHash = "0x00000000000000000000000000000000000000000000000000000000000000ff"
	return c
}

func TestResume(t *testing.T) {
	h := newHarness(t, mock.New())
	ctx := context.Background()

	queued := seededClaim("queued", model.StatusPendingAttestation, model.StageQueuedPendingMint)
	require.NoError(t, h.store.SaveClaim(ctx, queued))

	interrupted := storagetest.Claim("interrupted", provider, 5)
	require.NoError(t, h.store.SaveClaim(ctx, interrupted))

	done := seededClaim("done", model.StatusCompleted, model.StageCompleted)
	require.NoError(t, h.store.SaveClaim(ctx, done))

	n, err := h.orch.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	completed := h.eventually(t, "queued", model.StageCompleted)
	assert.True(t, completed.Debited)
	assert.Equal(t, int64(400_000), h.claimed(t), "resumed claim debited once, undebited completed claim untouched")

	failed, err := h.store.GetClaim(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.False(t, failed.NeedsReconciliation)
}

func TestResume_InterruptedBurns(t *testing.T) {
	tests := []struct {
		name       string
		stage      model.ClaimStage
		burnTx     string
		setup      func(b *mock.Backend)
		wantStage  model.ClaimStage
		wantRecon  bool
		wantLedger int64
		wantResume int
	}{
		{
			name:       "approved without tx hash is held for reconciliation",
			stage:      model.StageApproved,
			wantStage:  model.StageFailed,
			wantRecon:  true,
			wantLedger: treasuryBase,
		},
		{
			name:       "submitted burn confirmed",
			stage:      model.StageBurnSubmitted,
			burnTx:     "0xinflight",
			wantStage:  model.StageCompleted,
			wantLedger: treasuryBase,
			wantResume: 1,
		},
		{
			name:       "submitted burn reverted",
			stage:      model.StageBurnSubmitted,
			burnTx:     "0xinflight",
			setup:      func(b *mock.Backend) { b.Revert = true },
			wantStage:  model.StageFailed,
			wantLedger: 0,
		},
		{
			name:       "submitted burn without receipt",
			stage:      model.StageBurnSubmitted,
			burnTx:     "0xinflight",
			setup:      func(b *mock.Backend) { b.ConfirmErr = errors.New("receipt timeout") },
			wantStage:  model.StageFailed,
			wantRecon:  true,
			wantLedger: treasuryBase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := mock.New()
			if tt.setup != nil {
				tt.setup(backend)
			}
			h := newHarness(t, backend)
			ctx := context.Background()

			c := storagetest.Claim("inflight", provider, treasuryBase)
			c.Stage = tt.stage
			c.BurnTx = tt.burnTx
			require.NoError(t, h.store.SaveClaim(ctx, c))

			n, err := h.orch.Resume(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantResume, n)

			got := h.eventually(t, "inflight", tt.wantStage)
			assert.Equal(t, tt.wantRecon, got.NeedsReconciliation)
			assert.Equal(t, tt.wantLedger, h.claimed(t))
			if tt.burnTx != "" {
				assert.Equal(t, 1, backend.Confirms())
			}

			// a second claim only sees what the interrupted one left unclaimed
			backend.Revert = false
			_, err = h.orch.Submit(ctx, request(""))
			if tt.wantLedger == treasuryBase {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	backend := mock.New()
	backend.AttestAfter = 0
	h := newHarness(t, backend)
	ctx := context.Background()

	claim, err := h.orch.Submit(ctx, request(""))
	require.NoError(t, err)
	require.Equal(t, model.StageQueuedPendingMint, claim.Stage)

	backend.SetAttestAfter(1)
	_, err = h.orch.Retry(ctx, claim.ID)
	require.NoError(t, err)

	h.eventually(t, claim.ID, model.StageCompleted)
	assert.Equal(t, int64(1_000_000), h.claimed(t))

	_, err = h.orch.Retry(ctx, claim.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = h.orch.Retry(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("boom")

	assert.ErrorIs(t, &ExternalCallError{Op: "burn", Err: cause}, cause)
	assert.ErrorIs(t, &PostBurnError{ClaimID: "c", Err: cause}, cause)
	assert.ErrorIs(t, &StorageError{Op: "save", Err: cause}, cause)
	assert.Contains(t, (&PostBurnError{ClaimID: "c1", Err: cause}).Error(), "c1")
	assert.Equal(t, "bad", validationf("bad").Error())
}
