package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a Store on an open pool. The schema must already be migrated.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// AppendEvent inserts an event. Returns ErrDuplicateKey on a replayed log.
func (s *Store) AppendEvent(ctx context.Context, e model.LiquidityEvent) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}

	query := `
		INSERT INTO liquidity_events (
			chain, tx_hash, log_index, kind, provider, pool_id, liquidity_delta, timestamp, chain_id, block_number
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		e.Chain,
		strings.ToLower(e.TxHash),
		int64(e.LogIndex),
		string(e.Kind),
		model.NormalizeAddress(e.Provider),
		e.PoolID,
		numericText(e.LiquidityDelta),
		e.Timestamp,
		e.ChainID,
		int64(e.BlockNumber),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert liquidity event: %w", err)
	}
	return nil
}

// Events returns every event in append order.
func (s *Store) Events(ctx context.Context) ([]model.LiquidityEvent, error) {
	query := `
		SELECT chain, tx_hash, log_index, kind, provider, pool_id, liquidity_delta::text, timestamp, chain_id, block_number
		FROM liquidity_events
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query liquidity events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventCount returns the number of stored events.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM liquidity_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count liquidity events: %w", err)
	}
	return n, nil
}

// Claimed returns the claimed total of provider.
func (s *Store) Claimed(ctx context.Context, provider string) (*big.Int, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::text FROM claimed_ledger WHERE provider = $1`,
		model.NormalizeAddress(provider),
	).Scan(&amount)
	if err != nil {
		if isNotFoundError(err) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("get claimed: %w", err)
	}
	return parseNumeric(amount)
}

// ClaimedAll returns the full ledger.
func (s *Store) ClaimedAll(ctx context.Context) (map[string]*big.Int, error) {
	rows, err := s.pool.Query(ctx, `SELECT provider, amount::text FROM claimed_ledger`)
	if err != nil {
		return nil, fmt.Errorf("query claimed ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*big.Int)
	for rows.Next() {
		var provider, amount string
		if err := rows.Scan(&provider, &amount); err != nil {
			return nil, fmt.Errorf("scan claimed ledger: %w", err)
		}
		v, err := parseNumeric(amount)
		if err != nil {
			return nil, err
		}
		out[provider] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed ledger: %w", err)
	}
	return out, nil
}

// SaveClaim upserts a claim. A stored debited flag is never cleared.
func (s *Store) SaveClaim(ctx context.Context, c model.Claim) error {
	if err := storage.ValidateClaim(c); err != nil {
		return err
	}
	if _, err := upsertClaim(ctx, s.pool, c); err != nil {
		return err
	}
	return nil
}

// RecordBurn upserts the claim and debits the ledger once, in one transaction.
func (s *Store) RecordBurn(ctx context.Context, c model.Claim) (model.Claim, error) {
	if err := storage.ValidateClaim(c); err != nil {
		return model.Claim{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Claim{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var debited bool
	err = tx.QueryRow(ctx, `SELECT debited FROM claims WHERE id = $1 FOR UPDATE`, c.ID).Scan(&debited)
	if err != nil && !isNotFoundError(err) {
		return model.Claim{}, fmt.Errorf("lock claim: %w", err)
	}

	if !debited {
		_, err = tx.Exec(ctx, `
			INSERT INTO claimed_ledger (provider, amount) VALUES ($1, $2::numeric)
			ON CONFLICT (provider) DO UPDATE SET amount = claimed_ledger.amount + EXCLUDED.amount
		`, model.NormalizeAddress(c.Recipient), numericText(c.Amount))
		if err != nil {
			return model.Claim{}, fmt.Errorf("debit ledger: %w", err)
		}
	}

	c.Debited = true
	stored, err := upsertClaim(ctx, tx, c)
	if err != nil {
		return model.Claim{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Claim{}, fmt.Errorf("commit tx: %w", err)
	}
	return stored, nil
}

// GetClaim returns a claim by id or ErrNotFound.
func (s *Store) GetClaim(ctx context.Context, id string) (model.Claim, error) {
	rows, err := s.pool.Query(ctx, selectClaims+` WHERE id = $1`, id)
	if err != nil {
		return model.Claim{}, fmt.Errorf("get claim: %w", err)
	}
	defer rows.Close()

	claims, err := scanClaims(rows)
	if err != nil {
		return model.Claim{}, err
	}
	if len(claims) == 0 {
		return model.Claim{}, storage.ErrNotFound
	}
	return claims[0], nil
}

// ClaimsByRecipient returns the recipient's claims, oldest first.
func (s *Store) ClaimsByRecipient(ctx context.Context, recipient string) ([]model.Claim, error) {
	rows, err := s.pool.Query(ctx, selectClaims+` WHERE recipient = $1 ORDER BY created_at ASC, id ASC`,
		model.NormalizeAddress(recipient))
	if err != nil {
		return nil, fmt.Errorf("get claims by recipient: %w", err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

// ClaimsByStatus returns claims with the given status, oldest first.
func (s *Store) ClaimsByStatus(ctx context.Context, status model.ClaimStatus) ([]model.Claim, error) {
	rows, err := s.pool.Query(ctx, selectClaims+` WHERE status = $1 ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("get claims by status: %w", err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const selectClaims = `
	SELECT id, recipient, amount::text, source_chain_id, destination_chain_id,
		approve_tx, burn_tx, message_hash, message, attestation, mint_tx,
		status, stage, attempts, debited, needs_reconciliation, error, created_at, updated_at
	FROM claims`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func upsertClaim(ctx context.Context, q querier, c model.Claim) (model.Claim, error) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	query := `
		INSERT INTO claims (
			id, recipient, amount, source_chain_id, destination_chain_id,
			approve_tx, burn_tx, message_hash, message, attestation, mint_tx,
			status, stage, attempts, debited, needs_reconciliation, error, created_at, updated_at
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			recipient = EXCLUDED.recipient,
			amount = EXCLUDED.amount,
			source_chain_id = EXCLUDED.source_chain_id,
			destination_chain_id = EXCLUDED.destination_chain_id,
			approve_tx = EXCLUDED.approve_tx,
			burn_tx = EXCLUDED.burn_tx,
			message_hash = EXCLUDED.message_hash,
			message = EXCLUDED.message,
			attestation = EXCLUDED.attestation,
			mint_tx = EXCLUDED.mint_tx,
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			attempts = EXCLUDED.attempts,
			debited = claims.debited OR EXCLUDED.debited,
			needs_reconciliation = EXCLUDED.needs_reconciliation,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
		RETURNING id, recipient, amount::text, source_chain_id, destination_chain_id,
			approve_tx, burn_tx, message_hash, message, attestation, mint_tx,
			status, stage, attempts, debited, needs_reconciliation, error, created_at, updated_at
	`

	rows, err := q.Query(ctx, query,
		c.ID,
		model.NormalizeAddress(c.Recipient),
		numericText(c.Amount),
		c.SourceChainID,
		c.DestinationChainID,
		c.ApproveTx,
		c.BurnTx,
		c.MessageHash,
		c.Message,
		c.Attestation,
		c.MintTx,
		string(c.Status),
		string(c.Stage),
		c.Attempts,
		c.Debited,
		c.NeedsReconciliation,
		c.Error,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return model.Claim{}, fmt.Errorf("upsert claim: %w", err)
	}
	defer rows.Close()

	claims, err := scanClaims(rows)
	if err != nil {
		return model.Claim{}, fmt.Errorf("upsert claim: %w", err)
	}
	if len(claims) != 1 {
		return model.Claim{}, fmt.Errorf("upsert claim: expected 1 row, got %d", len(claims))
	}
	return claims[0], nil
}

func scanEvents(rows pgx.Rows) ([]model.LiquidityEvent, error) {
	var events []model.LiquidityEvent
	for rows.Next() {
		var (
			e        model.LiquidityEvent
			kind     string
			delta    string
			logIndex int64
			block    int64
		)
		if err := rows.Scan(&e.Chain, &e.TxHash, &logIndex, &kind, &e.Provider, &e.PoolID,
			&delta, &e.Timestamp, &e.ChainID, &block); err != nil {
			return nil, fmt.Errorf("scan liquidity event: %w", err)
		}
		v, err := parseNumeric(delta)
		if err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kind)
		e.LiquidityDelta = v
		e.LogIndex = uint(logIndex)
		e.BlockNumber = uint64(block)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate liquidity events: %w", err)
	}
	return events, nil
}

func scanClaims(rows pgx.Rows) ([]model.Claim, error) {
	var claims []model.Claim
	for rows.Next() {
		var (
			c      model.Claim
			amount string
			status string
			stage  string
		)
		if err := rows.Scan(&c.ID, &c.Recipient, &amount, &c.SourceChainID, &c.DestinationChainID,
			&c.ApproveTx, &c.BurnTx, &c.MessageHash, &c.Message, &c.Attestation, &c.MintTx,
			&status, &stage, &c.Attempts, &c.Debited, &c.NeedsReconciliation, &c.Error,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		v, err := parseNumeric(amount)
		if err != nil {
			return nil, err
		}
		c.Amount = v
		c.Status = model.ClaimStatus(status)
		c.Stage = model.ClaimStage(stage)
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}
