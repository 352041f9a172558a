package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/chain"
	"github.com/yourorg/lp-rewards-agent/internal/types"
)

// CCTPConfig wires a CCTPBackend
type CCTPConfig struct {
	// Source is the treasury network client; it signs approve and burn
	Source *chain.Client

	// Destinations holds clients that sign receiveMessage, keyed by chain id
	Destinations map[int64]*chain.Client

	Attestations AttestationFetcher
	Poll         PollConfig

	// MintOnDestination=false stops the flow at the attested stage
	MintOnDestination bool
}

// CCTPBackend settles claims over Circle CCTP v1
type CCTPBackend struct {
	cfg CCTPConfig
}

// NewCCTPBackend creates the backend
func NewCCTPBackend(cfg CCTPConfig) *CCTPBackend {
	return &CCTPBackend{cfg: cfg}
}

// Name implements Backend
func (b *CCTPBackend) Name() string {
	if b.cfg.MintOnDestination {
		return "cctp"
	}
	return "cctp-attest-only"
}

// MintsOnDestination implements Backend
func (b *CCTPBackend) MintsOnDestination() bool {
	return b.cfg.MintOnDestination
}

func (b *CCTPBackend) source() (*chain.Client, error) {
	if b.cfg.Source == nil || b.cfg.Source.Backend() == nil {
		return nil, chain.ErrNotConnected
	}
	return b.cfg.Source, nil
}

// Approve implements Backend. Nothing is sent when the allowance already covers amount.
func (b *CCTPBackend) Approve(ctx context.Context, amount *big.Int) (string, error) {
	src, err := b.source()
	if err != nil {
		return "", err
	}
	cfg := src.Chain()
	token := chain.NewToken(common.HexToAddress(cfg.USDCAddress), src.Backend())
	messenger := common.HexToAddress(cfg.TokenMessenger)

	allowance, err := token.Allowance(ctx, src.Address(), messenger)
	if err != nil {
		return "", err
	}
	if allowance.Cmp(amount) >= 0 {
		logrus.WithField("allowance", allowance).Debug("Existing allowance covers burn")
		return "", nil
	}

	auth, err := src.TransactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := token.Approve(auth, messenger, amount)
	if err != nil {
		_ = src.SyncNonce(ctx)
		return "", err
	}
	if _, err := src.WaitMined(ctx, tx); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}

// Burn implements Backend
func (b *CCTPBackend) Burn(ctx context.Context, recipient common.Address, amount *big.Int, destination types.ChainConfig, onBroadcast func(txHash string)) (BurnResult, error) {
	src, err := b.source()
	if err != nil {
		return BurnResult{}, err
	}
	cfg := src.Chain()

	auth, err := src.TransactOpts(ctx)
	if err != nil {
		return BurnResult{}, err
	}

	messenger := chain.NewTokenMessenger(common.HexToAddress(cfg.TokenMessenger), src.Backend())
	tx, err := messenger.DepositForBurn(auth, amount, destination.CCTPDomain, recipient, common.HexToAddress(cfg.USDCAddress))
	if err != nil {
		_ = src.SyncNonce(ctx)
		return BurnResult{}, err
	}
	if onBroadcast != nil {
		onBroadcast(tx.Hash().Hex())
	}
	logrus.WithFields(logrus.Fields{
		"burn_tx":     tx.Hash().Hex(),
		"destination": destination.Tag,
	}).Info("Burn sent")

	return b.confirm(ctx, src, tx.Hash())
}

// ConfirmBurn implements Backend
func (b *CCTPBackend) ConfirmBurn(ctx context.Context, txHash string) (BurnResult, error) {
	src, err := b.source()
	if err != nil {
		return BurnResult{TxHash: txHash}, err
	}
	return b.confirm(ctx, src, common.HexToHash(txHash))
}

func (b *CCTPBackend) confirm(ctx context.Context, src *chain.Client, txHash common.Hash) (BurnResult, error) {
	result := BurnResult{TxHash: txHash.Hex()}
	receipt, err := src.WaitReceipt(ctx, txHash)
	if errors.Is(err, chain.ErrReverted) {
		return result, fmt.Errorf("%w: %s", ErrBurnReverted, result.TxHash)
	}
	if err != nil {
		return result, fmt.Errorf("burn %s not confirmed: %w", result.TxHash, err)
	}

	message, hash, err := chain.ExtractMessageSent(receipt, common.HexToAddress(src.Chain().MessageTransmitter))
	if err != nil {
		return result, fmt.Errorf("burn %s: %w", result.TxHash, err)
	}
	result.Message = message
	result.MessageHash = hash

	logrus.WithFields(logrus.Fields{
		"burn_tx":      result.TxHash,
		"message_hash": hash.Hex(),
	}).Info("Burn confirmed")
	return result, nil
}

// AwaitAttestation implements Backend
func (b *CCTPBackend) AwaitAttestation(ctx context.Context, messageHash common.Hash, onAttempt func(attempt int)) ([]byte, error) {
	if b.cfg.Attestations == nil {
		return nil, fmt.Errorf("no attestation client configured")
	}
	return PollAttestation(ctx, b.cfg.Attestations, messageHash, b.cfg.Poll, onAttempt)
}

// Mint implements Backend
func (b *CCTPBackend) Mint(ctx context.Context, destination types.ChainConfig, message, attestation []byte) (string, error) {
	if !b.cfg.MintOnDestination {
		return "", fmt.Errorf("backend %s does not mint", b.Name())
	}
	dst, ok := b.cfg.Destinations[destination.ChainID]
	if !ok || dst.Backend() == nil {
		return "", fmt.Errorf("no connected client for destination %s: %w", destination.Tag, chain.ErrNotConnected)
	}

	auth, err := dst.TransactOpts(ctx)
	if err != nil {
		return "", err
	}
	transmitter := chain.NewMessageTransmitter(common.HexToAddress(destination.MessageTransmitter), dst.Backend())
	tx, err := transmitter.ReceiveMessage(auth, message, attestation)
	if err != nil {
		_ = dst.SyncNonce(ctx)
		return "", err
	}
	if _, err := dst.WaitMined(ctx, tx); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}
