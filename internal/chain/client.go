// Package chain wraps go-ethereum access to the networks the agent reads from and settles on.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/types"
)

// ErrNotConnected is returned by calls made before Connect or after Close
var ErrNotConnected = errors.New("chain client not connected")

// ErrReverted is returned when a transaction was mined with a failed status
var ErrReverted = errors.New("transaction reverted")

// Backend is the RPC surface used for contract calls, transactions and receipts.
// *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// ClientConfig holds configuration for one network client
type ClientConfig struct {
	Chain types.ChainConfig

	// BlockConfirmations to wait for after a transaction is mined
	BlockConfirmations int

	// MaxGasPrice caps the suggested gas price; nil means no cap
	MaxGasPrice *big.Int

	// ConfirmationPoll is how often the head is checked while waiting for confirmations
	ConfirmationPoll time.Duration
}

// Client provides RPC access and transaction signing for one network
type Client struct {
	config     ClientConfig
	client     *ethclient.Client
	backend    Backend
	wsClient   *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	nonceMu      sync.Mutex
	pendingNonce uint64

	connected bool
	mu        sync.RWMutex
}

// ParsePrivateKey parses a hex key with or without 0x prefix
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// NewClient creates a client. privateKey may be nil for read-only use.
func NewClient(config ClientConfig, privateKey *ecdsa.PrivateKey) *Client {
	if config.ConfirmationPoll <= 0 {
		config.ConfirmationPoll = 2 * time.Second
	}
	c := &Client{
		config:     config,
		privateKey: privateKey,
		chainID:    big.NewInt(config.Chain.ChainID),
	}
	if privateKey != nil {
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return c
}

// NewClientWithBackend creates a client over an existing backend instead of dialing.
// The local nonce starts at zero.
func NewClientWithBackend(config ClientConfig, privateKey *ecdsa.PrivateKey, backend Backend) *Client {
	c := NewClient(config, privateKey)
	c.backend = backend
	c.connected = backend != nil
	return c
}

// Connect dials the HTTP endpoint, verifies the chain id and, if configured, opens
// the WebSocket connection used for log subscriptions
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, err := ethclient.DialContext(ctx, c.config.Chain.RPCEndpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s RPC: %w", c.config.Chain.Tag, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Cmp(c.chainID) != 0 {
		client.Close()
		return fmt.Errorf("chain ID mismatch on %s: expected %d, got %d", c.config.Chain.Tag, c.chainID, chainID)
	}
	c.client = client
	c.backend = client

	if c.config.Chain.WSEndpoint != "" {
		ws, err := ethclient.DialContext(ctx, c.config.Chain.WSEndpoint)
		if err != nil {
			logrus.Warnf("Failed to connect to %s WebSocket endpoint: %v", c.config.Chain.Tag, err)
		} else {
			c.wsClient = ws
		}
	}

	if c.privateKey != nil {
		nonce, err := client.PendingNonceAt(ctx, c.address)
		if err != nil {
			return fmt.Errorf("failed to get nonce: %w", err)
		}
		c.pendingNonce = nonce
	}

	c.connected = true
	logrus.WithFields(logrus.Fields{
		"chain":    c.config.Chain.Tag,
		"chain_id": chainID,
		"ws":       c.wsClient != nil,
	}).Info("Connected to chain")
	return nil
}

// Close closes both connections
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.backend = nil
	if c.wsClient != nil {
		c.wsClient.Close()
		c.wsClient = nil
	}
	c.connected = false
}

// IsConnected reports whether Connect succeeded
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Chain returns the network configuration
func (c *Client) Chain() types.ChainConfig {
	return c.config.Chain
}

// Backend returns the HTTP backend, or nil when not connected
func (c *Client) Backend() Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

// WSBackend returns the WebSocket ethclient, or nil
func (c *Client) WSBackend() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wsClient
}

// HasWS reports whether a WebSocket endpoint is configured
func (c *Client) HasWS() bool {
	return c.config.Chain.WSEndpoint != ""
}

// ReconnectWS drops and redials the WebSocket connection
func (c *Client) ReconnectWS(ctx context.Context) error {
	if !c.HasWS() {
		return fmt.Errorf("no WebSocket endpoint configured for %s", c.config.Chain.Tag)
	}
	ws, err := ethclient.DialContext(ctx, c.config.Chain.WSEndpoint)
	if err != nil {
		return fmt.Errorf("dial %s WebSocket: %w", c.config.Chain.Tag, err)
	}

	c.mu.Lock()
	old := c.wsClient
	c.wsClient = ws
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Address returns the signer address
func (c *Client) Address() common.Address {
	return c.address
}

// TransactOpts creates signing options with the next local nonce and a capped gas price
func (c *Client) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.privateKey == nil {
		return nil, fmt.Errorf("no private key configured")
	}

	client := c.Backend()
	if client == nil {
		return nil, ErrNotConnected
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if c.config.MaxGasPrice != nil && gasPrice.Cmp(c.config.MaxGasPrice) > 0 {
		gasPrice = c.config.MaxGasPrice
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasPrice = gasPrice

	c.nonceMu.Lock()
	auth.Nonce = new(big.Int).SetUint64(c.pendingNonce)
	c.pendingNonce++
	c.nonceMu.Unlock()

	return auth, nil
}

// SyncNonce reloads the pending nonce, used after a transaction failed to send
func (c *Client) SyncNonce(ctx context.Context) error {
	client := c.Backend()
	if client == nil {
		return ErrNotConnected
	}

	nonce, err := client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	c.nonceMu.Lock()
	c.pendingNonce = nonce
	c.nonceMu.Unlock()
	return nil
}

// WaitMined waits for tx to be mined successfully and confirmed
func (c *Client) WaitMined(ctx context.Context, tx *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	return c.WaitReceipt(ctx, tx.Hash())
}

// WaitReceipt waits for the transaction with hash to be mined and confirmed. A mined
// transaction with a failed status returns its receipt and an error wrapping ErrReverted.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	client := c.Backend()
	if client == nil {
		return nil, ErrNotConnected
	}

	ticker := time.NewTicker(c.config.ConfirmationPoll)
	defer ticker.Stop()

	var receipt *ethtypes.Receipt
	for receipt == nil {
		r, err := client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			receipt = r
			continue
		case !errors.Is(err, ethereum.NotFound):
			logrus.WithError(err).WithField("tx", hash.Hex()).Debug("Receipt lookup failed, retrying")
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed waiting for transaction %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}

	if c.config.BlockConfirmations <= 1 {
		return receipt, nil
	}

	target := receipt.BlockNumber.Uint64() + uint64(c.config.BlockConfirmations) - 1
	for {
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-ticker.C:
			head, err := client.BlockNumber(ctx)
			if err != nil {
				continue
			}
			if head >= target {
				return receipt, nil
			}
		}
	}
}

// BlockNumber returns the current head
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	client := c.Backend()
	if client == nil {
		return 0, ErrNotConnected
	}
	return client.BlockNumber(ctx)
}
