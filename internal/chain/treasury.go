package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceReader is the subset of Token used by Treasury
type BalanceReader interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// Treasury reads the treasury wallet's reward-token balance on one network
type Treasury struct {
	token   BalanceReader
	address common.Address
}

// NewTreasury creates a treasury reader for address
func NewTreasury(token BalanceReader, address common.Address) *Treasury {
	return &Treasury{token: token, address: address}
}

// Address returns the treasury wallet
func (t *Treasury) Address() common.Address {
	return t.address
}

// Balance returns the live balance in base units
func (t *Treasury) Balance(ctx context.Context) (*big.Int, error) {
	return t.token.BalanceOf(ctx, t.address)
}
