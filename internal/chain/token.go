package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Token is a bound ERC20 contract
type Token struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewToken binds the ERC20 at address
func NewToken(address common.Address, backend bind.ContractBackend) *Token {
	return &Token{
		address:  address,
		contract: bind.NewBoundContract(address, erc20ABI, backend, backend, backend),
	}
}

// Address returns the token address
func (t *Token) Address() common.Address {
	return t.address
}

// BalanceOf returns the token balance of account
func (t *Token) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var result []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &result, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	return firstBigInt(result)
}

// Allowance returns how much spender may move on behalf of owner
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var result []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &result, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("allowance call failed: %w", err)
	}
	return firstBigInt(result)
}

// Approve sends an approve transaction
func (t *Token) Approve(auth *bind.TransactOpts, spender common.Address, amount *big.Int) (*ethtypes.Transaction, error) {
	tx, err := t.contract.Transact(auth, "approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("approve failed: %w", err)
	}
	return tx, nil
}

func firstBigInt(result []interface{}) (*big.Int, error) {
	if len(result) == 0 {
		return nil, fmt.Errorf("empty call result")
	}
	v, ok := result[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", result[0])
	}
	return v, nil
}
