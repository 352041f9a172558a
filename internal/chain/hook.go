package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/yourorg/lp-rewards-agent/internal/model"
)

// Hook event topics
var (
	LiquidityAddedTopic   = hookABI.Events["LiquidityAdded"].ID
	LiquidityRemovedTopic = hookABI.Events["LiquidityRemoved"].ID
)

// HookFilter builds the log filter for both hook events on the hook contract
func HookFilter(hook common.Address, fromBlock *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: fromBlock,
		Addresses: []common.Address{hook},
		Topics:    [][]common.Hash{{LiquidityAddedTopic, LiquidityRemovedTopic}},
	}
}

// DecodeLiquidityLog converts a raw hook log into a LiquidityEvent tagged with chainTag
func DecodeLiquidityLog(chainTag string, lg ethtypes.Log) (model.LiquidityEvent, error) {
	if len(lg.Topics) != 3 {
		return model.LiquidityEvent{}, fmt.Errorf("unexpected topic count %d", len(lg.Topics))
	}

	var (
		kind model.EventKind
		name string
	)
	switch lg.Topics[0] {
	case LiquidityAddedTopic:
		kind, name = model.EventAdded, "LiquidityAdded"
	case LiquidityRemovedTopic:
		kind, name = model.EventRemoved, "LiquidityRemoved"
	default:
		return model.LiquidityEvent{}, fmt.Errorf("unknown event topic %s", lg.Topics[0].Hex())
	}

	values, err := hookABI.Unpack(name, lg.Data)
	if err != nil {
		return model.LiquidityEvent{}, fmt.Errorf("decode %s: %w", name, err)
	}
	if len(values) != 3 {
		return model.LiquidityEvent{}, fmt.Errorf("decode %s: expected 3 values, got %d", name, len(values))
	}

	delta, ok1 := values[0].(*big.Int)
	ts, ok2 := values[1].(*big.Int)
	chainID, ok3 := values[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return model.LiquidityEvent{}, fmt.Errorf("decode %s: unexpected field types", name)
	}
	if !ts.IsInt64() || !chainID.IsInt64() {
		return model.LiquidityEvent{}, fmt.Errorf("decode %s: timestamp or chain id out of range", name)
	}

	provider := common.BytesToAddress(lg.Topics[1].Bytes())

	return model.LiquidityEvent{
		Kind:           kind,
		Chain:          chainTag,
		Provider:       model.NormalizeAddress(provider.Hex()),
		PoolID:         lg.Topics[2].Hex(),
		LiquidityDelta: new(big.Int).Set(delta),
		Timestamp:      ts.Int64(),
		ChainID:        chainID.Int64(),
		TxHash:         lg.TxHash.Hex(),
		BlockNumber:    lg.BlockNumber,
		LogIndex:       lg.Index,
	}, nil
}
