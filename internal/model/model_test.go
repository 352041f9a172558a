package model

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatUSDC(t *testing.T) {
	tests := []struct {
		name   string
		amount *big.Int
		want   string
	}{
		{"nil", nil, "0.00"},
		{"zero", big.NewInt(0), "0.00"},
		{"one dollar", big.NewInt(1_000_000), "1.00"},
		{"truncates sub-cent", big.NewInt(1_239_999), "1.23"},
		{"below a cent", big.NewInt(9_999), "0.00"},
		{"large", new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000_000)), "1000000000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUSDC(tt.amount))
		})
	}
}

func TestEventKey(t *testing.T) {
	e := LiquidityEvent{Chain: "sepolia", TxHash: "0xABCDEF", LogIndex: 3}
	assert.Equal(t, "sepolia|0xabcdef|3", e.Key())
}

func TestCloneDoesNotShareBigInts(t *testing.T) {
	e := LiquidityEvent{LiquidityDelta: big.NewInt(10)}
	c := e.Clone()
	c.LiquidityDelta.SetInt64(99)
	assert.Equal(t, int64(10), e.LiquidityDelta.Int64())

	claim := Claim{Amount: big.NewInt(5)}
	cc := claim.Clone()
	cc.Amount.SetInt64(1)
	assert.Equal(t, int64(5), claim.Amount.Int64())
}

func TestClaimTerminal(t *testing.T) {
	assert.True(t, Claim{Stage: StageCompleted}.Terminal())
	assert.True(t, Claim{Stage: StageFailed}.Terminal())
	assert.False(t, Claim{Stage: StageQueuedPendingMint}.Terminal())
	assert.False(t, Claim{Stage: StageAttestationPending}.Terminal())
}
