package storage

import (
	"math/big"

	"github.com/yourorg/lp-rewards-agent/internal/model"
)

// Document is the whole store state as one JSON value: {events, claimed, claims}.
type Document struct {
	Events  []model.LiquidityEvent `json:"events"`
	Claimed map[string]*big.Int    `json:"claimed"`
	Claims  []model.Claim          `json:"claims"`
}
