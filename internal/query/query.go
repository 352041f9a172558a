// Package query builds the read-only API projections. Everything is computed on
// demand from the store and a live treasury read; nothing is cached.
package query

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/yourorg/lp-rewards-agent/internal/aggregate"
	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/rewards"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
	"github.com/yourorg/lp-rewards-agent/internal/types"
)

// RewardView is the rewards-by-address response
type RewardView struct {
	Address     string `json:"address"`
	Pending     string `json:"pending"`
	Claimed     string `json:"claimed"`
	Total       string `json:"total"`
	PendingUSDC string `json:"pendingUSDC"`
	ClaimedUSDC string `json:"claimedUSDC"`
}

// ChainPosition is one chain's slice of a provider's liquidity
type ChainPosition struct {
	Chain     string `json:"chain"`
	ChainID   int64  `json:"chainId"`
	ChainName string `json:"chainName"`

	// Liquidity is what the reward math counts on this chain
	Liquidity      string `json:"liquidity"`
	TotalAdded     string `json:"totalAdded"`
	TotalRemoved   string `json:"totalRemoved"`
	EventCount     int    `json:"eventCount"`
	LastActivityAt int64  `json:"lastActivityAt"`
}

// PositionsView is the positions-by-address response
type PositionsView struct {
	Address   string          `json:"address"`
	Positions []ChainPosition `json:"positions"`
}

// TreasuryView is the treasury snapshot
type TreasuryView struct {
	Address          string `json:"address"`
	Chain            string `json:"chain"`
	Balance          string `json:"balance"`
	BalanceUSDC      string `json:"balanceUSDC"`
	TotalClaimed     string `json:"totalClaimed"`
	TotalClaimedUSDC string `json:"totalClaimedUSDC"`
	ActiveProviders  int    `json:"activeProviders"`
}

// ChainView is one entry of the chains list
type ChainView struct {
	ID      string `json:"id"`
	ChainID int64  `json:"chainId"`
	Name    string `json:"name"`
}

// HealthView is the health response
type HealthView struct {
	Status   string   `json:"status"`
	Treasury string   `json:"treasury"`
	Chains   []string `json:"chains"`
	Events   int      `json:"events"`
	Backend  string   `json:"settlement,omitempty"`
}

// ClaimView is a claim as returned by the API
type ClaimView struct {
	ClaimID            string `json:"claimId"`
	Status             string `json:"status"`
	Stage              string `json:"stage"`
	Recipient          string `json:"recipient"`
	Amount             string `json:"amount"`
	AmountUSDC         string `json:"amountUSDC"`
	SourceChainID      int64  `json:"sourceChainId"`
	DestinationChainID int64  `json:"destinationChainId"`

	ApproveTx   string `json:"approveTx,omitempty"`
	BurnTx      string `json:"burnTx,omitempty"`
	MessageHash string `json:"messageHash,omitempty"`
	Attestation string `json:"attestation,omitempty"`
	MintTx      string `json:"mintTx,omitempty"`

	Attempts            int    `json:"attempts"`
	NeedsReconciliation bool   `json:"needsReconciliation,omitempty"`
	Error               string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewClaimView renders a claim for the API
func NewClaimView(c model.Claim) ClaimView {
	return ClaimView{
		ClaimID:             c.ID,
		Status:              string(c.Status),
		Stage:               string(c.Stage),
		Recipient:           c.Recipient,
		Amount:              amountString(c.Amount),
		AmountUSDC:          model.FormatUSDC(c.Amount),
		SourceChainID:       c.SourceChainID,
		DestinationChainID:  c.DestinationChainID,
		ApproveTx:           c.ApproveTx,
		BurnTx:              c.BurnTx,
		MessageHash:         c.MessageHash,
		Attestation:         c.Attestation,
		MintTx:              c.MintTx,
		Attempts:            c.Attempts,
		NeedsReconciliation: c.NeedsReconciliation,
		Error:               c.Error,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

// Service answers the read-side queries
type Service struct {
	store           storage.Store
	calc            *rewards.Calculator
	chains          *types.Registry
	treasuryChain   types.ChainConfig
	treasuryAddress string
	opts            aggregate.Options
}

// NewService creates the query service
func NewService(store storage.Store, calc *rewards.Calculator, chains *types.Registry, treasuryChain types.ChainConfig, treasuryAddress string, opts aggregate.Options) *Service {
	return &Service{
		store:           store,
		calc:            calc,
		chains:          chains,
		treasuryChain:   treasuryChain,
		treasuryAddress: model.NormalizeAddress(treasuryAddress),
		opts:            opts,
	}
}

// Rewards returns one provider's reward, zero-valued for unknown providers
func (s *Service) Rewards(ctx context.Context, address string) (RewardView, error) {
	r, err := s.calc.RewardFor(ctx, address)
	if err != nil {
		return RewardView{}, err
	}
	return RewardView{
		Address:     r.Provider,
		Pending:     amountString(r.Pending),
		Claimed:     amountString(r.Claimed),
		Total:       amountString(r.Total),
		PendingUSDC: model.FormatUSDC(r.Pending),
		ClaimedUSDC: model.FormatUSDC(r.Claimed),
	}, nil
}

// AllRewards returns every provider's reward
func (s *Service) AllRewards(ctx context.Context) ([]RewardView, error) {
	rs, err := s.calc.ComputeRewards(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RewardView, 0, len(rs))
	for _, r := range rs {
		out = append(out, RewardView{
			Address:     r.Provider,
			Pending:     amountString(r.Pending),
			Claimed:     amountString(r.Claimed),
			Total:       amountString(r.Total),
			PendingUSDC: model.FormatUSDC(r.Pending),
			ClaimedUSDC: model.FormatUSDC(r.Claimed),
		})
	}
	return out, nil
}

// Positions sums a provider's events per chain
func (s *Service) Positions(ctx context.Context, address string) (PositionsView, error) {
	events, err := s.store.Events(ctx)
	if err != nil {
		return PositionsView{}, fmt.Errorf("load events: %w", err)
	}

	addr := model.NormalizeAddress(address)
	view := PositionsView{Address: addr, Positions: []ChainPosition{}}
	for _, sum := range aggregate.SummarizeByChain(events, addr) {
		liquidity := sum.Added
		if s.opts.SubtractRemovals {
			liquidity = sum.Net
			if liquidity.Sign() < 0 {
				liquidity = new(big.Int)
			}
		}
		name := sum.Chain
		if cfg, ok := s.chains.ByTag(types.SupportedChain(sum.Chain)); ok {
			name = cfg.Name
		}
		view.Positions = append(view.Positions, ChainPosition{
			Chain:          sum.Chain,
			ChainID:        sum.ChainID,
			ChainName:      name,
			Liquidity:      liquidity.String(),
			TotalAdded:     sum.Added.String(),
			TotalRemoved:   sum.Removed.String(),
			EventCount:     sum.EventCount,
			LastActivityAt: sum.LastTimestamp,
		})
	}
	return view, nil
}

// Treasury returns the live balance, the ledger total and the active provider count
func (s *Service) Treasury(ctx context.Context) (TreasuryView, error) {
	balance, err := s.calc.Treasury().Balance(ctx)
	if err != nil {
		return TreasuryView{}, fmt.Errorf("read treasury balance: %w", err)
	}
	claimed, err := s.store.ClaimedAll(ctx)
	if err != nil {
		return TreasuryView{}, fmt.Errorf("load claimed ledger: %w", err)
	}
	total := new(big.Int)
	for _, v := range claimed {
		total.Add(total, v)
	}
	events, err := s.store.Events(ctx)
	if err != nil {
		return TreasuryView{}, fmt.Errorf("load events: %w", err)
	}

	return TreasuryView{
		Address:          s.treasuryAddress,
		Chain:            string(s.treasuryChain.Tag),
		Balance:          balance.String(),
		BalanceUSDC:      model.FormatUSDC(balance),
		TotalClaimed:     total.String(),
		TotalClaimedUSDC: model.FormatUSDC(total),
		ActiveProviders:  aggregate.ActiveProviders(events, s.opts),
	}, nil
}

// Chains lists the enabled chains
func (s *Service) Chains() []ChainView {
	all := s.chains.All()
	out := make([]ChainView, 0, len(all))
	for _, c := range all {
		out = append(out, ChainView{ID: string(c.Tag), ChainID: c.ChainID, Name: c.Name})
	}
	return out
}

// Health reports the event count and configured chains
func (s *Service) Health(ctx context.Context) (HealthView, error) {
	count, err := s.store.EventCount(ctx)
	if err != nil {
		return HealthView{Status: "degraded", Treasury: s.treasuryAddress}, fmt.Errorf("count events: %w", err)
	}
	view := HealthView{Status: "ok", Treasury: s.treasuryAddress, Events: count, Chains: []string{}}
	for _, c := range s.chains.All() {
		view.Chains = append(view.Chains, string(c.Tag))
	}
	return view, nil
}

// Claim returns one claim by id
func (s *Service) Claim(ctx context.Context, id string) (ClaimView, error) {
	c, err := s.store.GetClaim(ctx, id)
	if err != nil {
		return ClaimView{}, err
	}
	return NewClaimView(c), nil
}

// ClaimsByRecipient returns a recipient's claims, oldest first
func (s *Service) ClaimsByRecipient(ctx context.Context, address string) ([]ClaimView, error) {
	cs, err := s.store.ClaimsByRecipient(ctx, address)
	if err != nil {
		return nil, err
	}
	return claimViews(cs), nil
}

// ClaimsByStatus returns claims with the given status
func (s *Service) ClaimsByStatus(ctx context.Context, status model.ClaimStatus) ([]ClaimView, error) {
	cs, err := s.store.ClaimsByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	return claimViews(cs), nil
}

func claimViews(cs []model.Claim) []ClaimView {
	out := make([]ClaimView, 0, len(cs))
	for _, c := range cs {
		out = append(out, NewClaimView(c))
	}
	return out
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
