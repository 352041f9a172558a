package model

import (
	"math/big"
	"time"
)

// ClaimStatus is the status reported to API consumers
type ClaimStatus string

// Claim statuses
const (
	StatusProcessing         ClaimStatus = "processing"
	StatusPendingAttestation ClaimStatus = "pending_attestation"
	StatusAttested           ClaimStatus = "attested"
	StatusCompleted          ClaimStatus = "completed"
	StatusFailed             ClaimStatus = "failed"
)

// ClaimStage is the orchestrator state machine position
type ClaimStage string

// Claim stages in the order a successful claim passes through them
const (
	StageRequested          ClaimStage = "requested"
	StageValidated          ClaimStage = "validated"
	StageApproved           ClaimStage = "approved"
	StageBurnSubmitted      ClaimStage = "burn_submitted"
	StageBurned             ClaimStage = "burned"
	StageAttestationPending ClaimStage = "attestation_pending"
	StageAttested           ClaimStage = "attested"
	StageTimedOut           ClaimStage = "timed_out"
	StageCompleted          ClaimStage = "completed"
	StageQueuedPendingMint  ClaimStage = "queued_pending_mint"
	StageFailed             ClaimStage = "failed"
)

// Claim records one settlement attempt. Claims are updated in place and never deleted.
type Claim struct {
	ID        string   `json:"id"`
	Recipient string   `json:"recipient"`
	Amount    *big.Int `json:"amount"`

	SourceChainID      int64 `json:"sourceChainId"`
	DestinationChainID int64 `json:"destinationChainId"`

	ApproveTx   string `json:"approveTx,omitempty"`
	BurnTx      string `json:"burnTx,omitempty"`
	MessageHash string `json:"messageHash,omitempty"`
	// Message is the hex-encoded MessageSent payload, needed for the destination mint
	Message     string `json:"message,omitempty"`
	Attestation string `json:"attestation,omitempty"`
	MintTx      string `json:"mintTx,omitempty"`

	Status ClaimStatus `json:"status"`
	Stage  ClaimStage  `json:"stage"`

	// Attempts counts attestation polls made so far
	Attempts int `json:"attempts"`

	// Debited is set once the claimed ledger has been advanced for this claim
	Debited bool `json:"debited"`

	// NeedsReconciliation marks a claim that burned but could not be finished
	NeedsReconciliation bool   `json:"needsReconciliation,omitempty"`
	Error               string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the claim
func (c Claim) Clone() Claim {
	if c.Amount != nil {
		c.Amount = new(big.Int).Set(c.Amount)
	}
	return c
}

// Burned reports whether a burn transaction was sent for the claim. The burn may
// still be unconfirmed or reverted while the claim is processing.
func (c Claim) Burned() bool {
	return c.BurnTx != ""
}

// Terminal reports whether the orchestrator will not touch the claim again on its own
func (c Claim) Terminal() bool {
	switch c.Stage {
	case StageCompleted, StageAttested, StageFailed:
		return true
	}
	return false
}

// ClaimEvent is published to notification sinks on every claim transition
type ClaimEvent struct {
	ClaimID   string      `json:"claimId"`
	Recipient string      `json:"recipient"`
	Amount    string      `json:"amount"`
	Status    ClaimStatus `json:"status"`
	Stage     ClaimStage  `json:"stage"`
	BurnTx    string      `json:"burnTx,omitempty"`
	MintTx    string      `json:"mintTx,omitempty"`
	Error     string      `json:"error,omitempty"`

	NeedsReconciliation bool  `json:"needsReconciliation,omitempty"`
	Timestamp           int64 `json:"timestamp"`
}

// NewClaimEvent snapshots a claim for notification
func NewClaimEvent(c Claim) ClaimEvent {
	amount := "0"
	if c.Amount != nil {
		amount = c.Amount.String()
	}
	return ClaimEvent{
		ClaimID:             c.ID,
		Recipient:           c.Recipient,
		Amount:              amount,
		Status:              c.Status,
		Stage:               c.Stage,
		BurnTx:              c.BurnTx,
		MintTx:              c.MintTx,
		Error:               c.Error,
		NeedsReconciliation: c.NeedsReconciliation,
		Timestamp:           time.Now().Unix(),
	}
}
