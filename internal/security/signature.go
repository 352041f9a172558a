// Package security verifies that claim requests were signed by the claiming wallet and
// provides payload digests for outbound notifications.
package security

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Verification failures
var (
	ErrSignatureMissing  = errors.New("signature missing")
	ErrSignatureInvalid  = errors.New("signature invalid")
	ErrSignatureExpired  = errors.New("signature expired")
	ErrSignatureReplayed = errors.New("signature already used")
)

// ClaimIntent is what the wallet signs to authorize a claim
type ClaimIntent struct {
	Address            string
	Amount             string // base units, empty for the full pending amount
	DestinationChainID int64
	Timestamp          int64
}

// Message renders the EIP-191 text the wallet signs
func (c ClaimIntent) Message() string {
	amount := c.Amount
	if amount == "" {
		amount = "all"
	}
	return fmt.Sprintf("LP rewards claim\naddress: %s\ndestinationChainId: %d\namount: %s\ntimestamp: %d",
		strings.ToLower(c.Address), c.DestinationChainID, amount, c.Timestamp)
}

// Hash returns the EIP-191 digest of Message, the replay key for the intent
func (c ClaimIntent) Hash() common.Hash {
	return common.BytesToHash(accounts.TextHash([]byte(c.Message())))
}

// VerificationOptions configures claim signature checks
type VerificationOptions struct {
	// Required rejects unsigned requests
	Required bool

	// MaxAge bounds how old a signed timestamp may be
	MaxAge time.Duration
}

// ClaimVerifier checks claim signatures and remembers consumed intents to block replays.
// Intents are keyed by the hash of the signed message, so re-encoding a signature does
// not make it usable twice.
type ClaimVerifier struct {
	opts VerificationOptions
	now  func() time.Time

	mu   sync.Mutex
	seen map[common.Hash]time.Time
}

// NewClaimVerifier creates a verifier
func NewClaimVerifier(opts VerificationOptions) *ClaimVerifier {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 10 * time.Minute
	}
	return &ClaimVerifier{
		opts: opts,
		now:  time.Now,
		seen: make(map[common.Hash]time.Time),
	}
}

// WithClock replaces the time source
func (v *ClaimVerifier) WithClock(now func() time.Time) *ClaimVerifier {
	v.now = now
	return v
}

// Required reports whether unsigned requests are rejected
func (v *ClaimVerifier) Required() bool {
	return v.opts.Required
}

// Verify checks that signature is a fresh EIP-191 signature of intent by intent.Address
// and that the intent has not been consumed. It does not consume the intent.
// An empty signature passes when signatures are not required.
func (v *ClaimVerifier) Verify(intent ClaimIntent, signature string) error {
	if signature == "" {
		if v.opts.Required {
			return ErrSignatureMissing
		}
		return nil
	}

	now := v.now()
	signedAt := time.Unix(intent.Timestamp, 0)
	if now.Sub(signedAt) > v.opts.MaxAge || signedAt.Sub(now) > time.Minute {
		return ErrSignatureExpired
	}

	signer, err := RecoverSigner(intent.Message(), signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(signer.Hex(), intent.Address) {
		return fmt.Errorf("%w: signed by %s", ErrSignatureInvalid, signer.Hex())
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.pruneLocked(now)
	if _, ok := v.seen[intent.Hash()]; ok {
		return ErrSignatureReplayed
	}
	return nil
}

// Consume marks a verified intent as used. It fails with ErrSignatureReplayed when the
// intent was already consumed, so of two concurrent claims only one proceeds.
func (v *ClaimVerifier) Consume(intent ClaimIntent) error {
	now := v.now()
	key := intent.Hash()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.pruneLocked(now)
	if _, ok := v.seen[key]; ok {
		return ErrSignatureReplayed
	}
	v.seen[key] = time.Unix(intent.Timestamp, 0)
	return nil
}

func (v *ClaimVerifier) pruneLocked(now time.Time) {
	for k, at := range v.seen {
		if now.Sub(at) > v.opts.MaxAge {
			delete(v.seen, k)
		}
	}
}

// RecoverSigner returns the address that produced the 65-byte personal_sign signature of message.
// High-s signatures are rejected.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrSignatureInvalid, len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	r, sv := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r, sv, true) {
		return common.Address{}, fmt.Errorf("%w: malformed or non-canonical values", ErrSignatureInvalid)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PayloadDigest returns the keccak256 of payload as 0x-hex, sent alongside webhook bodies
func PayloadDigest(payload []byte) string {
	return crypto.Keccak256Hash(payload).Hex()
}
