package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrMessageSentNotFound means a burn receipt carried no MessageSent log from the transmitter
var ErrMessageSentNotFound = errors.New("MessageSent log not found in receipt")

// MessageSentTopic is topic0 of MessageSent(bytes)
var MessageSentTopic = messageTransmitterABI.Events["MessageSent"].ID

// TokenMessenger is the bound CCTP burn contract
type TokenMessenger struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewTokenMessenger binds the TokenMessenger at address
func NewTokenMessenger(address common.Address, backend bind.ContractBackend) *TokenMessenger {
	return &TokenMessenger{
		address:  address,
		contract: bind.NewBoundContract(address, tokenMessengerABI, backend, backend, backend),
	}
}

// Address returns the contract address
func (m *TokenMessenger) Address() common.Address {
	return m.address
}

// DepositForBurn burns amount of burnToken toward recipient on destinationDomain
func (m *TokenMessenger) DepositForBurn(auth *bind.TransactOpts, amount *big.Int, destinationDomain uint32, recipient common.Address, burnToken common.Address) (*ethtypes.Transaction, error) {
	tx, err := m.contract.Transact(auth, "depositForBurn", amount, destinationDomain, AddressToBytes32(recipient), burnToken)
	if err != nil {
		return nil, fmt.Errorf("depositForBurn failed: %w", err)
	}
	return tx, nil
}

// MessageTransmitter is the bound CCTP transmitter on the destination network
type MessageTransmitter struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewMessageTransmitter binds the MessageTransmitter at address
func NewMessageTransmitter(address common.Address, backend bind.ContractBackend) *MessageTransmitter {
	return &MessageTransmitter{
		address:  address,
		contract: bind.NewBoundContract(address, messageTransmitterABI, backend, backend, backend),
	}
}

// Address returns the contract address
func (m *MessageTransmitter) Address() common.Address {
	return m.address
}

// ReceiveMessage submits an attested message for minting
func (m *MessageTransmitter) ReceiveMessage(auth *bind.TransactOpts, message, attestation []byte) (*ethtypes.Transaction, error) {
	tx, err := m.contract.Transact(auth, "receiveMessage", message, attestation)
	if err != nil {
		return nil, fmt.Errorf("receiveMessage failed: %w", err)
	}
	return tx, nil
}

// ExtractMessageSent finds the MessageSent log emitted by transmitter in receipt and
// returns the message bytes and keccak256(message). Logs from other contracts are skipped.
func ExtractMessageSent(receipt *ethtypes.Receipt, transmitter common.Address) ([]byte, common.Hash, error) {
	if receipt == nil {
		return nil, common.Hash{}, ErrMessageSentNotFound
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		if lg.Topics[0] != MessageSentTopic || lg.Address != transmitter {
			continue
		}
		values, err := messageTransmitterABI.Unpack("MessageSent", lg.Data)
		if err != nil {
			return nil, common.Hash{}, fmt.Errorf("decode MessageSent: %w", err)
		}
		if len(values) != 1 {
			return nil, common.Hash{}, fmt.Errorf("decode MessageSent: expected 1 value, got %d", len(values))
		}
		message, ok := values[0].([]byte)
		if !ok {
			return nil, common.Hash{}, fmt.Errorf("decode MessageSent: unexpected type %T", values[0])
		}
		return message, crypto.Keccak256Hash(message), nil
	}
	return nil, common.Hash{}, ErrMessageSentNotFound
}

// AddressToBytes32 left-pads an address into the bytes32 mintRecipient format
func AddressToBytes32(addr common.Address) [32]byte {
	var out [32]byte
	copy(out[12:], addr.Bytes())
	return out
}
