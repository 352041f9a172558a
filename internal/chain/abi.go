package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20ABI covers the USDC calls the agent makes
const ERC20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// HookABI is the liquidity hook's event surface
const HookABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "provider", "type": "address"},
			{"indexed": true, "name": "poolId", "type": "bytes32"},
			{"indexed": false, "name": "liquidityDelta", "type": "int256"},
			{"indexed": false, "name": "timestamp", "type": "uint256"},
			{"indexed": false, "name": "chainId", "type": "uint256"}
		],
		"name": "LiquidityAdded",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "provider", "type": "address"},
			{"indexed": true, "name": "poolId", "type": "bytes32"},
			{"indexed": false, "name": "liquidityDelta", "type": "int256"},
			{"indexed": false, "name": "timestamp", "type": "uint256"},
			{"indexed": false, "name": "chainId", "type": "uint256"}
		],
		"name": "LiquidityRemoved",
		"type": "event"
	}
]`

// TokenMessengerABI is the CCTP v1 burn entry point
const TokenMessengerABI = `[
	{
		"inputs": [
			{"name": "amount", "type": "uint256"},
			{"name": "destinationDomain", "type": "uint32"},
			{"name": "mintRecipient", "type": "bytes32"},
			{"name": "burnToken", "type": "address"}
		],
		"name": "depositForBurn",
		"outputs": [{"name": "_nonce", "type": "uint64"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// MessageTransmitterABI is the CCTP v1 message transmitter: the MessageSent log on the
// source chain and receiveMessage on the destination
const MessageTransmitterABI = `[
	{
		"anonymous": false,
		"inputs": [{"indexed": false, "name": "message", "type": "bytes"}],
		"name": "MessageSent",
		"type": "event"
	},
	{
		"inputs": [
			{"name": "message", "type": "bytes"},
			{"name": "attestation", "type": "bytes"}
		],
		"name": "receiveMessage",
		"outputs": [{"name": "success", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var (
	erc20ABI              = mustParseABI(ERC20ABI)
	hookABI               = mustParseABI(HookABI)
	tokenMessengerABI     = mustParseABI(TokenMessengerABI)
	messageTransmitterABI = mustParseABI(MessageTransmitterABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
