// Package types contains shared type definitions used across multiple packages
package types

import (
	"fmt"
	"sort"
	"strings"
)

// SupportedChain is the short tag used to identify a network in config, events and the API
type SupportedChain string

// Networks the hook is deployed on
const (
	ChainSepolia     SupportedChain = "sepolia"
	ChainBaseSepolia SupportedChain = "base-sepolia"
)

// ChainConfig holds configuration for a specific blockchain network
type ChainConfig struct {
	Tag     SupportedChain `json:"tag" yaml:"tag"`
	Name    string         `json:"name" yaml:"name"`
	ChainID int64          `json:"chain_id" yaml:"chain_id"`
	Enabled bool           `json:"enabled" yaml:"enabled"`

	RPCEndpoint string `json:"rpc_endpoint" yaml:"rpc_endpoint"`
	// WSEndpoint is used for log subscriptions; the listener skips chains without one
	WSEndpoint string `json:"ws_endpoint,omitempty" yaml:"ws_endpoint,omitempty"`

	HookAddress string `json:"hook_address" yaml:"hook_address"`
	USDCAddress string `json:"usdc_address" yaml:"usdc_address"`

	// CCTP v1 contracts and the Circle domain code of this chain
	TokenMessenger     string `json:"token_messenger" yaml:"token_messenger"`
	MessageTransmitter string `json:"message_transmitter" yaml:"message_transmitter"`
	CCTPDomain         uint32 `json:"cctp_domain" yaml:"cctp_domain"`
}

// DefaultChains returns the testnet deployment the agent ships with
func DefaultChains() map[SupportedChain]ChainConfig {
	return map[SupportedChain]ChainConfig{
		ChainSepolia: {
			Tag:                ChainSepolia,
			Name:               "Ethereum Sepolia",
			ChainID:            11155111,
			Enabled:            true,
			RPCEndpoint:        "https://ethereum-sepolia-rpc.publicnode.com",
			USDCAddress:        "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			TokenMessenger:     "0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5",
			MessageTransmitter: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD",
			CCTPDomain:         0,
		},
		ChainBaseSepolia: {
			Tag:                ChainBaseSepolia,
			Name:               "Base Sepolia",
			ChainID:            84532,
			Enabled:            true,
			RPCEndpoint:        "https://sepolia.base.org",
			USDCAddress:        "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			TokenMessenger:     "0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5",
			MessageTransmitter: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD",
			CCTPDomain:         6,
		},
	}
}

// Registry is an immutable view over the enabled chains, ordered by tag
type Registry struct {
	chains []ChainConfig
	byTag  map[SupportedChain]ChainConfig
	byID   map[int64]ChainConfig
}

// NewRegistry builds a registry from the enabled entries of chains.
// Tags and chain ids must be unique among enabled chains.
func NewRegistry(chains map[SupportedChain]ChainConfig) (*Registry, error) {
	r := &Registry{
		byTag: make(map[SupportedChain]ChainConfig),
		byID:  make(map[int64]ChainConfig),
	}
	for tag, c := range chains {
		if !c.Enabled {
			continue
		}
		if c.Tag == "" {
			c.Tag = tag
		}
		if c.ChainID <= 0 {
			return nil, fmt.Errorf("chain %s: invalid chain id %d", tag, c.ChainID)
		}
		if other, ok := r.byID[c.ChainID]; ok {
			return nil, fmt.Errorf("chain id %d used by both %s and %s", c.ChainID, other.Tag, c.Tag)
		}
		r.byTag[c.Tag] = c
		r.byID[c.ChainID] = c
		r.chains = append(r.chains, c)
	}
	sort.Slice(r.chains, func(i, j int) bool { return r.chains[i].Tag < r.chains[j].Tag })
	return r, nil
}

// All returns the enabled chains
func (r *Registry) All() []ChainConfig {
	out := make([]ChainConfig, len(r.chains))
	copy(out, r.chains)
	return out
}

// ByTag looks a chain up by tag, case-insensitively
func (r *Registry) ByTag(tag SupportedChain) (ChainConfig, bool) {
	c, ok := r.byTag[SupportedChain(strings.ToLower(string(tag)))]
	return c, ok
}

// ByID looks a chain up by EVM chain id
func (r *Registry) ByID(chainID int64) (ChainConfig, bool) {
	c, ok := r.byID[chainID]
	return c, ok
}
