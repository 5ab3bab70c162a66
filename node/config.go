// Package node wires the execution core together and exposes the
// consensus-engine surface: initialize, block building, parse, verify,
// accept, reject, ancestors, and the peer book.
package node

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core"
	"github.com/sparqnet/go-sparq/core/types"
)

// Config is the node configuration, loaded from a JSON file.
type Config struct {
	ChainID          uint64   `json:"chainId"`
	P2PPort          uint16   `json:"p2pport"`
	RPCPort          uint16   `json:"rpcport"`
	DataDir          string   `json:"dataDir"`
	SeedNodes        []string `json:"seedNodes"`
	Validators       []string `json:"validators"`
	ValidatorPrivKey string   `json:"validatorPrivKey,omitempty"`
	GenesisTimestamp uint64   `json:"genesisTimestamp"`
	BlockGasLimit    uint64   `json:"blockGasLimit"`
	MaxBlockTxs      int      `json:"maxBlockTxs"`

	// GenesisBalances pre-funds accounts: hex address -> decimal balance.
	GenesisBalances map[string]string `json:"genesisBalances,omitempty"`
}

// DefaultConfig returns the defaults a missing config file implies.
func DefaultConfig() Config {
	chain := core.DefaultConfig()
	return Config{
		ChainID:          chain.ChainID,
		P2PPort:          8086,
		RPCPort:          8090,
		DataDir:          "sparq-data",
		GenesisTimestamp: chain.GenesisTimestamp,
		BlockGasLimit:    chain.BlockGasLimit,
		MaxBlockTxs:      chain.MaxBlockTxs,
	}
}

// LoadConfig reads a JSON config file, filling defaults for absent fields.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: chainId must be non-zero")
	}
	if c.BlockGasLimit == 0 {
		return fmt.Errorf("config: blockGasLimit must be non-zero")
	}
	for addr := range c.GenesisBalances {
		if len(strings.TrimPrefix(addr, "0x")) != 2*types.AddressLength {
			return fmt.Errorf("config: bad genesis address %q", addr)
		}
	}
	return nil
}

// ChainConfig derives the core chain parameters.
func (c *Config) ChainConfig() core.Config {
	return core.Config{
		ChainID:          c.ChainID,
		BlockGasLimit:    c.BlockGasLimit,
		MaxBlockTxs:      c.MaxBlockTxs,
		GenesisTimestamp: c.GenesisTimestamp,
	}
}

// ValidatorSet parses the configured validator addresses.
func (c *Config) ValidatorSet() *core.ValidatorSet {
	members := make([]types.Address, 0, len(c.Validators))
	for _, v := range c.Validators {
		members = append(members, types.HexToAddress(v))
	}
	return core.NewValidatorSet(members)
}

// GenesisAlloc parses the configured genesis balances.
func (c *Config) GenesisAlloc() ([]core.GenesisAlloc, error) {
	alloc := make([]core.GenesisAlloc, 0, len(c.GenesisBalances))
	for addr, bal := range c.GenesisBalances {
		value, err := uint256.FromDecimal(bal)
		if err != nil {
			return nil, fmt.Errorf("config: bad genesis balance %q for %s: %w", bal, addr, err)
		}
		alloc = append(alloc, core.GenesisAlloc{Addr: types.HexToAddress(addr), Balance: value})
	}
	return alloc, nil
}
