package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/logx"
	"gopkg.in/yaml.v3"
)

type SystemConfig struct {
	Bootloader  string `yaml:"bootloader"`
	NonceHolder string `yaml:"nonce_holder"`
	Deployer    string `yaml:"deployer"`
}

// Allocation funds a plain address
type Allocation struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"`
}

// SmartAccount is an account deployed at genesis
type SmartAccount struct {
	Address       string `yaml:"address"`
	Owner         string `yaml:"owner"`
	Balance       string `yaml:"balance"`
	NonceOrdering string `yaml:"nonce_ordering"`
}

type Mint struct {
	To     string `yaml:"to"`
	Amount string `yaml:"amount"`
}

type TokenContract struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
	Mints   []Mint `yaml:"mints"`
}

// GenesisConfig holds the configuration from genesis.yml
type GenesisConfig struct {
	ChainID  uint64          `yaml:"chain_id"`
	System   SystemConfig    `yaml:"system"`
	Alloc    []Allocation    `yaml:"alloc"`
	Accounts []SmartAccount  `yaml:"accounts"`
	Tokens   []TokenContract `yaml:"tokens"`
}

// ConfigFile is the top-level structure for genesis.yml
type ConfigFile struct {
	Config GenesisConfig `yaml:"config"`
}

// LoadGenesisConfig reads and parses the genesis.yml file
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfgFile.Config.Validate(); err != nil {
		return nil, err
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded genesis %s: chain_id=%d accounts=%d tokens=%d alloc=%d",
		path, cfgFile.Config.ChainID, len(cfgFile.Config.Accounts), len(cfgFile.Config.Tokens), len(cfgFile.Config.Alloc)))
	return &cfgFile.Config, nil
}

func (g *GenesisConfig) Validate() error {
	if g.ChainID == 0 {
		return fmt.Errorf("genesis chain_id is required")
	}
	for _, s := range []string{g.System.Bootloader, g.System.NonceHolder, g.System.Deployer} {
		if s != "" && !common.IsHexAddress(s) {
			return fmt.Errorf("invalid system address %q", s)
		}
	}
	for _, a := range g.Alloc {
		if err := checkAddressAmount(a.Address, a.Balance); err != nil {
			return fmt.Errorf("alloc: %w", err)
		}
	}
	for _, a := range g.Accounts {
		if err := checkAddressAmount(a.Address, a.Balance); err != nil {
			return fmt.Errorf("account: %w", err)
		}
		if !common.IsHexAddress(a.Owner) || common.HexToAddress(a.Owner) == (common.Address{}) {
			return fmt.Errorf("account %s: invalid owner %q", a.Address, a.Owner)
		}
		switch a.NonceOrdering {
		case "", "sequential", "arbitrary":
		default:
			return fmt.Errorf("account %s: unknown nonce ordering %q", a.Address, a.NonceOrdering)
		}
	}
	for _, t := range g.Tokens {
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("token: invalid address %q", t.Address)
		}
		for _, m := range t.Mints {
			if err := checkAddressAmount(m.To, m.Amount); err != nil {
				return fmt.Errorf("token %s mint: %w", t.Address, err)
			}
		}
	}
	return nil
}

// ParseAmount reads a decimal or 0x-prefixed amount; empty is zero
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}

func checkAddressAmount(addr, amount string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid address %q", addr)
	}
	if _, err := ParseAmount(amount); err != nil {
		return fmt.Errorf("%s: invalid amount %q: %w", addr, amount, err)
	}
	return nil
}
