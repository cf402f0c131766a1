package genesis

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/account"
	"github.com/mezonai/mmn-aa/bootloader"
	"github.com/mezonai/mmn-aa/config"
	"github.com/mezonai/mmn-aa/contracts"
	"github.com/mezonai/mmn-aa/ledger"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/store"
	"github.com/mezonai/mmn-aa/types"
	"github.com/mezonai/mmn-aa/vm"
	"github.com/mezonai/mmn-aa/vm/system"
)

// mintGas bounds each genesis token mint
const mintGas uint64 = 1_000_000

// Chain is the platform a node runs on
type Chain struct {
	Machine  *vm.Machine
	System   account.SystemAddresses
	Deployer *system.ContractDeployer
	Accounts map[common.Address]*account.Account
}

// SystemAddresses resolves the configured system addresses, falling back
// to the well-known ones
func SystemAddresses(cfg config.SystemConfig) account.SystemAddresses {
	sys := account.DefaultSystemAddresses()
	if cfg.Bootloader != "" {
		sys.Bootloader = common.HexToAddress(cfg.Bootloader)
	}
	if cfg.NonceHolder != "" {
		sys.NonceHolder = common.HexToAddress(cfg.NonceHolder)
	}
	if cfg.Deployer != "" {
		sys.Deployer = common.HexToAddress(cfg.Deployer)
	}
	return sys
}

// Load installs code for everything genesis names on top of st. The state
// itself (owners, balances, mints) is written only the first time.
func Load(ctx context.Context, st store.StateStore, cfg *config.GenesisConfig) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loaded, err := st.GetMeta(store.MetaKeyGenesisLoaded)
	if err != nil {
		return nil, fmt.Errorf("read genesis marker: %w", err)
	}
	fresh := len(loaded) == 0

	machine := vm.NewMachine(ledger.NewLedger(st), uint256.NewInt(cfg.ChainID))
	sys := SystemAddresses(cfg.System)
	deployer := system.NewContractDeployer(system.KnownCodesAddress)
	deployer.RegisterCode(contracts.TokenCodeHash, contracts.TokenFactory)

	installs := []struct {
		addr       common.Address
		code       vm.Contract
		privileged bool
	}{
		{sys.Bootloader, bootloader.Sink{}, true},
		{sys.NonceHolder, system.NewNonceHolder(), false},
		{system.KnownCodesAddress, system.NewKnownCodes(sys.Bootloader), false},
		{sys.Deployer, deployer, false},
	}
	for _, in := range installs {
		if err := machine.Register(in.addr, in.code, in.privileged); err != nil {
			return nil, fmt.Errorf("install system contract %s: %w", in.addr.Hex(), err)
		}
	}

	chain := &Chain{Machine: machine, System: sys, Deployer: deployer, Accounts: make(map[common.Address]*account.Account)}
	for _, sa := range cfg.Accounts {
		if err := chain.installAccount(ctx, sa, fresh); err != nil {
			return nil, err
		}
	}
	for _, tc := range cfg.Tokens {
		if err := chain.installToken(ctx, tc, fresh); err != nil {
			return nil, err
		}
	}

	if fresh {
		for _, a := range cfg.Alloc {
			amount, _ := config.ParseAmount(a.Balance)
			if err := machine.State().AddBalance(common.HexToAddress(a.Address), amount); err != nil {
				return nil, fmt.Errorf("fund %s: %w", a.Address, err)
			}
		}
		if _, err := machine.Commit(); err != nil {
			return nil, fmt.Errorf("commit genesis: %w", err)
		}
		if err := st.PutMeta(store.MetaKeyGenesisLoaded, []byte{1}); err != nil {
			return nil, fmt.Errorf("write genesis marker: %w", err)
		}
		logx.Info("GENESIS", fmt.Sprintf("Genesis applied: chain %d, %d accounts, %d tokens, %d allocations",
			cfg.ChainID, len(cfg.Accounts), len(cfg.Tokens), len(cfg.Alloc)))
	} else {
		logx.Info("GENESIS", fmt.Sprintf("Genesis already applied, reattached %d accounts and %d tokens", len(cfg.Accounts), len(cfg.Tokens)))
	}
	return chain, nil
}

func (c *Chain) installAccount(ctx context.Context, sa config.SmartAccount, fresh bool) error {
	addr := common.HexToAddress(sa.Address)
	owner := common.HexToAddress(sa.Owner)
	host := c.Machine.HostFor(addr)

	var acc *account.Account
	if fresh {
		var err error
		if acc, err = account.Deploy(host, c.System, owner); err != nil {
			return fmt.Errorf("deploy account %s: %w", addr.Hex(), err)
		}
	} else {
		acc = account.New(host, c.System)
	}
	if err := c.Machine.Register(addr, acc, true); err != nil {
		return fmt.Errorf("install account %s: %w", addr.Hex(), err)
	}
	c.Accounts[addr] = acc
	if !fresh {
		return nil
	}

	balance, _ := config.ParseAmount(sa.Balance)
	if err := c.Machine.State().AddBalance(addr, balance); err != nil {
		return fmt.Errorf("fund account %s: %w", addr.Hex(), err)
	}
	if sa.NonceOrdering == types.NonceOrderingArbitrary.String() {
		if err := acc.UpdateNonceOrdering(ctx, owner, types.NonceOrderingArbitrary); err != nil {
			return fmt.Errorf("account %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

func (c *Chain) installToken(ctx context.Context, tc config.TokenContract, fresh bool) error {
	addr := common.HexToAddress(tc.Address)
	if err := c.Machine.Register(addr, contracts.NewToken(tc.Name), false); err != nil {
		return fmt.Errorf("install token %s: %w", addr.Hex(), err)
	}
	if !fresh {
		return nil
	}
	for _, m := range tc.Mints {
		amount, _ := config.ParseAmount(m.Amount)
		input, err := contracts.PackMint(common.HexToAddress(m.To), amount)
		if err != nil {
			return err
		}
		if _, _, err := c.Machine.Call(ctx, c.System.Bootloader, addr, nil, input, mintGas); err != nil {
			return fmt.Errorf("mint %s to %s: %w", tc.Name, m.To, err)
		}
	}
	return nil
}
