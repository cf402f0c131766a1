package account

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/types"
	"github.com/mezonai/mmn-aa/vm"
	"github.com/mezonai/mmn-aa/vm/system"
)

// Host is the platform as seen from the account's own address
type Host interface {
	Address() common.Address
	ChainID() *uint256.Int
	Balance(addr common.Address) *uint256.Int
	Call(ctx context.Context, to common.Address, value *uint256.Int, input []byte, gas uint64) ([]byte, error)
	SystemCall(ctx context.Context, to common.Address, value *uint256.Int, input []byte, gas uint64) ([]byte, error)
	Atomic(fn func() error) error
	GetStorage(key common.Hash) common.Hash
	SetStorage(key, value common.Hash)
}

// SystemAddresses names the platform identities the account trusts
type SystemAddresses struct {
	Bootloader  common.Address
	NonceHolder common.Address
	Deployer    common.Address
}

// DefaultSystemAddresses returns the well-known system contract addresses
func DefaultSystemAddresses() SystemAddresses {
	return SystemAddresses{
		Bootloader:  system.BootloaderAddress,
		NonceHolder: system.NonceHolderAddress,
		Deployer:    system.ContractDeployerAddress,
	}
}

// ownerSlot holds the owner address
var ownerSlot = common.Hash{}

// Account is a single-owner smart account. Its only persistent fields are
// the owner, kept in storage slot 0, and its native balance.
type Account struct {
	host Host
	sys  SystemAddresses
}

// New binds an account to an already initialized address
func New(host Host, sys SystemAddresses) *Account {
	return &Account{host: host, sys: sys}
}

// Deploy initializes the account at the host's address with owner
func Deploy(host Host, sys SystemAddresses, owner common.Address) (*Account, error) {
	if owner == (common.Address{}) {
		return nil, ErrInvalidOwner
	}
	a := New(host, sys)
	if a.Owner() != (common.Address{}) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, host.Address().Hex())
	}
	a.setOwner(owner)
	logx.Info("ACCOUNT", fmt.Sprintf("Deployed account %s owned by %s", host.Address().Hex(), owner.Hex()))
	return a, nil
}

func (a *Account) Address() common.Address {
	return a.host.Address()
}

func (a *Account) Owner() common.Address {
	return common.BytesToAddress(a.host.GetStorage(ownerSlot).Bytes())
}

func (a *Account) Balance() *uint256.Int {
	return a.host.Balance(a.Address())
}

func (a *Account) setOwner(owner common.Address) {
	a.host.SetStorage(ownerSlot, common.BytesToHash(owner.Bytes()))
}

// TransferOwnership hands the account to newOwner. Only the current owner
// may call it.
func (a *Account) TransferOwnership(caller, newOwner common.Address) (common.Address, error) {
	if err := a.requireOwner(caller); err != nil {
		return common.Address{}, err
	}
	if newOwner == (common.Address{}) {
		return common.Address{}, ErrInvalidOwner
	}
	previous := a.Owner()
	a.setOwner(newOwner)
	logx.Info("ACCOUNT", fmt.Sprintf("Ownership of %s transferred from %s to %s", a.Address().Hex(), previous.Hex(), newOwner.Hex()))
	return previous, nil
}

// UpdateNonceOrdering switches the account's nonce registry mode. Only the
// owner may call it.
func (a *Account) UpdateNonceOrdering(ctx context.Context, caller common.Address, ordering types.NonceOrdering) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	input, err := system.PackUpdateNonceOrdering(ordering)
	if err != nil {
		return err
	}
	if _, err := a.host.SystemCall(ctx, a.sys.NonceHolder, nil, input, NonceReservationGas); err != nil {
		return fmt.Errorf("update nonce ordering: %w", err)
	}
	return nil
}

// Run accepts plain value transfers into the account
func (a *Account) Run(f *vm.Frame, input []byte) ([]byte, error) {
	if len(input) != 0 {
		return nil, vm.ErrUnexpectedCalldata
	}
	if f.Value != nil && !f.Value.IsZero() {
		logx.Debug("ACCOUNT", fmt.Sprintf("%s received %s from %s", f.Self.Hex(), f.Value.Dec(), f.Caller.Hex()))
	}
	return nil, nil
}
