package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

func (a *Account) requireBootloader(caller common.Address) error {
	if caller != a.sys.Bootloader {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, caller.Hex())
	}
	return nil
}

func (a *Account) requireBootloaderOrOwner(caller common.Address) error {
	if caller != a.sys.Bootloader && caller != a.Owner() {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, caller.Hex())
	}
	return nil
}

func (a *Account) requireOwner(caller common.Address) error {
	if caller != a.Owner() {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	return nil
}
