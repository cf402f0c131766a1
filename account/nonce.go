package account

import (
	"context"
	"fmt"

	"github.com/mezonai/mmn-aa/types"
	"github.com/mezonai/mmn-aa/vm/system"
)

// NonceReservationGas is the budget of a nonce registry system call
const NonceReservationGas uint64 = 100_000

// reserveNonce consumes tx.Nonce in the registry. A duplicate or otherwise
// rejected nonce fails with the registry's error.
func (a *Account) reserveNonce(ctx context.Context, tx *types.Transaction) error {
	input, err := system.PackIncrementMinNonce(tx.Nonce)
	if err != nil {
		return err
	}
	if _, err := a.host.SystemCall(ctx, a.sys.NonceHolder, nil, input, NonceReservationGas); err != nil {
		return fmt.Errorf("nonce %s rejected: %w", types.U256(tx.Nonce).Dec(), err)
	}
	return nil
}
