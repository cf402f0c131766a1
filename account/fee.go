package account

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/types"
)

// PaymentGas is the budget of the fee transfer to the bootloader
const PaymentGas uint64 = 10_000

// RequiredFee is gasLimit × gasPerPubdataByteLimit. ok is false on overflow.
func RequiredFee(tx *types.Transaction) (fee *uint256.Int, ok bool) {
	fee, overflow := new(uint256.Int).MulOverflow(types.U256(tx.GasLimit), types.U256(tx.GasPerPubdataByteLimit))
	return fee, !overflow
}

// TotalRequiredBalance is what the account must hold for tx to be accepted:
// the value plus the fee, or only the value when a paymaster sponsors the fee
func TotalRequiredBalance(tx *types.Transaction) (*uint256.Int, bool) {
	value := types.U256(tx.Value)
	if tx.HasPaymaster() {
		return value.Clone(), true
	}
	fee, ok := RequiredFee(tx)
	if !ok {
		return nil, false
	}
	total, overflow := new(uint256.Int).AddOverflow(fee, value)
	return total, !overflow
}

func (a *Account) checkBalance(tx *types.Transaction) error {
	required, ok := TotalRequiredBalance(tx)
	balance := a.Balance()
	if !ok {
		return fmt.Errorf("%w: required amount overflows", ErrInsufficientBalance)
	}
	if balance.Lt(required) {
		return fmt.Errorf("%w: has %s, needs %s", ErrInsufficientBalance, balance.Dec(), required.Dec())
	}
	return nil
}

// settle pays the fee to the bootloader
func (a *Account) settle(ctx context.Context, tx *types.Transaction) (*uint256.Int, error) {
	fee, ok := RequiredFee(tx)
	if !ok {
		return nil, fmt.Errorf("%w: fee overflows", ErrPaymentFailed)
	}
	if _, err := a.host.Call(ctx, a.sys.Bootloader, fee, nil, PaymentGas); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}
	return fee, nil
}
