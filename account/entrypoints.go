package account

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/stringutil"
	"github.com/mezonai/mmn-aa/types"
)

// ValidateTransaction reserves the nonce, checks that the account can pay
// and verifies the owner's signature. A signature mismatch is reported as
// MagicRejected with a nil error; every other failure is an error and
// leaves no trace.
func (a *Account) ValidateTransaction(ctx context.Context, caller common.Address, txHash, suggestedSignedHash common.Hash, tx *types.Transaction) (types.Magic, error) {
	if err := a.requireBootloader(caller); err != nil {
		return types.MagicRejected, err
	}

	magic := types.MagicRejected
	err := a.host.Atomic(func() error {
		var err error
		magic, err = a.validate(ctx, suggestedSignedHash, tx)
		return err
	})
	if err != nil {
		return types.MagicRejected, err
	}
	logx.Debug("ACCOUNT", fmt.Sprintf("validated %s: %s", stringutil.ShortHash(txHash), magic))
	return magic, nil
}

// PayForTransaction transfers the required fee to the bootloader
func (a *Account) PayForTransaction(ctx context.Context, caller common.Address, txHash, suggestedSignedHash common.Hash, tx *types.Transaction) (*uint256.Int, error) {
	if err := a.requireBootloader(caller); err != nil {
		return nil, err
	}
	if err := a.checkTx(tx); err != nil {
		return nil, err
	}

	var fee *uint256.Int
	err := a.host.Atomic(func() error {
		var err error
		fee, err = a.settle(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	logx.Debug("ACCOUNT", fmt.Sprintf("paid %s for %s", fee.Dec(), stringutil.ShortHash(txHash)))
	return fee, nil
}

// PrepareForPaymaster is the paymaster extension point. It only enforces
// the caller identity.
func (a *Account) PrepareForPaymaster(ctx context.Context, caller common.Address, txHash, suggestedSignedHash common.Hash, tx *types.Transaction) error {
	if err := a.requireBootloader(caller); err != nil {
		return err
	}
	return a.checkTx(tx)
}

// ExecuteTransaction dispatches tx. The bootloader and the owner may call it.
func (a *Account) ExecuteTransaction(ctx context.Context, caller common.Address, txHash, suggestedSignedHash common.Hash, tx *types.Transaction) ([]byte, error) {
	if err := a.requireBootloaderOrOwner(caller); err != nil {
		return nil, err
	}
	if err := a.checkTx(tx); err != nil {
		return nil, err
	}

	var out []byte
	err := a.host.Atomic(func() error {
		var err error
		out, err = a.dispatch(ctx, tx)
		return err
	})
	return out, err
}

// ExecuteTransactionFromOutside lets anyone relay an owner-signed
// transaction. It runs the full validation against a freshly computed hash
// and fails with ErrInvalidSignature when the owner did not sign it.
func (a *Account) ExecuteTransactionFromOutside(ctx context.Context, caller common.Address, tx *types.Transaction) ([]byte, error) {
	var out []byte
	err := a.host.Atomic(func() error {
		magic, err := a.validate(ctx, common.Hash{}, tx)
		if err != nil {
			return err
		}
		if !magic.IsSuccess() {
			return ErrInvalidSignature
		}
		out, err = a.dispatch(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	logx.Info("ACCOUNT", fmt.Sprintf("%s executed transaction from outside, relayed by %s", a.Address().Hex(), caller.Hex()))
	return out, nil
}

func (a *Account) validate(ctx context.Context, suggestedSignedHash common.Hash, tx *types.Transaction) (types.Magic, error) {
	if err := a.checkTx(tx); err != nil {
		return types.MagicRejected, err
	}
	if err := a.reserveNonce(ctx, tx); err != nil {
		return types.MagicRejected, err
	}

	hash := suggestedSignedHash
	if hash == (common.Hash{}) {
		hash = tx.EncodeHash(a.host.ChainID())
	}

	if err := a.checkBalance(tx); err != nil {
		return types.MagicRejected, err
	}
	return a.authorize(hash, tx.Signature), nil
}

func (a *Account) checkTx(tx *types.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", types.ErrInvalidTxType)
	}
	if err := tx.CheckWellFormed(); err != nil {
		return err
	}
	if tx.From != a.Address() {
		return fmt.Errorf("%w: from %s", ErrSenderMismatch, tx.From.Hex())
	}
	return nil
}
