package bootloader

import (
	"errors"

	"github.com/mezonai/mmn-aa/account"
	"github.com/mezonai/mmn-aa/monitoring"
	"github.com/mezonai/mmn-aa/types"
	"github.com/mezonai/mmn-aa/vm/system"
)

// RejectReason classifies a failure for the rejection metric
func RejectReason(err error) monitoring.TxRejectedReason {
	switch {
	case err == nil:
		return monitoring.TxRejectedUnknown
	case errors.Is(err, account.ErrUnauthorizedCaller):
		return monitoring.TxUnauthorizedCaller
	case errors.Is(err, types.ErrInvalidTxType),
		errors.Is(err, types.ErrMissingField),
		errors.Is(err, account.ErrSenderMismatch):
		return monitoring.TxInvalidType
	case errors.Is(err, account.ErrInvalidSignature):
		return monitoring.TxInvalidSignature
	case errors.Is(err, system.ErrNonceMismatch),
		errors.Is(err, system.ErrNonceAlreadyUsed),
		errors.Is(err, system.ErrNonceTooFar):
		return monitoring.TxInvalidNonce
	case errors.Is(err, account.ErrInsufficientBalance):
		return monitoring.TxInsufficientBalance
	case errors.Is(err, account.ErrPaymentFailed), errors.Is(err, ErrPaymasterUnsupported):
		return monitoring.TxPaymentFailed
	case errors.Is(err, account.ErrExecutionFailed):
		return monitoring.TxExecutionFailed
	case errors.Is(err, ErrAlreadyInFlight), errors.Is(err, ErrAlreadyProcessed):
		return monitoring.TxDuplicated
	default:
		return monitoring.TxRejectedUnknown
	}
}
