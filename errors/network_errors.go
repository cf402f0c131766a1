package errors

import (
	stderrors "errors"

	"github.com/mezonai/mmn-aa/account"
	"github.com/mezonai/mmn-aa/bootloader"
	"github.com/mezonai/mmn-aa/jsonx"
	"github.com/mezonai/mmn-aa/ratelimit"
	"github.com/mezonai/mmn-aa/types"
	"github.com/mezonai/mmn-aa/vm/system"
)

// NetworkErrorCode represents standardized error codes for RPC operations
type NetworkErrorCode string

const (
	// General errors
	ErrCodeInternal NetworkErrorCode = "internal_error"

	// Validation errors
	ErrCodeInvalidRequest     NetworkErrorCode = "invalid_request"
	ErrCodeInvalidTransaction NetworkErrorCode = "invalid_transaction"
	ErrCodeInvalidSignature   NetworkErrorCode = "invalid_signature"
	ErrCodeInvalidAddress     NetworkErrorCode = "invalid_address"
	ErrCodeInvalidNonce       NetworkErrorCode = "invalid_nonce"

	// Account errors
	ErrCodeUnauthorizedCaller NetworkErrorCode = "unauthorized_caller"
	ErrCodeInsufficientFunds  NetworkErrorCode = "insufficient_funds"
	ErrCodePaymentFailed      NetworkErrorCode = "payment_failed"
	ErrCodeExecutionFailed    NetworkErrorCode = "execution_failed"
	ErrCodeNotOwner           NetworkErrorCode = "not_owner"
	ErrCodeAccountNotFound    NetworkErrorCode = "account_not_found"

	// Bootloader errors
	ErrCodeTransactionNotFound  NetworkErrorCode = "transaction_not_found"
	ErrCodeDuplicateTransaction NetworkErrorCode = "duplicate_transaction"
	ErrCodePaymasterUnsupported NetworkErrorCode = "paymaster_unsupported"

	// Admission errors
	ErrCodeRateLimited NetworkErrorCode = "rate_limited"
)

// NetworkError represents a standardized RPC error
type NetworkError struct {
	Code    NetworkErrorCode `json:"code"`
	Message string           `json:"message"`
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	err, _ := jsonx.Marshal(NetworkError{
		Code:    e.Code,
		Message: e.Message,
	})
	return string(err)
}

// Error message constants - user-friendly and concise
const (
	ErrMsgInvalidRequest       = "Request format is invalid"
	ErrMsgInvalidTransaction   = "Transaction data is invalid"
	ErrMsgInvalidSignature     = "Transaction is not signed by the account owner"
	ErrMsgInvalidAddress       = "Address is invalid"
	ErrMsgInvalidNonce         = "Transaction nonce is invalid or already used"
	ErrMsgUnauthorizedCaller   = "Caller is not allowed to perform this operation"
	ErrMsgInsufficientFunds    = "Account balance does not cover value and fee"
	ErrMsgPaymentFailed        = "Fee payment failed"
	ErrMsgExecutionFailed      = "Transaction execution failed"
	ErrMsgNotOwner             = "Only the account owner may do this"
	ErrMsgAccountNotFound      = "Address is not a smart account"
	ErrMsgTransactionNotFound  = "Transaction could not be found"
	ErrMsgDuplicateTransaction = "This transaction was already submitted"
	ErrMsgPaymasterUnsupported = "Paymaster sponsored transactions are not supported"
	ErrMsgRateLimited          = "Too many submissions, slow down"
	ErrMsgInternal             = "Server error, please try again"
)

// NewError creates a new NetworkError and returns it as error interface
func NewError(code NetworkErrorCode, message string) error {
	return &NetworkError{
		Code:    code,
		Message: message,
	}
}

// FromError maps an account or bootloader failure to its NetworkError.
// Errors that already are a NetworkError pass through.
func FromError(err error) error {
	if err == nil {
		return nil
	}
	var netErr *NetworkError
	if stderrors.As(err, &netErr) {
		return netErr
	}
	var limitErr *ratelimit.LimitError
	if stderrors.As(err, &limitErr) {
		return NewError(ErrCodeRateLimited, ErrMsgRateLimited)
	}

	switch {
	case stderrors.Is(err, account.ErrUnauthorizedCaller):
		return NewError(ErrCodeUnauthorizedCaller, ErrMsgUnauthorizedCaller)
	case stderrors.Is(err, account.ErrNotOwner):
		return NewError(ErrCodeNotOwner, ErrMsgNotOwner)
	case stderrors.Is(err, account.ErrInvalidSignature):
		return NewError(ErrCodeInvalidSignature, ErrMsgInvalidSignature)
	case stderrors.Is(err, account.ErrInsufficientBalance):
		return NewError(ErrCodeInsufficientFunds, ErrMsgInsufficientFunds)
	case stderrors.Is(err, account.ErrPaymentFailed):
		return NewError(ErrCodePaymentFailed, ErrMsgPaymentFailed)
	case stderrors.Is(err, account.ErrExecutionFailed):
		return NewError(ErrCodeExecutionFailed, ErrMsgExecutionFailed)
	case stderrors.Is(err, system.ErrNonceMismatch),
		stderrors.Is(err, system.ErrNonceAlreadyUsed),
		stderrors.Is(err, system.ErrNonceTooFar):
		return NewError(ErrCodeInvalidNonce, ErrMsgInvalidNonce)
	case stderrors.Is(err, types.ErrInvalidTxType),
		stderrors.Is(err, types.ErrMissingField),
		stderrors.Is(err, account.ErrSenderMismatch),
		stderrors.Is(err, account.ErrInvalidOwner):
		return NewError(ErrCodeInvalidTransaction, ErrMsgInvalidTransaction)
	case stderrors.Is(err, bootloader.ErrUnknownAccount):
		return NewError(ErrCodeAccountNotFound, ErrMsgAccountNotFound)
	case stderrors.Is(err, bootloader.ErrAlreadyInFlight),
		stderrors.Is(err, bootloader.ErrAlreadyProcessed):
		return NewError(ErrCodeDuplicateTransaction, ErrMsgDuplicateTransaction)
	case stderrors.Is(err, bootloader.ErrPaymasterUnsupported):
		return NewError(ErrCodePaymasterUnsupported, ErrMsgPaymasterUnsupported)
	default:
		return NewError(ErrCodeInternal, ErrMsgInternal)
	}
}
