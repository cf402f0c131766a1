package account

import "errors"

var (
	ErrUnauthorizedCaller  = errors.New("unauthorized caller")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPaymentFailed       = errors.New("payment failed")
	ErrExecutionFailed     = errors.New("execution failed")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrInvalidOwner        = errors.New("owner cannot be the zero address")
	ErrAlreadyInitialized  = errors.New("account already has an owner")
	ErrSenderMismatch      = errors.New("transaction is not sent from this account")
)
