package events

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/types"
	"go.opentelemetry.io/otel/trace"
)

// EventType is an enum-like string type for account events
type EventType string

const (
	EventTransactionValidated EventType = "TransactionValidated"
	EventTransactionRejected  EventType = "TransactionRejected"
	EventTransactionPaid      EventType = "TransactionPaid"
	EventTransactionExecuted  EventType = "TransactionExecuted"
	EventTransactionFailed    EventType = "TransactionFailed"
	EventOwnershipTransferred EventType = "OwnershipTransferred"
	EventContractLog          EventType = "ContractLog"
)

// AccountEvent is anything that happens to a smart account
type AccountEvent interface {
	Type() EventType
	Timestamp() time.Time
	TxHash() string
	Account() common.Address
	// Fields carries the event specific attributes
	Fields() map[string]string
	// SpanContext is the trace the event was raised in, zero when untraced
	SpanContext() trace.SpanContext
}

type base struct {
	txHash    common.Hash
	account   common.Address
	timestamp time.Time
	spanCtx   trace.SpanContext
}

func newBase(txHash common.Hash, account common.Address) base {
	return base{txHash: txHash, account: account, timestamp: time.Now()}
}

func (b base) Timestamp() time.Time {
	return b.timestamp
}

func (b base) SpanContext() trace.SpanContext {
	return b.spanCtx
}

func (b *base) setSpanContext(sc trace.SpanContext) {
	b.spanCtx = sc
}

// Traced stamps ev with the span carried by ctx
func Traced(ctx context.Context, ev AccountEvent) AccountEvent {
	if t, ok := ev.(interface{ setSpanContext(trace.SpanContext) }); ok {
		t.setSpanContext(trace.SpanContextFromContext(ctx))
	}
	return ev
}

func (b base) TxHash() string {
	if b.txHash == (common.Hash{}) {
		return ""
	}
	return b.txHash.Hex()
}

func (b base) Account() common.Address {
	return b.account
}

// TransactionValidated is published when the account accepted the signature
type TransactionValidated struct {
	base
	nonce *uint256.Int
}

func NewTransactionValidated(txHash common.Hash, tx *types.Transaction) *TransactionValidated {
	return &TransactionValidated{base: newBase(txHash, tx.From), nonce: types.U256(tx.Nonce).Clone()}
}

func (e *TransactionValidated) Type() EventType {
	return EventTransactionValidated
}

func (e *TransactionValidated) Fields() map[string]string {
	return map[string]string{"nonce": e.nonce.Dec()}
}

// TransactionRejected is published when validation returned a non-success magic
type TransactionRejected struct {
	base
	magic types.Magic
}

func NewTransactionRejected(txHash common.Hash, account common.Address, magic types.Magic) *TransactionRejected {
	return &TransactionRejected{base: newBase(txHash, account), magic: magic}
}

func (e *TransactionRejected) Type() EventType {
	return EventTransactionRejected
}

func (e *TransactionRejected) Fields() map[string]string {
	return map[string]string{"magic": e.magic.String()}
}

// TransactionPaid is published after the fee reached the bootloader
type TransactionPaid struct {
	base
	fee *uint256.Int
}

func NewTransactionPaid(txHash common.Hash, account common.Address, fee *uint256.Int) *TransactionPaid {
	return &TransactionPaid{base: newBase(txHash, account), fee: types.U256(fee).Clone()}
}

func (e *TransactionPaid) Type() EventType {
	return EventTransactionPaid
}

func (e *TransactionPaid) Fields() map[string]string {
	return map[string]string{"fee": e.fee.Dec()}
}

func (e *TransactionPaid) Fee() *uint256.Int {
	return e.fee.Clone()
}

// TransactionExecuted is published when the dispatched call succeeded
type TransactionExecuted struct {
	base
	returnSize int
}

func NewTransactionExecuted(txHash common.Hash, account common.Address, returnData []byte) *TransactionExecuted {
	return &TransactionExecuted{base: newBase(txHash, account), returnSize: len(returnData)}
}

func (e *TransactionExecuted) Type() EventType {
	return EventTransactionExecuted
}

func (e *TransactionExecuted) Fields() map[string]string {
	return map[string]string{"return_size": itoa(e.returnSize)}
}

// TransactionFailed is published when a transaction ends in a failure phase
type TransactionFailed struct {
	base
	phase  types.Phase
	reason string
}

func NewTransactionFailed(txHash common.Hash, account common.Address, phase types.Phase, reason string) *TransactionFailed {
	return &TransactionFailed{base: newBase(txHash, account), phase: phase, reason: reason}
}

func (e *TransactionFailed) Type() EventType {
	return EventTransactionFailed
}

func (e *TransactionFailed) Phase() types.Phase {
	return e.phase
}

func (e *TransactionFailed) Reason() string {
	return e.reason
}

func (e *TransactionFailed) Fields() map[string]string {
	return map[string]string{"phase": e.phase.String(), "reason": e.reason}
}

// OwnershipTransferred is published when an account changes hands
type OwnershipTransferred struct {
	base
	previous common.Address
	next     common.Address
}

func NewOwnershipTransferred(account, previous, next common.Address) *OwnershipTransferred {
	return &OwnershipTransferred{base: newBase(common.Hash{}, account), previous: previous, next: next}
}

func (e *OwnershipTransferred) Type() EventType {
	return EventOwnershipTransferred
}

func (e *OwnershipTransferred) Fields() map[string]string {
	return map[string]string{"previous_owner": e.previous.Hex(), "new_owner": e.next.Hex()}
}

// ContractLog relays a log a contract emitted while executing a transaction
type ContractLog struct {
	base
	contract common.Address
	name     string
	fields   map[string]string
}

func NewContractLog(txHash common.Hash, account, contract common.Address, name string, fields map[string]string) *ContractLog {
	return &ContractLog{base: newBase(txHash, account), contract: contract, name: name, fields: fields}
}

func (e *ContractLog) Type() EventType {
	return EventContractLog
}

func (e *ContractLog) Fields() map[string]string {
	out := make(map[string]string, len(e.fields)+2)
	for k, v := range e.fields {
		out[k] = v
	}
	out["contract"] = e.contract.Hex()
	out["name"] = e.name
	return out
}

func itoa(n int) string {
	return uint256.NewInt(uint64(n)).Dec()
}
