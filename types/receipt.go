package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Receipt records how far a transaction got through the bootloader flow
type Receipt struct {
	TxHash    common.Hash    `json:"tx_hash"`
	Account   common.Address `json:"account"`
	Nonce     *uint256.Int   `json:"nonce"`
	Phase     Phase          `json:"phase"`
	Magic     Magic          `json:"magic"`
	FeePaid   *uint256.Int   `json:"fee_paid"`
	Error     string         `json:"error,omitempty"`
	Timestamp uint64         `json:"timestamp"`
}

// Succeeded reports whether the transaction was executed
func (r *Receipt) Succeeded() bool {
	return r.Phase == PhaseExecuted
}

func NewReceipt(txHash common.Hash, tx *Transaction, timestamp uint64) *Receipt {
	return &Receipt{
		TxHash:    txHash,
		Account:   tx.From,
		Nonce:     U256(tx.Nonce).Clone(),
		Phase:     PhaseReceived,
		FeePaid:   new(uint256.Int),
		Timestamp: timestamp,
	}
}
