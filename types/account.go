package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NonceOrdering is the nonce registry mode of one account
type NonceOrdering uint8

const (
	NonceOrderingSequential NonceOrdering = iota
	NonceOrderingArbitrary
)

func (o NonceOrdering) String() string {
	if o == NonceOrderingArbitrary {
		return "arbitrary"
	}
	return "sequential"
}

// Account is a read-only snapshot of an address served to RPC clients.
// Owner is the zero address for externally owned addresses.
type Account struct {
	Address       common.Address `json:"address"`
	Balance       *uint256.Int   `json:"balance"`
	Owner         common.Address `json:"owner"`
	IsSmart       bool           `json:"is_smart"`
	MinNonce      *uint256.Int   `json:"min_nonce"`
	NonceOrdering string         `json:"nonce_ordering"`
}
