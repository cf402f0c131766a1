package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/types"
)

type AccountService interface {
	GetAccount(ctx context.Context, addr common.Address) (*types.Account, error)
	// GetCurrentNonce returns the committed min nonce for "latest", and
	// adds the account's in-flight transactions for "pending"
	GetCurrentNonce(ctx context.Context, addr common.Address, tag string) (*uint256.Int, error)
	IsNonceUsed(ctx context.Context, addr common.Address, nonce *uint256.Int) (bool, error)
}
