package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mezonai/mmn-aa/types"
)

type AAService interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	ExecuteFromOutside(ctx context.Context, relayer common.Address, tx *types.Transaction) ([]byte, error)
	GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ListReceipts(ctx context.Context, account common.Address) ([]*types.Receipt, error)
}
