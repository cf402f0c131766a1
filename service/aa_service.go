package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mezonai/mmn-aa/bootloader"
	"github.com/mezonai/mmn-aa/errors"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/types"
)

type AAServiceImpl struct {
	bl *bootloader.Bootloader
}

func NewAAService(bl *bootloader.Bootloader) *AAServiceImpl {
	return &AAServiceImpl{bl: bl}
}

func (s *AAServiceImpl) SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidRequest, errors.ErrMsgInvalidRequest)
	}
	receipt, err := s.bl.Submit(ctx, tx)
	if err != nil {
		logx.Warn("RPC", fmt.Sprintf("SendTransaction from %s rejected: %v", tx.From.Hex(), err))
		return nil, errors.FromError(err)
	}
	return receipt, nil
}

func (s *AAServiceImpl) ExecuteFromOutside(ctx context.Context, relayer common.Address, tx *types.Transaction) ([]byte, error) {
	if tx == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidRequest, errors.ErrMsgInvalidRequest)
	}
	out, err := s.bl.ExecuteFromOutside(ctx, relayer, tx)
	if err != nil {
		logx.Warn("RPC", fmt.Sprintf("ExecuteFromOutside for %s relayed by %s failed: %v", tx.From.Hex(), relayer.Hex(), err))
		return nil, errors.FromError(err)
	}
	return out, nil
}

func (s *AAServiceImpl) GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := s.bl.Receipt(txHash)
	if err != nil {
		logx.Error("RPC", fmt.Sprintf("Failed to load receipt %s: %v", txHash.Hex(), err))
		return nil, errors.FromError(err)
	}
	if receipt == nil {
		return nil, errors.NewError(errors.ErrCodeTransactionNotFound, errors.ErrMsgTransactionNotFound)
	}
	return receipt, nil
}

func (s *AAServiceImpl) ListReceipts(ctx context.Context, account common.Address) ([]*types.Receipt, error) {
	receipts, err := s.bl.Receipts(account)
	if err != nil {
		logx.Error("RPC", fmt.Sprintf("Failed to list receipts of %s: %v", account.Hex(), err))
		return nil, errors.FromError(err)
	}
	return receipts, nil
}
