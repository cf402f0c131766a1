package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/bootloader"
	"github.com/mezonai/mmn-aa/errors"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/types"
)

const (
	NonceTagLatest  = "latest"
	NonceTagPending = "pending"
)

type AccountServiceImpl struct {
	bl *bootloader.Bootloader
}

func NewAccountService(bl *bootloader.Bootloader) *AccountServiceImpl {
	return &AccountServiceImpl{bl: bl}
}

func (s *AccountServiceImpl) GetAccount(ctx context.Context, addr common.Address) (*types.Account, error) {
	acc, err := s.bl.Account(ctx, addr)
	if err != nil {
		logx.Error("RPC", "GetAccount failed", err)
		return nil, errors.FromError(err)
	}
	logx.Debug("RPC", fmt.Sprintf("GetAccount %s: balance %s, min nonce %s", addr.Hex(), acc.Balance.Dec(), acc.MinNonce.Dec()))
	return acc, nil
}

func (s *AccountServiceImpl) GetCurrentNonce(ctx context.Context, addr common.Address, tag string) (*uint256.Int, error) {
	if tag != NonceTagLatest && tag != NonceTagPending {
		return nil, errors.NewError(errors.ErrCodeInvalidRequest, "invalid tag: must be 'latest' or 'pending'")
	}
	acc, err := s.bl.Account(ctx, addr)
	if err != nil {
		return nil, errors.FromError(err)
	}
	nonce := acc.MinNonce.Clone()
	if tag == NonceTagPending {
		inflight := len(s.bl.Tracker().InFlight(addr))
		nonce.AddUint64(nonce, uint64(inflight))
		logx.Debug("RPC", fmt.Sprintf("Pending nonce for %s: committed %s, in flight %d", addr.Hex(), acc.MinNonce.Dec(), inflight))
	}
	return nonce, nil
}

func (s *AccountServiceImpl) IsNonceUsed(ctx context.Context, addr common.Address, nonce *uint256.Int) (bool, error) {
	used, err := s.bl.IsNonceUsed(ctx, addr, types.U256(nonce))
	if err != nil {
		return false, errors.FromError(err)
	}
	return used, nil
}
