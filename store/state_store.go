package store

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/db"
	"github.com/mezonai/mmn-aa/logx"
)

// StateStore persists the world state: native balances and contract storage
// slots. Absent entries read as zero.
type StateStore interface {
	GetBalance(addr common.Address) (*uint256.Int, error)
	GetSlot(addr common.Address, key common.Hash) (common.Hash, error)
	Apply(balances map[common.Address]*uint256.Int, slots map[common.Address]map[common.Hash]common.Hash) error
	GetMeta(key string) ([]byte, error)
	PutMeta(key string, value []byte) error
	MustClose()
}

type GenericStateStore struct {
	mu         sync.RWMutex
	dbProvider db.DatabaseProvider
}

func NewGenericStateStore(dbProvider db.DatabaseProvider) (*GenericStateStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	return &GenericStateStore{
		dbProvider: dbProvider,
	}, nil
}

// GetBalance returns the persisted balance, zero if never written
func (ss *GenericStateStore) GetBalance(addr common.Address) (*uint256.Int, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	data, err := ss.dbProvider.Get(balanceKey(addr))
	if err != nil {
		return nil, fmt.Errorf("could not get balance of %s from db: %w", addr.Hex(), err)
	}
	if len(data) == 0 {
		return new(uint256.Int), nil
	}
	if len(data) > 32 {
		return nil, fmt.Errorf("corrupted balance of %s: %d bytes", addr.Hex(), len(data))
	}
	return new(uint256.Int).SetBytes(data), nil
}

// GetSlot returns the persisted storage word, zero if never written
func (ss *GenericStateStore) GetSlot(addr common.Address, key common.Hash) (common.Hash, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	data, err := ss.dbProvider.Get(slotKey(addr, key))
	if err != nil {
		return common.Hash{}, fmt.Errorf("could not get slot %s of %s from db: %w", key.Hex(), addr.Hex(), err)
	}
	return common.BytesToHash(data), nil
}

// Apply writes a set of dirty balances and slots in one batch. Zero values
// delete their key so the store never holds explicit zeros.
func (ss *GenericStateStore) Apply(balances map[common.Address]*uint256.Int, slots map[common.Address]map[common.Hash]common.Hash) error {
	if len(balances) == 0 && len(slots) == 0 {
		return nil
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	batch := ss.dbProvider.Batch()
	defer batch.Close()

	for addr, bal := range balances {
		if bal == nil || bal.IsZero() {
			batch.Delete(balanceKey(addr))
			continue
		}
		batch.Put(balanceKey(addr), bal.Bytes())
	}
	slotCount := 0
	for addr, entries := range slots {
		for key, value := range entries {
			slotCount++
			if value == (common.Hash{}) {
				batch.Delete(slotKey(addr, key))
				continue
			}
			batch.Put(slotKey(addr, key), value.Bytes())
		}
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write state batch to database: %w", err)
	}

	logx.Debug("STATE_STORE", fmt.Sprintf("Apply: wrote %d balances, %d slots", len(balances), slotCount))
	return nil
}

func (ss *GenericStateStore) GetMeta(key string) ([]byte, error) {
	return ss.dbProvider.Get([]byte(PrefixMeta + key))
}

func (ss *GenericStateStore) PutMeta(key string, value []byte) error {
	return ss.dbProvider.Put([]byte(PrefixMeta+key), value)
}

func (ss *GenericStateStore) MustClose() {
	err := ss.dbProvider.Close()
	if err != nil {
		logx.Error("STATE_STORE", "Failed to close db provider:", err.Error())
	}
}

func balanceKey(addr common.Address) []byte {
	return append([]byte(PrefixBalance), addr.Bytes()...)
}

func slotKey(addr common.Address, key common.Hash) []byte {
	out := make([]byte, 0, len(PrefixSlot)+common.AddressLength+1+common.HashLength)
	out = append(out, PrefixSlot...)
	out = append(out, addr.Bytes()...)
	out = append(out, ':')
	return append(out, key.Bytes()...)
}
