package store

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mezonai/mmn-aa/db"
	"github.com/mezonai/mmn-aa/jsonx"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/stringutil"
	"github.com/mezonai/mmn-aa/types"
)

// ReceiptStore is the interface for receipt store
// that is responsible for persisting the outcome of processed transactions
type ReceiptStore interface {
	Store(receipt *types.Receipt) error
	StoreBatch(receipts []*types.Receipt) error
	GetByHash(txHash common.Hash) (*types.Receipt, error)
	GetBatch(txHashes []common.Hash) (map[common.Hash]*types.Receipt, error)
	ListByAccount(account common.Address) ([]*types.Receipt, error)
	MustClose()
}

// GenericReceiptStore provides receipt storage operations
type GenericReceiptStore struct {
	dbProvider db.IterableProvider
}

// NewGenericReceiptStore creates a new receipt store
func NewGenericReceiptStore(dbProvider db.IterableProvider) (*GenericReceiptStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	return &GenericReceiptStore{
		dbProvider: dbProvider,
	}, nil
}

// Store stores a receipt in the database
func (rs *GenericReceiptStore) Store(receipt *types.Receipt) error {
	return rs.StoreBatch([]*types.Receipt{receipt})
}

// StoreBatch stores a batch of receipts in the database
func (rs *GenericReceiptStore) StoreBatch(receipts []*types.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}

	batch := rs.dbProvider.Batch()
	defer batch.Close()

	for _, receipt := range receipts {
		data, err := jsonx.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("failed to marshal receipt: %w", err)
		}

		batch.Put(rs.getDBKey(receipt.TxHash), data)
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write receipts to database: %w", err)
	}

	logx.Debug("RECEIPT_STORE", fmt.Sprintf("StoreBatch: stored %d receipts", len(receipts)))
	return nil
}

// GetByHash retrieves a receipt by its transaction hash, nil if absent
func (rs *GenericReceiptStore) GetByHash(txHash common.Hash) (*types.Receipt, error) {
	data, err := rs.dbProvider.Get(rs.getDBKey(txHash))
	if err != nil {
		return nil, fmt.Errorf("could not get receipt %s from db: %w", stringutil.ShortHash(txHash), err)
	}
	if data == nil {
		return nil, nil
	}

	var receipt types.Receipt
	if err := jsonx.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt %s: %w", stringutil.ShortHash(txHash), err)
	}

	return &receipt, nil
}

// GetBatch retrieves multiple receipts by their hashes. Missing ones are skipped.
func (rs *GenericReceiptStore) GetBatch(txHashes []common.Hash) (map[common.Hash]*types.Receipt, error) {
	if len(txHashes) == 0 {
		return map[common.Hash]*types.Receipt{}, nil
	}

	keys := make([][]byte, len(txHashes))
	for i, txHash := range txHashes {
		keys[i] = rs.getDBKey(txHash)
	}

	dataMap, err := rs.dbProvider.GetBatch(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to batch get receipts: %w", err)
	}

	receipts := make(map[common.Hash]*types.Receipt, len(txHashes))
	for _, txHash := range txHashes {
		data, exists := dataMap[string(rs.getDBKey(txHash))]
		if !exists {
			continue
		}

		var receipt types.Receipt
		if err := jsonx.Unmarshal(data, &receipt); err != nil {
			logx.Warn("RECEIPT_STORE", fmt.Sprintf("Failed to unmarshal receipt %s: %s", stringutil.ShortHash(txHash), err.Error()))
			continue
		}
		receipts[txHash] = &receipt
	}

	return receipts, nil
}

// ListByAccount scans every stored receipt and returns the ones sent by account
func (rs *GenericReceiptStore) ListByAccount(account common.Address) ([]*types.Receipt, error) {
	var out []*types.Receipt
	var decodeErr error
	err := rs.dbProvider.IteratePrefix([]byte(PrefixReceipt), func(_, value []byte) bool {
		var receipt types.Receipt
		if err := jsonx.Unmarshal(value, &receipt); err != nil {
			decodeErr = err
			return false
		}
		if receipt.Account == account {
			out = append(out, &receipt)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate receipts: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", decodeErr)
	}
	return out, nil
}

// MustClose closes the receipt store and related resources
func (rs *GenericReceiptStore) MustClose() {
	err := rs.dbProvider.Close()
	if err != nil {
		logx.Error("RECEIPT_STORE", "Failed to close provider")
	}
}

func (rs *GenericReceiptStore) getDBKey(txHash common.Hash) []byte {
	return []byte(PrefixReceipt + txHash.Hex())
}
