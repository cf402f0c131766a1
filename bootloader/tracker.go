package bootloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/monitoring"
	"github.com/mezonai/mmn-aa/stringutil"
	"github.com/mezonai/mmn-aa/types"
)

var ErrAlreadyInFlight = errors.New("transaction is already being processed")

// Record is a transaction the bootloader picked up and has not finished yet
type Record struct {
	ID        string
	TxHash    common.Hash
	Account   common.Address
	Nonce     *uint256.Int
	StartedAt time.Time

	phase atomic.Uint32
}

func (r *Record) Phase() types.Phase {
	return types.Phase(r.phase.Load())
}

// Tracker tracks transactions between submission and their terminal phase.
// Records older than the TTL are treated as abandoned and dropped so the
// same hash can be submitted again.
type Tracker struct {
	// inflight maps transaction hash to *Record
	inflight sync.Map

	// accountTxs maps account address to the hashes it has in flight
	accountTxs sync.Map
	accountMu  sync.Mutex

	ttl   time.Duration
	now   func() time.Time
	count int64
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{ttl: ttl, now: time.Now}
}

// Begin starts tracking tx. A hash that is already tracked is refused.
func (t *Tracker) Begin(txHash common.Hash, tx *types.Transaction) (*Record, error) {
	rec := &Record{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TxHash:    txHash,
		Account:   tx.From,
		Nonce:     types.U256(tx.Nonce).Clone(),
		StartedAt: t.now(),
	}
	rec.phase.Store(uint32(types.PhaseReceived))

	if _, loaded := t.inflight.LoadOrStore(txHash, rec); loaded {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInFlight, txHash.Hex())
	}
	monitoring.SetInflightTx(atomic.AddInt64(&t.count, 1))

	t.accountMu.Lock()
	var hashes []common.Hash
	if existing, ok := t.accountTxs.Load(tx.From); ok {
		hashes = existing.([]common.Hash)
	}
	t.accountTxs.Store(tx.From, append(hashes, txHash))
	t.accountMu.Unlock()

	logx.Debug("TRACKER", fmt.Sprintf("Tracking transaction %s (account: %s, nonce: %s, id: %s)",
		stringutil.ShortHash(txHash), stringutil.ShortAddr(tx.From), rec.Nonce.Dec(), rec.ID))
	return rec, nil
}

// SetPhase records the current phase of a tracked transaction
func (t *Tracker) SetPhase(txHash common.Hash, phase types.Phase) {
	if v, ok := t.inflight.Load(txHash); ok {
		v.(*Record).phase.Store(uint32(phase))
	}
}

// Get returns the record of a tracked transaction
func (t *Tracker) Get(txHash common.Hash) (*Record, bool) {
	v, ok := t.inflight.Load(txHash)
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

// Finish stops tracking a transaction
func (t *Tracker) Finish(txHash common.Hash) bool {
	v, ok := t.inflight.LoadAndDelete(txHash)
	if !ok {
		return false
	}
	rec := v.(*Record)
	monitoring.SetInflightTx(atomic.AddInt64(&t.count, -1))

	t.accountMu.Lock()
	defer t.accountMu.Unlock()
	if existing, ok := t.accountTxs.Load(rec.Account); ok {
		updated := remove(existing.([]common.Hash), txHash)
		if len(updated) == 0 {
			t.accountTxs.Delete(rec.Account)
		} else {
			t.accountTxs.Store(rec.Account, updated)
		}
	}
	return true
}

// InFlight returns the hashes account currently has in flight
func (t *Tracker) InFlight(account common.Address) []common.Hash {
	t.accountMu.Lock()
	defer t.accountMu.Unlock()
	existing, ok := t.accountTxs.Load(account)
	if !ok {
		return nil
	}
	return append([]common.Hash(nil), existing.([]common.Hash)...)
}

// Count returns the number of tracked transactions
func (t *Tracker) Count() int64 {
	return atomic.LoadInt64(&t.count)
}

// Sweep drops records older than the TTL and returns how many it dropped
func (t *Tracker) Sweep() int {
	if t.ttl <= 0 {
		return 0
	}
	deadline := t.now().Add(-t.ttl)
	var expired []*Record
	t.inflight.Range(func(_, v any) bool {
		rec := v.(*Record)
		if rec.StartedAt.Before(deadline) {
			expired = append(expired, rec)
		}
		return true
	})

	dropped := 0
	for _, rec := range expired {
		if t.Finish(rec.TxHash) {
			dropped++
			monitoring.RecordRejectedTx(monitoring.TxAbandoned)
			logx.Warn("TRACKER", fmt.Sprintf("Dropped abandoned transaction %s in phase %s after %s",
				stringutil.ShortHash(rec.TxHash), rec.Phase(), t.ttl))
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is done
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func remove(slice []common.Hash, item common.Hash) []common.Hash {
	for i, v := range slice {
		if v == item {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}
