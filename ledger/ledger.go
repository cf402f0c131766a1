package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/store"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrInvalidSnapshot     = errors.New("invalid snapshot id")
)

// Ledger is the in-memory world state on top of a StateStore. Reads fall
// through to the store; writes stay in the overlay and are journaled so any
// suffix of them can be rolled back. Commit flushes the overlay.
type Ledger struct {
	mu    sync.RWMutex
	base  store.StateStore
	view  *view
	dbErr error
}

type view struct {
	balances map[common.Address]*uint256.Int
	slots    map[common.Address]map[common.Hash]common.Hash
	journal  []journalEntry
}

// journalEntry restores one overlay value
type journalEntry func(v *view)

func NewLedger(base store.StateStore) *Ledger {
	return &Ledger{base: base, view: newView()}
}

func newView() *view {
	return &view{
		balances: make(map[common.Address]*uint256.Int),
		slots:    make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// Snapshot returns an id for the current state to pass to RevertToSnapshot
func (l *Ledger) Snapshot() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.view.journal)
}

// RevertToSnapshot undoes every change made after the snapshot was taken
func (l *Ledger) RevertToSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id < 0 || id > len(l.view.journal) {
		return fmt.Errorf("%w: %d (journal length %d)", ErrInvalidSnapshot, id, len(l.view.journal))
	}
	for i := len(l.view.journal) - 1; i >= id; i-- {
		l.view.journal[i](l.view)
	}
	l.view.journal = l.view.journal[:id]
	return nil
}

// GetBalance returns a copy of the balance of addr
func (l *Ledger) GetBalance(addr common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadBalance(addr).Clone()
}

func (l *Ledger) AddBalance(addr common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addBalance(addr, amount)
}

func (l *Ledger) SubBalance(addr common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subBalance(addr, amount)
}

// Transfer moves amount from one address to another, all or nothing
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.subBalance(from, amount); err != nil {
		return err
	}
	if err := l.addBalance(to, amount); err != nil {
		// undo the debit
		l.setBalance(from, new(uint256.Int).Add(l.loadBalance(from), amount))
		return err
	}
	return nil
}

func (l *Ledger) GetState(addr common.Address, key common.Hash) common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadSlot(addr, key)
}

func (l *Ledger) SetState(addr common.Address, key, value common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.loadSlot(addr, key)
	if prev == value {
		return
	}
	l.view.journal = append(l.view.journal, func(v *view) {
		v.slots[addr][key] = prev
	})
	l.view.slots[addr][key] = value
}

// Commit writes the overlay to the store and starts a fresh one. It fails
// with the first store read error seen since the last commit, if any.
func (l *Ledger) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dbErr != nil {
		err := l.dbErr
		l.dbErr = nil
		l.view = newView()
		return fmt.Errorf("state read failed, overlay discarded: %w", err)
	}

	if err := l.base.Apply(l.view.balances, l.view.slots); err != nil {
		return err
	}
	logx.Debug("LEDGER", fmt.Sprintf("Committed %d journal entries", len(l.view.journal)))
	l.view = newView()
	return nil
}

// Discard drops every uncommitted change
func (l *Ledger) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.view = newView()
}

func (l *Ledger) addBalance(addr common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	cur := l.loadBalance(addr)
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, addr.Hex())
	}
	l.setBalance(addr, next)
	return nil
}

func (l *Ledger) subBalance(addr common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	cur := l.loadBalance(addr)
	if cur.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, addr.Hex(), cur.Dec(), amount.Dec())
	}
	l.setBalance(addr, new(uint256.Int).Sub(cur, amount))
	return nil
}

func (l *Ledger) setBalance(addr common.Address, value *uint256.Int) {
	prev := l.loadBalance(addr)
	l.view.journal = append(l.view.journal, func(v *view) {
		v.balances[addr] = prev
	})
	l.view.balances[addr] = value
}

func (l *Ledger) loadBalance(addr common.Address) *uint256.Int {
	if bal, ok := l.view.balances[addr]; ok {
		return bal
	}
	bal, err := l.base.GetBalance(addr)
	if err != nil {
		l.recordErr(err)
		bal = new(uint256.Int)
	}
	l.view.balances[addr] = bal
	return bal
}

func (l *Ledger) loadSlot(addr common.Address, key common.Hash) common.Hash {
	entries, ok := l.view.slots[addr]
	if !ok {
		entries = make(map[common.Hash]common.Hash)
		l.view.slots[addr] = entries
	}
	if value, ok := entries[key]; ok {
		return value
	}
	value, err := l.base.GetSlot(addr, key)
	if err != nil {
		l.recordErr(err)
	}
	entries[key] = value
	return value
}

func (l *Ledger) recordErr(err error) {
	logx.Error("LEDGER", "state read failed:", err.Error())
	if l.dbErr == nil {
		l.dbErr = err
	}
}
