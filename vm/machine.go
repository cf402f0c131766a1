package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/ledger"
	"github.com/mezonai/mmn-aa/logx"
)

const (
	// CallGas is charged for entering any call frame
	CallGas uint64 = 700
	// CalldataByteGas is charged per byte of call input
	CalldataByteGas uint64 = 16
	// StorageReadGas is charged by contracts per storage slot read
	StorageReadGas uint64 = 200
	// StorageWriteGas is charged by contracts per storage slot write
	StorageWriteGas uint64 = 5000
	// MaxCallDepth bounds nested calls
	MaxCallDepth = 64
)

var (
	ErrOutOfGas           = errors.New("out of gas")
	ErrCallDepth          = errors.New("max call depth exceeded")
	ErrNotSystemContract  = errors.New("target is not a system contract")
	ErrNoSystemCapability = errors.New("caller has no system call capability")
	ErrOnlySystemCall     = errors.New("method is only callable with the system flag")
	ErrAddressInUse       = errors.New("address already has code")
	ErrUnknownMethod      = errors.New("unknown method selector")
	ErrUnexpectedCalldata = errors.New("address accepts no calldata")
)

// Contract is code living at an address. Run executes one call into it.
type Contract interface {
	Run(f *Frame, input []byte) ([]byte, error)
}

// Log is a record emitted by a contract during a call
type Log struct {
	Address common.Address    `json:"address"`
	Name    string            `json:"name"`
	Fields  map[string]string `json:"fields"`
}

// Snapshot identifies a point the machine can roll back to
type Snapshot struct {
	state   int
	deploys int
	logs    int
}

// Machine executes calls between registered contracts over a Ledger.
// Every call is atomic: a failing frame reverts balances, storage, code
// registrations and logs made inside it.
type Machine struct {
	mu         sync.RWMutex
	state      *ledger.Ledger
	chainID    *uint256.Int
	contracts  map[common.Address]Contract
	privileged map[common.Address]bool
	deployLog  []common.Address
	logs       []Log
}

func NewMachine(state *ledger.Ledger, chainID *uint256.Int) *Machine {
	return &Machine{
		state:      state,
		chainID:    chainID.Clone(),
		contracts:  make(map[common.Address]Contract),
		privileged: make(map[common.Address]bool),
	}
}

// IsSystemAddress reports whether addr lies in the reserved system range
func IsSystemAddress(addr common.Address) bool {
	for _, b := range addr[:common.AddressLength-2] {
		if b != 0 {
			return false
		}
	}
	return true
}

// Register installs code at addr. Privileged code may make system calls.
// Registration is journaled and undone when an enclosing call reverts.
func (m *Machine) Register(addr common.Address, c Contract, privileged bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contracts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, addr.Hex())
	}
	m.contracts[addr] = c
	if privileged {
		m.privileged[addr] = true
	}
	m.deployLog = append(m.deployLog, addr)
	return nil
}

// ContractAt returns the code at addr, nil for plain addresses
func (m *Machine) ContractAt(addr common.Address) Contract {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contracts[addr]
}

func (m *Machine) HasCode(addr common.Address) bool {
	return m.ContractAt(addr) != nil
}

func (m *Machine) ChainID() *uint256.Int {
	return m.chainID.Clone()
}

func (m *Machine) Balance(addr common.Address) *uint256.Int {
	return m.state.GetBalance(addr)
}

// State exposes the underlying ledger
func (m *Machine) State() *ledger.Ledger {
	return m.state
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{state: m.state.Snapshot(), deploys: len(m.deployLog), logs: len(m.logs)}
}

func (m *Machine) RevertToSnapshot(s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.state.RevertToSnapshot(s.state); err != nil {
		return err
	}
	if s.deploys > len(m.deployLog) || s.logs > len(m.logs) {
		return fmt.Errorf("%w: snapshot is ahead of machine", ledger.ErrInvalidSnapshot)
	}
	for _, addr := range m.deployLog[s.deploys:] {
		delete(m.contracts, addr)
		delete(m.privileged, addr)
	}
	m.deployLog = m.deployLog[:s.deploys]
	m.logs = m.logs[:s.logs]
	return nil
}

// Atomic runs fn and rolls back everything it did if it returns an error
func (m *Machine) Atomic(fn func() error) error {
	snap := m.Snapshot()
	if err := fn(); err != nil {
		if rerr := m.RevertToSnapshot(snap); rerr != nil {
			logx.Error("VM", "revert failed:", rerr.Error())
		}
		return err
	}
	return nil
}

// Commit persists state and forgets the deploy journal. Logs are returned
// and cleared.
func (m *Machine) Commit() ([]Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.state.Commit(); err != nil {
		return nil, err
	}
	m.deployLog = m.deployLog[:0]
	logs := m.logs
	m.logs = nil
	return logs, nil
}

// Call runs a top-level call from caller into to
func (m *Machine) Call(ctx context.Context, caller, to common.Address, value *uint256.Int, input []byte, gas uint64) ([]byte, uint64, error) {
	return m.call(ctx, caller, to, value, input, gas, false, 0)
}

// SystemCall is Call with the system flag set. The caller must be
// privileged and the target must be a system contract.
func (m *Machine) SystemCall(ctx context.Context, caller, to common.Address, value *uint256.Int, input []byte, gas uint64) ([]byte, uint64, error) {
	if err := m.checkSystemCall(caller, to); err != nil {
		return nil, gas, err
	}
	return m.call(ctx, caller, to, value, input, gas, true, 0)
}

// View runs a call and discards every effect it had
func (m *Machine) View(ctx context.Context, caller, to common.Address, input []byte, gas uint64) ([]byte, error) {
	snap := m.Snapshot()
	defer func() {
		if err := m.RevertToSnapshot(snap); err != nil {
			logx.Error("VM", "view revert failed:", err.Error())
		}
	}()
	out, _, err := m.call(ctx, caller, to, nil, input, gas, false, 0)
	return out, err
}

func (m *Machine) checkSystemCall(caller, to common.Address) error {
	if !IsSystemAddress(to) {
		return fmt.Errorf("%w: %s", ErrNotSystemContract, to.Hex())
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.privileged[caller] {
		return fmt.Errorf("%w: %s", ErrNoSystemCapability, caller.Hex())
	}
	return nil
}

func (m *Machine) emit(l Log) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
}

func (m *Machine) call(ctx context.Context, caller, to common.Address, value *uint256.Int, input []byte, gas uint64, isSystem bool, depth int) ([]byte, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, gas, err
	}
	if depth > MaxCallDepth {
		return nil, gas, ErrCallDepth
	}

	cost := intrinsicGas(input)
	if gas < cost {
		return nil, 0, fmt.Errorf("%w: need %d, have %d", ErrOutOfGas, cost, gas)
	}
	gas -= cost

	if value == nil {
		value = new(uint256.Int)
	}

	snap := m.Snapshot()
	revert := func() {
		if err := m.RevertToSnapshot(snap); err != nil {
			logx.Error("VM", "revert failed:", err.Error())
		}
	}

	if err := m.state.Transfer(caller, to, value); err != nil {
		revert()
		return nil, gas, err
	}

	code := m.ContractAt(to)
	if code == nil {
		return nil, gas, nil
	}

	frame := &Frame{
		ctx:      ctx,
		machine:  m,
		Caller:   caller,
		Self:     to,
		Value:    value.Clone(),
		IsSystem: isSystem,
		gas:      gas,
		depth:    depth,
	}
	out, err := code.Run(frame, input)
	if err != nil {
		revert()
		return nil, frame.gas, err
	}
	return out, frame.gas, nil
}

func intrinsicGas(input []byte) uint64 {
	return CallGas + uint64(len(input))*CalldataByteGas
}
