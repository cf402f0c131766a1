package vm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Frame is the environment of one executing call
type Frame struct {
	ctx      context.Context
	machine  *Machine
	Caller   common.Address
	Self     common.Address
	Value    *uint256.Int
	IsSystem bool
	gas      uint64
	depth    int
}

func (f *Frame) Context() context.Context {
	return f.ctx
}

func (f *Frame) Machine() *Machine {
	return f.machine
}

func (f *Frame) GasLeft() uint64 {
	return f.gas
}

// UseGas charges n gas to the frame
func (f *Frame) UseGas(n uint64) error {
	if f.gas < n {
		have := f.gas
		f.gas = 0
		return fmt.Errorf("%w: need %d, have %d", ErrOutOfGas, n, have)
	}
	f.gas -= n
	return nil
}

// RequireSystem fails unless the frame was entered with the system flag
func (f *Frame) RequireSystem() error {
	if !f.IsSystem {
		return ErrOnlySystemCall
	}
	return nil
}

// Call makes a nested call from this frame, paying with the frame's gas
func (f *Frame) Call(to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	out, left, err := f.machine.call(f.ctx, f.Self, to, value, input, f.gas, false, f.depth+1)
	f.gas = left
	return out, err
}

// SystemCall makes a nested system call from this frame
func (f *Frame) SystemCall(to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	if err := f.machine.checkSystemCall(f.Self, to); err != nil {
		return nil, err
	}
	out, left, err := f.machine.call(f.ctx, f.Self, to, value, input, f.gas, true, f.depth+1)
	f.gas = left
	return out, err
}

func (f *Frame) GetState(key common.Hash) common.Hash {
	return f.machine.state.GetState(f.Self, key)
}

func (f *Frame) SetState(key, value common.Hash) {
	f.machine.state.SetState(f.Self, key, value)
}

// GetStateOf reads a slot of another address
func (f *Frame) GetStateOf(addr common.Address, key common.Hash) common.Hash {
	return f.machine.state.GetState(addr, key)
}

// Emit records a log attributed to the executing contract
func (f *Frame) Emit(name string, fields map[string]string) {
	f.machine.emit(Log{Address: f.Self, Name: name, Fields: fields})
}
