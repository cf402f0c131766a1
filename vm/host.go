package vm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Host is the machine as seen by the contract at one address. Calls made
// through it originate from that address.
type Host struct {
	machine *Machine
	self    common.Address
}

// HostFor binds a host handle to addr
func (m *Machine) HostFor(addr common.Address) *Host {
	return &Host{machine: m, self: addr}
}

func (h *Host) Address() common.Address {
	return h.self
}

func (h *Host) ChainID() *uint256.Int {
	return h.machine.ChainID()
}

func (h *Host) Balance(addr common.Address) *uint256.Int {
	return h.machine.Balance(addr)
}

func (h *Host) Call(ctx context.Context, to common.Address, value *uint256.Int, input []byte, gas uint64) ([]byte, error) {
	out, _, err := h.machine.Call(ctx, h.self, to, value, input, gas)
	return out, err
}

func (h *Host) SystemCall(ctx context.Context, to common.Address, value *uint256.Int, input []byte, gas uint64) ([]byte, error) {
	out, _, err := h.machine.SystemCall(ctx, h.self, to, value, input, gas)
	return out, err
}

func (h *Host) Atomic(fn func() error) error {
	return h.machine.Atomic(fn)
}

func (h *Host) GetStorage(key common.Hash) common.Hash {
	return h.machine.state.GetState(h.self, key)
}

func (h *Host) SetStorage(key, value common.Hash) {
	h.machine.state.SetState(h.self, key, value)
}
