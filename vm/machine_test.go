package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/db"
	"github.com/mezonai/mmn-aa/ledger"
	"github.com/mezonai/mmn-aa/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGas = 1_000_000

var (
	alice   = common.HexToAddress("0xa11ce0000000000000000000000000000000000a")
	bob     = common.HexToAddress("0xb0b0000000000000000000000000000000000b0b")
	sysAddr = common.HexToAddress("0x0000000000000000000000000000000000008010")
)

// contractFunc adapts a function to Contract
type contractFunc func(f *Frame, input []byte) ([]byte, error)

func (c contractFunc) Run(f *Frame, input []byte) ([]byte, error) {
	return c(f, input)
}

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	st, err := store.NewGenericStateStore(provider)
	require.NoError(t, err)
	return NewMachine(ledger.NewLedger(st), uint256.NewInt(270))
}

func fund(t *testing.T, m *Machine, addr common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, m.State().AddBalance(addr, uint256.NewInt(amount)))
}

func TestCallTransfersValueToPlainAddress(t *testing.T) {
	m := newTestMachine(t)
	fund(t, m, alice, 100)

	out, left, err := m.Call(context.Background(), alice, bob, uint256.NewInt(40), nil, testGas)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, uint64(testGas)-CallGas, left)
	assert.Equal(t, uint64(60), m.Balance(alice).Uint64())
	assert.Equal(t, uint64(40), m.Balance(bob).Uint64())
}

func TestCallInsufficientValue(t *testing.T) {
	m := newTestMachine(t)
	fund(t, m, alice, 10)

	_, _, err := m.Call(context.Background(), alice, bob, uint256.NewInt(11), nil, testGas)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, uint64(10), m.Balance(alice).Uint64())
}

func TestFailedCallRevertsEverything(t *testing.T) {
	m := newTestMachine(t)
	fund(t, m, alice, 100)
	key := common.HexToHash("0x01")
	boom := errors.New("boom")

	target := common.HexToAddress("0xc0de")
	require.NoError(t, m.Register(target, contractFunc(func(f *Frame, input []byte) ([]byte, error) {
		f.SetState(key, common.HexToHash("0xff"))
		f.Emit("Touched", nil)
		_, err := f.Call(bob, uint256.NewInt(5), nil)
		require.NoError(t, err)
		return nil, boom
	}), false))

	_, _, err := m.Call(context.Background(), alice, target, uint256.NewInt(10), nil, testGas)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(100), m.Balance(alice).Uint64())
	assert.True(t, m.Balance(target).IsZero())
	assert.True(t, m.Balance(bob).IsZero())
	assert.Equal(t, common.Hash{}, m.State().GetState(target, key))

	logs, err := m.Commit()
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestOutOfGas(t *testing.T) {
	m := newTestMachine(t)
	input := make([]byte, 10)

	_, _, err := m.Call(context.Background(), alice, bob, nil, input, CallGas+9*CalldataByteGas)
	assert.ErrorIs(t, err, ErrOutOfGas)

	target := common.HexToAddress("0xc0de")
	require.NoError(t, m.Register(target, contractFunc(func(f *Frame, input []byte) ([]byte, error) {
		return nil, f.UseGas(f.GasLeft() + 1)
	}), false))
	_, left, err := m.Call(context.Background(), alice, target, nil, nil, testGas)
	assert.ErrorIs(t, err, ErrOutOfGas)
	assert.Zero(t, left)
}

func TestSystemCallGating(t *testing.T) {
	m := newTestMachine(t)
	var sawSystem bool
	require.NoError(t, m.Register(sysAddr, contractFunc(func(f *Frame, input []byte) ([]byte, error) {
		sawSystem = f.IsSystem
		return nil, f.RequireSystem()
	}), false))
	privileged := common.HexToAddress("0xacc0")
	require.NoError(t, m.Register(privileged, contractFunc(func(f *Frame, input []byte) ([]byte, error) {
		return nil, nil
	}), true))

	_, _, err := m.SystemCall(context.Background(), alice, sysAddr, nil, nil, testGas)
	assert.ErrorIs(t, err, ErrNoSystemCapability)

	_, _, err = m.SystemCall(context.Background(), privileged, bob, nil, nil, testGas)
	assert.ErrorIs(t, err, ErrNotSystemContract)

	_, _, err = m.Call(context.Background(), privileged, sysAddr, nil, nil, testGas)
	assert.ErrorIs(t, err, ErrOnlySystemCall)
	assert.False(t, sawSystem)

	_, _, err = m.SystemCall(context.Background(), privileged, sysAddr, nil, nil, testGas)
	require.NoError(t, err)
	assert.True(t, sawSystem)
}

func TestIsSystemAddress(t *testing.T) {
	assert.True(t, IsSystemAddress(common.HexToAddress("0x8001")))
	assert.True(t, IsSystemAddress(common.HexToAddress("0xffff")))
	assert.False(t, IsSystemAddress(common.HexToAddress("0x10000")))
	assert.False(t, IsSystemAddress(alice))
}

func TestRegistrationRevertsWithSnapshot(t *testing.T) {
	m := newTestMachine(t)
	target := common.HexToAddress("0xc0de")

	snap := m.Snapshot()
	require.NoError(t, m.Register(target, contractFunc(func(*Frame, []byte) ([]byte, error) { return nil, nil }), true))
	assert.True(t, m.HasCode(target))
	assert.ErrorIs(t, m.Register(target, nil, false), ErrAddressInUse)

	require.NoError(t, m.RevertToSnapshot(snap))
	assert.False(t, m.HasCode(target))

	_, _, err := m.SystemCall(context.Background(), target, sysAddr, nil, nil, testGas)
	assert.ErrorIs(t, err, ErrNoSystemCapability)
}

func TestViewDiscardsEffects(t *testing.T) {
	m := newTestMachine(t)
	key := common.HexToHash("0x02")
	target := common.HexToAddress("0xc0de")
	require.NoError(t, m.Register(target, contractFunc(func(f *Frame, input []byte) ([]byte, error) {
		f.SetState(key, common.HexToHash("0x01"))
		return []byte("ok"), nil
	}), false))

	out, err := m.View(context.Background(), alice, target, nil, testGas)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	assert.Equal(t, common.Hash{}, m.State().GetState(target, key))
}

func TestCallDepthLimit(t *testing.T) {
	m := newTestMachine(t)
	target := common.HexToAddress("0xc0de")
	require.NoError(t, m.Register(target, contractFunc(func(f *Frame, input []byte) ([]byte, error) {
		return f.Call(f.Self, nil, nil)
	}), false))

	_, _, err := m.Call(context.Background(), alice, target, nil, nil, 1<<40)
	assert.ErrorIs(t, err, ErrCallDepth)
}

func TestCanceledContext(t *testing.T) {
	m := newTestMachine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := m.Call(ctx, alice, bob, nil, nil, testGas)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAtomicAndCommit(t *testing.T) {
	m := newTestMachine(t)
	fund(t, m, alice, 50)
	fail := errors.New("fail")

	err := m.Atomic(func() error {
		require.NoError(t, m.State().Transfer(alice, bob, uint256.NewInt(50)))
		return fail
	})
	assert.ErrorIs(t, err, fail)
	assert.Equal(t, uint64(50), m.Balance(alice).Uint64())

	target := common.HexToAddress("0xc0de")
	require.NoError(t, m.Register(target, contractFunc(func(f *Frame, input []byte) ([]byte, error) {
		f.Emit("Hello", map[string]string{"k": "v"})
		return nil, nil
	}), false))
	_, _, err = m.Call(context.Background(), alice, target, nil, nil, testGas)
	require.NoError(t, err)

	logs, err := m.Commit()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Hello", logs[0].Name)
	assert.Equal(t, target, logs[0].Address)
}

func TestHostCallsOriginateFromBoundAddress(t *testing.T) {
	m := newTestMachine(t)
	fund(t, m, alice, 30)
	host := m.HostFor(alice)

	_, err := host.Call(context.Background(), bob, uint256.NewInt(30), nil, testGas)
	require.NoError(t, err)
	assert.True(t, host.Balance(alice).IsZero())
	assert.Equal(t, uint64(270), host.ChainID().Uint64())

	host.SetStorage(common.HexToHash("0x01"), common.HexToHash("0x02"))
	assert.Equal(t, common.HexToHash("0x02"), host.GetStorage(common.HexToHash("0x01")))
	assert.Equal(t, common.HexToHash("0x02"), m.State().GetState(alice, common.HexToHash("0x01")))
}
