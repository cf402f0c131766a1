package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/db"
	"github.com/mezonai/mmn-aa/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func newTestLedger(t *testing.T) (*Ledger, store.StateStore) {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	st, err := store.NewGenericStateStore(provider)
	require.NoError(t, err)
	return NewLedger(st), st
}

func TestTransferAndCommit(t *testing.T) {
	l, st := newTestLedger(t)

	require.NoError(t, l.AddBalance(alice, uint256.NewInt(100)))
	require.NoError(t, l.Transfer(alice, bob, uint256.NewInt(40)))

	assert.Equal(t, uint64(60), l.GetBalance(alice).Uint64())
	assert.Equal(t, uint64(40), l.GetBalance(bob).Uint64())

	// nothing persisted before commit
	persisted, err := st.GetBalance(alice)
	require.NoError(t, err)
	assert.True(t, persisted.IsZero())

	require.NoError(t, l.Commit())
	persisted, err = st.GetBalance(bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), persisted.Uint64())
	assert.Equal(t, uint64(60), l.GetBalance(alice).Uint64())
}

func TestTransferInsufficientBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.AddBalance(alice, uint256.NewInt(5)))

	err := l.Transfer(alice, bob, uint256.NewInt(6))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(5), l.GetBalance(alice).Uint64())
	assert.True(t, l.GetBalance(bob).IsZero())
}

func TestAddBalanceOverflow(t *testing.T) {
	l, _ := newTestLedger(t)
	max := new(uint256.Int).SetAllOne()
	require.NoError(t, l.AddBalance(alice, max))
	assert.ErrorIs(t, l.AddBalance(alice, uint256.NewInt(1)), ErrBalanceOverflow)
}

func TestGetBalanceReturnsCopy(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.AddBalance(alice, uint256.NewInt(10)))

	bal := l.GetBalance(alice)
	bal.SetUint64(999)
	assert.Equal(t, uint64(10), l.GetBalance(alice).Uint64())
}

func TestSnapshotRevert(t *testing.T) {
	l, _ := newTestLedger(t)
	key := common.HexToHash("0x01")

	require.NoError(t, l.AddBalance(alice, uint256.NewInt(100)))
	l.SetState(alice, key, common.HexToHash("0xaa"))

	snap := l.Snapshot()
	require.NoError(t, l.Transfer(alice, bob, uint256.NewInt(30)))
	l.SetState(alice, key, common.HexToHash("0xbb"))

	inner := l.Snapshot()
	l.SetState(bob, key, common.HexToHash("0xcc"))
	require.NoError(t, l.RevertToSnapshot(inner))
	assert.Equal(t, common.Hash{}, l.GetState(bob, key))
	assert.Equal(t, common.HexToHash("0xbb"), l.GetState(alice, key))

	require.NoError(t, l.RevertToSnapshot(snap))
	assert.Equal(t, uint64(100), l.GetBalance(alice).Uint64())
	assert.True(t, l.GetBalance(bob).IsZero())
	assert.Equal(t, common.HexToHash("0xaa"), l.GetState(alice, key))

	assert.ErrorIs(t, l.RevertToSnapshot(snap+10), ErrInvalidSnapshot)
}

func TestDiscard(t *testing.T) {
	l, st := newTestLedger(t)
	require.NoError(t, l.AddBalance(alice, uint256.NewInt(1)))
	l.Discard()
	assert.True(t, l.GetBalance(alice).IsZero())
	require.NoError(t, l.Commit())

	persisted, err := st.GetBalance(alice)
	require.NoError(t, err)
	assert.True(t, persisted.IsZero())
}
