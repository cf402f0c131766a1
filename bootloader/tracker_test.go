package bootloader

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackedTx(from common.Address, nonce uint64) *types.Transaction {
	return &types.Transaction{Type: types.TxTypeAccountAbstraction, From: from, Nonce: uint256.NewInt(nonce)}
}

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker(time.Minute)
	from := common.HexToAddress("0xa1")
	h1, h2 := common.HexToHash("0x01"), common.HexToHash("0x02")

	rec, err := tr.Begin(h1, trackedTx(from, 0))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, types.PhaseReceived, rec.Phase())

	_, err = tr.Begin(h1, trackedTx(from, 0))
	assert.ErrorIs(t, err, ErrAlreadyInFlight)

	_, err = tr.Begin(h2, trackedTx(from, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), tr.Count())
	assert.ElementsMatch(t, []common.Hash{h1, h2}, tr.InFlight(from))

	tr.SetPhase(h1, types.PhasePaying)
	got, ok := tr.Get(h1)
	require.True(t, ok)
	assert.Equal(t, types.PhasePaying, got.Phase())

	assert.True(t, tr.Finish(h1))
	assert.False(t, tr.Finish(h1))
	assert.Equal(t, []common.Hash{h2}, tr.InFlight(from))
	assert.True(t, tr.Finish(h2))
	assert.Nil(t, tr.InFlight(from))
	assert.Zero(t, tr.Count())
}

func TestTrackerSweepDropsAbandoned(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewTracker(time.Minute)
	tr.now = func() time.Time { return now }
	from := common.HexToAddress("0xa1")

	_, err := tr.Begin(common.HexToHash("0x01"), trackedTx(from, 0))
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = tr.Begin(common.HexToHash("0x02"), trackedTx(from, 1))
	require.NoError(t, err)

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, tr.Sweep())
	_, ok := tr.Get(common.HexToHash("0x01"))
	assert.False(t, ok)
	_, ok = tr.Get(common.HexToHash("0x02"))
	assert.True(t, ok)

	// an abandoned hash can be tracked again
	_, err = tr.Begin(common.HexToHash("0x01"), trackedTx(from, 0))
	assert.NoError(t, err)
}

func TestTrackerRunStopsWithContext(t *testing.T) {
	tr := NewTracker(time.Nanosecond)
	_, err := tr.Begin(common.HexToHash("0x01"), trackedTx(common.HexToAddress("0xa1"), 0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return tr.Count() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
