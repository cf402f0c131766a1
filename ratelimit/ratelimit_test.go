package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestWindowSlides(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	w := NewWindow(2, time.Second)
	w.now = clock.now

	assert.True(t, w.Allow("a"))
	assert.True(t, w.Allow("a"))
	assert.False(t, w.Allow("a"))
	assert.True(t, w.Allow("b"))
	assert.Equal(t, 2, w.Count("a"))

	clock.t = clock.t.Add(1100 * time.Millisecond)
	assert.True(t, w.Allow("a"))
	assert.Equal(t, 1, w.Count("a"))

	clock.t = clock.t.Add(5 * time.Second)
	w.cleanup()
	assert.Zero(t, w.keys())
}

func TestZeroLimitDisables(t *testing.T) {
	w := NewWindow(0, time.Second)
	for i := 0; i < 100; i++ {
		require.True(t, w.Allow("k"))
	}
}

func TestSubmissionLimiter(t *testing.T) {
	l := NewSubmissionLimiter(Config{PerIP: 3, PerAccount: 2, Window: time.Minute})
	acc := common.HexToAddress("0x5a5a")
	other := common.HexToAddress("0x5a5b")

	require.NoError(t, l.AllowAccount(acc))
	require.NoError(t, l.AllowAccount(acc))

	err := l.AllowAccount(acc)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "account", limitErr.Kind)
	require.NoError(t, l.AllowAccount(other))

	for i := 0; i < 3; i++ {
		require.NoError(t, l.AllowIP("10.0.0.1"))
	}
	err = l.AllowIP("10.0.0.1")
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "ip", limitErr.Kind)
	assert.Equal(t, "10.0.0.1", limitErr.Key)
	require.NoError(t, l.AllowIP("10.0.0.2"))
}

func TestRunStops(t *testing.T) {
	l := NewSubmissionLimiter(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
