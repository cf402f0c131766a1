package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/jsonx"
	"github.com/mezonai/mmn-aa/types"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	testAccount = common.HexToAddress("0xacc")
	testHash    = common.HexToHash("0x1234")
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe(4)
	assert.Equal(t, 1, bus.GetTotalSubscriptions())
	assert.True(t, bus.HasSubscriber(id))

	bus.Publish(NewTransactionPaid(testHash, testAccount, uint256.NewInt(42)))

	select {
	case ev := <-ch:
		assert.Equal(t, EventTransactionPaid, ev.Type())
		assert.Equal(t, testHash.Hex(), ev.TxHash())
		assert.Equal(t, testAccount, ev.Account())
		assert.Equal(t, "42", ev.Fields()["fee"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	assert.Equal(t, 0, bus.GetTotalSubscriptions())
	_, open := <-ch
	assert.False(t, open)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(NewTransactionExecuted(testHash, testAccount, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(9), bus.Dropped(id))
}

func TestSubscribeFilters(t *testing.T) {
	bus := NewEventBus()
	other := common.HexToAddress("0xbee")
	_, mine := bus.Subscribe(8, ForAccount(testAccount))
	_, failures := bus.Subscribe(8, OfType(EventTransactionFailed, EventTransactionRejected))
	_, both := bus.Subscribe(8, ForAccount(other), OfType(EventTransactionPaid))

	bus.Publish(NewTransactionPaid(testHash, testAccount, uint256.NewInt(1)))
	bus.Publish(NewTransactionPaid(testHash, other, uint256.NewInt(2)))
	bus.Publish(NewTransactionFailed(testHash, other, types.PhaseExecutionFailed, "revert"))

	require.Len(t, mine, 1)
	assert.Equal(t, testAccount, (<-mine).Account())
	require.Len(t, failures, 1)
	assert.Equal(t, EventTransactionFailed, (<-failures).Type())
	require.Len(t, both, 1)
	assert.Equal(t, "2", (<-both).Fields()["fee"])
}

func TestEventFields(t *testing.T) {
	tx := &types.Transaction{Type: types.TxTypeAccountAbstraction, From: testAccount, Nonce: uint256.NewInt(7)}
	assert.Equal(t, "7", NewTransactionValidated(testHash, tx).Fields()["nonce"])
	assert.Equal(t, "0x00000000", NewTransactionRejected(testHash, testAccount, types.MagicRejected).Fields()["magic"])

	failed := NewTransactionFailed(testHash, testAccount, types.PhasePaymentFailed, "payment failed")
	assert.Equal(t, "payment_failed", failed.Fields()["phase"])
	assert.Equal(t, types.PhasePaymentFailed, failed.Phase())

	owner := NewOwnershipTransferred(testAccount, common.HexToAddress("0x1"), common.HexToAddress("0x2"))
	assert.Empty(t, owner.TxHash())
	assert.Equal(t, common.HexToAddress("0x2").Hex(), owner.Fields()["new_owner"])

	log := NewContractLog(testHash, testAccount, common.HexToAddress("0x70ce"), "Transfer", map[string]string{"amount": "5"})
	assert.Equal(t, "Transfer", log.Fields()["name"])
	assert.Equal(t, "5", log.Fields()["amount"])
	assert.Equal(t, "1", NewTransactionExecuted(testHash, testAccount, []byte{1}).Fields()["return_size"])
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

func TestKafkaSinkPublish(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w, "aa-events")

	require.NoError(t, sink.Publish(context.Background(), NewTransactionPaid(testHash, testAccount, uint256.NewInt(9))))
	require.Len(t, w.messages, 1)
	assert.Equal(t, testAccount.Bytes(), w.messages[0].Key)

	var env Envelope
	require.NoError(t, jsonx.Unmarshal(w.messages[0].Value, &env))
	assert.Equal(t, EventTransactionPaid, env.Type)
	assert.Equal(t, "9", env.Fields["fee"])
	assert.Equal(t, testAccount.Hex(), env.Account)

	w.err = errors.New("broker down")
	assert.Error(t, sink.Publish(context.Background(), NewTransactionPaid(testHash, testAccount, uint256.NewInt(9))))
}

func TestKafkaSinkCarriesEventTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})
	ev := Traced(trace.ContextWithSpanContext(context.Background(), sc), NewTransactionExecuted(testHash, testAccount, nil))
	assert.Equal(t, sc.TraceID(), ev.SpanContext().TraceID())

	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w, "aa-events")
	require.NoError(t, sink.Publish(context.Background(), ev))
	require.Len(t, w.messages, 1)

	var traceparent string
	for _, h := range w.messages[0].Headers {
		if h.Key == "traceparent" {
			traceparent = string(h.Value)
		}
	}
	assert.Contains(t, traceparent, sc.TraceID().String())

	require.NoError(t, sink.Publish(context.Background(), NewTransactionExecuted(testHash, testAccount, nil)))
	for _, h := range w.messages[1].Headers {
		assert.NotEqual(t, "traceparent", h.Key, "untraced events carry no parent")
	}
}

func TestKafkaSinkRun(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w, "aa-events")
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sink.Run(ctx, bus)
		close(done)
	}()
	require.Eventually(t, func() bool { return bus.GetTotalSubscriptions() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(NewTransactionExecuted(testHash, testAccount, nil))
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, bus.GetTotalSubscriptions())
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(KafkaSinkConfig{})
	assert.Error(t, err)

	sink, err := NewKafkaSink(KafkaSinkConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, "aa-events", sink.topic)
	require.NoError(t, sink.Close())
}
