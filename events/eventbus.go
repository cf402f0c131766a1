package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mezonai/mmn-aa/logx"
)

const defaultSubscriberBuffer = 50

type SubscriberID string

// Filter selects the events a subscriber receives
type Filter func(AccountEvent) bool

// ForAccount keeps events of one smart account
func ForAccount(addr common.Address) Filter {
	return func(ev AccountEvent) bool { return ev.Account() == addr }
}

// OfType keeps events of the listed types
func OfType(types ...EventType) Filter {
	return func(ev AccountEvent) bool {
		for _, t := range types {
			if ev.Type() == t {
				return true
			}
		}
		return false
	}
}

type subscriber struct {
	ch      chan AccountEvent
	filters []Filter
	dropped atomic.Uint64
}

func (s *subscriber) wants(ev AccountEvent) bool {
	for _, f := range s.filters {
		if !f(ev) {
			return false
		}
	}
	return true
}

// EventBus fans account events out to in-process subscribers. Delivery never
// blocks the publisher: a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[SubscriberID]*subscriber
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[SubscriberID]*subscriber)}
}

// Subscribe registers a buffered subscriber receiving the events that pass
// every filter
func (eb *EventBus) Subscribe(buffer int, filters ...Filter) (SubscriberID, <-chan AccountEvent) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	id := SubscriberID(uuid.Must(uuid.NewV7()).String())
	sub := &subscriber{ch: make(chan AccountEvent, buffer), filters: filters}

	eb.mu.Lock()
	eb.subscribers[id] = sub
	total := len(eb.subscribers)
	eb.mu.Unlock()

	logx.Info("EVENTBUS", fmt.Sprintf("subscriber %s added, %d active", id, total))
	return id, sub.ch
}

// Unsubscribe closes the subscriber's channel. It reports false for an
// unknown id.
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	sub, ok := eb.subscribers[id]
	if ok {
		delete(eb.subscribers, id)
		close(sub.ch)
	}
	eb.mu.Unlock()

	if !ok {
		return false
	}
	if n := sub.dropped.Load(); n > 0 {
		logx.Warn("EVENTBUS", fmt.Sprintf("subscriber %s removed after missing %d events", id, n))
	}
	return true
}

func (eb *EventBus) Publish(event AccountEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, sub := range eb.subscribers {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if sub.dropped.Add(1) == 1 {
				logx.Warn("EVENTBUS", fmt.Sprintf("subscriber %s is full, dropping %s for %s", id, event.Type(), event.TxHash()))
			}
		}
	}
}

// Dropped is the number of events subscriber id missed on a full buffer
func (eb *EventBus) Dropped(id SubscriberID) uint64 {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if sub, ok := eb.subscribers[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

func (eb *EventBus) GetTotalSubscriptions() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

func (eb *EventBus) HasSubscriber(id SubscriberID) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	_, ok := eb.subscribers[id]
	return ok
}
