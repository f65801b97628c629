// Package events provides the in-process event bus the trading core publishes
// to. Persisted sinks (trade journal, performance log) subscribe here; the
// core itself never reads events back.
package events

import (
	"sync"
	"time"
)

// EventType identifies a class of event.
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventTradeAdmitted   EventType = "TRADE_ADMITTED"
	EventTradeRejected   EventType = "TRADE_REJECTED"
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventRiskHalt        EventType = "RISK_HALT"
	EventPerformance     EventType = "PERFORMANCE_SNAPSHOT"
	EventBotStarted      EventType = "BOT_STARTED"
	EventBotStopped      EventType = "BOT_STOPPED"
)

// Event is a single published event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Symbol    string                 `json:"symbol,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Subscriber handles a published event. Subscribers run synchronously on the
// publisher's goroutine and must not block for long.
type Subscriber func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers a subscriber for every event.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers an event to all matching subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}
