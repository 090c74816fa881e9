// Package dispatch fans inbound server frames out to feature modules. It is
// the seam that lets each feature depend only on the event types it cares
// about while sharing one transport.
package dispatch

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/costclaim/groupview/internal/protocol"
)

// Handler receives the raw frame whose envelope matched its subscribed type.
type Handler func(raw []byte)

// Subscription identifies one registered handler for removal. Identity is the
// pointer, so the same function may be subscribed to several types
// independently.
type Subscription struct {
	eventType protocol.EventType
	fn        Handler
}

type Dispatcher struct {
	mu       sync.Mutex
	handlers map[protocol.EventType][]*Subscription
	logger   *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[protocol.EventType][]*Subscription),
		logger:   logger,
	}
}

// Subscribe appends fn to the ordered list for eventType. Notification order
// is registration order.
func (d *Dispatcher) Subscribe(eventType protocol.EventType, fn Handler) *Subscription {
	sub := &Subscription{eventType: eventType, fn: fn}
	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], sub)
	d.mu.Unlock()
	return sub
}

// Unsubscribe removes every occurrence of sub. Safe to call from a handler
// that is itself being invoked: Notify iterates a snapshot, so removal never
// corrupts an in-progress dispatch.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	subs, ok := d.handlers[sub.eventType]
	if !ok {
		return
	}
	kept := subs[:0]
	for _, s := range subs {
		if s != sub {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(d.handlers, sub.eventType)
		return
	}
	d.handlers[sub.eventType] = kept
}

// Notify parses the envelope and invokes each currently registered handler
// for the declared type, synchronously and in registration order. Malformed
// frames and unmatched types are dropped.
func (d *Dispatcher) Notify(raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.logger.Debug("dropping malformed frame", zap.Error(err))
		return
	}

	d.mu.Lock()
	subs, ok := d.handlers[env.Type]
	if !ok {
		d.mu.Unlock()
		d.logger.Debug("no subscribers", zap.String("type", string(env.Type)))
		return
	}

	// Snapshot so handlers can unsubscribe themselves (or each other)
	// mid-dispatch without skipping or duplicating anyone else. Handlers run
	// outside the lock.
	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)
	d.mu.Unlock()
	for _, sub := range snapshot {
		sub.fn(raw)
	}
}
