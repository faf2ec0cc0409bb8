package sse

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/pushgate/observability"
)

// Dispatcher translates an (eventType, payload) pair plus a target (one
// client or all) into OutboundEvents and routes them through the
// Registry. Every outbound event receives a freshly generated unique ID
// at dispatch time. The dispatcher never retries: a failed push is
// reported once and reacting to it is the caller's business.
type Dispatcher struct {
	registry *Registry
	metrics  *observability.StreamMetrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherMetrics attaches stream metrics instruments.
func WithDispatcherMetrics(m *observability.StreamMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a Dispatcher routing through registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OpenStream opens a stream for clientID (generated when empty) and
// immediately pushes the connect handshake event so the remote party
// learns its effective ID. The handshake can still miss when a close
// races the open, so the outcome is recorded from the actual push.
func (d *Dispatcher) OpenStream(clientID string, opts ...SinkOption) (*Sink, error) {
	sink, err := d.registry.Open(clientID, opts...)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	payload, _ := json.Marshal(ConnectPayload{
		ClientID:  sink.ClientID(),
		Message:   "Connection established",
		Timestamp: now.Format(time.RFC3339),
	})
	ok := d.registry.Send(sink.ClientID(), d.newEvent(EventTypeConnect, payload))
	d.metrics.EventDispatched("connect", outcome(ok))
	return sink, nil
}

// Send delivers one event to one client. It returns the generated event
// ID and whether the push was accepted; false covers both an unknown
// recipient and a rejected push.
func (d *Dispatcher) Send(clientID, eventType string, payload json.RawMessage) (string, bool) {
	ev := d.newEvent(eventType, payload)
	ok := d.registry.Send(clientID, ev)
	d.metrics.EventDispatched("send", outcome(ok))
	return ev.ID, ok
}

func outcome(ok bool) string {
	if ok {
		return "delivered"
	}
	return "missed"
}

// Broadcast delivers one event to every currently connected client,
// best effort. It returns the generated event ID and the number of
// attempted recipients.
func (d *Dispatcher) Broadcast(eventType string, payload json.RawMessage) (string, int) {
	ev := d.newEvent(eventType, payload)
	n := d.registry.Broadcast(ev)
	d.metrics.BroadcastAttempted(n)
	return ev.ID, n
}

func (d *Dispatcher) newEvent(eventType string, payload json.RawMessage) OutboundEvent {
	return OutboundEvent{
		ID:        uuid.New().String(),
		EventType: eventType,
		Data:      payload,
		Timestamp: time.Now(),
	}
}
