package sse

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/kbukum/pushgate/logger"
)

// Stream lifecycle states. Transitions are one-directional; a closed sink
// is never reopened; a new stream requires a fresh Registry.Open.
const (
	StateOpen    = "open"
	StateClosing = "closing"
	StateFailed  = "failed"
	StateClosed  = "closed"
)

// DefaultBufferSize is the sink channel capacity when none is configured.
const DefaultBufferSize = 256

var (
	// ErrSinkFull indicates the bounded buffer had no room; the push is dropped.
	ErrSinkFull = errors.New("sse: sink buffer full")

	// ErrSinkTerminal indicates the sink already completed or failed;
	// no further push ever succeeds.
	ErrSinkTerminal = errors.New("sse: sink is terminal")
)

// Sink is the write end of one client's stream: a bounded
// multi-producer/single-consumer channel of OutboundEvent. Exactly one
// registry entry owns each Sink; the transport layer is the only consumer.
type Sink struct {
	clientID string
	events   chan OutboundEvent
	attrs    map[string]string

	mu      sync.Mutex
	machine *fsm.FSM
	cause   error
	created time.Time
	pushed  uint64
}

// SinkOption configures a Sink at open time.
type SinkOption func(*Sink)

// WithAttribute records transport metadata (remote address, user agent)
// on the sink for status reporting.
func WithAttribute(key, value string) SinkOption {
	return func(s *Sink) {
		if s.attrs == nil {
			s.attrs = make(map[string]string)
		}
		s.attrs[key] = value
	}
}

// Attribute keys set by the connect handler.
const (
	AttrRemoteAddr = "remote_addr"
	AttrUserAgent  = "user_agent"
)

func newSink(clientID string, buffer int, opts ...SinkOption) *Sink {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	s := &Sink{
		clientID: clientID,
		events:   make(chan OutboundEvent, buffer),
		created:  time.Now(),
	}
	s.machine = fsm.NewFSM(
		StateOpen,
		fsm.Events{
			{Name: "close", Src: []string{StateOpen}, Dst: StateClosing},
			{Name: "fail", Src: []string{StateOpen}, Dst: StateFailed},
			{Name: "finalize", Src: []string{StateClosing, StateFailed}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("[SSE] Stream state changed", map[string]interface{}{
					"client_id": clientID,
					"from":      e.Src,
					"to":        e.Dst,
				})
			},
		},
	)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClientID returns the client identifier this sink belongs to.
func (s *Sink) ClientID() string {
	return s.clientID
}

// Events returns the channel the transport layer drains. The channel is
// closed when the sink completes or fails; draining it is the only
// blocking operation in the whole core.
func (s *Sink) Events() <-chan OutboundEvent {
	return s.events
}

// TryPush attempts a non-blocking push. It returns ErrSinkTerminal if the
// sink already completed or failed, and ErrSinkFull if the buffer is
// exhausted; a slow client never stalls the pusher.
func (s *Sink) TryPush(ev OutboundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminalLocked() {
		return ErrSinkTerminal
	}
	select {
	case s.events <- ev:
		s.pushed++
		return nil
	default:
		return ErrSinkFull
	}
}

// Complete ends the stream gracefully: open → closing → closed. The events
// channel is closed so the drain loop observes end-of-stream. Safe to call
// on an already-terminal sink.
func (s *Sink) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminalLocked() {
		return
	}
	ctx := context.Background()
	_ = s.machine.Event(ctx, "close")
	close(s.events)
	_ = s.machine.Event(ctx, "finalize")
}

// Fail ends the stream with an error: open → failed → closed. The cause is
// recorded for logging; failed sinks are never retried or resurrected.
func (s *Sink) Fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminalLocked() {
		return
	}
	s.cause = cause
	ctx := context.Background()
	_ = s.machine.Event(ctx, "fail")
	close(s.events)
	_ = s.machine.Event(ctx, "finalize")
}

// State returns the current lifecycle state.
func (s *Sink) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// Err returns the failure cause, or nil if the sink has not failed.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// CreatedAt returns when the stream was opened.
func (s *Sink) CreatedAt() time.Time {
	return s.created
}

func (s *Sink) terminalLocked() bool {
	return s.machine.Current() != StateOpen
}

// SinkStatus is a point-in-time snapshot of one connection, reported by
// the status endpoint.
type SinkStatus struct {
	ClientID   string `json:"client_id"`
	State      string `json:"state"`
	Created    int64  `json:"created_at"`
	EventsSent uint64 `json:"events_sent"`
	Buffered   int    `json:"buffered"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// Status returns a snapshot of the sink's counters and transport metadata.
func (s *Sink) Status() SinkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SinkStatus{
		ClientID:   s.clientID,
		State:      s.machine.Current(),
		Created:    s.created.Unix(),
		EventsSent: s.pushed,
		Buffered:   len(s.events),
		RemoteAddr: s.attrs[AttrRemoteAddr],
		UserAgent:  s.attrs[AttrUserAgent],
	}
}
