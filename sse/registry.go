package sse

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kbukum/pushgate/errors"
	"github.com/kbukum/pushgate/logger"
	"github.com/kbukum/pushgate/observability"
)

// Registry is the authoritative record of who is connected: a
// concurrency-safe mapping from client ID to that client's live Sink.
// Entries are added only by Open and removed only by Close/CloseAll/Drop
// or by a push observing that the sink is already terminal.
//
// Invariant: at most one live Sink per client ID at any instant. A second
// Open for a live ID is rejected with a conflict error rather than
// silently evicting the prior stream.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]*Sink

	buffer  int
	metrics *observability.StreamMetrics

	startup   time.Time
	delivered atomic.Uint64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBufferSize sets the per-sink channel capacity.
func WithBufferSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithMetrics attaches stream metrics instruments. A nil metrics set is
// valid; all recording calls are no-ops then.
func WithMetrics(m *observability.StreamMetrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sinks:   make(map[string]*Sink),
		buffer:  DefaultBufferSize,
		startup: time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open creates and registers a Sink for clientID, generating an ID when
// none is supplied. It returns a conflict error if the client already
// holds an open stream; the effective ID is available via Sink.ClientID.
func (r *Registry) Open(clientID string, opts ...SinkOption) (*Sink, error) {
	if clientID == "" {
		clientID = uuid.New().String()
	}

	r.mu.Lock()
	if _, exists := r.sinks[clientID]; exists {
		r.mu.Unlock()
		return nil, apperrors.Conflict(fmt.Sprintf("client %q already has an open stream", clientID))
	}
	sink := newSink(clientID, r.buffer, opts...)
	r.sinks[clientID] = sink
	total := len(r.sinks)
	r.mu.Unlock()

	logger.Info("[SSE] Stream opened", map[string]interface{}{
		"client_id":     clientID,
		"total_clients": total,
	})
	r.metrics.ConnectionOpened()
	return sink, nil
}

// Send pushes an event to one client. An unknown recipient is a normal
// false outcome, not an error. A push against a terminal sink removes the
// stale entry (self-healing); a full buffer drops the event and reports
// failure without touching the entry.
func (r *Registry) Send(clientID string, ev OutboundEvent) bool {
	r.mu.RLock()
	sink := r.sinks[clientID]
	r.mu.RUnlock()
	if sink == nil {
		logger.Debug("[SSE] No stream for recipient", map[string]interface{}{
			"client_id": clientID,
		})
		return false
	}
	return r.push(sink, ev)
}

// Broadcast pushes an event to every client registered at the instant of
// the call. Iteration uses a point-in-time snapshot so concurrent opens
// and closes are never blocked; per-entry failures are logged, not
// raised. The return value is the number of attempted recipients.
func (r *Registry) Broadcast(ev OutboundEvent) int {
	r.mu.RLock()
	snapshot := make([]*Sink, 0, len(r.sinks))
	for _, sink := range r.sinks {
		snapshot = append(snapshot, sink)
	}
	r.mu.RUnlock()

	for _, sink := range snapshot {
		r.push(sink, ev)
	}
	return len(snapshot)
}

// push delivers ev into sink with the shared failure semantics.
func (r *Registry) push(sink *Sink, ev OutboundEvent) bool {
	switch err := sink.TryPush(ev); err {
	case nil:
		r.delivered.Add(1)
		return true
	case ErrSinkTerminal:
		// Stale entry: the stream already ended but teardown has not
		// removed it yet. Heal the registry now.
		r.removeEntry(sink.ClientID(), sink)
		logger.Warn("[SSE] Dropped event for terminal stream", map[string]interface{}{
			"client_id": sink.ClientID(),
			"event_id":  ev.ID,
		})
		r.metrics.DeliveryFailure("terminal")
		return false
	default:
		logger.Warn("[SSE] Sink buffer full, dropping event", map[string]interface{}{
			"client_id": sink.ClientID(),
			"event_id":  ev.ID,
		})
		r.metrics.DeliveryFailure("buffer_full")
		return false
	}
}

// Close removes the entry for clientID and completes its stream
// gracefully. It reports whether an entry existed.
func (r *Registry) Close(clientID string) bool {
	r.mu.Lock()
	sink, ok := r.sinks[clientID]
	if ok {
		delete(r.sinks, clientID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	sink.Complete()
	logger.Info("[SSE] Stream closed", map[string]interface{}{
		"client_id": clientID,
	})
	r.metrics.ConnectionClosed(StateClosed)
	return true
}

// CloseAll removes every entry and completes every stream; used for
// shutdown and reset. It returns the number of streams closed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	closing := make([]*Sink, 0, len(r.sinks))
	for _, sink := range r.sinks {
		closing = append(closing, sink)
	}
	r.sinks = make(map[string]*Sink)
	r.mu.Unlock()

	for _, sink := range closing {
		sink.Complete()
		r.metrics.ConnectionClosed(StateClosed)
	}
	if len(closing) > 0 {
		logger.Info("[SSE] All streams closed", map[string]interface{}{
			"count": len(closing),
		})
	}
	return len(closing)
}

// Drop tears down one stream from the transport side: peer disconnect
// (cause nil, ordinary close) or an unrecoverable write error (cause
// non-nil, failed). The entry is removed synchronously so no further push
// can succeed against the dead sink.
func (r *Registry) Drop(clientID string, cause error) bool {
	r.mu.Lock()
	sink, ok := r.sinks[clientID]
	if ok {
		delete(r.sinks, clientID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if cause == nil {
		sink.Complete()
		logger.Info("[SSE] Client disconnected", map[string]interface{}{
			"client_id": clientID,
		})
		r.metrics.ConnectionClosed(StateClosed)
	} else {
		sink.Fail(cause)
		logger.Error("[SSE] Stream failed", map[string]interface{}{
			"client_id": clientID,
			"error":     cause.Error(),
		})
		r.metrics.ConnectionClosed(StateFailed)
	}
	return true
}

// removeEntry deletes the entry only while it still points at sink, so a
// racing Close+Open for the same ID never loses a fresh stream.
func (r *Registry) removeEntry(clientID string, sink *Sink) {
	r.mu.Lock()
	removed := r.sinks[clientID] == sink
	if removed {
		delete(r.sinks, clientID)
	}
	r.mu.Unlock()
	// Only the call that actually removed the entry closes the books;
	// a stale sink that lost the race was already accounted for.
	if removed {
		r.metrics.ConnectionClosed(sink.State())
	}
}

// IsConnected reports whether clientID holds a live stream.
func (r *Registry) IsConnected(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sinks[clientID]
	return ok
}

// ClientIDs returns the IDs of all currently connected clients.
func (r *Registry) ClientIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sinks))
	for id := range r.sinks {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of currently connected clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
