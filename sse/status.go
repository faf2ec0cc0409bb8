package sse

import (
	"os"
	"sort"
	"time"
)

// RegistryStatus is a snapshot of registry metadata reported by the
// status endpoint. Primarily intended for operations and debugging.
type RegistryStatus struct {
	Node            string       `json:"node"`
	Status          string       `json:"status"`
	Reported        int64        `json:"reported_at"`
	StartupTime     int64        `json:"startup_time"`
	EventsDelivered uint64       `json:"events_delivered"`
	Connections     []SinkStatus `json:"connections"`
}

// Status returns the current RegistryStatus. Connections are sorted by
// age, oldest first.
func (r *Registry) Status() RegistryStatus {
	r.mu.RLock()
	sinks := make([]*Sink, 0, len(r.sinks))
	for _, sink := range r.sinks {
		sinks = append(sinks, sink)
	}
	r.mu.RUnlock()

	status := RegistryStatus{
		Node:            nodeName(),
		Status:          "OK",
		Reported:        time.Now().Unix(),
		StartupTime:     r.startup.Unix(),
		EventsDelivered: r.delivered.Load(),
		Connections:     make([]SinkStatus, 0, len(sinks)),
	}
	for _, sink := range sinks {
		status.Connections = append(status.Connections, sink.Status())
	}
	sort.Slice(status.Connections, func(i, j int) bool {
		return status.Connections[i].Created < status.Connections[j].Created
	})
	return status
}

func nodeName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
