package sse

import (
	"bytes"
	"encoding/json"
	"time"
)

// Reserved event type names. Application event types are arbitrary strings
// chosen by the caller; only "connect" is claimed by the core itself.
const (
	// EventTypeConnect is the first event on every stream, carrying the
	// effective client ID back to the remote party.
	EventTypeConnect = "connect"
)

// OutboundEvent is the wire-level unit pushed into a client's Sink.
// Data is opaque to the core: it is transported, never inspected.
type OutboundEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConnectPayload is the data of the initial connect event.
type ConnectPayload struct {
	ClientID  string `json:"clientId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Encode renders the event in text/event-stream framing:
//
//	id: <id>
//	event: <type>
//	data: <json>
//
// terminated by a blank line. Multi-line data is split into one data:
// field per line as the framing convention requires.
func (e OutboundEvent) Encode() []byte {
	var buf bytes.Buffer
	if e.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(e.ID)
		buf.WriteByte('\n')
	}
	if e.EventType != "" {
		buf.WriteString("event: ")
		buf.WriteString(e.EventType)
		buf.WriteByte('\n')
	}
	data := []byte(e.Data)
	if len(data) == 0 {
		data = []byte("null")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
