package sse

import (
	"context"
	"encoding/json"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/pushgate/observability"
)

func TestDispatcher_OpenStream_ConnectEvent(t *testing.T) {
	reg := NewRegistry()
	disp := NewDispatcher(reg)

	sink, err := disp.OpenStream("client-1")
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	// First event on the stream is the connect handshake
	select {
	case ev := <-sink.Events():
		if ev.EventType != EventTypeConnect {
			t.Errorf("expected event type 'connect', got '%s'", ev.EventType)
		}
		if ev.ID == "" {
			t.Error("expected a generated event ID")
		}
		var payload ConnectPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			t.Fatalf("connect payload is not valid JSON: %v", err)
		}
		if payload.ClientID != "client-1" {
			t.Errorf("expected payload client ID 'client-1', got '%s'", payload.ClientID)
		}
	default:
		t.Fatal("expected connect event in channel")
	}
}

func TestDispatcher_OpenStream_GeneratedID(t *testing.T) {
	reg := NewRegistry()
	disp := NewDispatcher(reg)

	sink, err := disp.OpenStream("")
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	if sink.ClientID() == "" {
		t.Fatal("expected a generated client ID")
	}

	// The handshake carries the effective ID back
	ev := <-sink.Events()
	var payload ConnectPayload
	json.Unmarshal(ev.Data, &payload)
	if payload.ClientID != sink.ClientID() {
		t.Errorf("expected payload ID '%s', got '%s'", sink.ClientID(), payload.ClientID)
	}
}

func TestDispatcher_OpenStream_Conflict(t *testing.T) {
	reg := NewRegistry()
	disp := NewDispatcher(reg)

	disp.OpenStream("client-1")
	if _, err := disp.OpenStream("client-1"); err == nil {
		t.Fatal("expected conflict for duplicate open")
	}
}

func TestDispatcher_Send(t *testing.T) {
	reg := NewRegistry()
	disp := NewDispatcher(reg)
	sink, _ := disp.OpenStream("client-1")
	<-sink.Events() // drain connect event

	eventID, ok := disp.Send("client-1", "message", json.RawMessage(`{"n":1}`))
	if !ok {
		t.Fatal("expected send to succeed")
	}
	if eventID == "" {
		t.Error("expected a generated event ID")
	}

	ev := <-sink.Events()
	if ev.ID != eventID {
		t.Errorf("expected event ID '%s', got '%s'", eventID, ev.ID)
	}
	if ev.EventType != "message" {
		t.Errorf("expected event type 'message', got '%s'", ev.EventType)
	}
	if string(ev.Data) != `{"n":1}` {
		t.Errorf("payload must pass through untouched, got %s", ev.Data)
	}
}

func TestDispatcher_Send_UnknownClient(t *testing.T) {
	reg := NewRegistry()
	disp := NewDispatcher(reg)

	eventID, ok := disp.Send("nobody", "message", nil)
	if ok {
		t.Error("expected send to unknown client to report false")
	}
	if eventID == "" {
		t.Error("event ID is generated even for missed sends")
	}
}

func TestDispatcher_Broadcast(t *testing.T) {
	reg := NewRegistry()
	disp := NewDispatcher(reg)

	sink1, _ := disp.OpenStream("client-1")
	sink2, _ := disp.OpenStream("client-2")
	<-sink1.Events()
	<-sink2.Events()

	eventID, count := disp.Broadcast("news", json.RawMessage(`"hello"`))
	if count != 2 {
		t.Errorf("expected 2 recipients, got %d", count)
	}

	// Both clients receive the same event ID
	ev1 := <-sink1.Events()
	ev2 := <-sink2.Events()
	if ev1.ID != eventID || ev2.ID != eventID {
		t.Errorf("expected shared event ID '%s', got '%s' and '%s'", eventID, ev1.ID, ev2.ID)
	}
}

// collectDispatched sums sse.events.dispatched for one mode/outcome pair.
func collectDispatched(t *testing.T, reader *sdkmetric.ManualReader, mode, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "sse.events.dispatched" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("sse.events.dispatched is not an int64 sum")
			}
			for _, dp := range sum.DataPoints {
				gotMode, _ := dp.Attributes.Value(attribute.Key("mode"))
				gotOutcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				if gotMode.AsString() == mode && gotOutcome.AsString() == outcome {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestDispatcher_DispatchOutcomesRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observability.NewStreamMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewStreamMetrics failed: %v", err)
	}
	reg := NewRegistry(WithMetrics(metrics))
	disp := NewDispatcher(reg, WithDispatcherMetrics(metrics))

	if _, err := disp.OpenStream("client-1"); err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	disp.Send("client-1", "message", nil)
	disp.Send("nobody", "message", nil)

	if got := collectDispatched(t, reader, "connect", "delivered"); got != 1 {
		t.Errorf("expected 1 delivered connect, got %d", got)
	}
	if got := collectDispatched(t, reader, "send", "delivered"); got != 1 {
		t.Errorf("expected 1 delivered send, got %d", got)
	}
	if got := collectDispatched(t, reader, "send", "missed"); got != 1 {
		t.Errorf("expected 1 missed send, got %d", got)
	}
}

func TestOutcome(t *testing.T) {
	if outcome(true) != "delivered" {
		t.Errorf("expected 'delivered', got %q", outcome(true))
	}
	if outcome(false) != "missed" {
		t.Errorf("expected 'missed', got %q", outcome(false))
	}
}

func TestDispatcher_UniqueEventIDs(t *testing.T) {
	reg := NewRegistry()
	disp := NewDispatcher(reg)
	sink, _ := disp.OpenStream("client-1")
	<-sink.Events()

	id1, _ := disp.Send("client-1", "message", nil)
	id2, _ := disp.Send("client-1", "message", nil)
	if id1 == id2 {
		t.Errorf("expected distinct event IDs, got '%s' twice", id1)
	}
}
