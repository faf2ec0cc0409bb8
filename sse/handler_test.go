package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestRouter(opts ...HandlerOption) (*gin.Engine, *Registry, *Dispatcher) {
	gin.SetMode(gin.TestMode)
	reg := NewRegistry()
	disp := NewDispatcher(reg)
	handler := NewHandler(reg, disp, opts...)

	router := gin.New()
	handler.Register(router)
	return router, reg, disp
}

// openStream connects to the SSE endpoint and returns the response plus a
// line scanner over the stream body. Callers must cancel ctx and close
// the body.
func openStream(t *testing.T, ctx context.Context, baseURL, clientID string) (*http.Response, *bufio.Scanner) {
	t.Helper()
	url := baseURL + "/api/sse/connect"
	if clientID != "" {
		url += "?clientId=" + clientID
	}
	req, _ := http.NewRequestWithContext(ctx, "GET", url, http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return resp, bufio.NewScanner(resp.Body)
}

// readEvent scans one framed event (up to its blank-line terminator).
func readEvent(scanner *bufio.Scanner) string {
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func TestHandler_Connect(t *testing.T) {
	router, reg, _ := newTestRouter()
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, scanner := openStream(t, ctx, server.URL, "client-1")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected Content-Type 'text/event-stream', got %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected Cache-Control 'no-cache', got %q", cc)
	}

	// First frame is the connect handshake with the effective ID
	frame := readEvent(scanner)
	if !strings.Contains(frame, "event: connect") {
		t.Errorf("expected connect event, got %q", frame)
	}
	if !strings.Contains(frame, `"clientId":"client-1"`) {
		t.Errorf("expected client ID in payload, got %q", frame)
	}

	if !reg.IsConnected("client-1") {
		t.Error("expected client-1 registered while stream is open")
	}
}

func TestHandler_Connect_GeneratedID(t *testing.T) {
	router, _, _ := newTestRouter()
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, scanner := openStream(t, ctx, server.URL, "")
	defer resp.Body.Close()

	frame := readEvent(scanner)
	if !strings.Contains(frame, `"clientId":"`) {
		t.Errorf("expected generated client ID in handshake, got %q", frame)
	}
}

func TestHandler_Connect_Conflict(t *testing.T) {
	router, _, _ := newTestRouter()
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp1, scanner := openStream(t, ctx, server.URL, "client-1")
	defer resp1.Body.Close()
	readEvent(scanner) // stream established

	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL+"/api/sse/connect?clientId=client-1", http.NoBody)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second connect failed: %v", err)
	}
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate connect, got %d", resp2.StatusCode)
	}
}

func TestHandler_Connect_DisconnectCleansUp(t *testing.T) {
	router, reg, _ := newTestRouter()
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	resp, scanner := openStream(t, ctx, server.URL, "client-1")
	readEvent(scanner)

	// Drop the transport from the client side
	cancel()
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for reg.IsConnected("client-1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.IsConnected("client-1") {
		t.Error("expected registry entry removed after peer disconnect")
	}
}

func TestHandler_Send_DeliveredToStream(t *testing.T) {
	router, _, _ := newTestRouter()
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, scanner := openStream(t, ctx, server.URL, "client-1")
	defer resp.Body.Close()
	readEvent(scanner) // connect frame

	body := strings.NewReader(`{"text":"hello"}`)
	postResp, err := http.Post(server.URL+"/api/sse/send/client-1?eventType=chat", "application/json", body)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer postResp.Body.Close()

	if postResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", postResp.StatusCode)
	}
	var sent SendResponse
	if err := json.NewDecoder(postResp.Body).Decode(&sent); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !sent.Success {
		t.Error("expected success true")
	}
	if sent.EventID == "" {
		t.Error("expected an event ID")
	}

	frame := readEvent(scanner)
	if !strings.Contains(frame, "event: chat") {
		t.Errorf("expected chat event on stream, got %q", frame)
	}
	if !strings.Contains(frame, "id: "+sent.EventID) {
		t.Errorf("expected event ID %q on stream, got %q", sent.EventID, frame)
	}
	if !strings.Contains(frame, `data: {"text":"hello"}`) {
		t.Errorf("expected payload on stream, got %q", frame)
	}
}

func TestHandler_Send_UnknownClient(t *testing.T) {
	router, _, _ := newTestRouter()

	req := httptest.NewRequest("POST", "/api/sse/send/nobody?eventType=chat", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var resp SendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Error("expected success false")
	}
	if !strings.Contains(resp.Message, "nobody") {
		t.Errorf("expected client ID in message, got %q", resp.Message)
	}
}

func TestHandler_Send_MissingEventType(t *testing.T) {
	router, reg, _ := newTestRouter()
	reg.Open("client-1")

	req := httptest.NewRequest("POST", "/api/sse/send/client-1", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "eventType") {
		t.Errorf("expected field name in error, got %q", w.Body.String())
	}
}

func TestHandler_Send_EventTypeWithSpace(t *testing.T) {
	router, reg, _ := newTestRouter()
	reg.Open("client-1")

	req := httptest.NewRequest("POST", "/api/sse/send/client-1?eventType=chat%20message", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for spaced event type, got %d", w.Code)
	}
}

func TestHandler_Send_InvalidJSON(t *testing.T) {
	router, reg, _ := newTestRouter()
	reg.Open("client-1")

	req := httptest.NewRequest("POST", "/api/sse/send/client-1?eventType=chat", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandler_Send_EmptyBody(t *testing.T) {
	router, reg, _ := newTestRouter()
	sink, _ := reg.Open("client-1")

	req := httptest.NewRequest("POST", "/api/sse/send/client-1?eventType=ping", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// Empty payload becomes JSON null
	ev := <-sink.Events()
	if string(ev.Data) != "null" {
		t.Errorf("expected data 'null', got %s", ev.Data)
	}
}

func TestHandler_Broadcast(t *testing.T) {
	router, reg, _ := newTestRouter()
	sink1, _ := reg.Open("client-1")
	sink2, _ := reg.Open("client-2")

	req := httptest.NewRequest("POST", "/api/sse/broadcast?eventType=news", strings.NewReader(`{"n":1}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp BroadcastResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success true")
	}
	if resp.RecipientCount != 2 {
		t.Errorf("expected 2 recipients, got %d", resp.RecipientCount)
	}

	for _, sink := range []*Sink{sink1, sink2} {
		select {
		case ev := <-sink.Events():
			if ev.EventType != "news" {
				t.Errorf("%s: expected event 'news', got '%s'", sink.ClientID(), ev.EventType)
			}
		default:
			t.Errorf("%s: expected event in channel", sink.ClientID())
		}
	}
}

func TestHandler_Broadcast_NoClients(t *testing.T) {
	router, _, _ := newTestRouter()

	req := httptest.NewRequest("POST", "/api/sse/broadcast?eventType=news", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp BroadcastResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.RecipientCount != 0 {
		t.Errorf("expected 0 recipients, got %d", resp.RecipientCount)
	}
}

func TestHandler_Close(t *testing.T) {
	router, reg, _ := newTestRouter()
	reg.Open("client-1")

	req := httptest.NewRequest("DELETE", "/api/sse/close/client-1", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if reg.IsConnected("client-1") {
		t.Error("expected client-1 disconnected")
	}

	// Second close is a 404
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/sse/close/client-1", http.NoBody))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat close, got %d", w.Code)
	}
}

func TestHandler_CloseAll(t *testing.T) {
	router, reg, _ := newTestRouter()
	reg.Open("client-1")
	reg.Open("client-2")

	req := httptest.NewRequest("DELETE", "/api/sse/close-all", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp CloseAllResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ClosedCount != 2 {
		t.Errorf("expected 2 closed, got %d", resp.ClosedCount)
	}
	if reg.Count() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Count())
	}
}

func TestHandler_ListClients(t *testing.T) {
	router, reg, _ := newTestRouter()
	reg.Open("client-a")
	reg.Open("client-b")

	req := httptest.NewRequest("GET", "/api/sse/clients", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp ClientListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Clients) != 2 {
		t.Errorf("expected 2 clients, got count=%d clients=%v", resp.Count, resp.Clients)
	}
}

func TestHandler_CheckClient(t *testing.T) {
	router, reg, _ := newTestRouter()
	reg.Open("client-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/sse/clients/client-1", http.NoBody))

	var resp ClientCheckResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Connected {
		t.Error("expected connected true")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/sse/clients/nobody", http.NoBody))
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Connected {
		t.Error("expected connected false for unknown client")
	}
}

func TestHandler_Status(t *testing.T) {
	router, reg, _ := newTestRouter()
	reg.Open("client-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/sse/status", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "OK" {
		t.Errorf("expected status 'OK', got '%s'", resp.Status)
	}
	if len(resp.Connections) != 1 {
		t.Errorf("expected 1 connection, got %d", len(resp.Connections))
	}
}

func TestHandler_CustomPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := NewRegistry()
	disp := NewDispatcher(reg)
	handler := NewHandler(reg, disp, WithPath("/events"))

	router := gin.New()
	handler.Register(router)

	reg.Open("client-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/events/clients", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("expected routes under /events, got %d", w.Code)
	}
}

func TestHandler_KeepAlive(t *testing.T) {
	router, _, _ := newTestRouter(WithKeepAlive(50 * time.Millisecond))
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, scanner := openStream(t, ctx, server.URL, "client-1")
	defer resp.Body.Close()
	readEvent(scanner) // connect frame

	// Next frame should be a keep-alive comment
	frame := readEvent(scanner)
	if !strings.HasPrefix(frame, ": keepalive") {
		t.Errorf("expected keep-alive comment, got %q", frame)
	}
}
