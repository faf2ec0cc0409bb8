package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/pushgate/errors"
	"github.com/kbukum/pushgate/logger"
	"github.com/kbukum/pushgate/validation"
	"github.com/kbukum/pushgate/version"
)

// Handler exposes the registry and dispatcher over HTTP. The connect
// route holds a long-lived event stream open; the remaining routes are
// plain request/response.
type Handler struct {
	registry   *Registry
	dispatcher *Dispatcher
	path       string
	keepAlive  time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithPath overrides the route prefix (default "/api/sse").
func WithPath(path string) HandlerOption {
	return func(h *Handler) {
		if path != "" {
			h.path = path
		}
	}
}

// WithKeepAlive overrides the keep-alive comment interval.
func WithKeepAlive(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// NewHandler creates a Handler over registry and dispatcher.
func NewHandler(registry *Registry, dispatcher *Dispatcher, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		path:       "/api/sse",
		keepAlive:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts all SSE routes on router under the handler's prefix.
func (h *Handler) Register(router gin.IRouter) {
	grp := router.Group(h.path)
	grp.GET("/connect", h.Connect)
	grp.POST("/send/:clientId", h.Send)
	grp.POST("/broadcast", h.Broadcast)
	grp.DELETE("/close/:clientId", h.Close)
	grp.DELETE("/close-all", h.CloseAll)
	grp.GET("/clients", h.ListClients)
	grp.GET("/clients/:clientId", h.CheckClient)
	grp.GET("/status", h.Status)
}

// dispatchRequest is the validated boundary input for send/broadcast.
type dispatchRequest struct {
	EventType string `json:"eventType" validate:"required,max=64,printascii,excludesall=0x20"`
}

// SendResponse is the wire shape of send and close results.
type SendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	EventID string `json:"eventId,omitempty"`
}

// BroadcastResponse is the wire shape of broadcast results.
type BroadcastResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	EventID        string `json:"eventId"`
	RecipientCount int    `json:"recipientCount"`
}

// CloseAllResponse is the wire shape of close-all results.
type CloseAllResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ClosedCount int    `json:"closedCount"`
}

// ClientListResponse is the wire shape of the client listing.
type ClientListResponse struct {
	Count   int      `json:"count"`
	Clients []string `json:"clients"`
}

// ClientCheckResponse is the wire shape of a single-client check.
type ClientCheckResponse struct {
	ClientID  string `json:"clientId"`
	Connected bool   `json:"connected"`
}

// StatusResponse wraps the registry snapshot with build info.
type StatusResponse struct {
	RegistryStatus
	Version string `json:"version"`
}

// Connect opens an event stream and drains it to the client until the
// stream completes, fails, or the peer goes away.
func (h *Handler) Connect(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		logger.Error("[SSE] Streaming not supported by transport")
		c.JSON(http.StatusInternalServerError, apperrors.Internal(fmt.Errorf("streaming not supported")).ToResponse())
		return
	}

	sink, err := h.dispatcher.OpenStream(c.Query("clientId"),
		WithAttribute(AttrRemoteAddr, c.ClientIP()),
		WithAttribute(AttrUserAgent, c.Request.UserAgent()),
	)
	if err != nil {
		respondError(c, err)
		return
	}
	clientID := sink.ClientID()

	// The stream outlives the server's write timeout.
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.Warn("[SSE] Could not clear write deadline", map[string]interface{}{
			"client_id": clientID,
			"error":     err.Error(),
		})
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			// Peer dropped the transport; ordinary close, not a fault.
			h.registry.Drop(clientID, nil)
			return

		case ev, open := <-sink.Events():
			if !open {
				// Completed or failed elsewhere; the entry is already gone.
				return
			}
			if _, err := c.Writer.Write(ev.Encode()); err != nil {
				h.registry.Drop(clientID, err)
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			// Comment lines keep intermediaries from reaping idle streams.
			if _, err := fmt.Fprintf(c.Writer, ": keepalive %d\n\n", time.Now().Unix()); err != nil {
				h.registry.Drop(clientID, err)
				return
			}
			flusher.Flush()
		}
	}
}

// Send delivers an event to one client.
func (h *Handler) Send(c *gin.Context) {
	clientID := c.Param("clientId")
	eventType, payload, err := h.dispatchInput(c)
	if err != nil {
		respondError(c, err)
		return
	}

	eventID, ok := h.dispatcher.Send(clientID, eventType, payload)
	if !ok {
		c.JSON(http.StatusNotFound, SendResponse{
			Success: false,
			Message: fmt.Sprintf("client not found or event could not be sent: %s", clientID),
		})
		return
	}
	c.JSON(http.StatusOK, SendResponse{
		Success: true,
		Message: fmt.Sprintf("event sent to client: %s", clientID),
		EventID: eventID,
	})
}

// Broadcast delivers an event to every connected client.
func (h *Handler) Broadcast(c *gin.Context) {
	eventType, payload, err := h.dispatchInput(c)
	if err != nil {
		respondError(c, err)
		return
	}

	eventID, count := h.dispatcher.Broadcast(eventType, payload)
	c.JSON(http.StatusOK, BroadcastResponse{
		Success:        true,
		Message:        "event broadcast to all clients",
		EventID:        eventID,
		RecipientCount: count,
	})
}

// Close tears down one client's stream.
func (h *Handler) Close(c *gin.Context) {
	clientID := c.Param("clientId")
	if !h.registry.Close(clientID) {
		c.JSON(http.StatusNotFound, SendResponse{
			Success: false,
			Message: fmt.Sprintf("client not found: %s", clientID),
		})
		return
	}
	c.JSON(http.StatusOK, SendResponse{
		Success: true,
		Message: fmt.Sprintf("connection closed for client: %s", clientID),
	})
}

// CloseAll tears down every stream.
func (h *Handler) CloseAll(c *gin.Context) {
	count := h.registry.CloseAll()
	c.JSON(http.StatusOK, CloseAllResponse{
		Success:     true,
		Message:     "all connections closed",
		ClosedCount: count,
	})
}

// ListClients returns the IDs of all connected clients.
func (h *Handler) ListClients(c *gin.Context) {
	ids := h.registry.ClientIDs()
	c.JSON(http.StatusOK, ClientListResponse{
		Count:   len(ids),
		Clients: ids,
	})
}

// CheckClient reports whether one client is connected.
func (h *Handler) CheckClient(c *gin.Context) {
	clientID := c.Param("clientId")
	c.JSON(http.StatusOK, ClientCheckResponse{
		ClientID:  clientID,
		Connected: h.registry.IsConnected(clientID),
	})
}

// Status reports the registry snapshot plus build info.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		RegistryStatus: h.registry.Status(),
		Version:        version.Version,
	})
}

// dispatchInput validates the event type and reads the opaque payload.
// Malformed requests are rejected here, before they reach the core.
func (h *Handler) dispatchInput(c *gin.Context) (string, json.RawMessage, error) {
	eventType := c.Query("eventType")
	if err := validation.Validate(dispatchRequest{EventType: eventType}); err != nil {
		return "", nil, err
	}

	body, err := c.GetRawData()
	if err != nil {
		return "", nil, apperrors.InvalidInput("payload", "request body could not be read")
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return eventType, json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return "", nil, apperrors.InvalidInput("payload", "payload must be valid JSON")
	}
	return eventType, json.RawMessage(body), nil
}

// respondError maps an error to its HTTP response, falling back to 500.
func respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		c.JSON(appErr.HTTPStatus, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.Internal(err).ToResponse())
}
