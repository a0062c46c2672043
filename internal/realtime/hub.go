// Package realtime streams assessment and alert events over WebSocket.
//
// Clients subscribe instead of polling. A client may narrow its stream to
// specific entities, event types, risk tiers or a minimum alert severity by
// sending a Subscription as a JSON text message at any time.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/riskscope/internal/alerts"
	"github.com/mbd888/riskscope/internal/engine"
	"github.com/mbd888/riskscope/internal/metrics"
)

// EventType names a streamed event.
type EventType string

const (
	EventAssessed       EventType = engine.EventAssessed
	EventAlertRaised    EventType = engine.EventAlertRaised
	EventAlertEscalated EventType = engine.EventAlertEscalated
	EventAlertCleared   EventType = engine.EventAlertCleared
)

// Event is the JSON frame sent to subscribers.
type Event struct {
	Type      EventType       `json:"type"`
	EntityID  string          `json:"entityId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  alerts.Severity `json:"severity,omitempty"`
	Tier      string          `json:"tier,omitempty"`
	Data      any             `json:"data"`
}

// HubStats is a point-in-time view of hub activity.
type HubStats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	DroppedEvents    int64 `json:"droppedEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
}

// MaxClients is the default cap on concurrent connections.
const MaxClients = 10000

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins lets browsers on these origins connect in addition to
// same-host pages. "*" allows any origin.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) { h.origins = origins }
}

// WithMaxClients overrides MaxClients.
func WithMaxClients(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

// Hub fans events out to subscribed clients. All client set mutations happen
// on the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	origins    []string
	maxClients int
	done       chan struct{} // closed when Run returns

	totalEvents   atomic.Int64
	droppedEvents atomic.Int64
	totalClients  atomic.Int64
	peakClients   atomic.Int64
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		maxClients: MaxClients,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	return slices.Contains(h.origins, "*") || slices.Contains(h.origins, origin)
}

// Run owns the client set until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "clients", n)

		case c := <-h.unregister:
			h.drop(c)

		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) drop(clients ...*Client) {
	h.mu.Lock()
	for _, c := range clients {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("clients disconnected", "count", len(clients), "clients", n)
}

// fanOut delivers ev to matching clients. A client whose buffer is full is
// disconnected rather than allowed to stall the hub.
func (h *Hub) fanOut(ev *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", "type", ev.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.subscription().Matches(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.logger.Warn("dropping slow clients", "count", len(slow))
		h.drop(slow...)
	}
}

// Broadcast queues ev without blocking. Events are dropped and counted when
// the queue is full.
func (h *Hub) Broadcast(ev *Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.droppedEvents.Add(1)
		h.logger.Warn("broadcast queue full, dropping event", "type", ev.Type)
	}
}

// Publish implements engine.EventSink.
func (h *Hub) Publish(eventType, entityID string, data any) {
	ev := &Event{
		Type:      EventType(eventType),
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	switch d := data.(type) {
	case *engine.Assessment:
		if d != nil && d.Profile != nil {
			ev.Tier = string(d.Profile.Tier)
		}
	case *alerts.Alert:
		if d != nil {
			ev.Severity = d.Severity
		}
	}
	h.Broadcast(ev)
}

// Stats returns current counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return HubStats{
		ConnectedClients: n,
		TotalEvents:      h.totalEvents.Load(),
		DroppedEvents:    h.droppedEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades the request and registers a client whose initial
// subscription comes from the query string.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if h.Stats().ConnectedClients >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	sub := subscriptionFromQuery(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), sub: sub}
	if !h.attach(c) {
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// attach hands c to Run. It reports false if the hub stopped first.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}
