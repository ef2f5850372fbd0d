package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

const (
	hubBuffer    = 256
	writeTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		host := originURL.Hostname()
		return host == "localhost" || host == "127.0.0.1"
	},
}

// Hub fans progress events out to connected WebSocket clients.
// Broadcast never blocks the caller: events are dropped when the buffer is full.
type Hub struct {
	logger *slog.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	events   chan types.ProgressEvent
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. Call Start to begin delivering events.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan types.ProgressEvent, hubBuffer),
		done:    make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		h.clientsMu.Lock()
		h.clients[conn] = true
		total := len(h.clients)
		h.clientsMu.Unlock()

		h.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			h.clientsMu.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.clientsMu.Unlock()
			conn.Close()

			h.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Clients only listen; reading drives ping/pong and detects close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Broadcast queues an event for delivery. It is safe to use as a scenario
// progress callback.
func (h *Hub) Broadcast(ev types.ProgressEvent) {
	select {
	case <-h.done:
	case h.events <- ev:
	default:
		h.logger.Debug("progress event dropped", slog.String("scenario", string(ev.Scenario)), slog.String("type", ev.Type))
	}
}

// Start begins the delivery goroutine.
func (h *Hub) Start() {
	go h.broadcastLoop()
}

// Stop stops delivery and closes all client connections. It is idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.clientsMu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.clientsMu.Unlock()
	})
}

func (h *Hub) broadcastLoop() {
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.events:
			h.send(ev)
		}
	}
}

// send writes one event to every client. Only broadcastLoop writes, so
// connections never see concurrent writers.
func (h *Hub) send(ev types.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal progress event", slog.String("error", err.Error()))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// The read loop removes the client.
			h.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
