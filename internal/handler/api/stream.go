package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	models "FluxDash/internal/domain/models"
	domrepo "FluxDash/internal/domain/repository"
	"FluxDash/internal/service/metrics"
	xlogger "FluxDash/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// StreamHub fans series events out to websocket subscribers. A subscriber
// whose send buffer is full is disconnected.
type StreamHub struct {
	upgrader     websocket.Upgrader
	logger       *xlogger.Logger
	pingInterval time.Duration
	sendBuffer   int

	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool
}

type HubOption func(*StreamHub)

func WithPingInterval(d time.Duration) HubOption {
	return func(h *StreamHub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

func WithSendBuffer(n int) HubOption {
	return func(h *StreamHub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func NewStreamHub(logger *xlogger.Logger, opts ...HubOption) *StreamHub {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &StreamHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:       logger.Named("stream"),
		pingInterval: 30 * time.Second,
		sendBuffer:   16,
		clients:      make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *StreamHub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/flux", h.Serve)
}

// Len returns the number of connected subscribers.
func (h *StreamHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for every subscriber without blocking.
func (h *StreamHub) Broadcast(ev models.SeriesEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("stream marshal failed", xlogger.Error(err))
		return
	}

	var slow []*subscriber
	h.mu.RLock()
	for s := range h.clients {
		select {
		case s.send <- b:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		metrics.StreamDropped.Inc()
		h.logger.Warn("stream subscriber too slow, dropped",
			xlogger.String("remote", s.conn.RemoteAddr().String()))
		h.remove(s)
	}
}

// Serve upgrades the request and blocks until the subscriber disconnects.
func (h *StreamHub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", xlogger.Error(err))
		return nil
	}
	s := &subscriber{conn: conn, send: make(chan []byte, h.sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return nil
	}
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	metrics.StreamSubscribers.Inc()
	h.logger.Debug("stream subscriber joined", xlogger.String("remote", c.RealIP()))

	go h.writePump(s)
	h.readPump(s)
	return nil
}

func (h *StreamHub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.clients[s]
	delete(h.clients, s)
	h.mu.Unlock()
	if ok {
		metrics.StreamSubscribers.Dec()
	}
	s.close()
}

// readPump discards client messages and keeps the read deadline fresh on pongs.
func (h *StreamHub) readPump(s *subscriber) {
	defer func() {
		h.remove(s)
		_ = s.conn.Close()
	}()
	wait := h.pingInterval * 2
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream read error", xlogger.Error(err))
			}
			return
		}
	}
}

func (h *StreamHub) writePump(s *subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber and rejects new ones.
func (h *StreamHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*subscriber, 0, len(h.clients))
	for s := range h.clients {
		clients = append(clients, s)
	}
	h.mu.Unlock()
	for _, s := range clients {
		h.remove(s)
	}
}

var _ domrepo.Broadcaster = (*StreamHub)(nil)
