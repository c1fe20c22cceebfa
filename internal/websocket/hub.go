package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"gatepass/internal/identity"
	"gatepass/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
	broadcastQueue = 256
)

// Scoped payloads are only delivered to subscribers they are visible to
type Scoped interface {
	VisibleTo(role, userID string) bool
}

// Message is the envelope pushed to subscribers
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type outbound struct {
	scope Scoped
	raw   []byte
}

// subscriber is one connected feed. The feed is read-only; inbound frames
// only keep the connection alive.
type subscriber struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity identity.Context
}

// Hub fans gatepass events out to connected subscribers, filtered by what
// each subscriber's acting role may read.
type Hub struct {
	subscribers map[*subscriber]struct{}
	broadcast   chan outbound
	register    chan *subscriber
	unregister  chan *subscriber
	mu          sync.Mutex
	upgrader    websocket.Upgrader
	logger      *logger.Logger
}

// NewHub builds a hub accepting upgrades from allowedOrigins. Requests
// without an Origin header (non-browser clients) are always accepted.
func NewHub(log *logger.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		subscribers: make(map[*subscriber]struct{}),
		broadcast:   make(chan outbound, broadcastQueue),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		logger:      log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || lo.Contains(allowedOrigins, "*") || lo.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Publish queues an event for delivery. It drops the event when the queue
// is full rather than blocking the caller.
func (h *Hub) Publish(event string, payload any) {
	raw, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		h.logger.Errorw("websocket event encode failed", "event", event, "error", err)
		return
	}
	scope, _ := payload.(Scoped)

	select {
	case h.broadcast <- outbound{scope: scope, raw: raw}:
	default:
		h.logger.Warnw("websocket broadcast queue full, dropping event", "event", event)
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Run dispatches registrations and events until the process exits
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			h.mu.Unlock()
			h.logger.Debugw("websocket subscriber connected", "user_id", sub.identity.Actor.ID)
		case sub := <-h.unregister:
			h.mu.Lock()
			h.drop(sub)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.subscribers {
				if msg.scope != nil && !msg.scope.VisibleTo(sub.identity.Actor.Role, sub.identity.Actor.ID.String()) {
					continue
				}
				select {
				case sub.send <- msg.raw:
				default:
					// slow consumer
					h.drop(sub)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with mu held
func (h *Hub) drop(sub *subscriber) {
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.send)
	h.logger.Debugw("websocket subscriber disconnected", "user_id", sub.identity.Actor.ID)
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (s *subscriber) readPump() {
	defer func() {
		s.hub.unregister <- s
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warnw("websocket read failed", "user_id", s.identity.Actor.ID, "error", err)
			}
			return
		}
	}
}

// Serve upgrades a request that already passed authentication. The acting
// identity at connect time decides which events the subscriber receives.
func (h *Hub) Serve(c *gin.Context) {
	idc, ok := identity.FromContext(c.Request.Context())
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	sub := &subscriber{hub: h, conn: conn, send: make(chan []byte, sendBuffer), identity: idc}
	h.register <- sub

	go sub.writePump()
	go sub.readPump()
}
