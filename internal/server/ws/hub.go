// Package ws pushes trade events to WebSocket subscribers as protobuf
// binary frames.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be under pongWait
	maxMessageSize = 4096
	sendBufferSize = 256

	// allTrades subscribes a client to every trade.
	allTrades = "*"
)

// Config captures metadata sent to clients on connect.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string // empty allows any origin
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	trades map[string]bool
}

// subscribeMsg is the JSON text frame a client sends to change its trade
// subscriptions. "*" means every trade.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Trades []string `json:"trades"`
}

type broadcastMsg struct {
	tradeID string
	frame   []byte
}

// Hub relays events from the SignalBus to connected clients.
type Hub struct {
	bus        domain.SignalBus
	cfg        Config
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHub creates a Hub. Run must be started before clients connect.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		bus:        bus,
		cfg:        cfg,
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run subscribes to every trade event channel and serves clients until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	events, err := h.bus.Subscribe(ctx, domain.TradeEventsPattern)
	if err != nil {
		return err
	}
	go h.relay(ctx, events)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(msg.tradeID) {
					continue
				}
				select {
				case c.send <- msg.frame:
				default:
					h.logger.Warn("dropping frame for slow client", slog.String("trade_id", msg.tradeID))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay converts bus payloads (JSON trade events) into frames.
func (h *Hub) relay(ctx context.Context, events <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("trade event subscription closed")
				return
			}
			tradeID, frame, err := eventFrame(data)
			if err != nil {
				h.logger.Warn("undecodable trade event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{tradeID: tradeID, frame: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// eventFrame wraps a JSON trade event in a {type, trade_id, event} struct
// and encodes it as protobuf.
func eventFrame(data []byte) (string, []byte, error) {
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", nil, err
	}
	tradeID, _ := ev["trade_id"].(string)
	frame, err := encodeFrame(map[string]any{
		"type":     "trade_event",
		"trade_id": tradeID,
		"event":    ev,
	})
	return tradeID, frame, err
}

func encodeFrame(v map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// DecodeFrame parses a binary frame back into a map.
func DecodeFrame(frame []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(frame, &s); err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}

// HandleWS upgrades the connection. Clients start subscribed to the trades
// listed in ?trades=a,b or to every trade when none are given.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		trades: make(map[string]bool),
	}
	if q := r.URL.Query().Get("trades"); q != "" {
		for _, id := range strings.Split(q, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.trades[id] = true
			}
		}
	} else {
		c.trades[allTrades] = true
	}

	c.sendStatus()

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (c *client) subscribed(tradeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trades[allTrades] || c.trades[tradeID]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Trades {
			c.trades[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.Trades {
			delete(c.trades, id)
		}
	}
}

// sendStatus queues a hub_status frame so clients can mark the connection
// live before any event flows.
func (c *client) sendStatus() {
	frame, err := encodeFrame(map[string]any{
		"type":           "hub_status",
		"mode":           c.hub.cfg.Mode,
		"uptime_seconds": float64(int64(time.Since(c.hub.cfg.StartedAt).Seconds())),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
