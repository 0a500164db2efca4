// Package ws implements the streaming surface (spec §6): clients subscribe
// to symbols over a WebSocket connection and receive PriceUpdate,
// HealthAlert, and Error server messages as they occur.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientMessageType tags an inbound client message.
type ClientMessageType string

const (
	ClientSubscribe   ClientMessageType = "subscribe"
	ClientUnsubscribe ClientMessageType = "unsubscribe"
)

// ClientMessage is a client->server control frame.
type ClientMessage struct {
	Type    ClientMessageType `json:"type"`
	Symbols []string          `json:"symbols"`
}

// ServerMessageType tags an outbound server message.
type ServerMessageType string

const (
	ServerPriceUpdate ServerMessageType = "price_update"
	ServerHealthAlert ServerMessageType = "health_alert"
	ServerError       ServerMessageType = "error"
)

// ServerMessage is a server->client frame.
type ServerMessage struct {
	Type    ServerMessageType        `json:"type"`
	Price   *domain.Reading          `json:"price,omitempty"`
	Alert   *domain.ManipulationAlert `json:"alert,omitempty"`
	Message string                   `json:"message,omitempty"`
}

// Feed is the subset of PriceCache the Hub needs: a per-symbol subscription
// stream of aggregated readings.
type Feed interface {
	Subscribe(ctx context.Context, symbols []string) (<-chan domain.Reading, func(), error)
}

// Hub accepts WebSocket connections and fans Feed updates out to whichever
// symbols each connected client has subscribed to. It also broadcasts
// health alerts to every connected client, mirroring the original service's
// broadcast_health_alert behavior.
type Hub struct {
	feed Feed

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(feed Feed) *Hub {
	return &Hub{feed: feed, clients: make(map[*client]struct{})}
}

// ServeHTTP upgrades the request to a WebSocket and runs the per-client
// session until the client disconnects or the request context is cancelled.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, hub: h, symbols: make(map[string]func()), out: make(chan ServerMessage, 64)}
	h.register(c)
	defer h.unregister(c)
	defer c.close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// BroadcastHealthAlert sends a HealthAlert message to every connected client.
func (h *Hub) BroadcastHealthAlert(alert domain.ManipulationAlert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.send(ServerMessage{Type: ServerHealthAlert, Alert: &alert})
	}
}

type client struct {
	conn    *websocket.Conn
	hub     *Hub
	mu      sync.Mutex
	symbols map[string]func() // symbol -> cancel func for its subscription
	out     chan ServerMessage
	once    sync.Once
}

func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case ClientSubscribe:
			c.subscribe(ctx, msg.Symbols)
		case ClientUnsubscribe:
			c.unsubscribe(msg.Symbols)
		default:
			c.send(ServerMessage{Type: ServerError, Message: "unknown message type"})
		}
	}
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.mu.Lock()
	if c.out == nil {
		c.out = make(chan ServerMessage, 64)
	}
	out := c.out
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) subscribe(ctx context.Context, symbols []string) {
	c.mu.Lock()
	if c.out == nil {
		c.out = make(chan ServerMessage, 64)
	}
	c.mu.Unlock()

	for _, symbol := range symbols {
		c.mu.Lock()
		_, already := c.symbols[symbol]
		c.mu.Unlock()
		if already {
			continue
		}

		stream, cancel, err := c.hub.feed.Subscribe(ctx, []string{symbol})
		if err != nil {
			c.send(ServerMessage{Type: ServerError, Message: err.Error()})
			continue
		}

		c.mu.Lock()
		c.symbols[symbol] = cancel
		c.mu.Unlock()

		go func(symbol string, stream <-chan domain.Reading) {
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-stream:
					if !ok {
						return
					}
					reading := r
					c.send(ServerMessage{Type: ServerPriceUpdate, Price: &reading})
				}
			}
		}(symbol, stream)
	}
}

func (c *client) unsubscribe(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, symbol := range symbols {
		if cancel, ok := c.symbols[symbol]; ok {
			cancel()
			delete(c.symbols, symbol)
		}
	}
}

func (c *client) send(msg ServerMessage) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- msg:
	default:
		log.Warn().Msg("websocket client send buffer full, dropping message")
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.mu.Lock()
		for _, cancel := range c.symbols {
			cancel()
		}
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}
