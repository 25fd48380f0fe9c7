// Package push delivers operation events to connected browser clients over
// WebSocket. Delivery is fire-and-forget: a slow or dead client is dropped,
// never waited on, and recovers by polling the registry after reconnecting.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lancachetools/cacheops/internal/events"
)

// Config controls the Broadcaster.
//   - SendBuffer: per-client outgoing queue (default 64 messages).
//   - WriteTimeout: per-message write deadline (default 5s).
//   - PingInterval: keepalive cadence (default 30s).
//   - Logger: optional structured logger.
type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       *zap.Logger
}

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Broadcaster implements events.Sink by fanning every event out to all
// connected WebSocket clients as a JSON message.
type Broadcaster struct {
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewBroadcaster constructs a Broadcaster ready to accept connections.
func NewBroadcaster(cfg Config) *Broadcaster {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The admin UI is served from arbitrary LAN hosts; the API-key
			// middleware is the access control, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the peer goes away or the broadcaster closes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, b.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.clients[c] = struct{}{}
	total := len(b.clients)
	b.mu.Unlock()
	b.logger.Info("push client connected", zap.Int("clients", total))

	go b.writePump(c)
	b.readPump(c)
	b.remove(c)
}

// Consume implements events.Sink: every event in the batch goes to every
// connected client. A client whose queue is full is disconnected rather than
// blocking the hub.
func (b *Broadcaster) Consume(_ context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}
	payloads := make([][]byte, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			b.logger.Warn("marshal push event failed", zap.Error(err))
			continue
		}
		payloads = append(payloads, data)
	}

	for _, c := range b.snapshotClients() {
		for _, payload := range payloads {
			select {
			case c.send <- payload:
			case <-c.done:
			default:
				b.logger.Warn("dropping slow push client")
				b.remove(c)
			}
		}
	}
	return nil
}

// Close disconnects all clients and refuses new ones.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	b.closed = true
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*client]struct{})
	b.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	return nil
}

// ClientCount reports the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// readPump discards inbound frames; the channel is one-way. It returns when
// the peer disconnects, which unblocks ServeHTTP.
func (b *Broadcaster) readPump(c *client) {
	defer c.stop()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writePump(c *client) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	defer func() {
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.cfg.WriteTimeout)); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(b.cfg.WriteTimeout),
			)
			return
		}
	}
}

func (b *Broadcaster) snapshotClients() []*client {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		out = append(out, c)
	}
	return out
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
	}
	b.mu.Unlock()
	c.stop()
}

func (c *client) stop() {
	c.once.Do(func() {
		close(c.done)
	})
}
