package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/docworld/internal/hub"
	"github.com/manpreetbhatti/docworld/internal/protocol"
	"github.com/manpreetbhatti/docworld/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	sendBuffer        = 256
	disconnectTimeout = 10 * time.Second
)

type Config struct {
	// Empty allows every origin
	AllowedOrigins    []string
	MessagesPerSecond float64
	MessageBurst      int
	// Rejected messages tolerated before the connection is closed
	MaxViolations int
}

func DefaultConfig() Config {
	return Config{
		MessagesPerSecond: 100,
		MessageBurst:      200,
		MaxViolations:     1000,
	}
}

// Handler upgrades requests to WebSocket connections served by h.
func Handler(h *hub.Hub, config Config) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(config.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			glog.Warningf("Upgrade error: %v", err)
			return
		}

		c := &client{
			conn:    conn,
			send:    make(chan []byte, sendBuffer),
			limiter: ratelimit.NewLimiter(config.MessagesPerSecond, config.MessageBurst, config.MaxViolations),
		}
		hc := h.Connect(c)
		glog.V(1).Infof("Client %s connected from %s", hc.ID(), conn.RemoteAddr())

		go c.writePump()
		go c.readPump(h, hc)
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin
		return origin == "" || set["*"] || set[origin]
	}
}

// client is the WebSocket transport of one hub connection.
type client struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *ratelimit.Limiter

	mu     sync.Mutex
	closed bool
}

func (c *client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket and so ends the read
// pump. Safe to call more than once.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) readPump(h *hub.Hub, hc *hub.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
		h.Disconnect(dctx, hc)
		dcancel()
		c.Close()
		c.conn.Close()
		glog.V(1).Infof("Client %s disconnected", hc.ID())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				glog.Warningf("WebSocket error for %s: %v", hc.ID(), err)
			}
			return
		}

		switch c.limiter.Check() {
		case ratelimit.Drop:
			// A lost change leaves peers diverged; the client reloads on reconnect
			if isChange(message) {
				glog.Warningf("Disconnecting client %s: rate limited change in room %s", hc.ID(), hc.RoomID())
				return
			}
			if c.limiter.Violations()%100 == 1 {
				glog.Warningf("Rate limit exceeded for client %s in room %s (warning #%d)",
					hc.ID(), hc.RoomID(), c.limiter.Violations())
			}
			continue
		case ratelimit.Disconnect:
			glog.Warningf("Disconnecting client %s for excessive rate limit violations", hc.ID())
			return
		}

		env, err := protocol.Decode(message)
		if err != nil {
			glog.V(1).Infof("Invalid message from client %s: %v", hc.ID(), err)
			continue
		}
		h.Handle(ctx, hc, env)
	}
}

func isChange(message []byte) bool {
	env, err := protocol.Decode(message)
	return err == nil && env.Event == protocol.EventSendChanges
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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
