package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	// pingPeriod is the keep-alive cadence mandated by §4.5.
	pingPeriod = 30 * time.Second

	// pongWait is how long the hub waits after the last pong before
	// treating the connection as dead. Every pong pushes the read deadline
	// out by pongWait, so a connection that has not answered a ping within
	// 10s of it being sent (before the next tick) is closed.
	pongWait = pingPeriod + 10*time.Second

	maxMessageSize = 1024
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a single connected WebSocket peer watching at most one
// run at a time.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	send chan Message

	// runID is the client's current subscription. Only the hub's Run loop
	// mutates it (via the subscribe channel); readPump/writePump only read
	// it indirectly through hub calls.
	runID string

	logger *zap.Logger
}

// Upgrade performs the HTTP → WebSocket handshake and returns a Client
// ready to run.
func Upgrade(h *Hub, w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan Message, sendBufferSize),
		logger: logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}, nil
}

// Run registers the client, starts its pumps, and blocks until the
// connection closes.
func (c *Client) Run() {
	c.hub.Register(c)
	c.send <- Message{Type: MsgConnected}

	go c.writePump()
	c.readPump()
}

// readPump processes inbound client frames: subscribe, unsubscribe, ping.
// Anything else is answered with an error frame rather than dropping the
// connection, per the explicit-schema-per-route guidance generalized to
// the one WebSocket route this system exposes.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("hub: failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("hub: unexpected close", zap.Error(err))
			}
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame ClientFrame) {
	switch frame.Type {
	case MsgSubscribe:
		if frame.RunID == "" {
			c.trySend(Message{Type: MsgError, Error: "subscribe requires runId"})
			return
		}
		c.hub.Subscribe(c, frame.RunID)
		c.trySend(Message{Type: MsgSubscribed, RunID: frame.RunID})
	case MsgUnsubscribe:
		c.hub.Subscribe(c, "")
		c.trySend(Message{Type: MsgUnsubscribed})
	case MsgPing:
		c.trySend(Message{Type: MsgPong})
	default:
		c.trySend(Message{Type: MsgError, Error: "unknown frame type"})
	}
}

// trySend enqueues msg for delivery without blocking readPump; a full
// buffer means the client is already being torn down.
func (c *Client) trySend(msg Message) {
	select {
	case c.send <- msg:
	default:
	}
}

// writePump is the only goroutine that writes to conn — gorilla/websocket
// connections are not safe for concurrent writes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("hub: failed to set write deadline", zap.Error(err))
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("hub: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("hub: failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("hub: ping error", zap.Error(err))
				return
			}
		}
	}
}
