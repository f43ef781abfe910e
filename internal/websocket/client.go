package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/template-scoreboard/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one websocket connection. Only readPump touches subscriptions.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	logger        *slog.Logger
}

// ClientMessage is a request sent by a client
type ClientMessage struct {
	Type   string `json:"type"`
	Bucket string `json:"bucket,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bool),
		logger:        logger.With("client_id", id),
	}
}

// readPump handles client requests until the connection fails
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.reply(Message{Type: MessageTypeError, Data: errorData("invalid message format")})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		bucket, err := domain.ParseBucket(msg.Bucket)
		if err != nil {
			c.reply(Message{Type: MessageTypeError, Data: errorData("unknown bucket: " + msg.Bucket)})
			return
		}
		name := bucket.String()
		if !c.subscriptions[name] {
			c.subscriptions[name] = true
			c.hub.Subscribe(c, name)
		}
		c.reply(Message{Type: "subscribed", Bucket: name})

	case MessageTypeUnsubscribe:
		if !c.subscriptions[msg.Bucket] {
			c.reply(Message{Type: MessageTypeError, Data: errorData("not subscribed: " + msg.Bucket)})
			return
		}
		delete(c.subscriptions, msg.Bucket)
		c.hub.Unsubscribe(c, msg.Bucket)
		c.reply(Message{Type: "unsubscribed", Bucket: msg.Bucket})

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}

// writePump writes one frame per queued message and keeps the peer alive
// with pings. It exits when the hub closes send.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// reply queues a direct response; it is dropped if the buffer is full
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal reply", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping reply", "type", msg.Type)
	}
}

func errorData(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// ServeWs upgrades the request and starts the client's pumps
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	go client.writePump()
	go client.readPump()

	client.logger.Debug("websocket connected", "remote", r.RemoteAddr)
}
