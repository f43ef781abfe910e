package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/template-scoreboard/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeItemFinalized     = "item_finalized"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Bucket    string      `json:"bucket,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BucketUpdate carries the live entries of a bucket after a change
type BucketUpdate struct {
	Bucket    string                    `json:"bucket"`
	Templates []domain.LeaderboardEntry `json:"templates"`
	Examples  []domain.LeaderboardEntry `json:"examples"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by bucket name
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	bucket string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for bucket, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, bucket)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.bucket]; !ok {
				h.clients[req.bucket] = make(map[*Client]bool)
			}
			h.clients[req.bucket][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "bucket", req.bucket)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.bucket]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.bucket)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "bucket", req.bucket)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a bucket message to its subscribers and any other
// message to every client
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.Bucket != "" {
		targets = h.clients[message.Bucket]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// PublishBucket sends the live entries of a saved bucket to its subscribers
func (h *Hub) PublishBucket(_ context.Context, rec domain.BucketRecord) error {
	name := rec.Bucket.String()
	h.enqueue(&Message{
		Type:   MessageTypeLeaderboardUpdate,
		Bucket: name,
		Data: BucketUpdate{
			Bucket:    name,
			Templates: rec.Live(domain.ListTemplates),
			Examples:  rec.Live(domain.ListExamples),
			UpdatedAt: rec.UpdatedAt,
		},
		Timestamp: time.Now(),
	})
	return nil
}

// Notify tells every connected client that an item was finalized
func (h *Hub) Notify(_ context.Context, item domain.FinalizedItem) error {
	h.enqueue(&Message{
		Type:      MessageTypeItemFinalized,
		Data:      item,
		Timestamp: time.Now(),
	})
	return nil
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a bucket subscription
func (h *Hub) Subscribe(client *Client, bucket string) {
	h.subscribe <- &subscriptionRequest{client: client, bucket: bucket}
}

// Unsubscribe removes a client from a bucket subscription
func (h *Hub) Unsubscribe(client *Client, bucket string) {
	h.unsubscribe <- &subscriptionRequest{client: client, bucket: bucket}
}

// SubscriberCount returns the number of subscribers of a bucket
func (h *Hub) SubscriberCount(bucket string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[bucket])
}

// TotalConnections returns the total number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
