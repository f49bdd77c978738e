package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/celo-runner/internal/domain"
)

// Topics a client can subscribe to
const (
	TopicState        = "state"
	TopicNotification = "notification"
	TopicLeaderboard  = "leaderboard"
	TopicTx           = "tx"
)

// Message types
const (
	MessageTypeState        = "state_update"
	MessageTypeNotification = "notification"
	MessageTypeLeaderboard  = "leaderboard_update"
	MessageTypeTx           = "tx_update"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// validTopics lists the topics clients may subscribe to
var validTopics = map[string]bool{
	TopicState:        true,
	TopicNotification: true,
	TopicLeaderboard:  true,
	TopicTx:           true,
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LeaderboardUpdate contains leaderboard data for broadcast
type LeaderboardUpdate struct {
	// Stage is zero for the general leaderboard
	Stage   int64                     `json:"stage"`
	Entries []domain.LeaderboardEntry `json:"entries"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by topic
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

	// snapshot provides the current state to new state subscribers
	snapshot func() interface{}

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	topic  string
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
				for topic, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, topic)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.topic]; !ok {
				h.clients[req.topic] = make(map[*Client]bool)
			}
			h.clients[req.topic][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "topic", req.topic)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.topic]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.topic)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "topic", req.topic)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients subscribed to its topic,
// or to every client when it has none
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.Topic != "" {
		targets = h.clients[message.Topic]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// publish queues a message without blocking the caller
func (h *Hub) publish(topic, msgType string, data interface{}) {
	message := &Message{
		Type:      msgType,
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "topic", topic)
	}
}

// BroadcastState sends an application state snapshot
func (h *Hub) BroadcastState(state interface{}) {
	h.publish(TopicState, MessageTypeState, state)
}

// BroadcastNotification sends the notification that became visible
func (h *Hub) BroadcastNotification(n domain.Notification) {
	h.publish(TopicNotification, MessageTypeNotification, n)
}

// BroadcastLeaderboard sends a ranked leaderboard
func (h *Hub) BroadcastLeaderboard(stage int64, entries []domain.LeaderboardEntry) {
	h.publish(TopicLeaderboard, MessageTypeLeaderboard, LeaderboardUpdate{Stage: stage, Entries: entries})
}

// BroadcastTx sends a write-adapter lifecycle transition
func (h *Hub) BroadcastTx(status interface{}) {
	h.publish(TopicTx, MessageTypeTx, status)
}

// SetStateSource registers the function that provides the state sent to
// a client when it subscribes to the state topic
func (h *Hub) SetStateSource(fn func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

func (h *Hub) currentState() (interface{}, bool) {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return nil, false
	}
	return fn(), true
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a topic subscription
func (h *Hub) Subscribe(client *Client, topic string) {
	h.subscribe <- &subscriptionRequest{client: client, topic: topic}
}

// Unsubscribe removes a client from a topic subscription
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.unsubscribe <- &subscriptionRequest{client: client, topic: topic}
}

// GetSubscriberCount returns the number of subscribers for a topic
func (h *Hub) GetSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
