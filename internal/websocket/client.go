package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API serves any origin, same as its CORS headers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one WebSocket connection and its outbound queue
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a subscribe, unsubscribe or ping request
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("client_id", id),
	}
}

// readPump applies client requests until the connection drops
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			c.sendError("invalid message format")
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if !validTopics[msg.Topic] {
			c.sendError("unknown topic")
			return
		}
		c.subscribe(msg.Topic)

	case MessageTypeUnsubscribe:
		if validTopics[msg.Topic] {
			c.hub.Unsubscribe(c, msg.Topic)
			c.sendAck("unsubscribed", msg.Topic)
		}

	case MessageTypePing:
		c.sendMessage(Message{Type: MessageTypePong, Timestamp: time.Now()})

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}

// subscribe joins topic. A state subscriber gets the current state right
// away so it never waits for the next change.
func (c *Client) subscribe(topic string) {
	c.hub.Subscribe(c, topic)
	c.sendAck("subscribed", topic)
	if topic != TopicState {
		return
	}
	if state, ok := c.hub.currentState(); ok {
		c.sendMessage(Message{Type: MessageTypeState, Topic: TopicState, Data: state, Timestamp: time.Now()})
	}
}

// writePump writes each queued message as its own text frame and keeps
// the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
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

// sendMessage queues msg, dropping it when the client is too slow
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client queue full, dropping message", "type", msg.Type)
	}
}

func (c *Client) sendError(errMsg string) {
	c.sendMessage(Message{
		Type:      MessageTypeError,
		Data:      map[string]string{"error": errMsg},
		Timestamp: time.Now(),
	})
}

func (c *Client) sendAck(action, topic string) {
	c.sendMessage(Message{
		Type:      action,
		Topic:     topic,
		Data:      map[string]string{"status": "ok"},
		Timestamp: time.Now(),
	})
}

// parseTopics reads the comma-separated topics query parameter.
func parseTopics(raw string) ([]string, bool) {
	if raw == "" {
		return nil, true
	}
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if !validTopics[t] {
			return nil, false
		}
		topics = append(topics, t)
	}
	return topics, true
}

// ServeWs upgrades the request and starts the client pumps. Topics named
// in ?topics=state,tx are subscribed before the first read.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	topics, ok := parseTopics(r.URL.Query().Get("topics"))
	if !ok {
		http.Error(w, "unknown topic", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	for _, topic := range topics {
		client.subscribe(topic)
	}

	go client.writePump()
	go client.readPump()

	client.logger.Debug("new websocket connection", "topics", topics)
}
