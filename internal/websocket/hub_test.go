package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celo-runner/internal/domain"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func testClient(h *Hub) *Client {
	return &Client{
		id:     "test",
		hub:    h,
		send:   make(chan []byte, 16),
		logger: h.logger,
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestTopicBroadcastReachesSubscribersOnly(t *testing.T) {
	h := testHub(t)
	subscriber, other := testClient(h), testClient(h)
	h.Register(subscriber)
	h.Register(other)
	h.Subscribe(subscriber, TopicNotification)
	require.Eventually(t, func() bool { return h.GetSubscriberCount(TopicNotification) == 1 }, time.Second, time.Millisecond)

	h.BroadcastNotification(domain.Notification{ID: "n1", Title: "Tokens Minted!"})

	msg := receive(t, subscriber)
	assert.Equal(t, MessageTypeNotification, msg.Type)
	assert.Equal(t, TopicNotification, msg.Topic)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, other.send)
}

func TestSubscribeRejectsUnknownTopic(t *testing.T) {
	h := testHub(t)
	c := testClient(h)

	c.handleMessage(&ClientMessage{Type: MessageTypeSubscribe, Topic: "prices"})

	msg := receive(t, c)
	assert.Equal(t, MessageTypeError, msg.Type)
}

func TestStateSubscriptionSendsSnapshot(t *testing.T) {
	h := testHub(t)
	h.SetStateSource(func() interface{} { return map[string]bool{"connected": true} })
	c := testClient(h)
	h.Register(c)

	c.handleMessage(&ClientMessage{Type: MessageTypeSubscribe, Topic: TopicState})

	assert.Equal(t, "subscribed", receive(t, c).Type)
	state := receive(t, c)
	assert.Equal(t, MessageTypeState, state.Type)
	assert.Equal(t, map[string]interface{}{"connected": true}, state.Data)
}

func TestUnregisterClosesSend(t *testing.T) {
	h := testHub(t)
	c := testClient(h)
	h.Register(c)
	h.Subscribe(c, TopicTx)
	require.Eventually(t, func() bool { return h.GetSubscriberCount(TopicTx) == 1 }, time.Second, time.Millisecond)

	h.Unregister(c)

	require.Eventually(t, func() bool { return h.GetTotalConnections() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, h.GetSubscriberCount(TopicTx))
	_, open := <-c.send
	assert.False(t, open)
}

func TestParseTopics(t *testing.T) {
	topics, ok := parseTopics("state, tx")
	require.True(t, ok)
	assert.Equal(t, []string{TopicState, TopicTx}, topics)

	topics, ok = parseTopics("")
	assert.True(t, ok)
	assert.Empty(t, topics)

	_, ok = parseTopics("state,prices")
	assert.False(t, ok)
}

func TestServeWsSubscribesQueryTopics(t *testing.T) {
	h := testHub(t)
	h.SetStateSource(func() interface{} { return map[string]bool{"connected": false} })
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(h, h.logger, w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?topics=state,tx"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	assert.Equal(t, Message{Type: "subscribed", Topic: TopicState}, withoutBody(read()))
	assert.Equal(t, MessageTypeState, read().Type)
	assert.Equal(t, Message{Type: "subscribed", Topic: TopicTx}, withoutBody(read()))

	require.Eventually(t, func() bool { return h.GetSubscriberCount(TopicTx) == 1 }, time.Second, time.Millisecond)
	h.BroadcastTx(map[string]string{"state": "pending"})
	h.BroadcastTx(map[string]string{"state": "confirming"})

	// one JSON message per frame
	assert.Equal(t, map[string]interface{}{"state": "pending"}, read().Data)
	assert.Equal(t, map[string]interface{}{"state": "confirming"}, read().Data)
}

func TestServeWsRejectsUnknownTopic(t *testing.T) {
	h := testHub(t)
	rec := httptest.NewRecorder()
	ServeWs(h, h.logger, rec, httptest.NewRequest(http.MethodGet, "/ws?topics=prices", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func withoutBody(msg Message) Message {
	return Message{Type: msg.Type, Topic: msg.Topic}
}
