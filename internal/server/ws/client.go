package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// control is a client request to change its topics.
type control struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn, remote string, topics []string) *client {
	c := &client{
		hub:    h,
		conn:   conn,
		remote: remote,
		send:   make(chan []byte, sendBuffer),
		subs:   make(map[string]bool),
	}
	c.apply(control{Action: "subscribe", Topics: topics})
	if len(c.subs) == 0 {
		c.subs[TopicAll] = true
	}
	return c
}

func (c *client) follows(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return matchTopics(c.subs, topics)
}

func (c *client) apply(msg control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range msg.Topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.subs[t] = true
		case "unsubscribe":
			delete(c.subs, t)
		}
	}
}

// greet queues a hub_status frame so clients see a live connection before
// the first event.
func (c *client) greet() {
	c.mu.RLock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	c.mu.RUnlock()

	msg, err := json.Marshal(map[string]any{
		"type": "hub_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": max(int64(time.Since(c.hub.startedAt).Seconds()), 0),
			"topics":         topics,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readLoop applies topic changes until the peer goes away.
func (c *client) readLoop() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("client closed unexpectedly", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if json.Unmarshal(data, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

// writeLoop drains send and keeps the connection alive with pings. It exits
// when send is closed or a write fails.
func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
