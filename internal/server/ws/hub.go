// Package ws streams committed engine events to WebSocket clients. Clients
// pick the topics they follow; see Topics.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/gorilla/websocket"
)

// TopicAll matches every event. Clients start subscribed to it.
const TopicAll = "all"

const broadcastQueue = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware in front of the API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Topics returns the topics an event is published under: "all",
// "type:{type}" and, for market events, "market:{id}".
func Topics(ev domain.Event) []string {
	topics := []string{TopicAll, "type:" + string(ev.Type)}
	if ev.MarketID != 0 {
		topics = append(topics, "market:"+strconv.FormatUint(ev.MarketID, 10))
	}
	return topics
}

// matchTopics reports whether subs matches any topic. A subscription ending
// in '*' matches by prefix, so "market:*" follows every market.
func matchTopics(subs map[string]bool, topics []string) bool {
	for _, topic := range topics {
		if subs[topic] {
			return true
		}
		for sub := range subs {
			if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(topic, prefix) {
				return true
			}
		}
	}
	return false
}

// Config selects the relayed bus channel and the metadata sent to clients
// on connect.
type Config struct {
	// Channel is the signal bus channel relayed to clients. Empty disables
	// the relay.
	Channel   string
	Mode      string
	StartedAt time.Time
}

type frame struct {
	topics []string
	data   []byte
}

// Hub fans committed events out to subscribed clients. Events arrive
// through Handle when the hub is an engine sink, or from the signal bus
// when the engine runs in another process.
type Hub struct {
	bus       domain.SignalBus
	channel   string
	mode      string
	startedAt time.Time
	logger    *slog.Logger

	frames chan frame

	mu      sync.RWMutex
	clients map[*client]struct{}
	stopped bool
}

// NewHub creates a hub. bus may be nil when events come only through Handle.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	started := cfg.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	return &Hub{
		bus:       bus,
		channel:   cfg.Channel,
		mode:      mode,
		startedAt: started,
		logger:    logger.With(slog.String("component", "ws_hub")),
		frames:    make(chan frame, broadcastQueue),
		clients:   make(map[*client]struct{}),
	}
}

// Handle implements domain.EventSink. It never blocks the engine: with the
// queue full, live clients miss the event.
func (h *Hub) Handle(_ context.Context, events []domain.Event) error {
	for _, ev := range events {
		h.enqueue(ev)
	}
	return nil
}

func (h *Hub) enqueue(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", slog.Uint64("seq", ev.Seq), slog.String("error", err.Error()))
		return
	}
	select {
	case h.frames <- frame{topics: Topics(ev), data: data}:
	default:
		h.logger.Warn("broadcast queue full, event dropped", slog.Uint64("seq", ev.Seq))
	}
}

// Run delivers queued events until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil && h.channel != "" {
		go h.relay(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			h.stop()
			return ctx.Err()
		case f := <-h.frames:
			h.fanout(f)
		}
	}
}

func (h *Hub) fanout(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.follows(f.topics) {
			continue
		}
		select {
		case c.send <- f.data:
		default:
			h.logger.Warn("client too slow, event dropped", slog.String("remote", c.remote))
		}
	}
}

func (h *Hub) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.String("remote", c.remote), slog.Int("clients", n))
	return true
}

// remove drops c; it is a no-op once the hub has already closed c.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("client disconnected", slog.String("remote", c.remote), slog.Int("clients", n))
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// relay forwards events published on the signal bus channel.
func (h *Hub) relay(ctx context.Context) {
	ch, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("subscribe to event channel", slog.String("channel", h.channel), slog.String("error", err.Error()))
		return
	}
	h.logger.Info("relaying event channel", slog.String("channel", h.channel))
	for data := range ch {
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			h.logger.Warn("undecodable event on channel", slog.String("error", err.Error()))
			continue
		}
		h.enqueue(ev)
	}
	if ctx.Err() == nil {
		h.logger.Warn("event channel closed", slog.String("channel", h.channel))
	}
}

// HandleWS upgrades the request and attaches a client. Initial topics come
// from the comma-separated "topics" query parameter, defaulting to "all".
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := newClient(h, conn, r.RemoteAddr, strings.Split(r.URL.Query().Get("topics"), ","))
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	c.greet()
	go c.writeLoop()
	go c.readLoop()
}
