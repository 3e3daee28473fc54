package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/conviction/internal/domain"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, []string{"all", "type:market_resolved", "market:7"},
		Topics(domain.Event{Type: domain.EventMarketResolved, MarketID: 7}))
	assert.Equal(t, []string{"all", "type:config_changed"},
		Topics(domain.Event{Type: domain.EventConfigChanged}))
}

func TestMatchTopics(t *testing.T) {
	topics := []string{"all", "type:stake_recorded", "market:12"}

	tests := []struct {
		name string
		subs []string
		want bool
	}{
		{"all", []string{"all"}, true},
		{"exact market", []string{"market:12"}, true},
		{"other market", []string{"market:13"}, false},
		{"market wildcard", []string{"market:*"}, true},
		{"type", []string{"type:stake_recorded"}, true},
		{"other type", []string{"type:reward_claimed"}, false},
		{"none", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := make(map[string]bool)
			for _, s := range tt.subs {
				subs[s] = true
			}
			assert.Equal(t, tt.want, matchTopics(subs, topics))
		})
	}
}

func TestHubDeliversSubscribedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil, Config{Mode: "server"})
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topics=market:2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(first), `"hub_status"`)

	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Handle(ctx, []domain.Event{
		{Seq: 1, Type: domain.EventMarketCreated, MarketID: 1},
		{Seq: 2, Type: domain.EventMarketCreated, MarketID: 2},
	}))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, uint64(2), ev.Seq)
	assert.Equal(t, uint64(2), ev.MarketID)
}

func httpHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}

func TestHubRefusesClientsAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, nil, Config{})
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.False(t, hub.add(&client{send: make(chan []byte, 1), subs: map[string]bool{}}))
	assert.Zero(t, hub.clientCount())
}

func TestClientApplyControl(t *testing.T) {
	c := newClient(NewHub(nil, nil, Config{}), nil, "test", []string{" market:1 ", ""})
	assert.True(t, c.follows([]string{"market:1"}))
	assert.False(t, c.follows([]string{"market:2"}))

	c.apply(control{Action: "subscribe", Topics: []string{"market:*"}})
	c.apply(control{Action: "unsubscribe", Topics: []string{"market:1"}})
	assert.True(t, c.follows([]string{"market:2"}))
}
