package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/conviction/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersByEvent(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{"market_resolved", " "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), domain.EventStakeRecorded, "t", "m"))
	require.NoError(t, n.Notify(context.Background(), domain.EventMarketResolved, "t", "m"))
	assert.Equal(t, 1, rec.count())
	assert.True(t, n.Allows(domain.EventMarketResolved))
	assert.False(t, n.Allows(domain.EventStakeRecorded))

	all := NewNotifier([]Sender{rec}, nil, quietLogger())
	assert.True(t, all.Allows(domain.EventStakeRecorded), "empty filter allows everything")
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordingSender{}
	bad := &recordingSender{err: boom}
	n := NewNotifier([]Sender{bad, ok}, nil, quietLogger())

	err := n.Notify(context.Background(), domain.EventClaimsPaused, "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ok.count(), "other senders still run")
}

func TestFormat(t *testing.T) {
	title, msg, ok := Format(domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: 4,
		Outcome:  domain.OutcomeB,
		Price:    big.NewInt(2_500),
		Amount:   big.NewInt(10_000),
	})
	require.True(t, ok)
	assert.Equal(t, "Market #4 resolved: B", title)
	assert.Contains(t, msg, "Prize pool: 10000 wei")

	_, msg, ok = Format(domain.Event{Type: domain.EventMarketResolved, MarketID: 1})
	require.True(t, ok)
	assert.Contains(t, msg, "Price: n/a")

	_, _, ok = Format(domain.Event{Type: domain.EventPositionMinted})
	assert.False(t, ok)
}

func TestEventSinkSkipsFilteredEvents(t *testing.T) {
	rec := &recordingSender{}
	sink := NewEventSink(NewNotifier([]Sender{rec}, []string{"market_resolved"}, quietLogger()), quietLogger())

	require.NoError(t, sink.Handle(context.Background(), []domain.Event{
		{Type: domain.EventMarketExpired, MarketID: 1},
		{Type: domain.EventMarketResolved, MarketID: 1},
	}))
	assert.Len(t, sink.queue, 1)
}

func TestEventSinkDelivers(t *testing.T) {
	rec := &recordingSender{}
	sink := NewEventSink(NewNotifier([]Sender{rec}, nil, quietLogger()), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sink.Run(ctx)
		close(done)
	}()

	require.NoError(t, sink.Handle(ctx, []domain.Event{
		{Type: domain.EventMarketExpired, MarketID: 1},
		{Type: domain.EventStakeRecorded, MarketID: 1},
		{Type: domain.EventRewardClaimed, MarketID: 1, Amount: big.NewInt(5)},
	}))

	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestDiscordAndTelegramSenders(t *testing.T) {
	var got []map[string]any
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, d.Send(context.Background(), "Title", "Body"))

	tg := NewTelegramSender("TOKEN", "42")
	tg.baseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), "Title", "Body"))

	err := NewDiscordSender(srv.URL+"/fail").Send(context.Background(), "x", "y")
	assert.ErrorContains(t, err, "unexpected status 400")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, "conviction", got[0]["username"])
	assert.Equal(t, "42", got[1]["chat_id"])
	assert.Equal(t, "*Title*\nBody", got[1]["text"])
}
