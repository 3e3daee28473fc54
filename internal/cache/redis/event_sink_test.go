package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/conviction/internal/domain"
)

type fakeBus struct {
	published map[string][][]byte
	streams   map[string][][]byte
	failPub   error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.failPub != nil {
		return b.failPub
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) StreamDelete(context.Context, string, ...string) error { return nil }

func TestEventPublisher(t *testing.T) {
	bus := newFakeBus()
	p := NewEventPublisher(bus)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	err := p.Handle(context.Background(), []domain.Event{
		{Seq: 1, Type: domain.EventStakeRecorded, MarketID: 3},
		{Seq: 2, Type: domain.EventMarketExpired, MarketID: 3, Timestamp: at},
	})
	require.NoError(t, err)

	require.Len(t, bus.published[EventsChannel], 2)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(bus.published[EventsChannel][0], &ev))
	assert.Equal(t, domain.EventStakeRecorded, ev.Type)

	require.Len(t, bus.streams[MarkerStream], 1)
	m, err := DecodeMarker(bus.streams[MarkerStream][0])
	require.NoError(t, err)
	assert.Equal(t, Marker{MarketID: 3, Seq: 2, ExpiredAt: at}, m)
}

func TestEventPublisherKeepsGoingOnPublishError(t *testing.T) {
	bus := newFakeBus()
	bus.failPub = errors.New("connection reset")
	p := NewEventPublisher(bus)

	err := p.Handle(context.Background(), []domain.Event{
		{Seq: 7, Type: domain.EventMarketExpired, MarketID: 9},
	})
	require.Error(t, err)
	assert.Len(t, bus.streams[MarkerStream], 1, "marker is appended even when pub/sub fails")
}

func TestDecodeMarkerRejectsEmpty(t *testing.T) {
	_, err := DecodeMarker([]byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = DecodeMarker([]byte(`not json`))
	assert.Error(t, err)
}

func TestPriceKeyAndParse(t *testing.T) {
	base := common.HexToAddress("0x00000000000000000000000000000000000000Ab")
	quote := common.HexToAddress("0x0000000000000000000000000000000000000348")
	assert.Equal(t,
		"conviction:price:0x00000000000000000000000000000000000000ab:0x0000000000000000000000000000000000000348",
		priceKey(base, quote))

	r, err := parseReading(map[string]string{"price": "300000000000", "ts": "1700000000000000000"})
	require.NoError(t, err)
	assert.Equal(t, "300000000000", r.Price.String())
	assert.Equal(t, int64(1700000000), r.UpdatedAt.Unix())

	_, err = parseReading(map[string]string{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = parseReading(map[string]string{"price": "abc", "ts": "1"})
	assert.Error(t, err)
}
