package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// Marker is the durable record appended to MarkerStream when a market is
// marked expired. Keepers consume it to drive resolution.
type Marker struct {
	MarketID  uint64    `json:"market_id"`
	Seq       uint64    `json:"seq"`
	ExpiredAt time.Time `json:"expired_at"`
}

// EncodeMarker serializes m for the marker stream.
func EncodeMarker(m Marker) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMarker parses a marker stream payload.
func DecodeMarker(payload []byte) (Marker, error) {
	var m Marker
	if err := json.Unmarshal(payload, &m); err != nil {
		return Marker{}, fmt.Errorf("redis: decode marker: %w", err)
	}
	if m.MarketID == 0 {
		return Marker{}, fmt.Errorf("redis: decode marker: %w", domain.ErrNotFound)
	}
	return m, nil
}

// EventPublisher is an engine event sink. Every committed event is published
// on EventsChannel; market_expired events are also appended to MarkerStream.
type EventPublisher struct {
	bus domain.SignalBus
}

// NewEventPublisher creates a sink publishing through bus.
func NewEventPublisher(bus domain.SignalBus) *EventPublisher {
	return &EventPublisher{bus: bus}
}

// Handle implements domain.EventSink. A marker is appended before its event
// is announced so woken keepers always find it.
func (p *EventPublisher) Handle(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, ev := range events {
		if ev.Type == domain.EventMarketExpired {
			marker, err := EncodeMarker(Marker{MarketID: ev.MarketID, Seq: ev.Seq, ExpiredAt: ev.Timestamp})
			if err == nil {
				err = p.bus.StreamAppend(ctx, MarkerStream, marker)
			}
			if err != nil {
				errs = append(errs, err)
			}
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("redis: marshal event %d: %w", ev.Seq, err))
			continue
		}
		if err := p.bus.Publish(ctx, EventsChannel, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Compile-time interface check.
var _ domain.EventSink = (*EventPublisher)(nil)
