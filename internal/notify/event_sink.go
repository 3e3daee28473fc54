package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// queueSize bounds undelivered notifications. Overflow is dropped.
const queueSize = 256

type notification struct {
	event          domain.EventType
	title, message string
}

// EventSink turns committed engine events into notifications. Handle only
// enqueues; Run performs delivery so slow webhooks never stall the event
// bus.
type EventSink struct {
	notifier *Notifier
	queue    chan notification
	logger   *slog.Logger
}

// NewEventSink creates a sink delivering through n.
func NewEventSink(n *Notifier, logger *slog.Logger) *EventSink {
	return &EventSink{
		notifier: n,
		queue:    make(chan notification, queueSize),
		logger:   logger.With(slog.String("component", "notify_sink")),
	}
}

// Handle implements domain.EventSink.
func (s *EventSink) Handle(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		if !s.notifier.Allows(ev.Type) {
			continue
		}
		title, message, ok := Format(ev)
		if !ok {
			continue
		}
		select {
		case s.queue <- notification{event: ev.Type, title: title, message: message}:
		default:
			s.logger.WarnContext(ctx, "notification queue full, dropping",
				slog.String("event", string(ev.Type)),
				slog.Uint64("seq", ev.Seq),
			)
		}
	}
	return nil
}

// Run delivers queued notifications until ctx is cancelled.
func (s *EventSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-s.queue:
			if err := s.notifier.Notify(ctx, n.event, n.title, n.message); err != nil {
				s.logger.WarnContext(ctx, "notification failed",
					slog.String("event", string(n.event)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Format renders ev for humans. Events without an operator-facing meaning
// report ok=false.
func Format(ev domain.Event) (title, message string, ok bool) {
	switch ev.Type {
	case domain.EventMarketCreated:
		return fmt.Sprintf("Market #%d created", ev.MarketID),
			lines(
				"Name: "+ev.Detail["name"],
				"Asset: "+ev.Detail["asset"],
				"Expires: "+ev.Detail["expires_at"],
			), true
	case domain.EventMarketExpired:
		return fmt.Sprintf("Market #%d expired", ev.MarketID),
			"Awaiting resolution", true
	case domain.EventMarketResolved:
		return fmt.Sprintf("Market #%d resolved: %s", ev.MarketID, ev.Outcome),
			lines(
				"Price: "+amount(ev.Price),
				"Prize pool: "+amount(ev.Amount)+" wei",
			), true
	case domain.EventRewardClaimed:
		return fmt.Sprintf("Reward claimed on market #%d", ev.MarketID),
			lines(
				fmt.Sprintf("Token: #%d", ev.TokenID),
				"Owner: "+ev.Account.Hex(),
				"Reward: "+amount(ev.Amount)+" wei",
			), true
	case domain.EventClaimsPaused:
		state := "resumed"
		if ev.Detail["paused"] == "true" {
			state = "paused"
		}
		return "Claims " + state, "By " + ev.Account.Hex(), true
	case domain.EventConfigChanged:
		return "Protocol config changed",
			lines("Key: "+ev.Detail["key"], "Value: "+ev.Detail["value"], "By: "+ev.Account.Hex()), true
	default:
		return "", "", false
	}
}

func amount(v *big.Int) string {
	if v == nil {
		return "n/a"
	}
	return v.String()
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

// Compile-time interface check.
var _ domain.EventSink = (*EventSink)(nil)
