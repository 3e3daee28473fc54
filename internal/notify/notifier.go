// Package notify forwards selected engine events to operator chat channels
// (Telegram, Discord). Notifications are filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"golang.org/x/sync/errgroup"
)

// sendTimeout bounds a single delivery attempt.
const sendTimeout = 10 * time.Second

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier fans one notification out to every Sender. Only configured event
// types are delivered; an empty configuration allows every type.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering the given event types to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Allows reports whether events of type t are delivered.
func (n *Notifier) Allows(t domain.EventType) bool {
	return len(n.allowed) == 0 || n.allowed[t]
}

// Notify delivers title and message to all senders concurrently when event
// is allowed. One sender failing does not stop the others; all failures are
// joined into the returned error.
func (n *Notifier) Notify(ctx context.Context, event domain.EventType, title, message string) error {
	if !n.Allows(event) || len(n.senders) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range n.senders {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			if err := s.Send(sctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("event", string(event)),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return nil
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
