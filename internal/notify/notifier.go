// Package notify fans committed domain events out to one or more senders
// (the Redis signal bus, the process log) and filters them by event type so
// operators receive only the events they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// Sender is the interface that each event channel must implement.
type Sender interface {
	// Send delivers one event.
	Send(ctx context.Context, evt domain.Event) error
	// Name returns a human-readable identifier for the sender (e.g. "redis").
	Name() string
}

// Notifier dispatches events to one or more Senders. It maintains a set of
// allowed event types; Notify only forwards events whose type is in the
// allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends evt to all senders only if its type is in the allowed list.
// If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, evt domain.Event) error {
	if len(n.events) > 0 && !n.events[evt.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", evt.Type),
		)
		return nil
	}

	return n.dispatch(ctx, evt)
}

// NotifyAll sends evt to all senders regardless of its type.
func (n *Notifier) NotifyAll(ctx context.Context, evt domain.Event) error {
	return n.dispatch(ctx, evt)
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the remaining senders; the failures are returned combined.
func (n *Notifier) dispatch(ctx context.Context, evt domain.Event) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, evt); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", evt.Type),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "event sent",
				slog.String("sender", s.Name()),
				slog.String("event", evt.Type),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

var _ domain.EventPublisher = (*Notifier)(nil)
