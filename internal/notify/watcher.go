package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/alanyoungcy/betledger/internal/domain"
)

const defaultReplayBatch = 500

// Watcher consumes what BusSender produces: it counts live events on every
// betledger channel and replays the durable event stream.
type Watcher struct {
	bus    domain.SignalBus
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]int
}

// NewWatcher creates a Watcher reading from bus.
func NewWatcher(bus domain.SignalBus, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:    bus,
		logger: logger.With(slog.String("component", "watcher")),
		live:   map[string]int{},
	}
}

// Start subscribes to domain.ChannelPattern and counts events by type until
// ctx ends. The returned channel closes once the subscription has drained.
func (w *Watcher) Start(ctx context.Context) (<-chan struct{}, error) {
	msgs, err := w.bus.Subscribe(ctx, domain.ChannelPattern)
	if err != nil {
		return nil, fmt.Errorf("notify: watch: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for payload := range msgs {
			var evt domain.Event
			if err := json.Unmarshal(payload, &evt); err != nil {
				w.logger.WarnContext(ctx, "undecodable event", slog.String("error", err.Error()))
				continue
			}
			w.mu.Lock()
			w.live[evt.Type]++
			w.mu.Unlock()
		}
	}()
	return done, nil
}

// Live returns the per-type counts seen on the live channels so far.
func (w *Watcher) Live() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.live)
}

// Replay reads domain.EventStream after lastID in pages of batch entries and
// counts the events by type. It returns the id of the last entry read, or
// lastID when the stream had nothing newer. An empty lastID means "0".
func (w *Watcher) Replay(ctx context.Context, lastID string, batch int) (map[string]int, string, error) {
	if lastID == "" {
		lastID = "0"
	}
	if batch <= 0 {
		batch = defaultReplayBatch
	}
	counts := map[string]int{}
	for {
		page, err := w.bus.StreamRead(ctx, domain.EventStream, lastID, batch)
		if err != nil {
			return counts, lastID, fmt.Errorf("notify: replay: %w", err)
		}
		for _, m := range page {
			lastID = m.ID
			var evt domain.Event
			if err := json.Unmarshal(m.Payload, &evt); err != nil {
				w.logger.WarnContext(ctx, "undecodable stream entry",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			counts[evt.Type]++
		}
		if len(page) < batch {
			return counts, lastID, nil
		}
	}
}
