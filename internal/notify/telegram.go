// Package notify delivers governor events to external sinks. Delivery is
// outbox-driven: events are read from the persistent outbox and marked
// dispatched only after the sink accepted them, so a crashed process never
// loses a notification.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/quantpilot/governor/internal/events"
)

const (
	pollingTimeout  = 10 * time.Second
	dispatchTick    = 15 * time.Second
	dispatchBatch   = 50
	maxSendAttempts = 3
)

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// TelegramSink sends governor events to a Telegram chat. It drains the
// event outbox on a ticker and wakes early when the bus publishes.
type TelegramSink struct {
	client *tb.Bot
	chat   tb.ChatID
	bus    *events.Bus
	outbox *events.Outbox
	log    zerolog.Logger
	done   chan struct{}
}

// NewTelegramSink creates the sink and verifies the bot token.
func NewTelegramSink(cfg TelegramConfig, bus *events.Bus, outbox *events.Outbox, log zerolog.Logger) (*TelegramSink, error) {
	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     cfg.Token,
		Poller:    &tb.LongPoller{Timeout: pollingTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramSink{
		client: client,
		chat:   tb.ChatID(cfg.ChatID),
		bus:    bus,
		outbox: outbox,
		log:    log.With().Str("component", "telegram_sink").Logger(),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the dispatch loop.
func (s *TelegramSink) Start() {
	go s.loop()
	s.log.Info().Msg("Telegram sink started")
}

// Stop shuts the dispatch loop down.
func (s *TelegramSink) Stop() {
	close(s.done)
}

func (s *TelegramSink) loop() {
	wake, unsubscribe := s.bus.Subscribe(32)
	defer unsubscribe()

	ticker := time.NewTicker(dispatchTick)
	defer ticker.Stop()

	// Drain anything left over from a previous run before waiting.
	s.dispatchPending()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.dispatchPending()
		case _, ok := <-wake:
			if !ok {
				return
			}
			s.dispatchPending()
		}
	}
}

// dispatchPending sends every undelivered outbox event, oldest first.
// A send that keeps failing leaves the event pending for the next cycle.
func (s *TelegramSink) dispatchPending() {
	pending, err := s.outbox.Pending(dispatchBatch)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read pending events")
		return
	}

	for _, stored := range pending {
		if err := s.send(formatEvent(stored.Event)); err != nil {
			s.log.Error().
				Err(err).
				Int64("event_id", stored.ID).
				Str("event_type", string(stored.Event.Type)).
				Msg("Failed to deliver event, will retry")
			return
		}
		if err := s.outbox.MarkDispatched(stored.ID); err != nil {
			s.log.Error().Err(err).Int64("event_id", stored.ID).Msg("Failed to mark event dispatched")
			return
		}
	}
}

// send delivers one message with exponential backoff between attempts.
func (s *TelegramSink) send(message string) error {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if _, err = s.client.Send(s.chat, message); err == nil {
			return nil
		}
		time.Sleep(b.Duration())
	}
	return err
}

// formatEvent renders an event as a Markdown message.
func formatEvent(ev events.Event) string {
	var sb strings.Builder

	switch ev.Type {
	case events.StatusChanged:
		fmt.Fprintf(&sb, "*Status changed* %s: %s -> %s\n", ev.Symbol, ev.OldValue, ev.NewValue)
	case events.OptimizationProposed:
		fmt.Fprintf(&sb, "*Optimization proposed* %s %s: %s (from %s)\n",
			ev.Symbol, ev.Timeframe, ev.NewValue, ev.OldValue)
	case events.OptimizationApplied:
		fmt.Fprintf(&sb, "*Version flipped* %s %s: %s -> %s\n",
			ev.Symbol, ev.Timeframe, ev.OldValue, ev.NewValue)
	default:
		fmt.Fprintf(&sb, "*%s* %s: %s -> %s\n", ev.Type, ev.Symbol, ev.OldValue, ev.NewValue)
	}

	if ev.Reason != "" {
		fmt.Fprintf(&sb, "_%s_\n", ev.Reason)
	}
	for _, name := range sortedMetricNames(ev.Metrics) {
		fmt.Fprintf(&sb, "`%s: %.2f`\n", name, ev.Metrics[name])
	}
	return sb.String()
}

func sortedMetricNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
