// Package events defines the notification events this core emits and the
// in-process bus that carries them. Formatting and delivery are external
// concerns; subscribers (Telegram sink, websocket stream) decide how to
// present an event.
package events

import "time"

// EventType identifies a notification event.
type EventType string

const (
	// StatusChanged fires when a symbol's trading status transitions.
	StatusChanged EventType = "status_changed"
	// OptimizationProposed fires when an optimization run lands in review.
	OptimizationProposed EventType = "optimization_proposed"
	// OptimizationApplied fires on every version flip, both optimization
	// applies and rollbacks; the payload carries the change type.
	OptimizationApplied EventType = "optimization_applied"
)

// Event is one notification event. OldValue/NewValue are the
// human-readable before/after (status names, version numbers); Metrics
// carries whatever numeric context the emitter had at hand.
type Event struct {
	Type      EventType          `json:"type" msgpack:"type"`
	Symbol    string             `json:"symbol" msgpack:"symbol"`
	Timeframe string             `json:"timeframe,omitempty" msgpack:"timeframe"`
	OldValue  string             `json:"old_value" msgpack:"old_value"`
	NewValue  string             `json:"new_value" msgpack:"new_value"`
	Reason    string             `json:"reason,omitempty" msgpack:"reason"`
	Metrics   map[string]float64 `json:"metrics,omitempty" msgpack:"metrics"`
	At        time.Time          `json:"at" msgpack:"at"`
}
