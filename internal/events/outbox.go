package events

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Outbox persists every published event so notification delivery can be
// retried and the dashboard can replay recent history. Payloads are
// msgpack-encoded; the type/symbol/timeframe columns exist for querying.
type Outbox struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewOutbox creates an event outbox backed by the event_outbox table.
func NewOutbox(db *sql.DB, log zerolog.Logger) *Outbox {
	return &Outbox{
		db:  db,
		log: log.With().Str("repo", "event_outbox").Logger(),
	}
}

// StoredEvent is an outbox row.
type StoredEvent struct {
	ID           int64      `json:"id"`
	Event        Event      `json:"event"`
	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
}

// Append stores one event. Called by the bus bridge on every publish.
func (o *Outbox) Append(event Event) (int64, error) {
	payload, err := msgpack.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to encode event payload: %w", err)
	}

	res, err := o.db.Exec(`INSERT INTO event_outbox (event_type, symbol, timeframe, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(event.Type), event.Symbol, event.Timeframe, payload, event.At.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to append event to outbox: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get outbox row id: %w", err)
	}
	return id, nil
}

// Pending returns undispatched events, oldest first.
func (o *Outbox) Pending(limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := o.db.Query(`SELECT id, payload, created_at, dispatched_at FROM event_outbox
		WHERE dispatched_at IS NULL ORDER BY created_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()

	return scanStoredEvents(rows)
}

// Recent returns the newest events regardless of dispatch state.
func (o *Outbox) Recent(limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := o.db.Query(`SELECT id, payload, created_at, dispatched_at FROM event_outbox
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}
	defer rows.Close()

	return scanStoredEvents(rows)
}

// MarkDispatched stamps an event as delivered.
func (o *Outbox) MarkDispatched(id int64) error {
	_, err := o.db.Exec(`UPDATE event_outbox SET dispatched_at = ? WHERE id = ? AND dispatched_at IS NULL`,
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %d dispatched: %w", id, err)
	}
	return nil
}

func scanStoredEvents(rows *sql.Rows) ([]StoredEvent, error) {
	var result []StoredEvent
	for rows.Next() {
		var se StoredEvent
		var payload []byte
		var createdAt int64
		var dispatchedAt sql.NullInt64

		if err := rows.Scan(&se.ID, &payload, &createdAt, &dispatchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		if err := msgpack.Unmarshal(payload, &se.Event); err != nil {
			return nil, fmt.Errorf("failed to decode event payload %d: %w", se.ID, err)
		}
		se.CreatedAt = time.Unix(createdAt, 0).UTC()
		if dispatchedAt.Valid {
			t := time.Unix(dispatchedAt.Int64, 0).UTC()
			se.DispatchedAt = &t
		}
		result = append(result, se)
	}
	return result, rows.Err()
}

// Emitter couples a bus with the outbox so every emitted event is both
// persisted and fanned out to live subscribers.
type Emitter struct {
	bus    *Bus
	outbox *Outbox
	log    zerolog.Logger
}

// NewEmitter creates the standard emitter used by the core services.
func NewEmitter(bus *Bus, outbox *Outbox, log zerolog.Logger) *Emitter {
	return &Emitter{
		bus:    bus,
		outbox: outbox,
		log:    log.With().Str("component", "event_emitter").Logger(),
	}
}

// Emit persists the event and publishes it to the bus. Outbox failures are
// logged but do not fail the emitting operation: the decision that caused
// the event has already committed.
func (e *Emitter) Emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	if _, err := e.outbox.Append(event); err != nil {
		e.log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to persist event")
	}
	e.bus.Publish(event)
}
