// internal/eventstore/eventstore.go
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libraryhub/internal/database"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AnyVersion disables the optimistic version check on append.
const AnyVersion = -1

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is a domain event with its stream position.
type Event struct {
	ID            int64               `json:"id"`
	AggregateID   uuid.UUID           `json:"aggregate_id"`
	AggregateType string              `json:"aggregate_type"`
	EventType     string              `json:"event_type"`
	EventData     jsoniter.RawMessage `json:"event_data"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
	Version       int                 `json:"version"`
	CreatedAt     time.Time           `json:"created_at"`
}

// NewEvent encodes payload as the event data.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: data}, nil
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     []byte    `db:"event_data"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

// EventStore records domain events next to the state they describe.
type EventStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("libraryhub/eventstore"),
	}
}

// AppendEvents writes events inside the caller's transaction, so they commit
// or roll back together with the state change. expectedVersion is the
// aggregate version the caller read; AnyVersion appends after whatever exists.
func (es *EventStore) AppendEvents(ctx context.Context, tx sqlx.ExtContext, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < AnyVersion {
		return ErrInvalidVersion
	}

	var currentVersion int
	err := sqlx.GetContext(ctx, tx, &currentVersion, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query current version: %w", err)
	}

	if expectedVersion != AnyVersion && currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	for i, event := range events {
		version := currentVersion + i + 1

		var metadataJSON []byte
		if len(event.Metadata) > 0 {
			if metadataJSON, err = json.Marshal(event.Metadata); err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
		}

		var eventID int64
		err = sqlx.GetContext(ctx, tx, &eventID, `
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, aggregateID, aggregateType, event.EventType, []byte(event.EventData), metadataJSON, version, time.Now().UTC())
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// LoadEvents returns an aggregate's events in version order.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	var rows []eventRow
	err := es.db.SelectContext(ctx, &rows, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		event := Event{
			ID:            row.ID,
			AggregateID:   row.AggregateID,
			AggregateType: row.AggregateType,
			EventType:     row.EventType,
			EventData:     row.EventData,
			Version:       row.Version,
			CreatedAt:     row.CreatedAt,
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", row.ID, err)
			}
		}
		events = append(events, event)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
