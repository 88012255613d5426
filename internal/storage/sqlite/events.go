package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ingestd/internal/model"
)

const defaultEventLimit = 100

func (s *Store) StoreEvent(ctx context.Context, ev model.Event) error {
	var payload sql.NullString
	if len(ev.Payload) > 0 {
		payload = sql.NullString{String: string(ev.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (id, instance_id, event_type, message, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		ev.ID, ev.InstanceID, string(ev.Type), ev.Message, payload, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("store event %s: %w", ev.Type, err)
	}
	return nil
}

// ListEvents returns newest first. An empty instanceID lists every instance.
func (s *Store) ListEvents(ctx context.Context, instanceID string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	query := "SELECT id, instance_id, event_type, message, payload, timestamp FROM events"
	var args []any
	if instanceID != "" {
		query += " WHERE instance_id = ?"
		args = append(args, instanceID)
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			ev      model.Event
			typ     string
			payload sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.InstanceID, &typ, &ev.Message, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = model.EventType(typ)
		if payload.Valid && payload.String != "" {
			ev.Payload = json.RawMessage(payload.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
