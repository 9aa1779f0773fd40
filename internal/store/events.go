package store

import (
	"context"
	"fmt"
	"time"
)

// AppendEvent adds ev to the event log and returns its sequence number.
func (s *SQLite) AppendEvent(ctx context.Context, ev EventRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (process, origin, kind, key, value, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		ev.Process,
		ev.Origin,
		ev.Kind,
		ev.Key,
		ev.Value,
		ev.Version,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: last insert id: %w", err)
	}
	return seq, nil
}

// EventsAfter returns up to limit events with seq greater than after.
// Results are ordered by seq ASC.
func (s *SQLite) EventsAfter(ctx context.Context, after int64, limit int) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, process, origin, kind, key, value, version
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("events after %d: %w", after, err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Seq, &ev.Process, &ev.Origin, &ev.Kind, &ev.Key, &ev.Value, &ev.Version); err != nil {
			return nil, fmt.Errorf("events after %d: scan: %w", after, err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events after %d: iterate: %w", after, err)
	}
	return events, nil
}

// LastEventSeq returns the highest seq in the log, 0 if it is empty.
func (s *SQLite) LastEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last event seq: %w", err)
	}
	return seq, nil
}

// PruneEvents deletes events with seq < before and returns how many were
// removed.
func (s *SQLite) PruneEvents(ctx context.Context, before int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE seq < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: rows affected: %w", err)
	}
	return n, nil
}
