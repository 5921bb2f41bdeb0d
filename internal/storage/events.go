package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthEventRecord is one persisted auth lifecycle event.
type AuthEventRecord struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AppendAuthEvent stores an event. A zero OccurredAt is set to now.
func (s *SQLiteStore) AppendAuthEvent(ctx context.Context, eventType, message string, occurredAt time.Time) (*AuthEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	rec := &AuthEventRecord{
		ID:         uuid.NewString(),
		Type:       eventType,
		Message:    message,
		OccurredAt: occurredAt.UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_events (id, type, message, occurred_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.Message, rec.OccurredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append auth event: %w", err)
	}

	return rec, nil
}

// RecentAuthEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentAuthEvents(ctx context.Context, limit int) ([]AuthEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, message, occurred_at FROM auth_events ORDER BY occurred_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}
	defer rows.Close()

	var events []AuthEventRecord
	for rows.Next() {
		var e AuthEventRecord
		if err := rows.Scan(&e.ID, &e.Type, &e.Message, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// PruneAuthEvents removes events older than the given duration.
func (s *SQLiteStore) PruneAuthEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_events WHERE occurred_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune auth events: %w", err)
	}

	return result.RowsAffected()
}
