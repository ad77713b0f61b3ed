package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// ProactiveStore is the SQLite-backed store.ProactiveStore.
type ProactiveStore struct {
	db *sql.DB
}

// NewProactiveStore wraps an already-migrated *sql.DB.
func NewProactiveStore(db *sql.DB) *ProactiveStore {
	return &ProactiveStore{db: db}
}

func (p *ProactiveStore) Schedule(e store.ProactiveEvent) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := p.db.Exec(
		`INSERT INTO proactive_events (id, kind, subject, chat_id, trigger_at_ms, recurrence, delivered, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ID, string(e.Kind), e.Subject, e.ChatID, e.TriggerAtMs, nullIfEmpty(e.Recurrence), e.CreatedAtMs,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: schedule event: %w", err)
	}
	return e.ID, nil
}

func (p *ProactiveStore) DueEvents(now int64) ([]store.ProactiveEvent, error) {
	rows, err := p.db.Query(
		`SELECT id, kind, subject, chat_id, trigger_at_ms, recurrence, delivered, created_at_ms
		 FROM proactive_events WHERE delivered = 0 AND trigger_at_ms <= ?`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: due events: %w", err)
	}
	defer rows.Close()

	var out []store.ProactiveEvent
	for rows.Next() {
		var e store.ProactiveEvent
		var kind string
		var recurrence sql.NullString
		var delivered int
		if err := rows.Scan(&e.ID, &kind, &e.Subject, &e.ChatID, &e.TriggerAtMs, &recurrence, &delivered, &e.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		e.Kind = store.ProactiveEventKind(kind)
		e.Recurrence = recurrence.String
		e.Delivered = delivered != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *ProactiveStore) MarkDelivered(id string) (bool, error) {
	res, err := p.db.Exec(`UPDATE proactive_events SET delivered = 1 WHERE id = ? AND delivered = 0`, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *ProactiveStore) RescheduleRecurring(id string, nextTriggerAtMs int64) error {
	_, err := p.db.Exec(`UPDATE proactive_events SET delivered = 0, trigger_at_ms = ? WHERE id = ?`, nextTriggerAtMs, id)
	if err != nil {
		return fmt.Errorf("sqlite: reschedule recurring: %w", err)
	}
	return nil
}

func (p *ProactiveStore) Cancel(id string) error {
	_, err := p.db.Exec(`DELETE FROM proactive_events WHERE id = ?`, id)
	return err
}

var _ store.ProactiveStore = (*ProactiveStore)(nil)
