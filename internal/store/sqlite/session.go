package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// SessionStore is the SQLite-backed store.SessionStore.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore wraps an already-migrated *sql.DB.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) AppendMessage(chatID string, msg store.SessionMessage) error {
	var nextSeq int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM session_messages WHERE chat_id = ?`, chatID)
	if err := row.Scan(&nextSeq); err != nil {
		return fmt.Errorf("sqlite: next seq: %w", err)
	}

	_, err := s.db.Exec(
		`INSERT INTO session_messages (chat_id, role, content, author_id, source_message_id, created_at_ms, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chatID, string(msg.Role), msg.Content, msg.AuthorID, msg.SourceMessageID, msg.CreatedAtMs, nextSeq,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append message: %w", err)
	}
	return nil
}

func (s *SessionStore) GetMessages(chatID string, limit int) ([]store.SessionMessage, error) {
	query := `SELECT role, content, author_id, source_message_id, created_at_ms FROM session_messages WHERE chat_id = ? ORDER BY seq ASC`
	args := []any{chatID}
	if limit > 0 {
		query = `SELECT role, content, author_id, source_message_id, created_at_ms FROM (
			SELECT role, content, author_id, source_message_id, created_at_ms, seq FROM session_messages
			WHERE chat_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get messages: %w", err)
	}
	defer rows.Close()

	var out []store.SessionMessage
	for rows.Next() {
		var m store.SessionMessage
		var role string
		var authorID, sourceID sql.NullString
		if err := rows.Scan(&role, &m.Content, &authorID, &sourceID, &m.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		m.ChatID = chatID
		m.Role = store.MessageRole(role)
		m.AuthorID = authorID.String
		m.SourceMessageID = sourceID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SessionStore) EstimateTokens(chatID string) (int, error) {
	var total sql.NullInt64
	row := s.db.QueryRow(`SELECT SUM(LENGTH(content)) FROM session_messages WHERE chat_id = ?`, chatID)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sqlite: estimate tokens: %w", err)
	}
	return int(total.Int64) / 4, nil
}

func (s *SessionStore) CompactIfNeeded(opts store.CompactOpts) ([]store.SessionMessage, error) {
	estimated, err := s.EstimateTokens(opts.ChatID)
	if err != nil {
		return nil, err
	}
	if estimated <= opts.MaxTokens && !opts.Force {
		return nil, nil
	}

	all, err := s.GetMessages(opts.ChatID, 0)
	if err != nil {
		return nil, err
	}
	keepFrom := len(all) - keepLastTurns
	if keepFrom <= 0 {
		return nil, nil
	}
	toSummarize := all[:keepFrom]

	if opts.Summarize == nil {
		return nil, nil
	}
	var sb strings.Builder
	for _, m := range toSummarize {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	summary, err := opts.Summarize(sb.String())
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("sqlite: compaction tx: %w", err)
	}
	defer tx.Rollback()

	lastSeqToDrop := keepFrom
	if _, err := tx.Exec(
		`DELETE FROM session_messages WHERE chat_id = ? AND seq <= (
			SELECT seq FROM session_messages WHERE chat_id = ? ORDER BY seq ASC LIMIT 1 OFFSET ?
		)`,
		opts.ChatID, opts.ChatID, lastSeqToDrop-1,
	); err != nil {
		return nil, fmt.Errorf("sqlite: drop compacted range: %w", err)
	}

	var minSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MIN(seq) FROM session_messages WHERE chat_id = ?`, opts.ChatID).Scan(&minSeq); err != nil {
		return nil, fmt.Errorf("sqlite: min seq: %w", err)
	}
	summaryContent := opts.PersonaReminder + "\n\n[SUMMARY OF EARLIER CONVERSATION]\n" + summary
	if _, err := tx.Exec(
		`INSERT INTO session_messages (chat_id, role, content, created_at_ms, seq) VALUES (?, ?, ?, ?, ?)`,
		opts.ChatID, string(store.RoleSystem), summaryContent, toSummarize[len(toSummarize)-1].CreatedAtMs, minSeq.Int64-1,
	); err != nil {
		return nil, fmt.Errorf("sqlite: insert summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit compaction: %w", err)
	}

	return toSummarize, nil
}

const keepLastTurns = 6

func (s *SessionStore) UpsertNote(chatID, key, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_notes (chat_id, key, content, created_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, strftime('%s','now')*1000, strftime('%s','now')*1000)
		 ON CONFLICT(chat_id, key) DO UPDATE SET content = excluded.content, updated_at_ms = excluded.updated_at_ms`,
		chatID, key, content,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert note: %w", err)
	}
	return nil
}

func (s *SessionStore) ListNotes(chatID string, limit int) ([]store.SessionNote, error) {
	query := `SELECT key, content, created_at_ms, updated_at_ms FROM session_notes WHERE chat_id = ? ORDER BY updated_at_ms DESC`
	args := []any{chatID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list notes: %w", err)
	}
	defer rows.Close()

	var out []store.SessionNote
	for rows.Next() {
		n := store.SessionNote{ChatID: chatID}
		if err := rows.Scan(&n.Key, &n.Content, &n.CreatedAtMs, &n.UpdatedAtMs); err != nil {
			return nil, fmt.Errorf("sqlite: scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SessionStore) Reset(chatID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM session_messages WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM session_notes WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

var _ store.SessionStore = (*SessionStore)(nil)
