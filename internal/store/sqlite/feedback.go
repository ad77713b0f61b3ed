package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// FeedbackStore is the SQLite-backed store.FeedbackStore.
type FeedbackStore struct {
	db *sql.DB
}

// NewFeedbackStore wraps an already-migrated *sql.DB.
func NewFeedbackStore(db *sql.DB) *FeedbackStore {
	return &FeedbackStore{db: db}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (f *FeedbackStore) RegisterOutgoing(row store.OutgoingFeedbackRow) error {
	tx, err := f.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO outgoing_feedback (ref_key, chat_id, sent_at_ms, text, ends_with_question)
		 VALUES (?, ?, ?, ?, ?)`,
		row.RefKey, row.ChatID, row.SentAtMs, row.Text, boolToInt(row.EndsWithQuestion),
	)
	if err != nil {
		return fmt.Errorf("sqlite: register outgoing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	pendingReacts, err := tx.Query(`SELECT author_id, emoji, negative, timestamp_ms FROM pending_reactions WHERE ref_key = ?`, row.RefKey)
	if err != nil {
		return err
	}
	var reacts []store.IncomingReaction
	for pendingReacts.Next() {
		var r store.IncomingReaction
		var negative int
		if err := pendingReacts.Scan(&r.AuthorID, &r.Emoji, &negative, &r.TimestampMs); err != nil {
			pendingReacts.Close()
			return err
		}
		r.RefKey = row.RefKey
		r.Negative = negative != 0
		reacts = append(reacts, r)
	}
	pendingReacts.Close()
	for _, r := range reacts {
		if err := foldReactionTx(tx, r); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM pending_reactions WHERE ref_key = ?`, row.RefKey); err != nil {
		return err
	}

	pendingReplies, err := tx.Query(`SELECT author_id, text, timestamp_ms FROM pending_replies WHERE ref_key = ?`, row.RefKey)
	if err != nil {
		return err
	}
	var replies []store.IncomingReply
	for pendingReplies.Next() {
		var r store.IncomingReply
		if err := pendingReplies.Scan(&r.AuthorID, &r.Text, &r.TimestampMs); err != nil {
			pendingReplies.Close()
			return err
		}
		r.RefKey = row.RefKey
		replies = append(replies, r)
	}
	pendingReplies.Close()
	for _, r := range replies {
		if err := foldReplyTx(tx, r); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM pending_replies WHERE ref_key = ?`, row.RefKey); err != nil {
		return err
	}

	return tx.Commit()
}

func (f *FeedbackStore) RecordReaction(r store.IncomingReaction) error {
	tx, err := f.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT OR IGNORE INTO seen_reactions (ref_key, author_id, emoji) VALUES (?, ?, ?)`, r.RefKey, r.AuthorID, r.Emoji)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM outgoing_feedback WHERE ref_key = ?`, r.RefKey).Scan(&exists)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO pending_reactions (ref_key, author_id, emoji, negative, timestamp_ms) VALUES (?, ?, ?, ?, ?)`,
			r.RefKey, r.AuthorID, r.Emoji, boolToInt(r.Negative), r.TimestampMs,
		); err != nil {
			return err
		}
		return tx.Commit()
	}
	if err != nil {
		return err
	}

	if err := foldReactionTx(tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func foldReactionTx(tx *sql.Tx, r store.IncomingReaction) error {
	delta := 1
	if r.Negative {
		delta = -1
	}
	negInc := 0
	if r.Negative {
		negInc = 1
	}

	var samplesJSON sql.NullString
	if err := tx.QueryRow(`SELECT sample_reactions_json FROM outgoing_feedback WHERE ref_key = ?`, r.RefKey).Scan(&samplesJSON); err != nil {
		return err
	}
	var samples []store.IncomingReaction
	if samplesJSON.Valid {
		_ = json.Unmarshal([]byte(samplesJSON.String), &samples)
	}
	samples = append(samples, r)
	b, err := json.Marshal(samples)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		`UPDATE outgoing_feedback SET reaction_count = reaction_count + 1,
		        negative_reaction_count = negative_reaction_count + ?,
		        reaction_net_score = reaction_net_score + ?,
		        sample_reactions_json = ?
		 WHERE ref_key = ?`,
		negInc, delta, string(b), r.RefKey,
	)
	return err
}

func (f *FeedbackStore) RecordReply(r store.IncomingReply) error {
	tx, err := f.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT OR IGNORE INTO seen_replies (ref_key, author_id, text) VALUES (?, ?, ?)`, r.RefKey, r.AuthorID, r.Text)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM outgoing_feedback WHERE ref_key = ?`, r.RefKey).Scan(&exists)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO pending_replies (ref_key, author_id, text, timestamp_ms) VALUES (?, ?, ?, ?)`,
			r.RefKey, r.AuthorID, r.Text, r.TimestampMs,
		); err != nil {
			return err
		}
		return tx.Commit()
	}
	if err != nil {
		return err
	}

	if err := foldReplyTx(tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func foldReplyTx(tx *sql.Tx, r store.IncomingReply) error {
	var sentAtMs int64
	var firstResponse sql.NullInt64
	if err := tx.QueryRow(`SELECT sent_at_ms, time_to_first_response_ms FROM outgoing_feedback WHERE ref_key = ?`, r.RefKey).
		Scan(&sentAtMs, &firstResponse); err != nil {
		return err
	}

	if firstResponse.Valid {
		_, err := tx.Exec(`UPDATE outgoing_feedback SET reply_count = reply_count + 1 WHERE ref_key = ?`, r.RefKey)
		return err
	}
	_, err := tx.Exec(
		`UPDATE outgoing_feedback SET reply_count = reply_count + 1, time_to_first_response_ms = ? WHERE ref_key = ?`,
		r.TimestampMs-sentAtMs, r.RefKey,
	)
	return err
}

func (f *FeedbackStore) DueForFinalization(finalizeAfterMs, now int64) ([]store.OutgoingFeedbackRow, error) {
	rows, err := f.db.Query(
		`SELECT ref_key, chat_id, sent_at_ms, text, reply_count, reaction_count, negative_reaction_count,
		        reaction_net_score, ends_with_question, time_to_first_response_ms, sample_reactions_json
		 FROM outgoing_feedback WHERE finalized = 0 AND (? - sent_at_ms) >= ?`,
		now, finalizeAfterMs,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: due for finalization: %w", err)
	}
	defer rows.Close()

	var out []store.OutgoingFeedbackRow
	for rows.Next() {
		var row store.OutgoingFeedbackRow
		var endsWithQuestion int
		var firstResponse sql.NullInt64
		var samplesJSON sql.NullString
		if err := rows.Scan(&row.RefKey, &row.ChatID, &row.SentAtMs, &row.Text, &row.ReplyCount, &row.ReactionCount,
			&row.NegativeReactionCount, &row.ReactionNetScore, &endsWithQuestion, &firstResponse, &samplesJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan feedback row: %w", err)
		}
		row.EndsWithQuestion = endsWithQuestion != 0
		row.TimeToFirstResponseMs = firstResponse.Int64
		row.SampleReactionsJSON = samplesJSON.String
		out = append(out, row)
	}
	return out, rows.Err()
}

func (f *FeedbackStore) MarkFinalized(refKey string) error {
	_, err := f.db.Exec(`UPDATE outgoing_feedback SET finalized = 1 WHERE ref_key = ?`, refKey)
	return err
}

var _ store.FeedbackStore = (*FeedbackStore)(nil)
