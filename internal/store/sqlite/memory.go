package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// MemoryStore is the SQLite-backed store.MemoryStore. Full-text search uses
// the facts_fts/episodes_fts FTS5 virtual tables created by the init
// migration; there is no vector index wired yet (see DESIGN.md), so
// vecWeight is accepted but contributes zero to the score.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore wraps an already-migrated *sql.DB.
func NewMemoryStore(db *sql.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

func (m *MemoryStore) GetOrCreatePerson(channel, channelUserID, displayName string) (*store.PersonRecord, error) {
	row := m.db.QueryRow(`SELECT id FROM people WHERE channel = ? AND channel_user_id = ?`, channel, channelUserID)
	var id string
	err := row.Scan(&id)
	if err == nil {
		return m.GetPerson(id)
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: lookup person: %w", err)
	}

	id = uuid.NewString()
	_, err = m.db.Exec(
		`INSERT INTO people (id, display_name, channel, channel_user_id, created_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?, strftime('%s','now')*1000, strftime('%s','now')*1000)`,
		id, displayName, channel, channelUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create person: %w", err)
	}
	return m.GetPerson(id)
}

func (m *MemoryStore) GetPerson(id string) (*store.PersonRecord, error) {
	row := m.db.QueryRow(
		`SELECT id, display_name, channel, channel_user_id, relationship_score, trust_tier_override,
		        capsule, public_style_capsule, concerns_json, goals_json, preferences_json, mood, curiosity_json,
		        created_at_ms, updated_at_ms
		 FROM people WHERE id = ?`, id)

	var p store.PersonRecord
	var tierOverride, capsule, publicCapsule, concerns, goals, prefs, mood, curiosity sql.NullString
	err := row.Scan(&p.ID, &p.DisplayName, &p.Channel, &p.ChannelUserID, &p.RelationshipScore, &tierOverride,
		&capsule, &publicCapsule, &concerns, &goals, &prefs, &mood, &curiosity, &p.CreatedAtMs, &p.UpdatedAtMs)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: person %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get person: %w", err)
	}

	p.TrustTierOverride = tierOverride.String
	p.Capsule = capsule.String
	p.PublicStyleCapsule = publicCapsule.String
	p.Mood = mood.String
	_ = json.Unmarshal([]byte(concerns.String), &p.Concerns)
	_ = json.Unmarshal([]byte(goals.String), &p.Goals)
	_ = json.Unmarshal([]byte(prefs.String), &p.Preferences)
	_ = json.Unmarshal([]byte(curiosity.String), &p.Curiosity)

	return &p, nil
}

func (m *MemoryStore) BumpRelationshipScore(personID string, newScore float64) error {
	_, err := m.db.Exec(
		`UPDATE people SET relationship_score = MAX(relationship_score, ?), updated_at_ms = strftime('%s','now')*1000 WHERE id = ?`,
		newScore, personID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: bump relationship score: %w", err)
	}
	return nil
}

func (m *MemoryStore) SetTrustTierOverride(personID string, tier store.TrustTier) error {
	_, err := m.db.Exec(`UPDATE people SET trust_tier_override = ? WHERE id = ?`, string(tier), personID)
	if err != nil {
		return fmt.Errorf("sqlite: set trust tier override: %w", err)
	}
	return nil
}

func (m *MemoryStore) UpdatePersonCapsule(personID, capsule, publicStyleCapsule string) error {
	_, err := m.db.Exec(
		`UPDATE people SET capsule = ?, public_style_capsule = ?, updated_at_ms = strftime('%s','now')*1000 WHERE id = ?`,
		capsule, publicStyleCapsule, personID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update person capsule: %w", err)
	}
	return nil
}

func (m *MemoryStore) AddFact(f store.Fact) (string, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := m.db.Exec(
		`INSERT INTO facts (id, person_id, subject, content, category, evidence_quote, last_accessed_at_ms, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, nullIfEmpty(f.PersonID), f.Subject, f.Content, f.Category, f.EvidenceQuote, f.LastAccessedAtMs, f.CreatedAtMs,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: add fact: %w", err)
	}
	if _, err := m.db.Exec(`INSERT INTO facts_fts (rowid, content, subject) SELECT rowid, content, subject FROM facts WHERE id = ?`, f.ID); err != nil {
		return "", fmt.Errorf("sqlite: index fact: %w", err)
	}
	return f.ID, nil
}

func (m *MemoryStore) AddEpisode(e store.Episode) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	isGroup := 0
	if e.IsGroup {
		isGroup = 1
	}
	_, err := m.db.Exec(
		`INSERT INTO episodes (id, chat_id, person_id, is_group, content, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ChatID, nullIfEmpty(e.PersonID), isGroup, e.Content, e.CreatedAtMs,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: add episode: %w", err)
	}
	if _, err := m.db.Exec(`INSERT INTO episodes_fts (rowid, content) SELECT rowid, content FROM episodes WHERE id = ?`, e.ID); err != nil {
		return "", fmt.Errorf("sqlite: index episode: %w", err)
	}
	return e.ID, nil
}

func (m *MemoryStore) AddLesson(l store.Lesson) (string, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	refs, _ := json.Marshal(l.EpisodeRefs)
	_, err := m.db.Exec(
		`INSERT INTO lessons (id, type, category, content, rule, person_id, episode_refs_json, confidence, times_validated, times_violated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, string(l.Type), l.Category, l.Content, nullIfEmpty(l.Rule), nullIfEmpty(l.PersonID), string(refs),
		l.Confidence, l.TimesValidated, l.TimesViolated,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: add lesson: %w", err)
	}
	return l.ID, nil
}

func (m *MemoryStore) ValidateLesson(id string) error {
	_, err := m.db.Exec(`UPDATE lessons SET times_validated = times_validated + 1 WHERE id = ?`, id)
	return err
}

func (m *MemoryStore) ViolateLesson(id string) error {
	_, err := m.db.Exec(`UPDATE lessons SET times_violated = times_violated + 1 WHERE id = ?`, id)
	return err
}

// Retrieve runs the reciprocal-rank-fusion hybrid search: FTS5 supplies the
// text-relevance rank, recency is computed from createdAtMs, and the
// vector term is a no-op until a vector index is wired.
func (m *MemoryStore) Retrieve(q store.RetrievalQuery) ([]store.RetrievedItem, error) {
	rrfK := q.Weights.RRFK
	if rrfK <= 0 {
		rrfK = 60
	}

	var hits []store.RetrievedItem

	if q.Text != "" {
		rows, err := m.db.Query(
			`SELECT f.id, f.person_id, f.subject, f.content, f.category, f.evidence_quote, f.last_accessed_at_ms, f.created_at_ms,
			        rank FROM facts_fts JOIN facts f ON f.rowid = facts_fts.rowid
			 WHERE facts_fts MATCH ? ORDER BY rank LIMIT ?`,
			ftsQuery(q.Text), clampLimit(q.Limit),
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: fact retrieval: %w", err)
		}
		rank := 1
		for rows.Next() {
			var f store.Fact
			var personID sql.NullString
			var rankVal float64
			if err := rows.Scan(&f.ID, &personID, &f.Subject, &f.Content, &f.Category, &f.EvidenceQuote,
				&f.LastAccessedAtMs, &f.CreatedAtMs, &rankVal); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sqlite: scan fact: %w", err)
			}
			f.PersonID = personID.String
			score := q.Weights.FTSWeight * (1 / (rrfK + float64(rank)))
			hits = append(hits, store.RetrievedItem{Fact: &f, Score: score})
			rank++
		}
		rows.Close()
	}

	if q.ChatID != "" {
		rows, err := m.db.Query(
			`SELECT e.id, e.chat_id, e.person_id, e.is_group, e.content, e.created_at_ms
			 FROM episodes e WHERE e.chat_id = ? ORDER BY e.created_at_ms DESC LIMIT ?`,
			q.ChatID, clampLimit(q.Limit),
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: episode retrieval: %w", err)
		}
		rank := 1
		now := nowMs()
		for rows.Next() {
			var e store.Episode
			var personID sql.NullString
			var isGroup int
			if err := rows.Scan(&e.ID, &e.ChatID, &personID, &isGroup, &e.Content, &e.CreatedAtMs); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sqlite: scan episode: %w", err)
			}
			e.PersonID = personID.String
			e.IsGroup = isGroup != 0

			ftsScore := q.Weights.FTSWeight * (1 / (rrfK + float64(rank)))
			recencyScore := 0.0
			if q.Weights.HalfLifeDays > 0 {
				ageDays := float64(now-e.CreatedAtMs) / (1000 * 60 * 60 * 24)
				recencyScore = q.Weights.RecencyWeight * math.Exp(-ageDays/q.Weights.HalfLifeDays)
			}
			hits = append(hits, store.RetrievedItem{Episode: &e, Score: ftsScore + recencyScore})
			rank++
		}
		rows.Close()
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (m *MemoryStore) RecentLessons(category string, limit int) ([]store.Lesson, error) {
	query := `SELECT id, type, category, content, rule, person_id, episode_refs_json, confidence, times_validated, times_violated
	          FROM lessons`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY confidence DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent lessons: %w", err)
	}
	defer rows.Close()

	var out []store.Lesson
	for rows.Next() {
		var l store.Lesson
		var typ string
		var rule, personID, refsJSON sql.NullString
		if err := rows.Scan(&l.ID, &typ, &l.Category, &l.Content, &rule, &personID, &refsJSON,
			&l.Confidence, &l.TimesValidated, &l.TimesViolated); err != nil {
			return nil, fmt.Errorf("sqlite: scan lesson: %w", err)
		}
		l.Type = store.LessonType(typ)
		l.Rule = rule.String
		l.PersonID = personID.String
		_ = json.Unmarshal([]byte(refsJSON.String), &l.EpisodeRefs)
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

// ftsQuery wraps the raw query text in double quotes so punctuation in
// user text (apostrophes, hyphens) doesn't break FTS5's query syntax.
func ftsQuery(text string) string {
	return `"` + text + `"`
}

var _ store.MemoryStore = (*MemoryStore)(nil)
