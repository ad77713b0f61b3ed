// Package memstore implements every store.* contract in memory, protected
// by a mutex per store. It backs the single-user CLI path and the test
// suites for contextbuilder, turnengine, and proactive.
package memstore

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// SessionStore is an in-memory store.SessionStore.
type SessionStore struct {
	mu    sync.Mutex
	msgs  map[string][]store.SessionMessage
	notes map[string]map[string]store.SessionNote
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		msgs:  make(map[string][]store.SessionMessage),
		notes: make(map[string]map[string]store.SessionNote),
	}
}

func (s *SessionStore) AppendMessage(chatID string, msg store.SessionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[chatID] = append(s.msgs[chatID], msg)
	return nil
}

func (s *SessionStore) GetMessages(chatID string, limit int) ([]store.SessionMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.msgs[chatID]
	if limit <= 0 || len(all) <= limit {
		out := make([]store.SessionMessage, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]store.SessionMessage, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

func (s *SessionStore) EstimateTokens(chatID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chars := 0
	for _, m := range s.msgs[chatID] {
		chars += len(m.Content)
	}
	return chars / 4, nil
}

func (s *SessionStore) CompactIfNeeded(opts store.CompactOpts) ([]store.SessionMessage, error) {
	s.mu.Lock()
	all := s.msgs[opts.ChatID]
	s.mu.Unlock()

	chars := 0
	for _, m := range all {
		chars += len(m.Content)
	}
	withinBudget := opts.MaxTokens <= 0 || chars/4 <= opts.MaxTokens
	if withinBudget && !opts.Force {
		return nil, nil
	}

	const keepLastTurns = 6
	if len(all) <= keepLastTurns {
		return nil, nil
	}
	toSummarize := all[:len(all)-keepLastTurns]
	kept := all[len(all)-keepLastTurns:]

	var transcript strings.Builder
	for _, m := range toSummarize {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	summary, err := opts.Summarize(transcript.String())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.msgs[opts.ChatID] = append([]store.SessionMessage{
		{ChatID: opts.ChatID, Role: store.RoleSystem, Content: opts.PersonaReminder + "\n\nPrior conversation summary: " + summary},
	}, kept...)
	s.mu.Unlock()

	return toSummarize, nil
}

func (s *SessionStore) UpsertNote(chatID, key, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notes[chatID] == nil {
		s.notes[chatID] = make(map[string]store.SessionNote)
	}
	existing, ok := s.notes[chatID][key]
	now := existing.UpdatedAtMs
	created := existing.CreatedAtMs
	if !ok {
		created = now
	}
	s.notes[chatID][key] = store.SessionNote{ChatID: chatID, Key: key, Content: content, CreatedAtMs: created, UpdatedAtMs: now}
	return nil
}

func (s *SessionStore) ListNotes(chatID string, limit int) ([]store.SessionNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.SessionNote, 0, len(s.notes[chatID]))
	for _, n := range s.notes[chatID] {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SessionStore) Reset(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, chatID)
	delete(s.notes, chatID)
	return nil
}

// MemoryStore is an in-memory store.MemoryStore. Retrieval uses a naive
// substring-match in place of FTS5, scored the same way the sqlite
// implementation scores real full-text hits: RRF-style 1/(rrfK+rank),
// blended with an exponential recency term. There is no vector index, so
// VecWeight never contributes — matching the sqlite implementation's
// documented gap.
type MemoryStore struct {
	mu       sync.Mutex
	people   map[string]*store.PersonRecord
	byChan   map[string]string // channel\x00channelUserID -> personID
	facts    map[string]store.Fact
	episodes map[string]store.Episode
	lessons  map[string]store.Lesson
	nowMs    func() int64
}

func NewMemoryStore(nowMs func() int64) *MemoryStore {
	return &MemoryStore{
		people:   make(map[string]*store.PersonRecord),
		byChan:   make(map[string]string),
		facts:    make(map[string]store.Fact),
		episodes: make(map[string]store.Episode),
		lessons:  make(map[string]store.Lesson),
		nowMs:    nowMs,
	}
}

func chanKey(channel, channelUserID string) string { return channel + "\x00" + channelUserID }

func (m *MemoryStore) GetOrCreatePerson(channel, channelUserID, displayName string) (*store.PersonRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := chanKey(channel, channelUserID)
	if id, ok := m.byChan[key]; ok {
		return m.people[id], nil
	}
	now := m.nowMs()
	p := &store.PersonRecord{
		ID: uuid.NewString(), DisplayName: displayName, Channel: channel, ChannelUserID: channelUserID,
		CreatedAtMs: now, UpdatedAtMs: now,
	}
	m.people[p.ID] = p
	m.byChan[key] = p.ID
	return p, nil
}

func (m *MemoryStore) GetPerson(id string) (*store.PersonRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.people[id], nil
}

func (m *MemoryStore) BumpRelationshipScore(personID string, newScore float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.people[personID]
	if !ok {
		return nil
	}
	if newScore > p.RelationshipScore {
		p.RelationshipScore = newScore
	}
	p.UpdatedAtMs = m.nowMs()
	return nil
}

func (m *MemoryStore) SetTrustTierOverride(personID string, tier store.TrustTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.people[personID]; ok {
		p.TrustTierOverride = string(tier)
	}
	return nil
}

func (m *MemoryStore) UpdatePersonCapsule(personID, capsule, publicStyleCapsule string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.people[personID]; ok {
		p.Capsule = capsule
		p.PublicStyleCapsule = publicStyleCapsule
		p.UpdatedAtMs = m.nowMs()
	}
	return nil
}

func (m *MemoryStore) AddFact(f store.Fact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAtMs == 0 {
		f.CreatedAtMs = m.nowMs()
	}
	f.LastAccessedAtMs = f.CreatedAtMs
	m.facts[f.ID] = f
	return f.ID, nil
}

func (m *MemoryStore) AddEpisode(e store.Episode) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAtMs == 0 {
		e.CreatedAtMs = m.nowMs()
	}
	m.episodes[e.ID] = e
	return e.ID, nil
}

func (m *MemoryStore) AddLesson(l store.Lesson) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	m.lessons[l.ID] = l
	return l.ID, nil
}

func (m *MemoryStore) ValidateLesson(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lessons[id]; ok {
		l.TimesValidated++
		m.lessons[id] = l
	}
	return nil
}

func (m *MemoryStore) ViolateLesson(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lessons[id]; ok {
		l.TimesViolated++
		m.lessons[id] = l
	}
	return nil
}

func (m *MemoryStore) Retrieve(q store.RetrievalQuery) ([]store.RetrievedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rrfK := q.Weights.RRFK
	if rrfK <= 0 {
		rrfK = 60
	}
	halfLife := q.Weights.HalfLifeDays
	if halfLife <= 0 {
		halfLife = 14
	}
	terms := strings.Fields(strings.ToLower(q.Text))

	type scored struct {
		item store.RetrievedItem
		ftsRank int
	}
	var candidates []scored

	matchRank := func(text string) (int, bool) {
		lower := strings.ToLower(text)
		hits := 0
		for _, t := range terms {
			if t != "" && strings.Contains(lower, t) {
				hits++
			}
		}
		if hits == 0 {
			return 0, false
		}
		return len(terms) - hits + 1, true
	}

	for _, f := range m.facts {
		if q.PersonID != "" && f.PersonID != "" && f.PersonID != q.PersonID {
			continue
		}
		if rank, ok := matchRank(f.Content + " " + f.Subject); ok {
			fc := f
			candidates = append(candidates, scored{item: store.RetrievedItem{Fact: &fc}, ftsRank: rank})
		}
	}
	for _, e := range m.episodes {
		if q.ChatID != "" && e.ChatID != q.ChatID {
			continue
		}
		if rank, ok := matchRank(e.Content); ok {
			ec := e
			candidates = append(candidates, scored{item: store.RetrievedItem{Episode: &ec}, ftsRank: rank})
		}
	}

	for i := range candidates {
		c := &candidates[i]
		ftsWeight := q.Weights.FTSWeight
		score := ftsWeight * (1.0 / (rrfK + float64(c.ftsRank)))
		if c.item.Episode != nil {
			ageDays := float64(m.nowMs()-c.item.Episode.CreatedAtMs) / 86_400_000.0
			score += q.Weights.RecencyWeight * math.Exp(-ageDays/halfLife)
		}
		c.item.Score = score
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].item.Score > candidates[j].item.Score })

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	out := make([]store.RetrievedItem, 0, limit)
	for i := 0; i < len(candidates) && i < limit; i++ {
		out = append(out, candidates[i].item)
	}
	return out, nil
}

func (m *MemoryStore) RecentLessons(category string, limit int) ([]store.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Lesson
	for _, l := range m.lessons {
		if l.Category == category {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FeedbackStore is an in-memory store.FeedbackStore. Reactions and replies
// that arrive before their RegisterOutgoing call (a real race in every
// transport: a fast reader can react before the send is acknowledged back
// to us) are held in a pending queue and folded in once the row exists.
type FeedbackStore struct {
	mu              sync.Mutex
	rows            map[string]store.OutgoingFeedbackRow
	pendingReact    map[string][]store.IncomingReaction
	pendingReply    map[string][]store.IncomingReply
	seenReactionKey map[string]bool
	seenReplyKey    map[string]bool
}

func NewFeedbackStore() *FeedbackStore {
	return &FeedbackStore{
		rows:            make(map[string]store.OutgoingFeedbackRow),
		pendingReact:    make(map[string][]store.IncomingReaction),
		pendingReply:    make(map[string][]store.IncomingReply),
		seenReactionKey: make(map[string]bool),
		seenReplyKey:    make(map[string]bool),
	}
}

func (f *FeedbackStore) RegisterOutgoing(row store.OutgoingFeedbackRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.rows[row.RefKey]; exists {
		return nil
	}
	f.rows[row.RefKey] = row

	for _, r := range f.pendingReact[row.RefKey] {
		f.foldReactionLocked(r)
	}
	delete(f.pendingReact, row.RefKey)

	for _, r := range f.pendingReply[row.RefKey] {
		f.foldReplyLocked(r)
	}
	delete(f.pendingReply, row.RefKey)

	return nil
}

func reactionKey(r store.IncomingReaction) string {
	return r.RefKey + "|" + r.AuthorID + "|" + r.Emoji + "|" + strconv.FormatInt(r.TimestampMs, 10)
}

func replyKey(r store.IncomingReply) string {
	return r.RefKey + "|" + r.AuthorID + "|" + r.Text + "|" + strconv.FormatInt(r.TimestampMs, 10)
}

func (f *FeedbackStore) RecordReaction(r store.IncomingReaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := reactionKey(r)
	if f.seenReactionKey[key] {
		return nil
	}
	f.seenReactionKey[key] = true

	if _, ok := f.rows[r.RefKey]; !ok {
		f.pendingReact[r.RefKey] = append(f.pendingReact[r.RefKey], r)
		return nil
	}
	f.foldReactionLocked(r)
	return nil
}

func (f *FeedbackStore) foldReactionLocked(r store.IncomingReaction) {
	row := f.rows[r.RefKey]
	row.ReactionCount++
	if r.Negative {
		row.NegativeReactionCount++
		row.ReactionNetScore--
	} else {
		row.ReactionNetScore++
	}

	var samples []store.IncomingReaction
	if row.SampleReactionsJSON != "" {
		_ = json.Unmarshal([]byte(row.SampleReactionsJSON), &samples)
	}
	samples = append(samples, r)
	if b, err := json.Marshal(samples); err == nil {
		row.SampleReactionsJSON = string(b)
	}

	f.rows[r.RefKey] = row
}

func (f *FeedbackStore) RecordReply(r store.IncomingReply) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := replyKey(r)
	if f.seenReplyKey[key] {
		return nil
	}
	f.seenReplyKey[key] = true

	if _, ok := f.rows[r.RefKey]; !ok {
		f.pendingReply[r.RefKey] = append(f.pendingReply[r.RefKey], r)
		return nil
	}
	f.foldReplyLocked(r)
	return nil
}

func (f *FeedbackStore) foldReplyLocked(r store.IncomingReply) {
	row := f.rows[r.RefKey]
	row.ReplyCount++
	if row.TimeToFirstResponseMs == 0 {
		row.TimeToFirstResponseMs = r.TimestampMs - row.SentAtMs
	}
	f.rows[r.RefKey] = row
}

func (f *FeedbackStore) DueForFinalization(finalizeAfterMs, now int64) ([]store.OutgoingFeedbackRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.OutgoingFeedbackRow
	for _, row := range f.rows {
		if !row.Finalized && now-row.SentAtMs >= finalizeAfterMs {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *FeedbackStore) RecentSendCount(chatID string, sinceMs int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, row := range f.rows {
		if row.ChatID == chatID && row.SentAtMs >= sinceMs {
			count++
		}
	}
	return count, nil
}

func (f *FeedbackStore) MarkFinalized(refKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[refKey]; ok {
		row.Finalized = true
		f.rows[refKey] = row
	}
	return nil
}

// ProactiveStore is an in-memory store.ProactiveStore.
type ProactiveStore struct {
	mu     sync.Mutex
	events map[string]store.ProactiveEvent
}

func NewProactiveStore() *ProactiveStore {
	return &ProactiveStore{events: make(map[string]store.ProactiveEvent)}
}

func (p *ProactiveStore) Schedule(e store.ProactiveEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	p.events[e.ID] = e
	return e.ID, nil
}

func (p *ProactiveStore) DueEvents(now int64) ([]store.ProactiveEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []store.ProactiveEvent
	for _, e := range p.events {
		if !e.Delivered && e.TriggerAtMs <= now {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerAtMs < out[j].TriggerAtMs })
	return out, nil
}

func (p *ProactiveStore) MarkDelivered(id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.events[id]
	if !ok || e.Delivered {
		return false, nil
	}
	e.Delivered = true
	p.events[id] = e
	return true, nil
}

func (p *ProactiveStore) RescheduleRecurring(id string, nextTriggerAtMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.events[id]; ok {
		e.TriggerAtMs = nextTriggerAtMs
		e.Delivered = false
		p.events[id] = e
	}
	return nil
}

func (p *ProactiveStore) Cancel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.events, id)
	return nil
}
