package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/friendbot/internal/store"
)

func TestSessionStore_AppendAndGetMessages(t *testing.T) {
	s := NewSessionStore()
	require.NoError(t, s.AppendMessage("chat-1", store.SessionMessage{Role: store.RoleUser, Content: "hey"}))
	require.NoError(t, s.AppendMessage("chat-1", store.SessionMessage{Role: store.RoleAssistant, Content: "yo"}))

	msgs, err := s.GetMessages("chat-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hey", msgs[0].Content)
}

func TestSessionStore_CompactIfNeededSummarizesOlderMessages(t *testing.T) {
	s := NewSessionStore()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendMessage("chat-1", store.SessionMessage{Role: store.RoleUser, Content: "message text that is fairly long to push tokens up"}))
	}

	summarized, err := s.CompactIfNeeded(store.CompactOpts{
		ChatID:          "chat-1",
		MaxTokens:       1,
		PersonaReminder: "you are homie",
		Summarize:       func(t string) (string, error) { return "summary text", nil },
	})
	require.NoError(t, err)
	assert.NotEmpty(t, summarized)

	msgs, err := s.GetMessages("chat-1", 0)
	require.NoError(t, err)
	assert.Equal(t, store.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "summary text")
}

func TestSessionStore_UpsertAndListNotes(t *testing.T) {
	s := NewSessionStore()
	require.NoError(t, s.UpsertNote("chat-1", "favorite_color", "blue"))
	require.NoError(t, s.UpsertNote("chat-1", "favorite_color", "green"))

	notes, err := s.ListNotes("chat-1", 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "green", notes[0].Content)
}

func TestMemoryStore_GetOrCreatePersonIsIdempotent(t *testing.T) {
	m := NewMemoryStore(func() int64 { return 1000 })
	p1, err := m.GetOrCreatePerson("telegram", "123", "alice")
	require.NoError(t, err)
	p2, err := m.GetOrCreatePerson("telegram", "123", "alice again")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
}

func TestMemoryStore_RelationshipScoreNeverDecreases(t *testing.T) {
	m := NewMemoryStore(func() int64 { return 1000 })
	p, err := m.GetOrCreatePerson("telegram", "123", "alice")
	require.NoError(t, err)

	require.NoError(t, m.BumpRelationshipScore(p.ID, 0.5))
	require.NoError(t, m.BumpRelationshipScore(p.ID, 0.2))

	got, err := m.GetPerson(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.RelationshipScore)
}

func TestFeedbackStore_ReactionBeforeOutgoingReconciles(t *testing.T) {
	f := NewFeedbackStore()
	require.NoError(t, f.RecordReaction(store.IncomingReaction{RefKey: "k1", AuthorID: "alice", Emoji: "👍"}))

	require.NoError(t, f.RegisterOutgoing(store.OutgoingFeedbackRow{RefKey: "k1", SentAtMs: 1000}))

	due, err := f.DueForFinalization(0, 2000)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].ReactionCount)
}

func TestFeedbackStore_DuplicateReactionIsNoOp(t *testing.T) {
	f := NewFeedbackStore()
	require.NoError(t, f.RegisterOutgoing(store.OutgoingFeedbackRow{RefKey: "k1", SentAtMs: 1000}))

	r := store.IncomingReaction{RefKey: "k1", AuthorID: "alice", Emoji: "👍"}
	require.NoError(t, f.RecordReaction(r))
	require.NoError(t, f.RecordReaction(r))

	due, err := f.DueForFinalization(0, 2000)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].ReactionCount)
}

func TestProactiveStore_MarkDeliveredIsOneShot(t *testing.T) {
	p := NewProactiveStore()
	id, err := p.Schedule(store.ProactiveEvent{Kind: store.ProactiveReminder, ChatID: "chat-1", TriggerAtMs: 100})
	require.NoError(t, err)

	ok1, err := p.MarkDelivered(id)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := p.MarkDelivered(id)
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestScoreFeedback_RewardsFastReplyPenalizesNegativeReactions(t *testing.T) {
	fast := int64(5000)
	good := store.ScoreFeedback(store.FeedbackScoreInput{
		TimeToFirstResponseMs: &fast,
		ResponseCount:         1,
		ReactionNetScore:      2,
	})
	bad := store.ScoreFeedback(store.FeedbackScoreInput{
		OutgoingEndsWithQuestion: true,
		NegativeReactionCount:    2,
	})
	assert.Greater(t, good, bad)
}
