package contextbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/friendbot/internal/store"
	"github.com/nextlevelbuilder/friendbot/internal/store/memstore"
)

func fixedNow() int64 { return 1_700_000_000_000 }

func TestBuildBehaviorRules_DMUsesBuiltins(t *testing.T) {
	rules := BuildBehaviorRules(RulesParams{IsGroup: false, MaxChars: 500})
	assert.Contains(t, rules, "Talk like a real friend")
	assert.Contains(t, rules, "500 characters")
	assert.Contains(t, rules, "REINFORCEMENT CHECKLIST")
}

func TestBuildBehaviorRules_GroupLargeVariant(t *testing.T) {
	rules := BuildBehaviorRules(RulesParams{IsGroup: true, UniqueAuthors: 9, MaxChars: 300})
	assert.Contains(t, rules, "large and busy")
}

func TestBuildBehaviorRules_GroupSmallVariant(t *testing.T) {
	rules := BuildBehaviorRules(RulesParams{IsGroup: true, UniqueAuthors: 3, MaxChars: 300})
	assert.Contains(t, rules, "small group")
}

func TestBuildBehaviorRules_OverrideSkipsBuiltinVoiceRules(t *testing.T) {
	rules := BuildBehaviorRules(RulesParams{BehaviorOverride: "Be extremely formal at all times.", MaxChars: 300})
	assert.Contains(t, rules, "Be extremely formal at all times.")
	assert.NotContains(t, rules, "Talk like a real friend")
	assert.Contains(t, rules, "DATA HANDLING")
	assert.Contains(t, rules, "REINFORCEMENT CHECKLIST")
}

func TestBuildMemoryContext_DMGetsFullCapsule(t *testing.T) {
	ms := memstore.NewMemoryStore(fixedNow)
	person, err := ms.GetOrCreatePerson("telegram", "u1", "Alex")
	require.NoError(t, err)
	require.NoError(t, ms.UpdatePersonCapsule(person.ID, "private: lives in Seattle", "public: likes hiking"))

	text, err := BuildMemoryContext(MemoryContextParams{
		Store: ms, Person: person, ChatID: "c1", IsGroup: false, QueryText: "hiking",
		RetrieveN: 5, LessonLimit: 5, BudgetTokens: 0,
	})
	require.NoError(t, err)
	assert.Contains(t, text, "private: lives in Seattle")
}

func TestBuildMemoryContext_GroupGetsOnlyPublicCapsule(t *testing.T) {
	ms := memstore.NewMemoryStore(fixedNow)
	person, err := ms.GetOrCreatePerson("telegram", "u1", "Alex")
	require.NoError(t, err)
	require.NoError(t, ms.UpdatePersonCapsule(person.ID, "private: lives in Seattle", "public: likes hiking"))

	text, err := BuildMemoryContext(MemoryContextParams{
		Store: ms, Person: person, ChatID: "c1", IsGroup: true, QueryText: "hiking",
		RetrieveN: 5, LessonLimit: 5, BudgetTokens: 0,
	})
	require.NoError(t, err)
	assert.Contains(t, text, "public: likes hiking")
	assert.NotContains(t, text, "private: lives in Seattle")
}

func TestBuildMemoryContext_RetrievesMatchingFacts(t *testing.T) {
	ms := memstore.NewMemoryStore(fixedNow)
	person, err := ms.GetOrCreatePerson("telegram", "u1", "Alex")
	require.NoError(t, err)
	_, err = ms.AddFact(store.Fact{PersonID: person.ID, Subject: "pet", Content: "has a cat named Milo", Category: "personal"})
	require.NoError(t, err)

	text, err := BuildMemoryContext(MemoryContextParams{
		Store: ms, Person: person, ChatID: "c1", QueryText: "cat Milo",
		Weights: store.RetrievalWeights{RRFK: 60, FTSWeight: 1, RecencyWeight: 0.1, HalfLifeDays: 14},
		RetrieveN: 5, LessonLimit: 5,
	})
	require.NoError(t, err)
	assert.Contains(t, text, "Milo")
}

func TestBuildMemoryContext_InjectsLessons(t *testing.T) {
	ms := memstore.NewMemoryStore(fixedNow)
	_, err := ms.AddLesson(store.Lesson{Type: store.LessonFailure, Category: "global", Rule: "Don't use emoji in replies to this person.", Confidence: 0.8})
	require.NoError(t, err)

	text, err := BuildMemoryContext(MemoryContextParams{Store: ms, ChatID: "c1", RetrieveN: 5, LessonLimit: 5})
	require.NoError(t, err)
	assert.Contains(t, text, "Behavior insights")
	assert.Contains(t, text, "Don't use emoji")
}

func TestClipToTokenBudget_NoClipWhenUnderBudget(t *testing.T) {
	s := "short text"
	assert.Equal(t, s, clipToTokenBudget(s, 1000))
}

func TestClipToTokenBudget_TruncatesAtLineBoundary(t *testing.T) {
	s := "line one\nline two\nline three\n"
	clipped := clipToTokenBudget(s, 1)
	assert.LessOrEqual(t, len(clipped), len(s))
}

func TestBuild_AssemblesFullContext(t *testing.T) {
	ss := memstore.NewSessionStore()
	require.NoError(t, ss.AppendMessage("c1", store.SessionMessage{ChatID: "c1", Role: store.RoleUser, Content: "hey"}))
	require.NoError(t, ss.AppendMessage("c1", store.SessionMessage{ChatID: "c1", Role: store.RoleAssistant, Content: "hey yourself"}))
	require.NoError(t, ss.UpsertNote("c1", "birthday", "March 3rd"))

	ms := memstore.NewMemoryStore(fixedNow)
	person, err := ms.GetOrCreatePerson("telegram", "u1", "Alex")
	require.NoError(t, err)

	built, err := Build(Params{
		IsGroup: false, MaxChars: 400,
		ChatID: "c1", Person: person, MemoryStore: ms, SessionStore: ss,
		QueryText: "hey",
	})
	require.NoError(t, err)
	assert.Contains(t, built.System, "REINFORCEMENT CHECKLIST")
	assert.Len(t, built.HistoryForModel, 2)
	require.Len(t, built.DataMessagesForModel, 1)
	assert.Contains(t, built.DataMessagesForModel[0].Content, "March 3rd")
	assert.Contains(t, built.DataMessagesForModel[0].Content, "<external")
	assert.Equal(t, 400, built.MaxChars)
}

func TestBuild_NoScratchpadMeansNoDataMessages(t *testing.T) {
	ss := memstore.NewSessionStore()
	built, err := Build(Params{ChatID: "c1", SessionStore: ss})
	require.NoError(t, err)
	assert.Empty(t, built.DataMessagesForModel)
}
