package behavior

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/friendbot/internal/bus"
	"github.com/nextlevelbuilder/friendbot/internal/store"
)

func TestSleepWindow_InWindow_Normal(t *testing.T) {
	w := SleepWindow{Enabled: true, Timezone: "UTC", Start: "23:00", End: "07:00"}
	midnight := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, w.InWindow(midnight))
	assert.False(t, w.InWindow(noon))
}

func TestSleepWindow_Disabled(t *testing.T) {
	w := SleepWindow{Enabled: false, Timezone: "UTC", Start: "23:00", End: "07:00"}
	assert.False(t, w.InWindow(time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)))
}

func TestEngine_Classify_SleepWindowSilencesNonOperator(t *testing.T) {
	sleep := SleepWindow{Enabled: true, Timezone: "UTC", Start: "00:00", End: "00:00"}
	called := false
	e := NewEngine(func(ctx context.Context, system, user string) (string, error) {
		called = true
		return `{"action":"send"}`, nil
	}, sleep)
	e.now = func() time.Time { return time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC) }

	action := e.Classify(context.Background(), bus.IncomingMessage{IsOperator: false}, "hey there")
	assert.Equal(t, bus.ActionSilence, action.Kind)
	assert.Equal(t, "sleep_mode", action.Reason)
	assert.False(t, called)
}

func TestEngine_Classify_SleepWindowAllowsOperator(t *testing.T) {
	sleep := SleepWindow{Enabled: true, Timezone: "UTC", Start: "00:00", End: "00:00"}
	e := NewEngine(func(ctx context.Context, system, user string) (string, error) {
		return `{"action":"send"}`, nil
	}, sleep)
	e.now = func() time.Time { return time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC) }

	action := e.Classify(context.Background(), bus.IncomingMessage{IsOperator: true}, "hey there")
	assert.Equal(t, bus.ActionSendText, action.Kind)
}

func TestEngine_Classify_ParseFailureFallsBackToSend(t *testing.T) {
	e := NewEngine(func(ctx context.Context, system, user string) (string, error) {
		return "not json at all", nil
	}, SleepWindow{})
	action := e.Classify(context.Background(), bus.IncomingMessage{}, "the draft text")
	assert.Equal(t, bus.ActionSendText, action.Kind)
	assert.Equal(t, "the draft text", action.Text)
}

func TestEngine_Classify_CallerErrorFallsBackToSend(t *testing.T) {
	e := NewEngine(func(ctx context.Context, system, user string) (string, error) {
		return "", assertErr
	}, SleepWindow{})
	action := e.Classify(context.Background(), bus.IncomingMessage{}, "draft")
	assert.Equal(t, bus.ActionSendText, action.Kind)
}

var assertErr = errNotDigits

func TestEngine_Classify_React(t *testing.T) {
	e := NewEngine(func(ctx context.Context, system, user string) (string, error) {
		return `{"action":"react","emoji":"😂"}`, nil
	}, SleepWindow{})
	msg := bus.IncomingMessage{AuthorID: "u1", TimestampMs: 42}
	action := e.Classify(context.Background(), msg, "draft")
	require.Equal(t, bus.ActionReact, action.Kind)
	assert.Equal(t, "😂", action.Emoji)
	assert.Equal(t, "u1", action.TargetAuthorID)
	assert.Equal(t, int64(42), action.TargetTimestampMs)
}

func TestEngine_Classify_Silence(t *testing.T) {
	e := NewEngine(func(ctx context.Context, system, user string) (string, error) {
		return "```json\n{\"action\":\"silence\",\"reason\":\"not_worth_it\"}\n```", nil
	}, SleepWindow{})
	action := e.Classify(context.Background(), bus.IncomingMessage{}, "draft")
	assert.Equal(t, bus.ActionSilence, action.Kind)
	assert.Equal(t, "not_worth_it", action.Reason)
}

func TestCheckSlop_DetectsAIVocabulary(t *testing.T) {
	result := CheckSlop("Let's delve into this nuanced topic together.")
	assert.True(t, result.IsSlop)
	require.NotEmpty(t, result.Violations)
}

func TestCheckSlop_CleanDraftHasNoViolations(t *testing.T) {
	result := CheckSlop("yeah that show was great, the ending caught me off guard")
	assert.False(t, result.IsSlop)
	assert.Empty(t, result.Violations)
}

func TestContainsAntiPatternToken(t *testing.T) {
	assert.True(t, ContainsAntiPatternToken("As an AI, I can't do that"))
	assert.True(t, ContainsAntiPatternToken("let's delve into it"))
	assert.False(t, ContainsAntiPatternToken("that's a great idea"))
}

func TestVelocity_Snapshot_Burst(t *testing.T) {
	base := int64(1_000_000)
	msgs := []store.SessionMessage{
		{Role: store.RoleUser, AuthorID: "a", CreatedAtMs: base, Content: "hey"},
		{Role: store.RoleUser, AuthorID: "a", CreatedAtMs: base + 5000, Content: "you there"},
		{Role: store.RoleUser, AuthorID: "a", CreatedAtMs: base + 10000, Content: "hello?"},
	}
	v := Snapshot(msgs)
	assert.True(t, v.IsBurst)
	assert.False(t, v.IsRapidDialogue)
}

func TestVelocity_Snapshot_RapidDialogue(t *testing.T) {
	base := int64(1_000_000)
	msgs := []store.SessionMessage{
		{Role: store.RoleUser, AuthorID: "a", CreatedAtMs: base, Content: "hey"},
		{Role: store.RoleUser, AuthorID: "b", CreatedAtMs: base + 5000, Content: "yo"},
	}
	v := Snapshot(msgs)
	assert.True(t, v.IsRapidDialogue)
}

func TestVelocity_Snapshot_TooFewMessages(t *testing.T) {
	v := Snapshot([]store.SessionMessage{{Role: store.RoleUser, Content: "hi"}})
	assert.Equal(t, Velocity{}, v)
}

func TestDecide_DMAlwaysProceeds(t *testing.T) {
	assert.Equal(t, DecisionProceed, Decide(Velocity{IsBurst: true}, false))
}

func TestDecide_RapidDialogueWithoutContinuationSkips(t *testing.T) {
	v := Velocity{IsRapidDialogue: true, IsContinuation: false}
	assert.Equal(t, DecisionSkip, Decide(v, true))
}

func TestDecide_RapidDialogueWithContinuationProceeds(t *testing.T) {
	v := Velocity{IsRapidDialogue: true, IsContinuation: true}
	assert.Equal(t, DecisionProceed, Decide(v, true))
}

func TestDecide_BurstWaits(t *testing.T) {
	assert.Equal(t, DecisionWait, Decide(Velocity{IsBurst: true}, true))
}

func TestHasContinuationSignal(t *testing.T) {
	assert.True(t, hasContinuationSignal("wait and…"))
	assert.True(t, hasContinuationSignal("so anyway,"))
	assert.True(t, hasContinuationSignal("also"))
	assert.True(t, hasContinuationSignal("short"))
	assert.False(t, hasContinuationSignal("That's the whole story."))
}

func TestTrustTier_FromScore(t *testing.T) {
	assert.Equal(t, store.TrustNewContact, TrustTier(0, ""))
	assert.Equal(t, store.TrustGettingToKnow, TrustTier(0.4, ""))
	assert.Equal(t, store.TrustCloseFriend, TrustTier(0.9, ""))
}

func TestTrustTier_OverrideWins(t *testing.T) {
	assert.Equal(t, store.TrustCloseFriend, TrustTier(0, "close_friend"))
}

func TestTrustTier_InvalidOverrideIgnored(t *testing.T) {
	assert.Equal(t, store.TrustNewContact, TrustTier(0, "bogus_tier"))
}
