package behavior

import (
	"strings"

	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// Velocity is a snapshot of recent message pacing in a chat, used to decide
// whether the engine should proceed immediately, wait for more messages, or
// skip a reply entirely in a fast-moving group.
type Velocity struct {
	IsBurst         bool
	IsRapidDialogue bool
	IsContinuation  bool
}

// Decision is what the behavior engine recommends doing with a turn given
// its velocity snapshot.
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionWait    Decision = "wait"
	DecisionSkip    Decision = "skip"
)

const (
	burstMinCount      = 3
	burstMaxAvgGapMs   = 20_000
	rapidMinAuthors    = 2
	rapidMaxAvgGapMs   = 15_000
)

// Snapshot computes a Velocity from the most recent messages in a chat's
// session history, newest last (as SessionStore.GetMessages returns them).
func Snapshot(recent []store.SessionMessage) Velocity {
	userMsgs := make([]store.SessionMessage, 0, len(recent))
	for _, m := range recent {
		if m.Role == store.RoleUser {
			userMsgs = append(userMsgs, m)
		}
	}
	if len(userMsgs) < 2 {
		return Velocity{}
	}

	avgGapMs, authors := gapStats(userMsgs)

	return Velocity{
		IsBurst:         len(userMsgs) >= burstMinCount && avgGapMs <= burstMaxAvgGapMs,
		IsRapidDialogue: len(authors) >= rapidMinAuthors && avgGapMs <= rapidMaxAvgGapMs,
		IsContinuation:  hasContinuationSignal(userMsgs[len(userMsgs)-1].Content),
	}
}

func gapStats(msgs []store.SessionMessage) (avgGapMs float64, authors map[string]bool) {
	authors = make(map[string]bool)
	var totalGap int64
	for i, m := range msgs {
		authors[m.AuthorID] = true
		if i > 0 {
			gap := m.CreatedAtMs - msgs[i-1].CreatedAtMs
			if gap < 0 {
				gap = 0
			}
			totalGap += gap
		}
	}
	if len(msgs) > 1 {
		avgGapMs = float64(totalGap) / float64(len(msgs)-1)
	}
	return avgGapMs, authors
}

// Decide maps a velocity snapshot plus whether the chat is a group into a coarse
// proceed/wait/skip recommendation for group chats. DMs always proceed.
// Neither the turn engine nor the behavior engine calls Snapshot or Decide.
func Decide(v Velocity, isGroup bool) Decision {
	if !isGroup {
		return DecisionProceed
	}
	if v.IsRapidDialogue && !v.IsContinuation {
		return DecisionSkip
	}
	if v.IsBurst {
		return DecisionWait
	}
	return DecisionProceed
}

var trailingConnectives = []string{" and", " but", " or", " also", " like", " so"}

// hasContinuationSignal flags text that looks like the author is still
// typing: a trailing ellipsis, a trailing connective, a trailing comma, or
// a short fragment with no terminal punctuation.
func hasContinuationSignal(text string) bool {
	trimmed := strings.TrimRight(text, " \t")
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		return true
	}
	if strings.HasSuffix(trimmed, ",") {
		return true
	}
	for _, c := range trailingConnectives {
		if strings.HasSuffix(lower, c) {
			return true
		}
	}
	if len([]rune(trimmed)) < 20 {
		last := trimmed[len(trimmed)-1]
		if last != '.' && last != '!' && last != '?' {
			return true
		}
	}
	return false
}
