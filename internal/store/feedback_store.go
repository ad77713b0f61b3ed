package store

// OutgoingFeedbackRow tracks engagement on one assistant-sent message so
// the feedback loop can learn from it.
type OutgoingFeedbackRow struct {
	RefKey                string `json:"refKey"`
	ChatID                string `json:"chatId"`
	SentAtMs              int64  `json:"sentAtMs"`
	Text                  string `json:"text"`
	ReplyCount            int    `json:"replyCount"`
	ReactionCount         int    `json:"reactionCount"`
	NegativeReactionCount int    `json:"negativeReactionCount"`
	ReactionNetScore      int    `json:"reactionNetScore"`
	EndsWithQuestion      bool   `json:"endsWithQuestion"`
	TimeToFirstResponseMs int64  `json:"timeToFirstResponseMs,omitempty"`
	SampleReactionsJSON   string `json:"sampleReactionsJson,omitempty"`
	Finalized             bool   `json:"finalized"`
}

// IncomingReaction is one emoji reaction on a prior outgoing message.
type IncomingReaction struct {
	RefKey      string `json:"refKey"`
	AuthorID    string `json:"authorId"`
	Emoji       string `json:"emoji"`
	Negative    bool   `json:"negative"`
	TimestampMs int64  `json:"timestampMs"`
}

// IncomingReply is a reply to a prior outgoing message.
type IncomingReply struct {
	RefKey      string `json:"refKey"`
	AuthorID    string `json:"authorId"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestampMs"`
}

// FeedbackScoreInput are the scoring inputs described in the feedback
// scoring function; Refinement is true when the next user message starts
// with a correction prefix ("actually", "no,", "i meant", "not what i").
type FeedbackScoreInput struct {
	IsGroup               bool
	TimeToFirstResponseMs *int64
	ResponseCount         int
	ReactionCount         int
	NegativeReactionCount int
	ReactionNetScore      int
	OutgoingEndsWithQuestion bool
	Refinement            bool
}

// FeedbackStore registers assistant sends and reconciles reactions/replies
// that may arrive before or after the row they refer to. Every mutation
// keyed by (refKey, authorId, emoji|text, timestampMs) must be idempotent.
type FeedbackStore interface {
	RegisterOutgoing(row OutgoingFeedbackRow) error
	RecordReaction(r IncomingReaction) error
	RecordReply(r IncomingReply) error

	// DueForFinalization returns rows where now-sentAtMs >= finalizeAfterMs
	// and Finalized is false.
	DueForFinalization(finalizeAfterMs, now int64) ([]OutgoingFeedbackRow, error)
	MarkFinalized(refKey string) error

	// RecentSendCount counts outgoing rows for chatID with SentAtMs >=
	// sinceMs. Used by the proactive dispatcher's warming throttle.
	RecentSendCount(chatID string, sinceMs int64) (int, error)
}

// ScoreFeedback implements the scoring function described for the
// feedback-finalization pass: small penalty for an unanswered question,
// a strong penalty per negative reaction, a small penalty for a
// refinement reply, and rewards for fast/multiple replies and net-positive
// reactions. The result is a signed score; callers compare it against
// successThreshold/failureThreshold to decide whether to emit a lesson.
func ScoreFeedback(in FeedbackScoreInput) float64 {
	score := 0.0

	if in.OutgoingEndsWithQuestion && in.ResponseCount == 0 {
		score -= 0.15
	}
	if in.NegativeReactionCount > 0 {
		score -= 0.5 * float64(in.NegativeReactionCount)
	}
	if in.Refinement {
		score -= 0.2
	}

	if in.TimeToFirstResponseMs != nil {
		switch {
		case *in.TimeToFirstResponseMs <= 30_000:
			score += 0.3
		case *in.TimeToFirstResponseMs <= 120_000:
			score += 0.15
		}
	}
	if in.ResponseCount > 1 {
		score += 0.1 * float64(in.ResponseCount-1)
	}
	if in.ReactionNetScore > 0 {
		score += 0.2 * float64(in.ReactionNetScore)
	}

	return score
}
