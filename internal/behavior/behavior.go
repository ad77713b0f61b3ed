// Package behavior hosts the fast-model classifier that turns a drafted
// assistant reply into a final send/react/silence decision, plus the slop
// detector and velocity snapshot the turn engine consults alongside it.
package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/friendbot/internal/bus"
)

// SleepWindow describes a configured daily do-not-disturb window. Start and
// End are "HH:MM" in Timezone; a window where End < Start wraps past
// midnight (e.g. 23:00-07:00).
type SleepWindow struct {
	Enabled  bool
	Timezone string
	Start    string
	End      string
}

// InWindow reports whether t (converted into the window's timezone) falls
// inside the configured sleep window. A disabled window, or one whose Start
// or End is not a valid "HH:MM", never reports true; an unknown Timezone
// falls back to UTC.
func (w SleepWindow) InWindow(t time.Time) bool {
	if !w.Enabled {
		return false
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)
	startMin, ok1 := parseHHMM(w.Start)
	endMin, ok2 := parseHHMM(w.End)
	if !ok1 || !ok2 {
		return false
	}
	nowMin := local.Hour()*60 + local.Minute()

	if startMin == endMin {
		return true // a zero-width window, interpreted as "always on"
	}
	if startMin < endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// Wrap-around window, e.g. 23:00-07:00.
	return nowMin >= startMin || nowMin < endMin
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := atoiStrict(parts[0])
	m, err2 := atoiStrict(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

var errNotDigits = errors.New("not digits")

func atoiStrict(s string) (int, error) {
	if s == "" {
		return 0, errNotDigits
	}
	var n int
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotDigits
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// FastModelCaller invokes the fast classification model with a system
// instruction and the user content to classify, returning its raw text
// response. The turn engine wires this to an internal/backend LLMBackend;
// the behavior package has no backend dependency of its own.
type FastModelCaller func(ctx context.Context, system, user string) (string, error)

// decision is the classifier's JSON response shape.
type decision struct {
	Action string `json:"action"`
	Emoji  string `json:"emoji,omitempty"`
	Reason string `json:"reason,omitempty"`
}

const classifierSystemPrompt = `You decide how a friend should respond to a drafted message. Reply with a single JSON object: {"action":"send"|"react"|"silence","emoji":"<emoji if action is react>","reason":"<short reason if action is silence>"}. Prefer "react" for low-signal group chatter and "silence" over a boring reply. No other text.`

var jsonObjectPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```|(\\{.*\\})")

// extractJSONObject pulls the first JSON object out of s, tolerating a
// ```json fenced preamble (boundary behavior B2).
func extractJSONObject(s string) (map[string]any, bool) {
	m := jsonObjectPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// Engine is the fast-model classifier plus its sleep-mode override.
type Engine struct {
	caller FastModelCaller
	sleep  SleepWindow
	now    func() time.Time
}

// NewEngine creates a behavior engine backed by caller for classification.
func NewEngine(caller FastModelCaller, sleep SleepWindow) *Engine {
	return &Engine{caller: caller, sleep: sleep, now: time.Now}
}

// Classify decides the final action for a drafted reply to msg. If the
// sleep window is active and msg is not from an operator, it returns
// silence without calling the model. A parse failure from the model falls
// back to sending the draft verbatim, per spec.
func (e *Engine) Classify(ctx context.Context, msg bus.IncomingMessage, draft string) bus.OutgoingAction {
	if e.sleep.InWindow(e.now()) && !msg.IsOperator {
		return bus.Silence("sleep_mode")
	}

	raw, err := e.caller(ctx, classifierSystemPrompt, draft)
	if err != nil {
		return bus.SendText(draft)
	}

	obj, ok := extractJSONObject(raw)
	if !ok {
		return bus.SendText(draft)
	}
	var d decision
	if b, err := json.Marshal(obj); err == nil {
		_ = json.Unmarshal(b, &d)
	}

	switch d.Action {
	case "react":
		emoji := d.Emoji
		if emoji == "" {
			emoji = "👍"
		}
		return bus.React(emoji, msg.AuthorID, msg.TimestampMs)
	case "silence":
		reason := d.Reason
		if reason == "" {
			reason = "behavior_silence"
		}
		return bus.Silence(reason)
	case "send":
		return bus.SendText(draft)
	default:
		return bus.SendText(draft)
	}
}
