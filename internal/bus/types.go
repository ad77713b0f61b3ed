// Package bus defines the message and event types that flow between a
// channel's TransportAdapter and the turn engine. These types are the
// wire contract: transports build IncomingMessage values and the engine
// returns an OutgoingAction, with no other shared state between the two
// sides.
package bus

import "context"

// IncomingMessage is built by a TransportAdapter from whatever native event
// its channel delivered (a Telegram update, a CLI line, a cron tick) and
// handed to TurnEngine.HandleIncomingMessage. It is never persisted as-is.
type IncomingMessage struct {
	Channel     string   `json:"channel"`
	ChatID      string   `json:"chatId"`
	MessageID   string   `json:"messageId"`
	AuthorID    string   `json:"authorId"`
	Text        string   `json:"text"`
	IsGroup     bool     `json:"isGroup"`
	IsOperator  bool     `json:"isOperator"`
	Mentioned   bool     `json:"mentioned,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	TimestampMs int64    `json:"timestampMs"`
}

// OutgoingActionKind discriminates the OutgoingAction sum type.
type OutgoingActionKind string

const (
	ActionSendText OutgoingActionKind = "send_text"
	ActionReact    OutgoingActionKind = "react"
	ActionSilence  OutgoingActionKind = "silence"
)

// OutgoingAction is the single return value of a turn. Exactly one variant
// applies, selected by Kind; the other fields are zero for the variants
// that don't use them.
//
//   - send_text: Text is persisted to the session and delivered verbatim.
//   - react: the channel's native emoji-on-message mechanism is used if
//     available; transports that can't react must downgrade to silence.
//   - silence: nothing is sent. Reason is a short machine tag for logs
//     and tests, e.g. "slop_detected" or "proactive_unroutable".
type OutgoingAction struct {
	Kind OutgoingActionKind `json:"kind"`

	Text string `json:"text,omitempty"`

	Emoji             string `json:"emoji,omitempty"`
	TargetAuthorID    string `json:"targetAuthorId,omitempty"`
	TargetTimestampMs int64  `json:"targetTimestampMs,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// SendText builds a send_text action.
func SendText(text string) OutgoingAction {
	return OutgoingAction{Kind: ActionSendText, Text: text}
}

// React builds a react action targeting a specific prior message.
func React(emoji, targetAuthorID string, targetTimestampMs int64) OutgoingAction {
	return OutgoingAction{
		Kind:              ActionReact,
		Emoji:             emoji,
		TargetAuthorID:    targetAuthorID,
		TargetTimestampMs: targetTimestampMs,
	}
}

// Silence builds a silence action with a machine-readable reason tag.
func Silence(reason string) OutgoingAction {
	return OutgoingAction{Kind: ActionSilence, Reason: reason}
}

// MediaAttachment describes a single outbound media file alongside a
// send_text action, for channels that support it.
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// Event is a server-side event broadcast to gateway websocket clients
// (turn started/finished, action taken, proactive dispatch) for the
// debug/health surface.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast Event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast and subscription so the gateway
// server and turn engine don't share a concrete bus implementation.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// InboundRouter abstracts the queue a TransportAdapter publishes
// IncomingMessage values onto and the turn engine consumes from.
type InboundRouter interface {
	PublishInbound(msg IncomingMessage)
	ConsumeInbound(ctx context.Context) (IncomingMessage, bool)
}
