package proactive

import (
	"fmt"
	"strings"
)

// routedChat is what a ProactiveEvent's ChatID decodes into: enough to
// synthesize the IncomingMessage the turn pipeline expects.
type routedChat struct {
	Channel    string
	IsGroup    bool
	IsOperator bool
	AuthorID   string
}

// parseChatID decodes chat IDs of the form "<channel>:dm:<id>",
// "<channel>:group:<id>", or "<channel>:operator" (CLI's synthetic
// operator chat). Any other shape is unroutable.
func parseChatID(chatID string) (routedChat, error) {
	parts := strings.SplitN(chatID, ":", 3)
	if len(parts) < 2 {
		return routedChat{}, fmt.Errorf("proactive: chat id %q has no channel:kind segments", chatID)
	}

	channel, kind := parts[0], parts[1]
	switch kind {
	case "operator":
		return routedChat{Channel: channel, IsOperator: true, AuthorID: "operator"}, nil
	case "dm":
		if len(parts) < 3 || parts[2] == "" {
			return routedChat{}, fmt.Errorf("proactive: chat id %q missing dm author", chatID)
		}
		return routedChat{Channel: channel, AuthorID: parts[2]}, nil
	case "group":
		if len(parts) < 3 || parts[2] == "" {
			return routedChat{}, fmt.Errorf("proactive: chat id %q missing group id", chatID)
		}
		return routedChat{Channel: channel, IsGroup: true, AuthorID: "group:" + parts[2]}, nil
	default:
		return routedChat{}, fmt.Errorf("proactive: chat id %q has unrecognized kind %q", chatID, kind)
	}
}
