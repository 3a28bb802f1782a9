package broadcast

import (
	kit "castbot/internal/transport"
)

// ContentRef identifies the message to copy: the chat it was sent in and
// its id there. The payload itself is never fetched or inspected.
type ContentRef struct {
	SourceChat    int64
	SourceMessage int
}

func (c ContentRef) IsZero() bool { return c.SourceChat == 0 && c.SourceMessage == 0 }

func (c ContentRef) MessageRef() kit.MessageRef {
	return kit.MessageRef{ChatID: c.SourceChat, MessageID: c.SourceMessage}
}

// ContentFromMessage captures the reference of an incoming message.
func ContentFromMessage(m *kit.Message) ContentRef {
	if m == nil {
		return ContentRef{}
	}
	return ContentRef{SourceChat: m.ChatID, SourceMessage: m.ID}
}
