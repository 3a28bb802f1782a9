package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// ContentKind is the payload type of an incoming message.
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentPhoto     ContentKind = "photo"
	ContentVideo     ContentKind = "video"
	ContentAudio     ContentKind = "audio"
	ContentDocument  ContentKind = "document"
	ContentVoice     ContentKind = "voice"
	ContentAnimation ContentKind = "animation"
	ContentSticker   ContentKind = "sticker"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID            int
	ChatID        int64
	ThreadID      int // forum topic thread id (0 if none)
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string // text or media caption
	Content       ContentKind
	IsPrivate     bool
}

// IsCommand reports whether the message is a slash command.
func (m *Message) IsCommand() bool {
	return m != nil && m.Content == ContentText && len(m.Text) > 1 && m.Text[0] == '/'
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is a transport-neutral inline button. Exactly one of Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons are rendered as inline keyboard rows.
	Buttons [][]Button
}

// Adapter is the messaging gateway used by the bot.
// Every failure is returned as a plain error; callers decide how to treat it.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	// CopyMessage re-sends an existing message to another chat without a
	// "forwarded from" header.
	CopyMessage(ctx context.Context, to ChatTarget, from MessageRef) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
