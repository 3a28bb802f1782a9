package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "castbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		limit int
		mode  string
		check func(t *testing.T, out []string)
	}{
		{
			name:  "short stays whole",
			in:    "hello",
			limit: 10,
			check: func(t *testing.T, out []string) { assert.Equal(t, []string{"hello"}, out) },
		},
		{
			name:  "empty yields one chunk",
			in:    "",
			limit: 10,
			check: func(t *testing.T, out []string) { assert.Equal(t, []string{""}, out) },
		},
		{
			name:  "prefers newline",
			in:    "aaaaaa\nbbbbbbbb",
			limit: 10,
			check: func(t *testing.T, out []string) { assert.Equal(t, []string{"aaaaaa", "bbbbbbbb"}, out) },
		},
		{
			name:  "runes not bytes",
			in:    strings.Repeat("é", 25),
			limit: 10,
			check: func(t *testing.T, out []string) {
				require.Len(t, out, 3)
				for _, c := range out {
					assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
					assert.True(t, utf8.ValidString(c))
				}
			},
		},
		{
			name:  "html tag kept intact",
			in:    "abcdefg<b>x</b>",
			limit: 9,
			mode:  "HTML",
			check: func(t *testing.T, out []string) {
				require.NotEmpty(t, out)
				assert.Equal(t, "abcdefg", out[0])
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, splitTelegramText(tt.in, tt.limit, tt.mode))
		})
	}
}

func TestBuildMarkup(t *testing.T) {
	t.Parallel()
	assert.Nil(t, buildMarkup(nil))
	assert.Nil(t, buildMarkup([][]kit.Button{{{Text: ""}}}))

	rm := buildMarkup([][]kit.Button{
		{{Text: "✅ Yes", Data: "bc:confirm"}, {Text: "❌ No", Data: "bc:cancel"}},
		{{Text: "Channel", URL: "https://t.me/example"}},
	})
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 2)
	assert.Equal(t, "bc:confirm", rm.InlineKeyboard[0][0].Data)
	assert.Empty(t, rm.InlineKeyboard[0][0].Unique)
	assert.Equal(t, "https://t.me/example", rm.InlineKeyboard[1][0].URL)
}

func TestMessageFromTele(t *testing.T) {
	t.Parallel()
	assert.Nil(t, messageFromTele(nil, kit.ContentText))
	assert.Nil(t, messageFromTele(&tele.Message{Chat: &tele.Chat{ID: 1}}, kit.ContentText), "no sender")

	m := messageFromTele(&tele.Message{
		ID:      9,
		Caption: "look",
		Text:    "",
		Chat:    &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender:  &tele.User{ID: 42, FirstName: "Ana", Username: "ana"},
	}, kit.ContentPhoto)
	require.NotNil(t, m)
	assert.Equal(t, "look", m.Text)
	assert.Equal(t, kit.ContentPhoto, m.Content)
	assert.True(t, m.IsPrivate)
	assert.Equal(t, "Ana", m.FromFirstName)
	assert.False(t, m.IsCommand())

	cmd := messageFromTele(&tele.Message{
		Text:   "/ads",
		Chat:   &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 7},
	}, kit.ContentText)
	require.NotNil(t, cmd)
	assert.True(t, cmd.IsCommand())
	assert.False(t, cmd.IsPrivate)
}

func TestToTeleCommandsLimits(t *testing.T) {
	t.Parallel()
	cmds := make([]kit.BotCommand, 0, 120)
	for i := 0; i < 120; i++ {
		cmds = append(cmds, kit.BotCommand{Command: "c", Description: strings.Repeat("d", 300)})
	}
	cmds = append([]kit.BotCommand{{Command: ""}}, cmds...)
	out := toTeleCommands(cmds)
	assert.Len(t, out, 100)
	assert.Len(t, out[0].Description, 256)

	assert.Equal(t, menuHash(cmds), menuHash(cmds))
	assert.NotEqual(t, menuHash(cmds[:2]), menuHash(cmds[:3]))
}
