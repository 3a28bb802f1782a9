package router

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// parseCommand splits "/cmd@bot a b" into ("cmd", "bot", ["a","b"]).
// ok is false when text is not a command.
func parseCommand(text string) (name, mention string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != '/' {
		return "", "", nil, false
	}
	fields := strings.Fields(text)
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word, mention = word[:i], word[i+1:]
	}
	if word == "" {
		return "", "", nil, false
	}
	return strings.ToLower(word), mention, fields[1:], true
}
