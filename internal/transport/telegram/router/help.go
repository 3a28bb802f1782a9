package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders the commands visible to the caller in HTML parse mode.
func (m *CommandManager) helpText(owner bool) string {
	m.mu.RLock()
	cmds := append([]Command(nil), m.cmds...)
	m.mu.RUnlock()

	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})

	lines := []string{"📚 <b>Commands</b>", ""}
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		line := "• "
		if c.Access == AccessOwnerOnly {
			line += "🔒 "
		}
		line += "<code>/" + html.EscapeString(c.Name) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		if len(c.Aliases) > 0 {
			line += " <i>(/" + html.EscapeString(strings.Join(c.Aliases, ", /")) + ")</i>"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
