package router

import (
	"strings"

	kit "quotecast/internal/transport"
)

// HelpText renders the command list, or the usage of one command.
func (m *CommandManager) HelpText(topic string) string {
	topic = strings.TrimPrefix(strings.TrimSpace(topic), "/")
	if topic != "" {
		c, ok := m.Lookup(topic)
		if !ok {
			return "Unknown command /" + topic + ". Try /help"
		}
		lines := []string{"/" + c.Name + " - " + c.Description}
		if c.Usage != "" {
			lines = append(lines, "Usage: "+c.Usage)
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: /"+strings.Join(c.Aliases, ", /"))
		}
		return strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range m.Commands() {
		if c.Hidden {
			continue
		}
		b.WriteString("/" + c.Name)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// MenuCommands is the visible command list in Telegram menu form.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	var out []kit.BotCommand
	for _, c := range m.Commands() {
		if c.Hidden || !validMenuName(c.Name) {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func validMenuName(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
