package transport

import (
	"context"
	"strconv"
)

// Update is one inbound chat event.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

// ChatTarget returns the chat as an opaque delivery target.
func (m *Message) ChatTarget() string { return strconv.FormatInt(m.ChatID, 10) }

// Sender delivers text to an opaque target: a numeric chat id or an @username.
type Sender interface {
	Send(ctx context.Context, target, text string) error
}

// Adapter is a chat platform connection.
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
