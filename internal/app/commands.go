package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"quotecast/internal/broadcast"
	"quotecast/internal/transport/telegram/router"
	logx "quotecast/pkg/logx"
)

const (
	msgWelcome     = "Welcome to Quotify! I post a daily quote to your channel. If you are the owner, use /post <message> to post now."
	msgPostUsage   = "Usage: /post <message>"
	msgNoChannel   = "Server not configured: CHANNEL_ID missing."
	msgPosted      = "✅ Posted to channel."
	msgPostFailed  = "❌ Could not post to the channel. Check the bot's permissions there."
	msgAddUsage    = "Usage: /addschedule HH:MM [target]"
	msgSaveFailed  = "❌ Could not save the schedule. Please try again later."
	msgRemoveUsage = "Usage: /removeschedule <id>"
	msgNoSchedules = "No active schedules."
)

func msgDenied(cmd string) string { return "❌ You are not authorized to use /" + cmd + "." }

type quoteSource interface {
	Resolve(ctx context.Context) string
}

// commands binds chat commands to the broadcast manager.
type commands struct {
	mgr    *broadcast.Manager
	quotes quoteSource
	help   func(topic string) string
	log    logx.Logger
}

func (c *commands) registry() []router.Command {
	return []router.Command{
		{Name: "start", Description: "About this bot", Handle: c.start},
		{Name: "help", Aliases: []string{"h"}, Description: "List commands", Usage: "/help [command]", Handle: c.helpCmd},
		{Name: "post", Description: "Post a message to the channel now", Usage: msgPostUsage[len("Usage: "):], Handle: c.post},
		{Name: "addschedule", Description: "Add a daily quote time", Usage: msgAddUsage[len("Usage: "):], Handle: c.addSchedule},
		{Name: "schedules", Description: "List active schedules", Handle: c.schedules},
		{Name: "removeschedule", Description: "Remove a schedule", Usage: msgRemoveUsage[len("Usage: "):], Handle: c.removeSchedule},
		{Name: "quote", Description: "Preview a quote", Handle: c.quote},
	}
}

func (c *commands) start(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, msgWelcome)
}

func (c *commands) helpCmd(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, c.help(req.ArgText))
}

func (c *commands) post(ctx context.Context, req *router.Request) error {
	// Authorization comes first so unauthorized users never learn the usage.
	if !c.mgr.Authorized(req.Requester()) {
		_ = req.Reply(ctx, msgDenied("post"))
		return broadcast.ErrUnauthorized
	}
	if req.ArgText == "" {
		return req.Reply(ctx, msgPostUsage)
	}
	err := c.mgr.DeliverNow(ctx, req.Requester(), req.ArgText)
	switch {
	case err == nil:
		return req.Reply(ctx, msgPosted)
	case errors.Is(err, broadcast.ErrNotConfigured):
		_ = req.Reply(ctx, msgNoChannel)
	case errors.Is(err, broadcast.ErrUnauthorized):
		_ = req.Reply(ctx, msgDenied("post"))
	default:
		_ = req.Reply(ctx, msgPostFailed)
	}
	return err
}

func (c *commands) addSchedule(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 || len(req.Args) > 2 {
		if !c.mgr.Authorized(req.Requester()) {
			_ = req.Reply(ctx, msgDenied("addschedule"))
			return broadcast.ErrUnauthorized
		}
		return req.Reply(ctx, msgAddUsage)
	}
	target := c.mgr.Settings().ChannelID
	if len(req.Args) == 2 {
		target = req.Args[1]
	}

	sc, err := c.mgr.AddSchedule(ctx, req.Requester(), target, req.Args[0])
	switch {
	case err == nil:
		loc := c.mgr.Settings().Location
		return req.Reply(ctx, fmt.Sprintf("✅ Schedule #%d: daily quote to %s at %s (%s).", sc.ID, sc.Target, sc.At, loc))
	case errors.Is(err, broadcast.ErrUnauthorized):
		_ = req.Reply(ctx, msgDenied("addschedule"))
	case errors.Is(err, broadcast.ErrInvalidInput):
		_ = req.Reply(ctx, fmt.Sprintf("Invalid time %q. Use HH:MM between 00:00 and 23:59.", req.Args[0]))
	case errors.Is(err, broadcast.ErrNotConfigured):
		_ = req.Reply(ctx, msgNoChannel)
	default:
		_ = req.Reply(ctx, msgSaveFailed)
	}
	return err
}

func (c *commands) schedules(ctx context.Context, req *router.Request) error {
	entries, err := c.mgr.Schedules(ctx, req.Requester())
	switch {
	case errors.Is(err, broadcast.ErrUnauthorized):
		_ = req.Reply(ctx, msgDenied("schedules"))
		return err
	case err != nil:
		_ = req.Reply(ctx, "❌ Could not load schedules.")
		return err
	case len(entries) == 0:
		return req.Reply(ctx, msgNoSchedules)
	}
	loc := c.mgr.Settings().Location
	lines := lo.Map(entries, func(e broadcast.Entry, _ int) string {
		next := "not running"
		if e.Live {
			next = "next " + e.Next.In(loc).Format("2006-01-02 15:04")
		}
		return fmt.Sprintf("#%d %s at %s (%s)", e.Schedule.ID, e.Schedule.Target, e.Schedule.At, next)
	})
	return req.Reply(ctx, fmt.Sprintf("Active schedules (%s):\n%s", loc, strings.Join(lines, "\n")))
}

func (c *commands) removeSchedule(ctx context.Context, req *router.Request) error {
	var id int64
	if len(req.Args) == 1 {
		id, _ = strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	}
	err := c.mgr.RemoveSchedule(ctx, req.Requester(), id)
	switch {
	case err == nil:
		return req.Reply(ctx, fmt.Sprintf("🗑 Schedule #%d removed.", id))
	case errors.Is(err, broadcast.ErrUnauthorized):
		_ = req.Reply(ctx, msgDenied("removeschedule"))
	case errors.Is(err, broadcast.ErrInvalidInput):
		_ = req.Reply(ctx, msgRemoveUsage)
	case errors.Is(err, broadcast.ErrNotFound):
		_ = req.Reply(ctx, fmt.Sprintf("Schedule #%d not found.", id))
	default:
		_ = req.Reply(ctx, msgSaveFailed)
	}
	return err
}

func (c *commands) quote(ctx context.Context, req *router.Request) error {
	start := time.Now()
	text := c.quotes.Resolve(ctx)
	c.log.Debug("quote preview", logx.Duration("took", time.Since(start)))
	return req.Reply(ctx, text)
}
