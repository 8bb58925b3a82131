// Package adapter connects the bot to Telegram via telebot, in long-polling or
// webhook mode.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "quotecast/internal/runtime/supervisor"
	kit "quotecast/internal/transport"
	logx "quotecast/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// WebhookURL switches the adapter to webhook mode when set.
	WebhookURL string
	// Listen is the local address of the webhook server (e.g. ":8443").
	Listen string

	// APIURL overrides the Bot API endpoint.
	APIURL string
	// Offline skips the getMe call on construction.
	Offline bool
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // chan<- kit.Update

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuSent string
}

// chatRef is a delivery target as given by the operator: a numeric chat id or
// a public @username. Telegram accepts both as chat_id.
type chatRef string

func (c chatRef) Recipient() string { return string(c) }

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var poller tele.Poller = &tele.LongPoller{Timeout: timeout}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		listen := strings.TrimSpace(cfg.Listen)
		if listen == "" {
			listen = ":8443"
		}
		poller = &tele.Webhook{
			Listen:   listen,
			Endpoint: &tele.WebhookEndpoint{PublicURL: url},
		}
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Poller:  poller,
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Mode is "webhook" or "polling".
func (a *Adapter) Mode() string {
	if strings.TrimSpace(a.cfg.WebhookURL) != "" {
		return "webhook"
	}
	return "polling"
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.forward(kit.Update{Message: &kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
			IsPrivate:    m.Private(),
		}})
		return nil
	})
}

func (a *Adapter) forward(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop; restart it if it returns while we are still running.
	sup.GoRestart("telebot."+a.Mode(), func(c context.Context) error {
		a.log.Info("receiving updates", logx.String("mode", a.Mode()))
		a.bot.Start()
		if c.Err() != nil {
			return nil
		}
		return errors.New("telebot loop exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop stops receiving updates. It never blocks longer than a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	a.log.Info("stopped")
	return nil
}

const telegramTextLimit = 4000

// Send delivers text to target, splitting it into several messages when it
// exceeds the Telegram size limit.
func (a *Adapter) Send(ctx context.Context, target, text string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.New("empty target")
	}
	to := chatRef(target)
	for _, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(to, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

// splitTelegramText splits s into chunks of at most limit runes, preferring
// newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// UpdateMenuCommands publishes the command menu (setMyCommands). It only calls
// Telegram when the list changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	list := make([]tele.Command, 0, len(cmds))
	var key strings.Builder
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
		key.WriteString(c.Command + "\x00" + d + "\x00")
		if len(list) == 100 {
			break
		}
	}
	if key.String() == a.menuSent {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuSent = key.String()
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
