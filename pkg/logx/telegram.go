package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	telegramMaxText  = 3500
	telegramMaxValue = 600
	telegramQueue    = 256
)

type telegramLine struct {
	target string
	text   string
}

// telegramSink is a zerolog.LevelWriter that forwards lines to a chat on a
// background worker. Writes never block: lines over the rate or queue limit
// are dropped.
type telegramSink struct {
	sender Sender
	queue  chan telegramLine

	mu      sync.Mutex
	target  string
	min     zerolog.Level
	limiter *rate.Limiter
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newTelegramSink(sender Sender) *telegramSink {
	return &telegramSink{sender: sender, queue: make(chan telegramLine, telegramQueue)}
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = strings.TrimSpace(cfg.Target)
	t.min = zerolog.WarnLevel
	if strings.TrimSpace(cfg.MinLevel) != "" {
		t.min = ParseLevel(cfg.MinLevel)
	}
	perSec := max(1, cfg.RatePerSec)
	t.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)

	if !cfg.Enabled {
		return
	}
	if t.target == "" {
		fmt.Fprintln(os.Stderr, "logx: telegram logging enabled without logging.telegram.target")
	}
	if t.cancel == nil && t.sender != nil {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.wg.Add(1)
		go t.run(ctx)
	}
}

func (t *telegramSink) run(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-t.queue:
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = t.sender.Send(sctx, line.target, line.text)
			cancel()
		}
	}
}

func (t *telegramSink) close() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.NoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	target, minLevel, lim, running := t.target, t.min, t.limiter, t.cancel != nil
	t.mu.Unlock()

	if !running || target == "" || level < minLevel || level == zerolog.NoLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := renderEvent(p); text != "" {
		select {
		case t.queue <- telegramLine{target: target, text: text}:
		default:
		}
	}
	return len(p), nil
}

// renderEvent turns one JSON log line into "[LEVEL] message" followed by
// "- key=value" lines in key order. Non-JSON input is passed through.
func renderEvent(p []byte) string {
	var ev map[string]any
	if err := json.Unmarshal(p, &ev); err != nil {
		return clip(strings.TrimSpace(string(p)), telegramMaxText)
	}

	var b strings.Builder
	if lvl, _ := ev[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := ev[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(ev))
	for k := range ev {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(ev[k]), telegramMaxValue))
	}
	return clip(b.String(), telegramMaxText)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
