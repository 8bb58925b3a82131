package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"quotecast/internal/storage"
	kit "quotecast/internal/transport"
	logx "quotecast/pkg/logx"
)

type reply struct{ target, text string }

type recordingSender struct {
	mu      sync.Mutex
	replies []reply
	notify  chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{notify: make(chan struct{}, 64)}
}

func (s *recordingSender) Send(_ context.Context, target, text string) error {
	s.mu.Lock()
	s.replies = append(s.replies, reply{target, text})
	s.mu.Unlock()
	s.notify <- struct{}{}
	return nil
}

func (s *recordingSender) wait(t *testing.T, n int) []reply {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.notify:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for reply %d", i+1)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reply(nil), s.replies...)
}

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) all() []storage.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]storage.AuditEntry(nil), a.entries...)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{in: "/post hello world", name: "post", args: []string{"hello", "world"}, ok: true},
		{in: "/post@QuotifyBot   hello    world ", name: "post", args: []string{"hello", "world"}, ok: true},
		{in: "/START", name: "start", args: []string{}, ok: true},
		{in: "hello", ok: false},
		{in: "/", ok: false},
		{in: "   ", ok: false},
		{in: "/@bot", ok: false},
	}
	for _, tt := range tests {
		name, args, ok := ParseCommand(tt.in)
		if ok != tt.ok || name != tt.name {
			t.Errorf("ParseCommand(%q) = %q, %v, want %q, %v", tt.in, name, ok, tt.name, tt.ok)
			continue
		}
		if ok {
			if diff := cmp.Diff(tt.args, args); diff != "" {
				t.Errorf("ParseCommand(%q) args (-want +got):\n%s", tt.in, diff)
			}
		}
	}
}

func TestRegistryAliasesAndDuplicates(t *testing.T) {
	m := NewCommandManager(logx.Nop(), newRecordingSender(), Options{})
	h := func(context.Context, *Request) error { return nil }
	m.SetRegistry([]Command{
		{Name: "Post", Aliases: []string{"p"}, Description: "post now", Handle: h},
		{Name: "post", Description: "dup", Handle: h},
		{Name: "help", Aliases: []string{"p"}, Handle: h},
		{Name: "secret", Hidden: true, Handle: h},
		{Name: "nohandler"},
	})
	if c, ok := m.Lookup("P"); !ok || c.Name != "post" {
		t.Fatalf("alias lookup = %+v, %v", c, ok)
	}
	if got := len(m.Commands()); got != 3 {
		t.Fatalf("commands = %d, want 3", got)
	}
	want := []kit.BotCommand{{Command: "post", Description: "post now"}, {Command: "help"}}
	if diff := cmp.Diff(want, m.MenuCommands()); diff != "" {
		t.Fatalf("menu (-want +got):\n%s", diff)
	}
	help := m.HelpText("")
	if !strings.Contains(help, "/post - post now") || strings.Contains(help, "secret") {
		t.Fatalf("help = %q", help)
	}
	if got := m.HelpText("/zzz"); !strings.Contains(got, "Unknown command") {
		t.Fatalf("help topic = %q", got)
	}
}

func TestDispatchRunsHandlersAndAudits(t *testing.T) {
	snd := newRecordingSender()
	audit := &memAudit{}
	m := NewCommandManager(logx.Nop(), snd, Options{Workers: 2, Audit: audit, UnknownReply: "unknown"})
	m.SetRegistry([]Command{
		{Name: "echo", Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, req.Requester()+":"+req.ArgText)
		}},
		{Name: "fail", Handle: func(ctx context.Context, req *Request) error {
			_ = req.Reply(ctx, "failing")
			return errors.New("nope")
		}},
		{Name: "boom", Handle: func(ctx context.Context, req *Request) error {
			defer func() { _ = req.Reply(ctx, "after panic") }()
			panic("kaboom")
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	msg := func(text string) kit.Update {
		return kit.Update{Message: &kit.Message{ChatID: 555, FromID: 42, Text: text, IsPrivate: true}}
	}
	updates <- msg("/echo@QuotifyBot  a   b")
	updates <- msg("not a command")
	updates <- msg("/missing")
	updates <- msg("/fail")
	updates <- msg("/boom")

	got := snd.wait(t, 4)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("DispatchLoop: %v", err)
	}

	texts := map[string]bool{}
	for _, r := range got {
		if r.target != "555" {
			t.Fatalf("reply sent to %q", r.target)
		}
		texts[r.text] = true
	}
	for _, want := range []string{"42:a b", "unknown", "failing", "after panic"} {
		if !texts[want] {
			t.Errorf("missing reply %q in %+v", want, got)
		}
	}

	entries := audit.all()
	if len(entries) != 3 {
		t.Fatalf("audit entries = %+v", entries)
	}
	byCmd := map[string]storage.AuditEntry{}
	for _, e := range entries {
		byCmd[e.Command] = e
	}
	if e := byCmd["echo"]; !e.OK || e.Args != "a b" || e.ActorID != "42" || e.ChatID != "555" {
		t.Fatalf("echo audit = %+v", e)
	}
	if e := byCmd["fail"]; e.OK || e.Error != "nope" {
		t.Fatalf("fail audit = %+v", e)
	}
	if e := byCmd["boom"]; e.OK || !strings.Contains(e.Error, "kaboom") {
		t.Fatalf("boom audit = %+v", e)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))
	if err := h(context.Background(), &Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestEnqueueWhenNotRunningIsRejected(t *testing.T) {
	m := NewCommandManager(logx.Nop(), newRecordingSender(), Options{})
	if m.tryEnqueue(func() {}) {
		t.Fatal("enqueue accepted without a running dispatcher")
	}
}
