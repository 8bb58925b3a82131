// Package router parses chat commands and runs their handlers on a bounded
// worker pool behind a middleware chain.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "quotecast/internal/runtime/supervisor"
	kit "quotecast/internal/transport"
	logx "quotecast/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routed but left out of help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Message *kit.Message
	ChatID  int64
	FromID  int64
	Command string
	Args    []string
	// ArgText is Args joined by single spaces.
	ArgText string
	ReqID   string

	Logger logx.Logger
	Sender kit.Sender
}

// Requester is the sender id in the form the authorization check expects.
func (r *Request) Requester() string { return strconv.FormatInt(r.FromID, 10) }

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Sender.Send(ctx, strconv.FormatInt(r.ChatID, 10), text)
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	Audit          AuditSink
	// UnknownReply answers unrecognized commands in private chats; empty ignores them.
	UnknownReply string
	BusyReply    string
}

type CommandManager struct {
	mu       sync.RWMutex
	commands []Command
	index    map[string]*Command

	opts   Options
	log    logx.Logger
	sender kit.Sender

	runMu   sync.Mutex
	running bool
	jobs    chan func()
}

func NewCommandManager(log logx.Logger, sender kit.Sender, opts Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = max(2, runtime.NumCPU())
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.BusyReply == "" {
		opts.BusyReply = "Busy, try again in a moment."
	}
	return &CommandManager{
		index:  map[string]*Command{},
		opts:   opts,
		log:    log,
		sender: sender,
		jobs:   make(chan func(), opts.QueueSize),
	}
}

// SetRegistry replaces the command set. Names and aliases are matched
// case-insensitively; a later duplicate is ignored.
func (m *CommandManager) SetRegistry(cmds []Command) {
	list := make([]Command, 0, len(cmds))
	seen := map[string]bool{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if seen[name] {
			m.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		seen[name] = true
		c.Name = name
		list = append(list, c)
	}
	index := make(map[string]*Command, len(list))
	for i := range list {
		c := &list[i]
		index[c.Name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := index[a]; a != "" && !taken {
				index[a] = c
			}
		}
	}

	m.mu.Lock()
	m.commands = list
	m.index = index
	m.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.commands...)
}

// Lookup finds a command by name or alias.
func (m *CommandManager) Lookup(name string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.index[strings.ToLower(name)]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// DispatchLoop reads updates until ctx is done or the channel closes, running
// each command on the worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = true
	jobs := m.jobs
	m.runMu.Unlock()

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", m.opts.Workers), logx.Int("job_queue_cap", cap(jobs)))

	for i := 0; i < m.opts.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		close(m.jobs)
		m.jobs = make(chan func(), m.opts.QueueSize)
		m.runMu.Unlock()

		// Let queued commands drain briefly.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
		sup.Cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, args, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}
	cmd, found := m.Lookup(name)
	if !found {
		if m.opts.UnknownReply != "" && msg.IsPrivate {
			_ = m.sender.Send(ctx, msg.ChatTarget(), m.opts.UnknownReply)
		}
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Message: msg,
		ChatID:  msg.ChatID,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ArgText: strings.Join(args, " "),
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		Sender: m.sender,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWAudit(m.opts.Audit, m.log),
		MWRequestLog(m.log),
		MWPanicRecover(m.log),
		MWTimeout(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_ = m.sender.Send(ctx, msg.ChatTarget(), m.opts.BusyReply)
	}
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return false
	}
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// ParseCommand splits "/name@bot arg1  arg2" into ("name", ["arg1", "arg2"]).
// Text that is not a command reports ok=false.
func ParseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
