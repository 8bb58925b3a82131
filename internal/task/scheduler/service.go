package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logx "quotecast/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		loc:      loc,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		clog:     cronLogger{log: log},
		triggers: map[Handle]*trigger{},
	}
}

// Location returns the timezone every trigger is evaluated in.
func (s *Service) Location() *time.Location { return s.loc }

// Running reports whether Start has been called (and Stop has not).
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Start starts cron triggering and registers every known trigger. Firings
// inherit the values of ctx but not its cancellation; Stop ends them.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(s.clog),
		cron.WithChain(cron.Recover(s.clog)),
	)
	for _, t := range s.triggers {
		s.addCronLocked(t)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.triggers)))
}

// Stop stops cron triggering. Firings already running are allowed to finish
// until ctx is done; their contexts are cancelled after that.
// Trigger definitions remain so they can resume on the next Start().
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	for _, t := range s.triggers {
		t.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("stop deadline reached with firings in flight", logx.Err(ctx.Err()))
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) addCronLocked(t *trigger) {
	t.entryID = s.c.Schedule(t.sched, t.job)
}

// cronLogger routes robfig/cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
