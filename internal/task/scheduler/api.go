package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	logx "quotecast/pkg/logx"
)

// Register creates (or replaces) the daily trigger for fc at fc.At in the
// scheduler location. If fc.Handle is empty the schedule handle is used.
func (s *Service) Register(fc FireContext, fn FireFunc) (Handle, error) {
	if fn == nil {
		return "", errors.New("fire func required")
	}
	if !fc.At.Valid() {
		return "", fmt.Errorf("invalid time of day %s", fc.At)
	}
	if fc.Handle == "" {
		if fc.ScheduleID <= 0 {
			return "", errors.New("handle or schedule id required")
		}
		fc.Handle = ScheduleHandle(fc.ScheduleID)
	}
	spec := fc.At.CronSpec()
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", spec, err)
	}
	return s.register(fc, fn, sched), nil
}

func (s *Service) register(fc FireContext, fn FireFunc, sched cron.Schedule) Handle {
	t := &trigger{fc: fc, fn: fn, sched: sched}
	t.job = cron.NewChain(cron.SkipIfStillRunning(s.clog)).Then(cron.FuncJob(func() { s.fire(t) }))

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by handle: one schedule never owns two live triggers.
	replaced := s.removeLocked(fc.Handle)
	s.triggers[fc.Handle] = t
	if s.c != nil {
		s.addCronLocked(t)
	}
	s.log.Debug("trigger registered",
		logx.String("handle", string(fc.Handle)),
		logx.String("target", fc.Target),
		logx.String("at", fc.At.String()),
		logx.Time("next", t.sched.Next(time.Now().In(s.loc))),
		logx.Bool("replaced", replaced),
	)
	return fc.Handle
}

// Unregister cancels a trigger. A firing already in progress runs to completion.
func (s *Service) Unregister(h Handle) bool {
	s.mu.Lock()
	removed := s.removeLocked(h)
	s.mu.Unlock()
	if removed {
		s.log.Debug("trigger removed", logx.String("handle", string(h)))
	}
	return removed
}

// ClearAll cancels every registered trigger and returns how many were removed.
func (s *Service) ClearAll() int {
	s.mu.Lock()
	n := 0
	for h := range s.triggers {
		if s.removeLocked(h) {
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.log.Debug("triggers cleared", logx.Int("count", n))
	}
	return n
}

// Has reports whether h is currently registered.
func (s *Service) Has(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.triggers[h]
	return ok
}

// Len returns the number of registered triggers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

// Snapshot lists registered triggers ordered by schedule id, then handle.
func (s *Service) Snapshot() []TriggerInfo {
	s.mu.Lock()
	now := time.Now().In(s.loc)
	out := make([]TriggerInfo, 0, len(s.triggers))
	for h, t := range s.triggers {
		it := TriggerInfo{
			Handle:     h,
			ScheduleID: t.fc.ScheduleID,
			Target:     t.fc.Target,
			At:         t.fc.At,
			State:      t.State(),
			Fires:      t.fires.Load(),
		}
		if s.c != nil && t.entryID != 0 {
			e := s.c.Entry(t.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		if it.Next.IsZero() {
			it.Next = t.sched.Next(now)
		}
		out = append(out, it)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduleID != out[j].ScheduleID {
			return out[i].ScheduleID < out[j].ScheduleID
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// removeLocked marks the trigger cancelled and drops its cron entry. Call with s.mu held.
func (s *Service) removeLocked(h Handle) bool {
	t, ok := s.triggers[h]
	if !ok {
		return false
	}
	t.state.Store(int32(StateCancelled))
	if s.c != nil && t.entryID != 0 {
		s.c.Remove(t.entryID)
	}
	t.entryID = 0
	delete(s.triggers, h)
	return true
}

func (s *Service) fire(t *trigger) {
	if !t.state.CompareAndSwap(int32(StateScheduled), int32(StateFiring)) {
		// Cancelled between the cron tick and now.
		return
	}
	defer t.state.CompareAndSwap(int32(StateFiring), int32(StateScheduled))

	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if s.cfg.FireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.cfg.FireTimeout)
		defer cancel()
	}

	n := t.fires.Add(1)
	start := time.Now()
	s.log.Debug("trigger firing",
		logx.String("handle", string(t.fc.Handle)),
		logx.String("target", t.fc.Target),
		logx.Uint64("n", n),
	)
	t.fn(ctx, t.fc)
	s.log.Debug("trigger fired", logx.String("handle", string(t.fc.Handle)), logx.Duration("took", time.Since(start)))
}
