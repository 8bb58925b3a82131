package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/goleak"

	"quotecast/internal/schedule"
	logx "quotecast/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func addisAbaba(t *testing.T) *time.Location {
	t.Helper()
	// Fixed zone keeps the test independent of the host tzdata.
	return time.FixedZone("EAT", 3*60*60)
}

func noop(context.Context, FireContext) {}

func TestRegisterUpsertsByHandle(t *testing.T) {
	s := New(Config{Location: addisAbaba(t)}, logx.Nop())

	fc := FireContext{ScheduleID: 7, Target: "@quotes", At: schedule.TimeOfDay{Hour: 9, Minute: 30}}
	h1, err := s.Register(fc, noop)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if h1 != ScheduleHandle(7) {
		t.Fatalf("handle = %q, want %q", h1, ScheduleHandle(7))
	}
	fc.At = schedule.TimeOfDay{Hour: 10, Minute: 0}
	h2, err := s.Register(fc, noop)
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if h1 != h2 || s.Len() != 1 {
		t.Fatalf("expected upsert, got handles %q/%q and %d triggers", h1, h2, s.Len())
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].At != fc.At {
		t.Fatalf("snapshot = %+v, want the replacement time", snap)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := New(Config{}, logx.Nop())
	cases := []struct {
		name string
		fc   FireContext
		fn   FireFunc
	}{
		{name: "nil func", fc: FireContext{ScheduleID: 1}, fn: nil},
		{name: "bad hour", fc: FireContext{ScheduleID: 1, At: schedule.TimeOfDay{Hour: 24}}, fn: noop},
		{name: "bad minute", fc: FireContext{ScheduleID: 1, At: schedule.TimeOfDay{Minute: 60}}, fn: noop},
		{name: "no identity", fc: FireContext{}, fn: noop},
	}
	for _, tc := range cases {
		if _, err := s.Register(tc.fc, tc.fn); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("rejected registrations left %d triggers", s.Len())
	}
}

func TestUnregisterAndClearAll(t *testing.T) {
	s := New(Config{}, logx.Nop())
	for id := int64(1); id <= 3; id++ {
		if _, err := s.Register(FireContext{ScheduleID: id, At: schedule.TimeOfDay{Hour: 8}}, noop); err != nil {
			t.Fatalf("Register %d: %v", id, err)
		}
	}
	if _, err := s.Register(FireContext{Handle: DefaultHandle, At: schedule.TimeOfDay{Hour: 11, Minute: 11}}, noop); err != nil {
		t.Fatalf("Register default: %v", err)
	}
	if !s.Unregister(ScheduleHandle(2)) {
		t.Fatal("Unregister returned false for a live trigger")
	}
	if s.Unregister(ScheduleHandle(2)) {
		t.Fatal("second Unregister returned true")
	}
	if !s.Has(DefaultHandle) || s.Len() != 3 {
		t.Fatalf("unexpected triggers after unregister: %+v", s.Snapshot())
	}
	if n := s.ClearAll(); n != 3 {
		t.Fatalf("ClearAll() = %d, want 3", n)
	}
	if s.Len() != 0 || s.ClearAll() != 0 {
		t.Fatal("ClearAll left triggers behind")
	}
}

func TestDailyNextFire(t *testing.T) {
	loc := addisAbaba(t)
	s := New(Config{Location: loc}, logx.Nop())
	at := schedule.TimeOfDay{Hour: 9, Minute: 30}
	sched, err := s.parser.Parse(at.CronSpec())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{name: "before today", from: time.Date(2026, 5, 4, 9, 29, 59, 0, loc), want: time.Date(2026, 5, 4, 9, 30, 0, 0, loc)},
		{name: "exactly at fires tomorrow", from: time.Date(2026, 5, 4, 9, 30, 0, 0, loc), want: time.Date(2026, 5, 5, 9, 30, 0, 0, loc)},
		{name: "missed instant is skipped", from: time.Date(2026, 5, 4, 14, 0, 0, 0, loc), want: time.Date(2026, 5, 5, 9, 30, 0, 0, loc)},
		{name: "utc input uses scheduler zone", from: time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC).In(loc), want: time.Date(2026, 5, 4, 9, 30, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := sched.Next(tt.from); !got.Equal(tt.want) {
			t.Errorf("%s: Next(%v) = %v, want %v", tt.name, tt.from, got, tt.want)
		}
	}

	// Exactly one firing per day: successive instants are one day apart.
	cur := time.Date(2026, 5, 1, 0, 0, 0, 0, loc)
	var prev time.Time
	for i := 0; i < 10; i++ {
		cur = sched.Next(cur)
		if cur.Hour() != 9 || cur.Minute() != 30 {
			t.Fatalf("firing %d at %v", i, cur)
		}
		if !prev.IsZero() && cur.Sub(prev) != 24*time.Hour {
			t.Fatalf("firing %d is %v after the previous one", i, cur.Sub(prev))
		}
		prev = cur
	}
}

func TestFireStateTransitions(t *testing.T) {
	s := New(Config{FireTimeout: time.Second}, logx.Nop())
	entered := make(chan FireContext, 1)
	release := make(chan struct{})
	fc := FireContext{ScheduleID: 5, Target: "@quotes", At: schedule.TimeOfDay{Hour: 6}}
	if _, err := s.Register(fc, func(ctx context.Context, got FireContext) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("firing context has no deadline")
		}
		entered <- got
		<-release
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.mu.Lock()
	tr := s.triggers[ScheduleHandle(5)]
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tr.job.Run()
		close(done)
	}()
	got := <-entered
	if got.Target != "@quotes" || got.ScheduleID != 5 || got.Handle != ScheduleHandle(5) {
		t.Fatalf("fire context = %+v", got)
	}
	if st := tr.State(); st != StateFiring {
		t.Fatalf("state while firing = %v", st)
	}

	// An overlapping tick for the same trigger is skipped, not queued.
	tr.job.Run()
	if n := tr.fires.Load(); n != 1 {
		t.Fatalf("overlapping run fired: fires=%d", n)
	}

	close(release)
	<-done
	if st := tr.State(); st != StateScheduled {
		t.Fatalf("state after firing = %v", st)
	}
}

func TestUnregisterDuringFiringLetsItFinish(t *testing.T) {
	s := New(Config{}, logx.Nop())
	entered := make(chan struct{})
	release := make(chan struct{})
	var completed atomic.Bool
	if _, err := s.Register(FireContext{ScheduleID: 1, At: schedule.TimeOfDay{Hour: 1}}, func(ctx context.Context, _ FireContext) {
		close(entered)
		<-release
		completed.Store(ctx.Err() == nil)
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.mu.Lock()
	tr := s.triggers[ScheduleHandle(1)]
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tr.job.Run()
		close(done)
	}()
	<-entered
	if !s.Unregister(ScheduleHandle(1)) {
		t.Fatal("Unregister failed")
	}
	close(release)
	<-done
	if !completed.Load() {
		t.Fatal("in-flight firing was aborted")
	}
	if st := tr.State(); st != StateCancelled {
		t.Fatalf("state = %v, want cancelled", st)
	}

	// A cancelled trigger never fires again, even if a stale tick arrives.
	tr.job.Run()
	if n := tr.fires.Load(); n != 1 {
		t.Fatalf("cancelled trigger fired again: fires=%d", n)
	}
}

func TestStartedServiceFires(t *testing.T) {
	s := New(Config{Location: time.UTC, FireTimeout: time.Second}, logx.Nop())
	s.Start(context.Background())

	var mu sync.Mutex
	var got []FireContext
	fired := make(chan struct{}, 4)
	s.register(FireContext{Handle: "tick", Target: "@quotes", At: schedule.TimeOfDay{}}, func(_ context.Context, fc FireContext) {
		mu.Lock()
		got = append(got, fc)
		mu.Unlock()
		fired <- struct{}{}
	}, cron.Every(time.Second))

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not fire")
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Fires == 0 || snap[0].Next.IsZero() {
		t.Fatalf("snapshot = %+v", snap)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	if got[0].Target != "@quotes" || got[0].Handle != "tick" {
		t.Fatalf("fire context = %+v", got[0])
	}
}

func TestRegisterBeforeStartIsAppliedOnStart(t *testing.T) {
	s := New(Config{}, logx.Nop())
	if _, err := s.Register(FireContext{ScheduleID: 3, At: schedule.TimeOfDay{Hour: 12}}, noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if s.Running() {
		t.Fatal("service reports running before Start")
	}
	s.Start(context.Background())
	s.mu.Lock()
	entry := s.triggers[ScheduleHandle(3)].entryID
	s.mu.Unlock()
	if entry == 0 {
		t.Fatal("trigger was not added to cron on Start")
	}
	s.Stop(context.Background())
	if s.Len() != 1 {
		t.Fatalf("definitions lost on Stop: %d", s.Len())
	}
}

type ctxKey struct{}

func TestFiringKeepsStartValuesButNotCancellation(t *testing.T) {
	s := New(Config{FireTimeout: time.Second}, logx.Nop())
	startCtx, cancelStart := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-7"))
	s.Start(startCtx)
	cancelStart()

	type seen struct {
		val any
		err error
	}
	got := make(chan seen, 1)
	if _, err := s.Register(FireContext{ScheduleID: 3, At: schedule.TimeOfDay{Hour: 3}}, func(ctx context.Context, _ FireContext) {
		got <- seen{val: ctx.Value(ctxKey{}), err: ctx.Err()}
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.mu.Lock()
	tr := s.triggers[ScheduleHandle(3)]
	s.mu.Unlock()
	tr.job.Run()

	g := <-got
	if g.val != "req-7" || g.err != nil {
		t.Fatalf("firing ctx value=%v err=%v", g.val, g.err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
}
