package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(context.Context) error { return boom })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want boom", err)
	}
	if !strings.HasPrefix(err.Error(), "failing:") {
		t.Fatalf("error not prefixed with goroutine name: %v", err)
	}
	if s.Active() != 0 || s.Started() != 2 {
		t.Fatalf("active=%d started=%d", s.Active(), s.Started())
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go0("panicky", func(context.Context) { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Stop() = %v, want recorded panic", err)
	}
}

func TestCanceledIsNotAFailure(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		panic("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected an error after exhausting restarts")
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3 (first run plus two restarts)", got)
	}
}

func TestWaitHonorsDeadline(t *testing.T) {
	release := make(chan struct{})
	s := New(context.Background())
	s.Go0("stuck", func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() = %v, want deadline exceeded", err)
	}
	close(release)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}
