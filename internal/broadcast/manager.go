// Package broadcast composes the schedule store, the trigger scheduler and the
// quote resolver into the daily broadcast workflow.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quotecast/internal/auth"
	"quotecast/internal/schedule"
	"quotecast/internal/storage"
	"quotecast/internal/task/scheduler"
	logx "quotecast/pkg/logx"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotConfigured = errors.New("no default target configured")
	ErrNotFound      = errors.New("schedule not found")
	ErrDelivery      = errors.New("delivery failed")

	// ErrPersistence is returned (wrapped) when the store fails.
	ErrPersistence = storage.ErrPersistence
)

// Store is the persistence the manager needs.
type Store interface {
	CreateTable(ctx context.Context) error
	Save(ctx context.Context, target string, at schedule.TimeOfDay) (schedule.Schedule, error)
	LoadActive(ctx context.Context) ([]schedule.Schedule, error)
	Deactivate(ctx context.Context, id int64) (bool, error)
}

// Triggers is the trigger engine the manager drives.
type Triggers interface {
	Register(fc scheduler.FireContext, fn scheduler.FireFunc) (scheduler.Handle, error)
	Unregister(h scheduler.Handle) bool
	ClearAll() int
	Has(h scheduler.Handle) bool
	Snapshot() []scheduler.TriggerInfo
}

// Resolver produces the text of each broadcast. It never fails.
type Resolver interface {
	Resolve(ctx context.Context) string
}

// Sender delivers text to an opaque target.
type Sender interface {
	Send(ctx context.Context, target, text string) error
}

// Settings is fixed for the lifetime of the manager.
type Settings struct {
	AdminID     string
	ChannelID   string
	DefaultTime schedule.TimeOfDay
	Location    *time.Location
}

type Manager struct {
	settings Settings
	guard    auth.Guard

	store    Store
	triggers Triggers
	resolver Resolver
	sender   Sender

	log logx.Logger
}

func New(settings Settings, store Store, triggers Triggers, resolver Resolver, sender Sender, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if settings.Location == nil {
		settings.Location = time.Local
	}
	return &Manager{
		settings: settings,
		guard:    auth.NewGuard(settings.AdminID),
		store:    store,
		triggers: triggers,
		resolver: resolver,
		sender:   sender,
		log:      log,
	}
}

func (m *Manager) Settings() Settings { return m.settings }

// Authorized reports whether requesterID passes the admin check.
func (m *Manager) Authorized(requesterID string) bool { return m.guard.IsAuthorized(requesterID) }

// Bootstrap makes the live trigger set match the store: every active schedule
// gets exactly one trigger. It is safe to call repeatedly.
//
// When the store holds no active schedules the default broadcast (configured
// time, default target) is registered instead. A store failure is not fatal:
// the current triggers are kept, or the default broadcast is registered when
// nothing is live, and nil is returned.
func (m *Manager) Bootstrap(ctx context.Context) error {
	active, err := m.loadActive(ctx)
	if err != nil {
		live := len(m.triggers.Snapshot())
		if live == 0 {
			m.registerDefault()
		}
		m.log.Warn("bootstrap: store unavailable; keeping current triggers",
			logx.Int("live", live),
			logx.Bool("default", m.triggers.Has(scheduler.DefaultHandle)),
			logx.Err(err),
		)
		return nil
	}
	cleared := m.triggers.ClearAll()

	registered := 0
	for _, sc := range active {
		if err := m.register(sc); err != nil {
			m.log.Error("schedule register failed", logx.Int64("id", sc.ID), logx.Err(err))
			continue
		}
		registered++
	}
	if len(active) == 0 {
		m.registerDefault()
	}
	m.log.Info("bootstrap complete",
		logx.Int("cleared", cleared),
		logx.Int("active", len(active)),
		logx.Int("registered", registered),
		logx.Bool("default", m.triggers.Has(scheduler.DefaultHandle)),
	)
	return nil
}

// AddSchedule persists a daily broadcast for target at hhmm and starts its trigger.
func (m *Manager) AddSchedule(ctx context.Context, requesterID, target, hhmm string) (schedule.Schedule, error) {
	if !m.guard.IsAuthorized(requesterID) {
		return schedule.Schedule{}, ErrUnauthorized
	}
	at, err := schedule.ParseTimeOfDay(strings.TrimSpace(hhmm))
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return schedule.Schedule{}, ErrNotConfigured
	}

	sc, err := m.store.Save(ctx, target, at)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("add schedule: %w", err)
	}
	if err := m.register(sc); err != nil {
		// The row is persisted; the next bootstrap picks it up.
		m.log.Error("schedule saved but trigger register failed", logx.Int64("id", sc.ID), logx.Err(err))
		return sc, nil
	}
	// Persisted schedules replace the default broadcast.
	if m.triggers.Unregister(scheduler.DefaultHandle) {
		m.log.Info("default broadcast replaced by persisted schedule", logx.Int64("id", sc.ID))
	}
	m.log.Info("schedule added",
		logx.Int64("id", sc.ID),
		logx.String("target", sc.Target),
		logx.String("at", sc.At.String()),
		logx.String("requester", requesterID),
	)
	return sc, nil
}

// RemoveSchedule deactivates a schedule and cancels its trigger. The row is kept.
func (m *Manager) RemoveSchedule(ctx context.Context, requesterID string, id int64) error {
	if !m.guard.IsAuthorized(requesterID) {
		return ErrUnauthorized
	}
	if id <= 0 {
		return fmt.Errorf("%w: schedule id must be positive", ErrInvalidInput)
	}
	ok, err := m.store.Deactivate(ctx, id)
	if err != nil {
		return fmt.Errorf("remove schedule: %w", err)
	}
	// Drop a stale trigger even when the row was already inactive.
	unregistered := m.triggers.Unregister(scheduler.ScheduleHandle(id))
	if !ok {
		return ErrNotFound
	}
	m.log.Info("schedule removed", logx.Int64("id", id), logx.Bool("trigger", unregistered), logx.String("requester", requesterID))
	return nil
}

// Entry is an active schedule together with its live trigger (if any).
type Entry struct {
	Schedule schedule.Schedule
	Live     bool
	Next     time.Time
}

// Schedules lists active schedules with the next firing of their trigger.
func (m *Manager) Schedules(ctx context.Context, requesterID string) ([]Entry, error) {
	if !m.guard.IsAuthorized(requesterID) {
		return nil, ErrUnauthorized
	}
	active, err := m.store.LoadActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	live := map[scheduler.Handle]scheduler.TriggerInfo{}
	for _, ti := range m.triggers.Snapshot() {
		live[ti.Handle] = ti
	}
	out := make([]Entry, 0, len(active))
	for _, sc := range active {
		e := Entry{Schedule: sc}
		if ti, ok := live[scheduler.ScheduleHandle(sc.ID)]; ok {
			e.Live, e.Next = true, ti.Next
		}
		out = append(out, e)
	}
	return out, nil
}

// DeliverNow sends text to the default target right away.
func (m *Manager) DeliverNow(ctx context.Context, requesterID, text string) error {
	if !m.guard.IsAuthorized(requesterID) {
		return ErrUnauthorized
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	target := strings.TrimSpace(m.settings.ChannelID)
	if target == "" {
		return ErrNotConfigured
	}
	if err := m.sender.Send(ctx, target, text); err != nil {
		m.log.Warn("deliver now failed", logx.String("target", target), logx.Err(err))
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	m.log.Info("delivered now", logx.String("target", target), logx.String("requester", requesterID))
	return nil
}

func (m *Manager) loadActive(ctx context.Context) ([]schedule.Schedule, error) {
	if err := m.store.CreateTable(ctx); err != nil {
		return nil, err
	}
	return m.store.LoadActive(ctx)
}

func (m *Manager) register(sc schedule.Schedule) error {
	if !sc.Active() {
		return fmt.Errorf("schedule %d is %s", sc.ID, sc.Status)
	}
	_, err := m.triggers.Register(scheduler.FireContext{
		Handle:     scheduler.ScheduleHandle(sc.ID),
		ScheduleID: sc.ID,
		Target:     sc.Target,
		At:         sc.At,
	}, m.fire)
	return err
}

func (m *Manager) registerDefault() {
	target := strings.TrimSpace(m.settings.ChannelID)
	if target == "" {
		m.log.Warn("no schedules stored and no default target configured; nothing to broadcast")
		return
	}
	_, err := m.triggers.Register(scheduler.FireContext{
		Handle: scheduler.DefaultHandle,
		Target: target,
		At:     m.settings.DefaultTime,
	}, m.fire)
	if err != nil {
		m.log.Error("default broadcast register failed", logx.Err(err))
		return
	}
	m.log.Info("default broadcast registered", logx.String("target", target), logx.String("at", m.settings.DefaultTime.String()))
}

// fire is the callback of every trigger. All it needs is carried by fc.
func (m *Manager) fire(ctx context.Context, fc scheduler.FireContext) {
	log := m.log.With(logx.String("handle", string(fc.Handle)), logx.String("target", fc.Target))
	if strings.TrimSpace(fc.Target) == "" {
		log.Warn("broadcast skipped: empty target")
		return
	}
	text := m.resolver.Resolve(ctx)
	if err := m.sender.Send(ctx, fc.Target, text); err != nil {
		// No retry: the next attempt is tomorrow's regular firing.
		log.Error("broadcast delivery failed", logx.Err(err))
		return
	}
	log.Info("broadcast delivered")
}
