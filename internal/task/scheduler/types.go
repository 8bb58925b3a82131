package scheduler

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"quotecast/internal/schedule"
	logx "quotecast/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	// Location is the single timezone used for every trigger (nil means time.Local).
	Location *time.Location
	// FireTimeout bounds one firing (0 disables the bound).
	FireTimeout time.Duration
}

// Handle identifies a registered trigger.
type Handle string

// DefaultHandle is used for the unpersisted default broadcast.
const DefaultHandle Handle = "default"

// ScheduleHandle returns the handle owned by a persisted schedule.
func ScheduleHandle(id int64) Handle { return Handle("schedule:" + strconv.FormatInt(id, 10)) }

// FireContext is bound to a trigger at registration time and handed to every firing.
type FireContext struct {
	Handle     Handle
	ScheduleID int64 // 0 for the default broadcast
	Target     string
	At         schedule.TimeOfDay
}

// FireFunc is invoked once per firing.
type FireFunc func(ctx context.Context, fc FireContext)

// State of a single trigger.
type State int32

const (
	StateScheduled State = iota
	StateFiring
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateFiring:
		return "firing"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type trigger struct {
	fc    FireContext
	fn    FireFunc
	sched cron.Schedule

	// job is the chain-wrapped firing; it survives Stop/Start so the overlap
	// guard stays attached to the trigger, not to a cron entry.
	job     cron.Job
	entryID cron.EntryID

	state atomic.Int32
	fires atomic.Uint64
}

func (t *trigger) State() State { return State(t.state.Load()) }

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	clog   cron.Logger
	c      *cron.Cron

	// runCtx is the parent of every firing context. It outlives Stop() until
	// in-flight firings finish or the stop deadline passes.
	runCtx    context.Context
	runCancel context.CancelFunc

	triggers map[Handle]*trigger
}

// TriggerInfo is a point-in-time view of one trigger.
type TriggerInfo struct {
	Handle     Handle
	ScheduleID int64
	Target     string
	At         schedule.TimeOfDay
	State      State
	Fires      uint64
	Next       time.Time
	Prev       time.Time
}
