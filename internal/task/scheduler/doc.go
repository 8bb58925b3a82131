// Package scheduler materializes broadcast schedules into live daily triggers.
//
// Each trigger is registered under a Handle. Handles are stable (derived from
// the schedule id) so registering the same schedule twice replaces the previous
// trigger instead of adding a second one.
//
// Triggers are driven by robfig/cron in a single configured location. Every
// firing runs on its own goroutine, and a per-trigger SkipIfStillRunning chain
// keeps a trigger from overlapping itself. Missed instants (process down,
// clock jumps) are skipped; the next run is always computed from "now".
//
// Registering while stopped is supported: definitions are kept and applied on
// the next Start.
package scheduler
