// Package logx is quotecast's logging layer: a zerolog-backed Logger with
// typed fields, and a Service that owns the sinks (console, JSON file, an
// optional Telegram log chat) and can swap them while the bot runs.
package logx
