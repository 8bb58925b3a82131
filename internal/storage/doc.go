// Package storage provides the persistence layer used by the bot.
//
// It currently supports:
//   - Broadcast schedules (the durable source of truth for triggers)
//   - Audit log appends (operator commands)
package storage
