// Package scheduler provides scheduled housekeeping jobs for the stock
// stream backend. It handles:
// - Periodic archive flushes to the local SQLite database
// - MongoDB live-state snapshot mirroring
// - Market summary notifications at fixed hours
// - Daily cleanup of old archive rows and stale triggered alerts
//
// The jobs themselves are implemented in jobs.go
package scheduler
