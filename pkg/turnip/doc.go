// Package turnip implements frame-driven countdown timers.
//
// A Scheduler owns a pool of Timers and advances every active timer once per
// Tick. Expired timers that allow recycling are handed back out by
// CreateTimer instead of allocating new objects.
//
// Timers created while a tick is being dispatched (for example from an expiry
// observer) are parked in a pending set and only join the active set after the
// pass completes, so they are first advanced on the following Tick.
//
// The package holds no locks. A Scheduler and its timers must be driven from
// a single goroutine, normally the one owned by the tick source.
package turnip
