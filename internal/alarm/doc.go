// Package alarm arms countdown timers from config-declared schedules.
//
// Cron fires on its own goroutines; every arm is posted to the frame loop so
// the scheduler is only ever touched from the ticking goroutine.
package alarm
