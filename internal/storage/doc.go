// Package storage persists the expiry journal.
//
// Drivers:
//   - file: append-only JSON Lines
//   - sqlite: pure-Go SQLite (modernc.org/sqlite) with embedded migrations
//
// Driver "none" (or empty) disables storage; Open then returns (nil, nil).
package storage
