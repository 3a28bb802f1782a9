// Package storage persists the recipient list (everyone who has ever
// started the bot) and an append-only audit log of operator actions.
//
// Backends:
//   - sqlite (default): single file, modernc.org/sqlite
//   - badger: embedded key/value directory
//   - redis: shared server, sorted set keyed by join time
//   - memory: process-local, for tests and dry runs
//
// Recipient cursors page through the id space so a long broadcast never
// pins a connection or a read transaction.
package storage
