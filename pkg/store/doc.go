// Package store persists tracked entities and their watermarks.
//
// Three backends implement Store:
//   - FileStore: a JSON document rewritten atomically after each change,
//     under a lock file so a daemon and CLI commands can share it
//   - RedisStore: one key per entity, mutated in WATCH/MULTI transactions
//   - PostgresStore: a single table updated with GREATEST for watermarks
//
// SaveProgress never lowers a watermark and never touches destinations, so
// a poller and a concurrent subscribe or unsubscribe cannot lose each
// other's changes.
package store
