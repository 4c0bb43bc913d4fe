// Package store persists tutoring transcripts keyed by (topic, user).
//
// # Records
//
// Each (topic, user) pair owns exactly one ThreadRecord. The record binds the
// pair to a single upstream assistant thread and carries the ordered message
// log plus the bootstrap flag:
//
//   - ThreadID is assigned once, when the record is created, and never changes
//   - Messages are append-only; insertion order is conversational order
//   - BootstrapCompleted flips false to true once the hidden opening exchange
//     has been persisted
//
// # Backends
//
// Three implementations satisfy the Store interface:
//
//   - SQLStore on SQLite (modernc.org/sqlite, the default) or PostgreSQL
//     (github.com/lib/pq), sharing one schema and query set
//   - MongoStore on MongoDB, one collection per topic, reading and writing the
//     legacy document layout
//   - MockStore, an in-memory store for tests
//
// Open selects a backend from a driver name and DSN.
//
// # Deduplication
//
// AppendMessage skips a message whose (role, content) already appears in the
// record's log and reports appended=false. The check is best-effort content
// equality, not a uniqueness constraint.
package store
