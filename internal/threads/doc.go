// Package threads binds each (topic, user) pair to a single upstream thread.
//
// Service.ResolveOrCreate is idempotent: the first call creates the upstream
// thread and the ThreadRecord, later calls return the stored record. A lost
// creation race resolves to the winner's record and logs the orphaned
// upstream thread.
package threads
