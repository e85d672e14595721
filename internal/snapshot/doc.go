// Package snapshot persists selected store state across a full reload.
//
// A Persister is the externally owned get/set surface over JSON values.
// SQLiteStore keeps snapshots in a SQLite database; MemoryStore keeps them
// in process. Fragment adds createSnapshot / restoreSnapshot actions to a
// store, keyed "datastore::cache::<store>".
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Every stored value carries a SHA-256 checksum with domain separation
// (canon.DomainSnapshot). A value whose checksum does not match is reported
// as corrupt instead of being restored.
package snapshot
