// Package storage is the durable store shared by every worker process.
//
// Store wraps a GORM connection (SQLite for a single host, PostgreSQL for
// many) and provides:
//   - WithObject: scoped transactional read-modify-write of one row
//   - IterReadyObjects and IterTransitions: replay-then-live streams of rows
//     entering a status, cursored by the status event log
//   - Claim, result recording, health and reclaim operations used by workers
//     and the supervisor
//
// Every status change of a WorkflowInstance or DaemonAction appends a
// core.StatusEvent in the same transaction. On PostgreSQL those transactions
// take a transaction-scoped advisory lock so event sequence order equals
// commit order; SQLite serializes writers natively.
package storage
