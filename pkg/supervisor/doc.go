// Package supervisor keeps a fleet of worker processes alive and performs
// the store maintenance no single worker owns.
//
// A Supervisor re-executes a worker command for every configured action
// and instance worker slot and restarts each child whenever it exits.
// Alongside the children it runs periodic loops that
//
//   - reclaim the IN_PROGRESS rows of workers that stopped pinging,
//   - promote SCHEDULED instances whose launch time has come,
//   - launch recurring workflows registered with AddSchedule,
//   - purge finished instances and old status events when a retention is set.
//
// An optional admin HTTP server exposes /healthz, /metrics and read-only
// views of workers and instances.
package supervisor
