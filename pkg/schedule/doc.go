// Package schedule describes when recurring workflows launch.
//
// A Schedule maps a point in time to the next firing time. Every, Daily,
// Weekly and Cron cover the common cases; Entry binds a schedule to a
// registered workflow so a supervisor can launch one instance per firing.
package schedule
