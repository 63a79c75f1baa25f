// Package executor provides a cooperative, priority-aware, work-stealing
// task executor. Tasks are poll-driven units of work scheduled onto a
// fixed pool of workers; scopes bound task lifetimes and force-cancel
// anything still running when the region ends.
package executor
