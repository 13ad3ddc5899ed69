// Package sched allocates and transfers CPU quantums between processes.
//
// Every process moves through Idle → Ready → Running → {Ready | Expired |
// Terminated}. A quantum is a bounded time allocation owned by one process;
// yielding transfers the remaining time to a named beneficiary (recorded as
// a donation) or back to the free scheduling pool. Donation conserves time:
// the sum of active and donated durations never changes across a yield.
//
// Among ready processes, ties break by earliest allocation order (FIFO).
package sched
