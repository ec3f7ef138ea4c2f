// Package sched is the preemptive round-robin task scheduler.
//
// Processes form a ring whose first member is the permanent idle process.
// Each process owns an address space and an ordered list of threads whose
// first member is its permanent main thread. Records live in arena pools and
// refer to each other by generation-checked handles.
//
// The only entry point that moves execution is Schedule, called from the
// timer interrupt with the interrupted register state. It returns the state
// to resume: the next Ready thread of the active process if there is one,
// otherwise the first runnable thread of the next eligible process in the
// ring, switching page tables on the way.
//
// Thread lifecycle:
//
//	Ready <-> Running -> Dead
//	            |  \
//	            |   -> Blocked (waiting for joined threads) -> Dead
//	            -> Sleeping(t) -> Ready once uptime >= t
//
// Dead threads other than a process's main thread are reaped by the next
// Schedule pass over their process. A process whose threads are all Dead is
// marked Dead and reaped when the ring walk next reaches it.
package sched
