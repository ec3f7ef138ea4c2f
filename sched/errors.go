package sched

import "errors"

var (
	// ErrMemoryAllocation wraps every failure of the memory subsystems.
	ErrMemoryAllocation = errors.New("sched: memory allocation failed")

	// ErrTaskNotFound indicates an unknown process id.
	ErrTaskNotFound = errors.New("sched: task not found")

	// ErrThreadNotFound indicates an unknown thread id.
	ErrThreadNotFound = errors.New("sched: thread not found")

	// ErrRemoveActive indicates an attempt to remove the running process or thread.
	ErrRemoveActive = errors.New("sched: cannot remove the active unit")

	// ErrRemoveIdle indicates an attempt to remove the idle process.
	ErrRemoveIdle = errors.New("sched: cannot remove the idle process")

	// ErrRemoveMain indicates an attempt to remove a main thread on its own.
	ErrRemoveMain = errors.New("sched: cannot remove a main thread")

	// ErrNoMainThread indicates a process without threads.
	ErrNoMainThread = errors.New("sched: process has no main thread")

	// ErrInterruptsEnabled indicates a call that requires interrupts to be off.
	ErrInterruptsEnabled = errors.New("sched: interrupts must be disabled")

	// ErrNotStarted indicates a call that needs an active thread before the
	// first Schedule.
	ErrNotStarted = errors.New("sched: scheduler has not started")

	// ErrForeignHandle indicates a join handle from another process.
	ErrForeignHandle = errors.New("sched: join handle belongs to another process")

	// ErrIdleThread indicates an attempt to kill or suspend the idle thread.
	ErrIdleThread = errors.New("sched: idle thread cannot stop")
)
