/*
Package worker provides a fixed-size goroutine pool with a bounded pending
queue.

The broker runs reasoning requests on a pool so escalations never spawn
unbounded goroutines, and the scheduler uses one for parallel stage
fan-out. Submission is non-blocking: when the queue is full the caller
gets ErrQueueFull and decides how to shed load (the broker translates it
into ErrBrokerOverloaded for its callers).

# Lifecycle

NewPool starts the workers immediately. Stop cancels the pool context,
waits for in-flight tasks, and abandons tasks still queued; every Task
receives the pool context and must watch it if it blocks.

Panics inside a task are recovered and logged so one faulty task cannot
take a worker goroutine with it.
*/
package worker
