// Package broker relays queries from external callers to polling workers and
// correlates the results back to the blocked callers.
//
// Two independent HTTP legs meet here:
//   - the caller submits a query and waits (SubmitQuery)
//   - the worker polls for work (PollForWork) and later posts the outcome
//     (SubmitResult)
//
// Each registered credential owns a Session holding a FIFO of queued work
// items, a store of posted results, and one completion channel per waiting
// query. SubmitResult signals the channel directly; waiters never poll.
//
// Lifecycle of a work item:
//   - Queued: appended by SubmitQuery
//   - Dispatched: popped by PollForWork (not tracked further)
//   - Completed / Failed: result posted and consumed by the waiter
//   - Abandoned: deadline or caller cancellation; removed from the queue if
//     still there. A result posted later is orphaned until Sweep drops it.
//
// Liveness:
//   - Register and PollForWork refresh a session's lastSeen
//   - SubmitQuery and Status evict a session silent for longer than the
//     liveness threshold; Sweep evicts stale sessions nobody waits on
//   - Polling never resurrects an evicted session; the worker re-registers
//
// Locking: the Registry guards its map; each Session guards its own state.
// No operation holds two session locks.
package broker
