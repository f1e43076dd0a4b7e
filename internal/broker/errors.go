package broker

import "errors"

var (
	// ErrInvalidRequest reports missing or malformed required fields.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrWorkerNotFound reports an unknown credential. The worker must register.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrWorkerTimedOut reports a known credential whose worker stopped
	// contacting the broker. The session has been evicted.
	ErrWorkerTimedOut = errors.New("worker connection timed out")

	// ErrRequestTimedOut reports a query that got no result before its deadline.
	ErrRequestTimedOut = errors.New("request timed out waiting for worker response")

	// ErrRequestCanceled reports a query abandoned because the caller went away.
	ErrRequestCanceled = errors.New("request canceled by caller")

	// ErrQueueFull reports a rejected enqueue on a bounded queue.
	ErrQueueFull = errors.New("worker queue is full")
)
