package queue

import "errors"

var (
	// ErrQueueClosed reports an operation on a closed, drained queue.
	ErrQueueClosed = errors.New("queue: closed")

	// ErrItemNotFound reports a dead-letter id that is not parked.
	ErrItemNotFound = errors.New("queue: dead letter not found")
)
