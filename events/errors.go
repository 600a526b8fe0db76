package events

import "errors"

var (
	// ErrBusClosed is returned when publishing to a bus that has been closed.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrUnknownEvent is returned when a message type is not a domain event.
	ErrUnknownEvent = errors.New("unknown event type")
)
