package chat

import "errors"

var (
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrMalformedRoomID     = errors.New("malformed room id")
	ErrForbidden           = errors.New("forbidden")
	ErrEmptyMessage        = errors.New("message content is empty")
	ErrMessageTooLong      = errors.New("message content is too long")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrTimeout             = errors.New("operation timed out")

	// Returned by Store implementations.
	ErrNotFound      = errors.New("not found")
	ErrDuplicateRoom = errors.New("conversation already exists for room")
)
