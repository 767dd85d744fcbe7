package session

import "errors"

var (
	// ErrSessionExists is returned by Create when the id is already taken.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned when a session id is not registered.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownToolCall marks a tool_call_update whose call id matches no
	// entry. Updates never synthesize entries; callers log and drop.
	ErrUnknownToolCall = errors.New("unknown tool call id")

	// ErrUnknownPermission marks a permission response whose request id
	// matches no entry.
	ErrUnknownPermission = errors.New("unknown permission request id")

	// ErrUnknownEntryKind marks a stored record whose kind is outside the
	// closed entry set.
	ErrUnknownEntryKind = errors.New("unknown entry kind")
)
