package engine

import "errors"

var (
	// ErrUnknownSession marks an event or command referencing a session id
	// the registry does not hold. Events are dropped and logged; commands
	// surface the error.
	ErrUnknownSession = errors.New("unknown session")

	// ErrTransport wraps a failed command dispatch to the agent. The
	// session status is set to error; nothing is retried automatically.
	ErrTransport = errors.New("transport dispatch failed")

	// ErrTimeout marks a permission-response round trip exceeding its
	// bounded wait. The pending pointer is cleared; the entry stays
	// unanswered for audit.
	ErrTimeout = errors.New("permission response timed out")

	// ErrNotConnected is returned by commands that need an initialized
	// agent connection.
	ErrNotConnected = errors.New("agent not connected")

	// ErrPromptInFlight is returned by SendPrompt while a previous prompt
	// of the same session has not finished. Cancel it first.
	ErrPromptInFlight = errors.New("prompt already in flight")
)
