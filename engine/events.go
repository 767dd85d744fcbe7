package engine

import "github.com/tailored-agentic-units/acphost/observability"

// Engine event types emitted while processing the notification stream and
// dispatching commands.
const (
	EventDecodeDrop        observability.EventType = "engine.decode.drop"
	EventCorrelationDrop   observability.EventType = "engine.correlation.drop"
	EventEntryAppend       observability.EventType = "engine.entry.append"
	EventEntryUpdate       observability.EventType = "engine.entry.update"
	EventModeChange        observability.EventType = "engine.mode.change"
	EventAgentError        observability.EventType = "engine.agent.error"
	EventPermissionRequest observability.EventType = "engine.permission.request"
	EventPermissionResolve observability.EventType = "engine.permission.resolve"
	EventPermissionTimeout observability.EventType = "engine.permission.timeout"
	EventPromptStart       observability.EventType = "engine.prompt.start"
	EventPromptComplete    observability.EventType = "engine.prompt.complete"
	EventCommandError      observability.EventType = "engine.command.error"
	EventStoreError        observability.EventType = "engine.store.error"
)
