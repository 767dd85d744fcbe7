package acp

// JSON-RPC method names of the client/agent command surface.
const (
	MethodInitialize        = "initialize"
	MethodSessionNew        = "session/new"
	MethodSessionLoad       = "session/load"
	MethodSessionPrompt     = "session/prompt"
	MethodSessionCancel     = "session/cancel"
	MethodSessionSetMode    = "session/set_mode"
	MethodSessionUpdate     = "session/update"
	MethodRequestPermission = "session/request_permission"
)

// ProtocolVersion is the protocol revision this client speaks.
const ProtocolVersion = 1

// Mode is one operating mode the agent offers (e.g. "ask", "code").
type Mode struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModeState is the agent's mode inventory plus the active selection.
type ModeState struct {
	CurrentModeID  string `json:"currentModeId"`
	AvailableModes []Mode `json:"availableModes,omitempty"`
}

// Model is one language model the agent can run on.
type Model struct {
	ModelID string `json:"modelId"`
	Name    string `json:"name,omitempty"`
}

// ModelState is the agent's model inventory plus the active selection.
type ModelState struct {
	CurrentModelID  string  `json:"currentModelId"`
	AvailableModels []Model `json:"availableModels,omitempty"`
}

// InitializeRequest negotiates the protocol revision.
type InitializeRequest struct {
	ProtocolVersion    int            `json:"protocolVersion"`
	ClientCapabilities map[string]any `json:"clientCapabilities,omitempty"`
}

// InitializeResponse reports the agreed revision and what the agent can do.
type InitializeResponse struct {
	ProtocolVersion   int            `json:"protocolVersion"`
	AgentCapabilities map[string]any `json:"agentCapabilities,omitempty"`
}

// NewSessionRequest creates a fresh session rooted at a working directory.
type NewSessionRequest struct {
	Cwd        string           `json:"cwd"`
	McpServers []map[string]any `json:"mcpServers"`
}

// NewSessionResponse carries the agent-assigned session id and the initial
// mode/model state, which seeds the session's capabilities snapshot.
type NewSessionResponse struct {
	SessionID string      `json:"sessionId"`
	Modes     *ModeState  `json:"modes,omitempty"`
	Models    *ModelState `json:"models,omitempty"`
}

// LoadSessionRequest resumes a previously created session. The agent
// replays the conversation as session/update notifications.
type LoadSessionRequest struct {
	SessionID  string           `json:"sessionId"`
	Cwd        string           `json:"cwd"`
	McpServers []map[string]any `json:"mcpServers"`
}

// LoadSessionResponse mirrors NewSessionResponse for a resumed session.
type LoadSessionResponse struct {
	Modes  *ModeState  `json:"modes,omitempty"`
	Models *ModelState `json:"models,omitempty"`
}

// PromptRequest submits one user turn.
type PromptRequest struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptResponse ends a turn with the agent's stop reason
// (e.g. "end_turn", "cancelled", "refusal").
type PromptResponse struct {
	StopReason string `json:"stopReason"`
}

// CancelNotification aborts the in-flight prompt of a session. Sent as a
// JSON-RPC notification; the agent answers by ending the turn.
type CancelNotification struct {
	SessionID string `json:"sessionId"`
}

// SetModeRequest switches the session's operating mode.
type SetModeRequest struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// PermissionOptionKind classifies how broadly a permission option applies.
type PermissionOptionKind string

const (
	PermissionAllowOnce    PermissionOptionKind = "allow_once"
	PermissionAllowAlways  PermissionOptionKind = "allow_always"
	PermissionRejectOnce   PermissionOptionKind = "reject_once"
	PermissionRejectAlways PermissionOptionKind = "reject_always"
)

// PermissionOption is one choice offered to the user.
type PermissionOption struct {
	OptionID string               `json:"optionId"`
	Name     string               `json:"name,omitempty"`
	Kind     PermissionOptionKind `json:"kind,omitempty"`
}

// PermissionToolCall identifies the invocation a permission request guards.
type PermissionToolCall struct {
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title,omitempty"`
}

// RequestPermissionRequest is the agent-initiated request asking the user
// to approve or reject a tool invocation.
type RequestPermissionRequest struct {
	SessionID string             `json:"sessionId"`
	ToolCall  PermissionToolCall `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// PermissionOutcome is the user's decision, or "cancelled" when the turn
// ended before they chose.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// RequestPermissionResponse answers a RequestPermissionRequest.
type RequestPermissionResponse struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// SelectedOutcome builds the outcome for a chosen option id.
func SelectedOutcome(optionID string) PermissionOutcome {
	return PermissionOutcome{Outcome: "selected", OptionID: optionID}
}

// CancelledOutcome builds the outcome for an abandoned request.
func CancelledOutcome() PermissionOutcome {
	return PermissionOutcome{Outcome: "cancelled"}
}
