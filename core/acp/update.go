// Package acp defines the wire types of the agent client protocol: the
// session/update notification stream an agent emits while working, and the
// request/response shapes of the commands a client sends back. Decoding is
// pure and never touches session state.
package acp

import "encoding/json"

// UpdateKind discriminates the variants of a session/update notification.
type UpdateKind string

const (
	UpdateAgentMessageChunk UpdateKind = "agent_message_chunk"
	UpdateAgentThoughtChunk UpdateKind = "agent_thought_chunk"
	UpdateToolCall          UpdateKind = "tool_call"
	UpdateToolCallUpdate    UpdateKind = "tool_call_update"
	UpdatePlan              UpdateKind = "plan"
	UpdateCurrentMode       UpdateKind = "current_mode_update"
	UpdateAvailableCommands UpdateKind = "available_commands_update"
	UpdateError             UpdateKind = "error"
)

// Update is the closed set of decoded session/update payloads. Exactly one
// concrete type exists per UpdateKind; consumers switch exhaustively.
type Update interface {
	Kind() UpdateKind
	sessionUpdate()
}

// Notification is one decoded session/update notification, routed by the
// session it belongs to.
type Notification struct {
	SessionID string
	Update    Update
}

// ContentBlock is a single piece of prompt or response content. Only text
// blocks carry data the engine folds into entries; other types (images,
// resources) pass through untouched.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// MessageChunk is streamed assistant response text. Agents may send true
// deltas, duplicates, or cumulative restatements; the merge engine decides.
type MessageChunk struct {
	Text string
}

func (MessageChunk) Kind() UpdateKind { return UpdateAgentMessageChunk }
func (MessageChunk) sessionUpdate()   {}

// ThoughtChunk is streamed reasoning text, merged separately from the
// visible response.
type ThoughtChunk struct {
	Text string
}

func (ThoughtChunk) Kind() UpdateKind { return UpdateAgentThoughtChunk }
func (ThoughtChunk) sessionUpdate()   {}

// ToolCallStatus is the lifecycle state of a tool invocation.
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCallCompleted || s == ToolCallFailed
}

// NormalizeStatus maps a raw status string onto the closed status set,
// defaulting to pending for anything unrecognized.
func NormalizeStatus(raw string) ToolCallStatus {
	switch ToolCallStatus(raw) {
	case ToolCallInProgress, ToolCallCompleted, ToolCallFailed:
		return ToolCallStatus(raw)
	default:
		return ToolCallPending
	}
}

// ToolCallContent is one piece of tool output shown alongside the call.
type ToolCallContent struct {
	Type    string        `json:"type"`
	Content *ContentBlock `json:"content,omitempty"`
}

// ToolCallStart announces a new tool invocation.
type ToolCallStart struct {
	ToolCallID string            `json:"toolCallId"`
	Title      string            `json:"title,omitempty"`
	ToolName   string            `json:"toolName,omitempty"`
	ToolKind   string            `json:"kind,omitempty"`
	Status     string            `json:"status,omitempty"`
	RawInput   json.RawMessage   `json:"rawInput,omitempty"`
	Content    []ToolCallContent `json:"content,omitempty"`
}

func (ToolCallStart) Kind() UpdateKind { return UpdateToolCall }
func (ToolCallStart) sessionUpdate()   {}

// ToolCallProgress carries status, content, or output for an invocation
// announced earlier by a ToolCallStart with the same ToolCallID.
type ToolCallProgress struct {
	ToolCallID string            `json:"toolCallId"`
	Status     string            `json:"status,omitempty"`
	Title      string            `json:"title,omitempty"`
	Content    []ToolCallContent `json:"content,omitempty"`
	RawOutput  json.RawMessage   `json:"rawOutput,omitempty"`
}

func (ToolCallProgress) Kind() UpdateKind { return UpdateToolCallUpdate }
func (ToolCallProgress) sessionUpdate()   {}

// PlanPriority ranks a plan item.
type PlanPriority string

const (
	PlanPriorityHigh   PlanPriority = "high"
	PlanPriorityMedium PlanPriority = "medium"
	PlanPriorityLow    PlanPriority = "low"
)

// PlanItemStatus is the progress state of one plan item.
type PlanItemStatus string

const (
	PlanItemPending    PlanItemStatus = "pending"
	PlanItemInProgress PlanItemStatus = "in_progress"
	PlanItemCompleted  PlanItemStatus = "completed"
)

// PlanItem is one step of the agent's current plan.
type PlanItem struct {
	Content  string         `json:"content"`
	Priority PlanPriority   `json:"priority"`
	Status   PlanItemStatus `json:"status"`
}

// PlanUpdate is a full snapshot of the agent's plan. Each snapshot replaces
// the previous one semantically; the engine records every snapshot.
type PlanUpdate struct {
	Items []PlanItem `json:"entries"`
}

func (PlanUpdate) Kind() UpdateKind { return UpdatePlan }
func (PlanUpdate) sessionUpdate()   {}

// ModeUpdate reports the agent's current mode. Repeats of the same mode id
// are expected and carry no information.
type ModeUpdate struct {
	CurrentModeID string `json:"currentModeId"`
}

func (ModeUpdate) Kind() UpdateKind { return UpdateCurrentMode }
func (ModeUpdate) sessionUpdate()   {}

// Command is one slash command the agent accepts.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CommandsUpdate replaces the set of commands available in the session.
type CommandsUpdate struct {
	Commands []Command `json:"availableCommands"`
}

func (CommandsUpdate) Kind() UpdateKind { return UpdateAvailableCommands }
func (CommandsUpdate) sessionUpdate()   {}

// ErrorUpdate reports an agent-side failure within the session.
type ErrorUpdate struct {
	Message string `json:"message"`
}

func (ErrorUpdate) Kind() UpdateKind { return UpdateError }
func (ErrorUpdate) sessionUpdate()   {}
