// Package session owns the per-session conversation log: a strictly ordered,
// append-only sequence of typed entries, plus the session metadata derived
// from it (capabilities snapshot, pending permission, status). All mutation
// of one session is serialized behind its lock; readers get defensive
// snapshots. The registry maps session ids to sessions and holds no state
// of its own beyond that map.
package session

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/tailored-agentic-units/acphost/core/acp"
)

// EntryKind discriminates the variants of the entry log.
type EntryKind string

const (
	EntryMessage    EntryKind = "message"
	EntryThought    EntryKind = "thought"
	EntryToolCall   EntryKind = "tool_call"
	EntryPermission EntryKind = "permission"
	EntryPlan       EntryKind = "plan"
	EntryModeChange EntryKind = "mode_change"
	EntryMeta       EntryKind = "meta"
)

// Role identifies the author of a message entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one record in a session's conversation log. The set of
// implementations is closed: exactly the seven types below. Entries carry
// a monotonically assigned sequence id; identity never changes after
// append, even when an entry is mutated in place by a correlated update.
type Entry interface {
	Kind() EntryKind
	Sequence() uint64
	Time() time.Time

	clone() Entry
	base() *EntryBase
}

// EntryBase carries the identity fields shared by every entry variant.
// Seq and CreatedAt are assigned by the session on append and never
// change afterwards.
type EntryBase struct {
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}

func (b *EntryBase) Sequence() uint64 { return b.Seq }
func (b *EntryBase) Time() time.Time  { return b.CreatedAt }
func (b *EntryBase) base() *EntryBase { return b }

// MessageEntry is one user or assistant message. Assistant messages grow
// by streaming merge; their text never shrinks.
type MessageEntry struct {
	EntryBase
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func (*MessageEntry) Kind() EntryKind { return EntryMessage }

func (e *MessageEntry) clone() Entry {
	c := *e
	return &c
}

// ThoughtEntry is streamed agent reasoning, merged like an assistant
// message but kept distinct from the visible response.
type ThoughtEntry struct {
	EntryBase
	Text string `json:"text"`
}

func (*ThoughtEntry) Kind() EntryKind { return EntryThought }

func (e *ThoughtEntry) clone() Entry {
	c := *e
	return &c
}

// ToolCallEntry tracks one tool invocation across its lifecycle. It is
// created on first sight of CallID and mutated in place by later
// correlated updates.
type ToolCallEntry struct {
	EntryBase
	CallID   string                `json:"callId"`
	ToolName string                `json:"toolName,omitempty"`
	ToolKind string                `json:"toolKind,omitempty"`
	Status   acp.ToolCallStatus    `json:"status"`
	Title    string                `json:"title,omitempty"`
	RawInput json.RawMessage       `json:"rawInput,omitempty"`
	Content  []acp.ToolCallContent `json:"content,omitempty"`
	Output   json.RawMessage       `json:"output,omitempty"`
}

func (*ToolCallEntry) Kind() EntryKind { return EntryToolCall }

func (e *ToolCallEntry) clone() Entry {
	c := *e
	c.RawInput = slices.Clone(e.RawInput)
	c.Content = slices.Clone(e.Content)
	c.Output = slices.Clone(e.Output)
	return &c
}

// PermissionEntry records one permission request and, once answered, the
// chosen option. An unanswered entry has an empty ResponseOption and a
// zero ResponseTime.
type PermissionEntry struct {
	EntryBase
	RequestID      string                 `json:"requestId"`
	ToolCallID     string                 `json:"toolCallId,omitempty"`
	ToolName       string                 `json:"toolName,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Options        []acp.PermissionOption `json:"options,omitempty"`
	ResponseOption string                 `json:"responseOption,omitempty"`
	ResponseTime   time.Time              `json:"responseTime,omitzero"`
}

func (*PermissionEntry) Kind() EntryKind { return EntryPermission }

// Answered reports whether a response option has been recorded.
func (e *PermissionEntry) Answered() bool { return e.ResponseOption != "" }

func (e *PermissionEntry) clone() Entry {
	c := *e
	c.Options = slices.Clone(e.Options)
	return &c
}

// PlanEntry is one full snapshot of the agent's plan. Snapshots are never
// mutated; each plan update appends a fresh entry so planning history is
// preserved.
type PlanEntry struct {
	EntryBase
	Items []acp.PlanItem `json:"items"`
}

func (*PlanEntry) Kind() EntryKind { return EntryPlan }

func (e *PlanEntry) clone() Entry {
	c := *e
	c.Items = slices.Clone(e.Items)
	return &c
}

// ModeChangeEntry records a real mode transition. Entries with equal
// previous and new ids never exist; repeats are suppressed at append time.
type ModeChangeEntry struct {
	EntryBase
	PreviousModeID string `json:"previousModeId"`
	NewModeID      string `json:"newModeId"`
}

func (*ModeChangeEntry) Kind() EntryKind { return EntryModeChange }

func (e *ModeChangeEntry) clone() Entry {
	c := *e
	return &c
}

// MetaEntry snapshots the agent's capabilities as reported at connection
// or resume time. The most recent MetaEntry also feeds the session's
// cached capabilities.
type MetaEntry struct {
	EntryBase
	AvailableModes  []acp.Mode  `json:"availableModes,omitempty"`
	AvailableModels []acp.Model `json:"availableModels,omitempty"`
	CurrentModeID   string      `json:"currentModeId,omitempty"`
	CurrentModelID  string      `json:"currentModelId,omitempty"`
}

func (*MetaEntry) Kind() EntryKind { return EntryMeta }

func (e *MetaEntry) clone() Entry {
	c := *e
	c.AvailableModes = slices.Clone(e.AvailableModes)
	c.AvailableModels = slices.Clone(e.AvailableModels)
	return &c
}
