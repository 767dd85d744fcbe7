package session

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tailored-agentic-units/acphost/core/acp"
)

// Status is the lifecycle state of a session's agent connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusPrompting    Status = "prompting"
	StatusError        Status = "error"
)

// DefaultModeID is the baseline mode assumed before the agent reports one.
// The first observed mode produces a ModeChange entry only if it differs
// from this baseline.
const DefaultModeID = "default"

// Capabilities is the cached view of the most recent capability
// information (meta entries, mode updates, command updates), kept for O(1)
// access without scanning the log.
type Capabilities struct {
	AvailableModes  []acp.Mode
	AvailableModels []acp.Model
	CurrentModeID   string
	CurrentModelID  string
	Commands        []acp.Command
}

func (c Capabilities) clone() Capabilities {
	c.AvailableModes = slices.Clone(c.AvailableModes)
	c.AvailableModels = slices.Clone(c.AvailableModels)
	c.Commands = slices.Clone(c.Commands)
	return c
}

// ToolCallPatch carries the fields a tool_call_update may change. Zero
// values mean "not provided" and leave the existing field untouched.
type ToolCallPatch struct {
	Status  acp.ToolCallStatus
	Title   string
	Content []acp.ToolCallContent
	Output  json.RawMessage
}

// Session is one conversation with an external agent. Every mutation runs
// under the session lock, which is the single serialization point shared
// by transport-event ingestion and user-command dispatch. Readers receive
// deep-copied snapshots; an in-flight append is never partially visible.
type Session struct {
	id         string
	projectDir string
	createdAt  time.Time

	mu        sync.RWMutex
	seq       uint64
	entries   []Entry
	status    Status
	caps      Capabilities
	pending   string // request id of the active unanswered permission, or ""
	updatedAt time.Time
	watchers  map[chan struct{}]struct{}
}

func newSession(id, projectDir string) *Session {
	now := time.Now()
	return &Session{
		id:         id,
		projectDir: projectDir,
		createdAt:  now,
		updatedAt:  now,
		status:     StatusDisconnected,
		caps:       Capabilities{CurrentModeID: DefaultModeID},
		watchers:   make(map[chan struct{}]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ProjectDir returns the working directory the session operates in.
func (s *Session) ProjectDir() string { return s.projectDir }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns the time of the last mutation.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus records a connection status change.
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.touch()
	s.mu.Unlock()
	s.notify()
}

// Entries returns a deep-copied snapshot of the log in sequence order.
func (s *Session) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		copied[i] = e.clone()
	}
	return copied
}

// EntryBySeq returns a copy of the entry with the given sequence id.
func (s *Session) EntryBySeq(seq uint64) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.Sequence() == seq {
			return e.clone(), true
		}
	}
	return nil, false
}

// Len returns the number of entries in the log.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Capabilities returns a copy of the cached capability snapshot.
func (s *Session) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps.clone()
}

// PendingPermission returns a copy of the active unanswered permission
// entry, or nil when none is pending.
func (s *Session) PendingPermission() *PermissionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pending == "" {
		return nil
	}
	if e := s.findPermissionLocked(s.pending); e != nil {
		return e.clone().(*PermissionEntry)
	}
	return nil
}

// Append stamps the entry with the next sequence id and the current time
// and adds it to the log. The entry must not be shared after the call;
// the session owns it.
func (s *Session) Append(e Entry) uint64 {
	s.mu.Lock()
	seq := s.appendLocked(e)
	s.mu.Unlock()
	s.notify()
	return seq
}

// AppendUserMessage appends the local record of a user prompt.
func (s *Session) AppendUserMessage(text string) uint64 {
	return s.Append(&MessageEntry{Role: RoleUser, Text: text})
}

// FoldAssistantText folds a streamed message fragment into the log:
// continuation of the tail assistant message when one is open, otherwise a
// new entry. Only the tail is ever a continuation candidate; once any
// other entry has been appended the stream is implicitly closed and older
// messages are never touched. Returns the affected sequence id and whether
// a new entry was created; duplicates report the tail sequence unchanged.
func (s *Session) FoldAssistantText(fragment string) (uint64, bool) {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify()
	}()

	if tail, ok := s.tailLocked().(*MessageEntry); ok && tail.Role == RoleAssistant {
		if add, changed := ExtractNewContent(tail.Text, fragment); changed {
			tail.Text += add
			s.touch()
		}
		return tail.Seq, false
	}
	return s.appendLocked(&MessageEntry{Role: RoleAssistant, Text: fragment}), true
}

// FoldThoughtText folds a streamed thought fragment, with the same tail
// rule as FoldAssistantText.
func (s *Session) FoldThoughtText(fragment string) (uint64, bool) {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify()
	}()

	if tail, ok := s.tailLocked().(*ThoughtEntry); ok {
		if add, changed := ExtractNewContent(tail.Text, fragment); changed {
			tail.Text += add
			s.touch()
		}
		return tail.Seq, false
	}
	return s.appendLocked(&ThoughtEntry{Text: fragment}), true
}

// UpsertToolCall appends a tool call entry on first sight of its call id.
// A second create for a known id degrades to an update of the existing
// entry instead of erroring; agents re-announce calls after reconnects.
// Returns the entry's sequence id and whether it was newly created.
func (s *Session) UpsertToolCall(e *ToolCallEntry) (uint64, bool) {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify()
	}()

	if existing := s.findToolCallLocked(e.CallID); existing != nil {
		s.mergeToolCallLocked(existing, ToolCallPatch{
			Status:  e.Status,
			Title:   e.Title,
			Content: e.Content,
		})
		if len(e.RawInput) > 0 {
			existing.RawInput = e.RawInput
		}
		if e.ToolName != "" {
			existing.ToolName = e.ToolName
		}
		return existing.Seq, false
	}
	return s.appendLocked(e), true
}

// PatchToolCall merges update fields into the entry with the given call
// id, searching the full log rather than only the tail. Provided fields
// overwrite, absent fields are kept, and a terminal status is never left.
// An unknown call id returns ErrUnknownToolCall without creating anything.
func (s *Session) PatchToolCall(callID string, patch ToolCallPatch) error {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify()
	}()

	existing := s.findToolCallLocked(callID)
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrUnknownToolCall, callID)
	}
	s.mergeToolCallLocked(existing, patch)
	return nil
}

// AppendPermission appends an unanswered permission entry and makes it the
// session's pending permission, replacing any previous pending pointer.
func (s *Session) AppendPermission(e *PermissionEntry) uint64 {
	s.mu.Lock()
	e.ResponseOption = ""
	e.ResponseTime = time.Time{}
	seq := s.appendLocked(e)
	s.pending = e.RequestID
	s.mu.Unlock()
	s.notify()
	return seq
}

// ResolvePermission records the chosen option on the permission entry with
// the given request id and clears the pending pointer if it points at that
// request. An unknown request id returns ErrUnknownPermission.
func (s *Session) ResolvePermission(requestID, optionID string) error {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify()
	}()

	e := s.findPermissionLocked(requestID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, requestID)
	}
	e.ResponseOption = optionID
	e.ResponseTime = time.Now()
	if s.pending == requestID {
		s.pending = ""
	}
	s.touch()
	return nil
}

// DismissPermission clears the pending pointer without answering the
// entry, leaving it unanswered in the log for audit. Used when a response
// round trip times out so the consumer is not blocked forever.
func (s *Session) DismissPermission(requestID string) {
	s.mu.Lock()
	if s.pending == requestID {
		s.pending = ""
		s.touch()
	}
	s.mu.Unlock()
	s.notify()
}

// AppendPlan records a full plan snapshot as a fresh entry.
func (s *Session) AppendPlan(items []acp.PlanItem) uint64 {
	return s.Append(&PlanEntry{Items: slices.Clone(items)})
}

// ApplyMode compares the reported mode against the cached current mode
// and, only on a real transition, appends a ModeChange entry and updates
// the cache. No-op repeats are suppressed entirely.
func (s *Session) ApplyMode(modeID string) (uint64, bool) {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify()
	}()

	previous := s.caps.CurrentModeID
	if modeID == "" || modeID == previous {
		return 0, false
	}
	s.caps.CurrentModeID = modeID
	seq := s.appendLocked(&ModeChangeEntry{PreviousModeID: previous, NewModeID: modeID})
	return seq, true
}

// ApplyMeta appends a capabilities snapshot entry and refreshes the cache.
// Empty current ids keep their cached values so a partial snapshot never
// erases known state.
func (s *Session) ApplyMeta(modes []acp.Mode, models []acp.Model, currentModeID, currentModelID string) uint64 {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify()
	}()

	s.caps.AvailableModes = slices.Clone(modes)
	s.caps.AvailableModels = slices.Clone(models)
	if currentModeID != "" {
		s.caps.CurrentModeID = currentModeID
	}
	if currentModelID != "" {
		s.caps.CurrentModelID = currentModelID
	}
	return s.appendLocked(&MetaEntry{
		AvailableModes:  slices.Clone(modes),
		AvailableModels: slices.Clone(models),
		CurrentModeID:   s.caps.CurrentModeID,
		CurrentModelID:  s.caps.CurrentModelID,
	})
}

// SetCommands replaces the cached set of available commands. Command
// inventory is capability state, not conversation history, so no entry is
// appended.
func (s *Session) SetCommands(commands []acp.Command) {
	s.mu.Lock()
	s.caps.Commands = slices.Clone(commands)
	s.touch()
	s.mu.Unlock()
	s.notify()
}

// Watch returns a channel that receives a signal after each mutation.
// Signals are best-effort: when the watcher lags, intermediate signals
// coalesce rather than block the mutating goroutine. Callers re-read the
// snapshot on every signal.
func (s *Session) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unwatch removes a channel previously returned by Watch.
func (s *Session) Unwatch(ch <-chan struct{}) {
	s.mu.Lock()
	for w := range s.watchers {
		if w == ch {
			delete(s.watchers, w)
			close(w)
			break
		}
	}
	s.mu.Unlock()
}

// restore replaces the log with entries loaded from storage and resumes
// the sequence counter past the highest stored id. The pending permission
// pointer is not restored: a response can no longer be routed to the
// agent request that created it, so reloaded sessions start unblocked.
func (s *Session) restore(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = entries
	s.seq = 0
	for _, e := range entries {
		if e.Sequence() > s.seq {
			s.seq = e.Sequence()
		}
	}
	s.caps = Capabilities{CurrentModeID: DefaultModeID}
	for _, e := range entries {
		switch v := e.(type) {
		case *MetaEntry:
			s.caps.AvailableModes = slices.Clone(v.AvailableModes)
			s.caps.AvailableModels = slices.Clone(v.AvailableModels)
			if v.CurrentModeID != "" {
				s.caps.CurrentModeID = v.CurrentModeID
			}
			if v.CurrentModelID != "" {
				s.caps.CurrentModelID = v.CurrentModelID
			}
		case *ModeChangeEntry:
			s.caps.CurrentModeID = v.NewModeID
		}
	}
}

func (s *Session) appendLocked(e Entry) uint64 {
	s.seq++
	b := e.base()
	b.Seq = s.seq
	b.CreatedAt = time.Now()
	s.entries = append(s.entries, e)
	s.touch()
	return s.seq
}

func (s *Session) tailLocked() Entry {
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1]
}

func (s *Session) findToolCallLocked(callID string) *ToolCallEntry {
	for _, e := range s.entries {
		if tc, ok := e.(*ToolCallEntry); ok && tc.CallID == callID {
			return tc
		}
	}
	return nil
}

func (s *Session) findPermissionLocked(requestID string) *PermissionEntry {
	for _, e := range s.entries {
		if p, ok := e.(*PermissionEntry); ok && p.RequestID == requestID {
			return p
		}
	}
	return nil
}

func (s *Session) mergeToolCallLocked(e *ToolCallEntry, patch ToolCallPatch) {
	if patch.Status != "" && patch.Status != e.Status && !e.Status.Terminal() {
		e.Status = patch.Status
	}
	if patch.Title != "" {
		e.Title = patch.Title
	}
	if len(patch.Content) > 0 {
		e.Content = patch.Content
	}
	if len(patch.Output) > 0 {
		e.Output = patch.Output
	}
	s.touch()
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}

// notify is called outside the lock so a blocked watcher map mutation can
// never deadlock with a mutating caller.
func (s *Session) notify() {
	s.mu.RLock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.RUnlock()
}
