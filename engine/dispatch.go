package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tailored-agentic-units/acphost/core/acp"
	"github.com/tailored-agentic-units/acphost/observability"
	"github.com/tailored-agentic-units/acphost/session"
)

// HandleNotification decodes one raw session/update notification and
// applies it to the owning session. Malformed or unroutable notifications
// are dropped with an observability event; the returned error reports the
// drop but never requires the caller to stop the stream.
func (e *Engine) HandleNotification(ctx context.Context, raw []byte) error {
	n, err := acp.DecodeNotification(raw)
	if err != nil {
		e.observe(ctx, EventDecodeDrop, observability.LevelWarning, "",
			map[string]any{"error": err.Error()})
		return err
	}
	return e.Dispatch(ctx, n)
}

// Dispatch applies one decoded notification. Events for unknown sessions
// are dropped: updates never create sessions.
func (e *Engine) Dispatch(ctx context.Context, n acp.Notification) error {
	sess, err := e.registry.Get(n.SessionID)
	if err != nil {
		e.observe(ctx, EventDecodeDrop, observability.LevelWarning, n.SessionID,
			map[string]any{"kind": string(n.Update.Kind()), "error": err.Error()})
		return fmt.Errorf("%w: %s", ErrUnknownSession, n.SessionID)
	}

	switch u := n.Update.(type) {
	case acp.MessageChunk:
		seq, created := sess.FoldAssistantText(u.Text)
		e.observeFold(ctx, sess, seq, created)
		e.persist(ctx, sess, seq)

	case acp.ThoughtChunk:
		seq, created := sess.FoldThoughtText(u.Text)
		e.observeFold(ctx, sess, seq, created)
		e.persist(ctx, sess, seq)

	case acp.ToolCallStart:
		e.handleToolCallStart(ctx, sess, u)

	case acp.ToolCallProgress:
		return e.handleToolCallProgress(ctx, sess, u)

	case acp.PlanUpdate:
		seq := sess.AppendPlan(u.Items)
		e.observe(ctx, EventEntryAppend, observability.LevelVerbose, sess.ID(),
			map[string]any{"kind": string(session.EntryPlan), "seq": seq, "items": len(u.Items)})
		e.persist(ctx, sess, seq)

	case acp.ModeUpdate:
		seq, changed := sess.ApplyMode(u.CurrentModeID)
		if changed {
			e.observe(ctx, EventModeChange, observability.LevelInfo, sess.ID(),
				map[string]any{"mode": u.CurrentModeID, "seq": seq})
			e.persist(ctx, sess, seq)
		}

	case acp.CommandsUpdate:
		sess.SetCommands(u.Commands)

	case acp.ErrorUpdate:
		sess.SetStatus(session.StatusError)
		e.observe(ctx, EventAgentError, observability.LevelError, sess.ID(),
			map[string]any{"message": u.Message})
	}
	return nil
}

func (e *Engine) observeFold(ctx context.Context, sess *session.Session, seq uint64, created bool) {
	typ := EventEntryUpdate
	if created {
		typ = EventEntryAppend
	}
	e.observe(ctx, typ, observability.LevelVerbose, sess.ID(), map[string]any{"seq": seq})
}

// handleToolCallStart creates the tool call entry on first sight of the
// call id. A repeated start for a known id degrades to an update.
func (e *Engine) handleToolCallStart(ctx context.Context, sess *session.Session, u acp.ToolCallStart) {
	entry := &session.ToolCallEntry{
		CallID:   u.ToolCallID,
		ToolName: cleanToolName(u.ToolName),
		ToolKind: u.ToolKind,
		Status:   acp.NormalizeStatus(u.Status),
		Title:    u.Title,
		RawInput: u.RawInput,
		Content:  u.Content,
	}
	seq, created := sess.UpsertToolCall(entry)
	typ := EventEntryUpdate
	if created {
		typ = EventEntryAppend
	}
	e.observe(ctx, typ, observability.LevelVerbose, sess.ID(),
		map[string]any{"kind": string(session.EntryToolCall), "call_id": u.ToolCallID, "seq": seq})
	e.persist(ctx, sess, seq)
}

// handleToolCallProgress merges an update into the entry created by an
// earlier start with the same call id. Unknown call ids are dropped and
// logged; an update never synthesizes an entry.
func (e *Engine) handleToolCallProgress(ctx context.Context, sess *session.Session, u acp.ToolCallProgress) error {
	patch := session.ToolCallPatch{
		Title:   u.Title,
		Content: u.Content,
		Output:  u.RawOutput,
	}
	if u.Status != "" {
		patch.Status = acp.NormalizeStatus(u.Status)
	}

	if err := sess.PatchToolCall(u.ToolCallID, patch); err != nil {
		e.observe(ctx, EventCorrelationDrop, observability.LevelWarning, sess.ID(),
			map[string]any{"call_id": u.ToolCallID, "error": err.Error()})
		return err
	}

	if entry := findToolCall(sess, u.ToolCallID); entry != nil {
		e.observe(ctx, EventEntryUpdate, observability.LevelVerbose, sess.ID(),
			map[string]any{"call_id": u.ToolCallID, "status": string(entry.Status)})
		e.persist(ctx, sess, entry.Seq)
	}
	return nil
}

func findToolCall(sess *session.Session, callID string) *session.ToolCallEntry {
	for _, entry := range sess.Entries() {
		if tc, ok := entry.(*session.ToolCallEntry); ok && tc.CallID == callID {
			return tc
		}
	}
	return nil
}

// cleanToolName strips the MCP-style namespace prefix some agents put on
// tool names (e.g. "mcp__github__create_issue" → "create_issue").
func cleanToolName(name string) string {
	if i := strings.LastIndex(name, "__"); i >= 0 {
		return name[i+2:]
	}
	return name
}

// IsDrop reports whether an error from HandleNotification is a routine
// drop (decode failure, unknown session, unknown correlation) rather than
// a fault the caller should surface.
func IsDrop(err error) bool {
	return errors.Is(err, acp.ErrMalformed) ||
		errors.Is(err, acp.ErrNoSession) ||
		errors.Is(err, acp.ErrUnknownUpdate) ||
		errors.Is(err, ErrUnknownSession) ||
		errors.Is(err, session.ErrUnknownToolCall)
}
