package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tailored-agentic-units/acphost/core/acp"
	"github.com/tailored-agentic-units/acphost/engine"
	"github.com/tailored-agentic-units/acphost/session"
)

func newEngineWithSession(t *testing.T) (*engine.Engine, *session.Session) {
	t.Helper()
	eng := newConnectedEngine(t, &fakeAgent{})
	sess, err := eng.NewSession(context.Background(), "/work")
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return eng, sess
}

func TestHandleNotificationFoldsChunks(t *testing.T) {
	eng, sess := newEngineWithSession(t)
	ctx := context.Background()

	frames := []string{
		`{"sessionId":"s1","update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"Hel"}}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"Hello"}}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"Hello"}}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"Hello wor"}}}`,
	}
	for _, frame := range frames {
		if err := eng.HandleNotification(ctx, []byte(frame)); err != nil {
			t.Fatalf("HandleNotification() error = %v", err)
		}
	}

	var texts []string
	for _, entry := range sess.Entries() {
		if m, ok := entry.(*session.MessageEntry); ok && m.Role == session.RoleAssistant {
			texts = append(texts, m.Text)
		}
	}
	if len(texts) != 1 {
		t.Fatalf("got %d assistant messages, want 1", len(texts))
	}
	if texts[0] != "Hello wor" {
		t.Errorf("text = %q, want %q", texts[0], "Hello wor")
	}
}

func TestHandleNotificationMalformed(t *testing.T) {
	eng, _ := newEngineWithSession(t)

	err := eng.HandleNotification(context.Background(), []byte(`{not json`))
	if err == nil {
		t.Fatal("error = nil, want decode failure")
	}
	if !engine.IsDrop(err) {
		t.Errorf("IsDrop(%v) = false, want routine drop", err)
	}
}

func TestHandleNotificationUnknownKind(t *testing.T) {
	eng, sess := newEngineWithSession(t)

	err := eng.HandleNotification(context.Background(),
		[]byte(`{"sessionId":"s1","update":{"sessionUpdate":"hologram_projection"}}`))
	if !errors.Is(err, acp.ErrUnknownUpdate) {
		t.Fatalf("error = %v, want ErrUnknownUpdate", err)
	}
	if !engine.IsDrop(err) {
		t.Error("unknown update kind should classify as a drop")
	}
	if sess.Len() != 0 {
		t.Errorf("log has %d entries, want 0", sess.Len())
	}
}

func TestDispatchUnknownSession(t *testing.T) {
	eng, _ := newEngineWithSession(t)

	err := eng.Dispatch(context.Background(), acp.Notification{
		SessionID: "other",
		Update:    acp.MessageChunk{Text: "hi"},
	})
	if !errors.Is(err, engine.ErrUnknownSession) {
		t.Fatalf("error = %v, want ErrUnknownSession", err)
	}
	if !engine.IsDrop(err) {
		t.Error("unknown session should classify as a drop")
	}
}

func TestDispatchToolCallLifecycle(t *testing.T) {
	eng, sess := newEngineWithSession(t)
	ctx := context.Background()

	steps := []acp.Update{
		acp.ToolCallStart{
			ToolCallID: "tc-1",
			Title:      "Run ls",
			ToolName:   "bash",
			Status:     "pending",
			RawInput:   []byte(`{"command":"ls"}`),
		},
		acp.ToolCallProgress{ToolCallID: "tc-1", Status: "in_progress"},
		acp.ToolCallProgress{ToolCallID: "tc-1", Status: "completed", RawOutput: []byte(`"ok"`)},
	}
	for _, update := range steps {
		if err := eng.Dispatch(ctx, acp.Notification{SessionID: sess.ID(), Update: update}); err != nil {
			t.Fatalf("Dispatch(%T) error = %v", update, err)
		}
	}

	var tc *session.ToolCallEntry
	for _, entry := range sess.Entries() {
		if v, ok := entry.(*session.ToolCallEntry); ok {
			if tc != nil {
				t.Fatal("lifecycle produced more than one tool call entry")
			}
			tc = v
		}
	}
	if tc == nil {
		t.Fatal("no tool call entry")
	}
	if tc.Status != acp.ToolCallCompleted {
		t.Errorf("status = %q, want %q", tc.Status, acp.ToolCallCompleted)
	}
	if string(tc.Output) != `"ok"` {
		t.Errorf("output = %s, want %q", tc.Output, `"ok"`)
	}
}

func TestDispatchOrphanToolCallUpdate(t *testing.T) {
	eng, sess := newEngineWithSession(t)

	err := eng.Dispatch(context.Background(), acp.Notification{
		SessionID: sess.ID(),
		Update:    acp.ToolCallProgress{ToolCallID: "never-seen", Status: "completed"},
	})
	if !errors.Is(err, session.ErrUnknownToolCall) {
		t.Fatalf("error = %v, want ErrUnknownToolCall", err)
	}
	if !engine.IsDrop(err) {
		t.Error("orphan update should classify as a drop")
	}
	if sess.Len() != 0 {
		t.Errorf("log has %d entries, want 0: orphan must not synthesize", sess.Len())
	}
}

func TestDispatchUnknownStatusDefaultsPending(t *testing.T) {
	eng, sess := newEngineWithSession(t)

	if err := eng.Dispatch(context.Background(), acp.Notification{
		SessionID: sess.ID(),
		Update:    acp.ToolCallStart{ToolCallID: "tc-1", Status: "reticulating"},
	}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	tc := sess.Entries()[0].(*session.ToolCallEntry)
	if tc.Status != acp.ToolCallPending {
		t.Errorf("status = %q, want normalized %q", tc.Status, acp.ToolCallPending)
	}
}

func TestDispatchStripsToolNamespace(t *testing.T) {
	eng, sess := newEngineWithSession(t)

	if err := eng.Dispatch(context.Background(), acp.Notification{
		SessionID: sess.ID(),
		Update:    acp.ToolCallStart{ToolCallID: "tc-1", ToolName: "mcp__github__create_issue"},
	}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	tc := sess.Entries()[0].(*session.ToolCallEntry)
	if tc.ToolName != "create_issue" {
		t.Errorf("tool name = %q, want %q", tc.ToolName, "create_issue")
	}
}

func TestDispatchPlanAndCommands(t *testing.T) {
	eng, sess := newEngineWithSession(t)
	ctx := context.Background()

	if err := eng.Dispatch(ctx, acp.Notification{
		SessionID: sess.ID(),
		Update: acp.PlanUpdate{Items: []acp.PlanItem{
			{Content: "read code", Status: acp.PlanItemInProgress},
		}},
	}); err != nil {
		t.Fatalf("Dispatch(plan) error = %v", err)
	}
	if err := eng.Dispatch(ctx, acp.Notification{
		SessionID: sess.ID(),
		Update:    acp.CommandsUpdate{Commands: []acp.Command{{Name: "test"}}},
	}); err != nil {
		t.Fatalf("Dispatch(commands) error = %v", err)
	}

	// The plan is an entry; the command inventory is capability state only.
	if sess.Len() != 1 {
		t.Fatalf("got %d entries, want 1", sess.Len())
	}
	if sess.Entries()[0].Kind() != session.EntryPlan {
		t.Errorf("entry kind = %q, want %q", sess.Entries()[0].Kind(), session.EntryPlan)
	}
	if got := len(sess.Capabilities().Commands); got != 1 {
		t.Errorf("got %d commands, want 1", got)
	}
}

func TestDispatchErrorUpdate(t *testing.T) {
	eng, sess := newEngineWithSession(t)

	if err := eng.Dispatch(context.Background(), acp.Notification{
		SessionID: sess.ID(),
		Update:    acp.ErrorUpdate{Message: "agent crashed"},
	}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if sess.Status() != session.StatusError {
		t.Errorf("status = %q, want %q", sess.Status(), session.StatusError)
	}
}

func TestDispatchModeUpdate(t *testing.T) {
	eng, sess := newEngineWithSession(t)
	ctx := context.Background()

	for _, mode := range []string{"code", "code", "ask"} {
		if err := eng.Dispatch(ctx, acp.Notification{
			SessionID: sess.ID(),
			Update:    acp.ModeUpdate{CurrentModeID: mode},
		}); err != nil {
			t.Fatalf("Dispatch(%q) error = %v", mode, err)
		}
	}

	var changes []*session.ModeChangeEntry
	for _, entry := range sess.Entries() {
		if mc, ok := entry.(*session.ModeChangeEntry); ok {
			changes = append(changes, mc)
		}
	}
	if len(changes) != 2 {
		t.Fatalf("got %d mode changes, want 2", len(changes))
	}
	if changes[1].PreviousModeID != "code" || changes[1].NewModeID != "ask" {
		t.Errorf("second transition %q -> %q, want code -> ask",
			changes[1].PreviousModeID, changes[1].NewModeID)
	}
}
