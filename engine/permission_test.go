package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tailored-agentic-units/acphost/core/acp"
	"github.com/tailored-agentic-units/acphost/engine"
	"github.com/tailored-agentic-units/acphost/session"
)

func permissionRequest(sessionID string) acp.RequestPermissionRequest {
	return acp.RequestPermissionRequest{
		SessionID: sessionID,
		ToolCall:  acp.PermissionToolCall{ToolCallID: "tc-1", Title: "Run rm -rf build"},
		Options: []acp.PermissionOption{
			{OptionID: "allow", Kind: acp.PermissionAllowOnce},
			{OptionID: "reject", Kind: acp.PermissionRejectOnce},
		},
	}
}

func TestHandlePermissionRequest(t *testing.T) {
	eng, sess := newEngineWithSession(t)
	ctx := context.Background()

	// A tool call announced earlier lends its tool name to the entry.
	if err := eng.Dispatch(ctx, acp.Notification{
		SessionID: sess.ID(),
		Update:    acp.ToolCallStart{ToolCallID: "tc-1", ToolName: "bash", Status: "pending"},
	}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if err := eng.HandlePermissionRequest(ctx, "42", permissionRequest(sess.ID()), nil); err != nil {
		t.Fatalf("HandlePermissionRequest() error = %v", err)
	}

	pending := sess.PendingPermission()
	if pending == nil {
		t.Fatal("no pending permission")
	}
	if pending.RequestID != "42" {
		t.Errorf("request id = %q, want %q", pending.RequestID, "42")
	}
	if pending.ToolCallID != "tc-1" {
		t.Errorf("tool call id = %q, want %q", pending.ToolCallID, "tc-1")
	}
	if pending.ToolName != "bash" {
		t.Errorf("tool name = %q, want correlated %q", pending.ToolName, "bash")
	}
	if len(pending.Options) != 2 {
		t.Errorf("got %d options, want 2", len(pending.Options))
	}
}

func TestHandlePermissionRequestUnknownSession(t *testing.T) {
	eng, _ := newEngineWithSession(t)

	err := eng.HandlePermissionRequest(context.Background(), "42", permissionRequest("other"), nil)
	if !errors.Is(err, engine.ErrUnknownSession) {
		t.Fatalf("error = %v, want ErrUnknownSession", err)
	}
}

func TestRespondPermissionSendsReply(t *testing.T) {
	eng, sess := newEngineWithSession(t)
	ctx := context.Background()

	replied := make(chan acp.RequestPermissionResponse, 1)
	reply := func(resp acp.RequestPermissionResponse) error {
		replied <- resp
		return nil
	}
	if err := eng.HandlePermissionRequest(ctx, "42", permissionRequest(sess.ID()), reply); err != nil {
		t.Fatalf("HandlePermissionRequest() error = %v", err)
	}

	if err := eng.RespondPermission(ctx, sess.ID(), "42", "allow"); err != nil {
		t.Fatalf("RespondPermission() error = %v", err)
	}

	select {
	case resp := <-replied:
		if resp.Outcome.Outcome != "selected" || resp.Outcome.OptionID != "allow" {
			t.Errorf("outcome = %+v, want selected/allow", resp.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply never sent")
	}

	if sess.PendingPermission() != nil {
		t.Error("pending should clear after response")
	}
	entry := findPermission(t, sess, "42")
	if entry.ResponseOption != "allow" {
		t.Errorf("response = %q, want %q", entry.ResponseOption, "allow")
	}
}

func TestRespondPermissionDispatchFailure(t *testing.T) {
	eng, sess := newEngineWithSession(t)
	ctx := context.Background()

	reply := func(acp.RequestPermissionResponse) error {
		return fmt.Errorf("pipe closed")
	}
	if err := eng.HandlePermissionRequest(ctx, "42", permissionRequest(sess.ID()), reply); err != nil {
		t.Fatalf("HandlePermissionRequest() error = %v", err)
	}

	err := eng.RespondPermission(ctx, sess.ID(), "42", "allow")
	if !errors.Is(err, engine.ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}

	// The user's decision is recorded even though the wire failed.
	entry := findPermission(t, sess, "42")
	if entry.ResponseOption != "allow" {
		t.Errorf("response = %q, want %q recorded despite failure", entry.ResponseOption, "allow")
	}
	if sess.PendingPermission() != nil {
		t.Error("pending should clear after a failed dispatch")
	}
}

func TestRespondPermissionTimeout(t *testing.T) {
	eng, err := engine.New(&fakeAgent{}, &engine.Config{PermissionTimeoutMS: 50})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sess, err := eng.NewSession(context.Background(), "/work")
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	ctx := context.Background()

	block := make(chan struct{})
	defer close(block)
	reply := func(acp.RequestPermissionResponse) error {
		<-block
		return nil
	}
	if err := eng.HandlePermissionRequest(ctx, "42", permissionRequest(sess.ID()), reply); err != nil {
		t.Fatalf("HandlePermissionRequest() error = %v", err)
	}

	err = eng.RespondPermission(ctx, sess.ID(), "42", "allow")
	if !errors.Is(err, engine.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}

	// The consumer is unblocked but the entry stays unanswered for audit.
	if sess.PendingPermission() != nil {
		t.Error("pending should clear on timeout")
	}
	entry := findPermission(t, sess, "42")
	if entry.Answered() {
		t.Error("timed-out entry must stay unanswered")
	}
}

func TestRespondPermissionWithoutOutstandingReply(t *testing.T) {
	eng, sess := newEngineWithSession(t)

	// A restored session has the entry but no reply callback.
	sess.AppendPermission(&session.PermissionEntry{RequestID: "42"})

	if err := eng.RespondPermission(context.Background(), sess.ID(), "42", "allow"); err != nil {
		t.Fatalf("RespondPermission() error = %v", err)
	}
	entry := findPermission(t, sess, "42")
	if entry.ResponseOption != "allow" {
		t.Errorf("response = %q, want %q", entry.ResponseOption, "allow")
	}
}

func TestRespondPermissionUnknownRequest(t *testing.T) {
	eng, sess := newEngineWithSession(t)

	err := eng.RespondPermission(context.Background(), sess.ID(), "missing", "allow")
	if !errors.Is(err, session.ErrUnknownPermission) {
		t.Fatalf("error = %v, want ErrUnknownPermission", err)
	}
}

func TestDismissPermission(t *testing.T) {
	eng, sess := newEngineWithSession(t)
	ctx := context.Background()

	replied := make(chan acp.RequestPermissionResponse, 1)
	reply := func(resp acp.RequestPermissionResponse) error {
		replied <- resp
		return nil
	}
	if err := eng.HandlePermissionRequest(ctx, "42", permissionRequest(sess.ID()), reply); err != nil {
		t.Fatalf("HandlePermissionRequest() error = %v", err)
	}

	if err := eng.DismissPermission(ctx, sess.ID(), "42"); err != nil {
		t.Fatalf("DismissPermission() error = %v", err)
	}

	select {
	case resp := <-replied:
		if resp.Outcome.Outcome != "cancelled" {
			t.Errorf("outcome = %q, want %q", resp.Outcome.Outcome, "cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled reply never sent")
	}

	if sess.PendingPermission() != nil {
		t.Error("pending should clear on dismiss")
	}
	if findPermission(t, sess, "42").Answered() {
		t.Error("dismissed entry must stay unanswered")
	}
}

func findPermission(t *testing.T, sess *session.Session, requestID string) *session.PermissionEntry {
	t.Helper()
	for _, entry := range sess.Entries() {
		if p, ok := entry.(*session.PermissionEntry); ok && p.RequestID == requestID {
			return p
		}
	}
	t.Fatalf("no permission entry for request %q", requestID)
	return nil
}
