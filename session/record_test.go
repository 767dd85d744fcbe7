package session_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tailored-agentic-units/acphost/core/acp"
	"github.com/tailored-agentic-units/acphost/session"
)

func TestRecordRoundTrip(t *testing.T) {
	sess := newTestSession(t)
	sess.AppendUserMessage("run the tests")
	sess.FoldThoughtText("looking at the test layout")
	sess.UpsertToolCall(&session.ToolCallEntry{
		CallID:   "tc-1",
		ToolName: "bash",
		Status:   acp.ToolCallCompleted,
		RawInput: json.RawMessage(`{"command":"go test"}`),
		Output:   json.RawMessage(`"ok"`),
	})
	sess.AppendPermission(&session.PermissionEntry{
		RequestID: "r1",
		Options:   []acp.PermissionOption{{OptionID: "allow", Kind: acp.PermissionAllowOnce}},
	})
	sess.AppendPlan([]acp.PlanItem{{Content: "run tests", Status: acp.PlanItemCompleted}})
	sess.ApplyMode("code")
	sess.ApplyMeta([]acp.Mode{{ID: "code"}}, []acp.Model{{ModelID: "m1"}}, "code", "m1")

	for _, entry := range sess.Entries() {
		rec, err := session.EncodeRecord("s1", entry)
		if err != nil {
			t.Fatalf("EncodeRecord(%s) error = %v", entry.Kind(), err)
		}
		if rec.Kind != entry.Kind() || rec.Seq != entry.Sequence() {
			t.Errorf("record identity = %q/%d, want %q/%d", rec.Kind, rec.Seq, entry.Kind(), entry.Sequence())
		}

		decoded, err := session.DecodeRecord(rec)
		if err != nil {
			t.Fatalf("DecodeRecord(%s) error = %v", rec.Kind, err)
		}
		if decoded.Kind() != entry.Kind() {
			t.Errorf("decoded kind = %q, want %q", decoded.Kind(), entry.Kind())
		}
		if decoded.Sequence() != entry.Sequence() {
			t.Errorf("decoded seq = %d, want %d", decoded.Sequence(), entry.Sequence())
		}
	}
}

func TestRecordCorrelationColumns(t *testing.T) {
	tcRec, err := session.EncodeRecord("s1", &session.ToolCallEntry{CallID: "tc-9", Status: acp.ToolCallPending})
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	if tcRec.CallID != "tc-9" {
		t.Errorf("CallID = %q, want %q", tcRec.CallID, "tc-9")
	}

	permRec, err := session.EncodeRecord("s1", &session.PermissionEntry{RequestID: "r-9"})
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	if permRec.RequestID != "r-9" {
		t.Errorf("RequestID = %q, want %q", permRec.RequestID, "r-9")
	}
}

func TestRecordColumnsAuthoritative(t *testing.T) {
	entry := &session.MessageEntry{Role: session.RoleAssistant, Text: "hi"}
	rec, err := session.EncodeRecord("s1", entry)
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}

	// A store may rewrite the identity columns; the payload must not win.
	rec.Seq = 42
	rec.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	decoded, err := session.DecodeRecord(rec)
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}
	if decoded.Sequence() != 42 {
		t.Errorf("seq = %d, want 42 from the record", decoded.Sequence())
	}
	if !decoded.Time().Equal(rec.CreatedAt) {
		t.Errorf("time = %v, want %v from the record", decoded.Time(), rec.CreatedAt)
	}
}

func TestRecordDeterministicEncoding(t *testing.T) {
	entry := &session.ToolCallEntry{
		CallID:   "tc-1",
		ToolName: "bash",
		Status:   acp.ToolCallCompleted,
		Content:  []acp.ToolCallContent{{Type: "content"}},
	}

	a, err := session.EncodeRecord("s1", entry)
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	b, err := session.EncodeRecord("s1", entry)
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	if string(a.Payload) != string(b.Payload) {
		t.Error("same entry encoded to different bytes")
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := session.DecodeRecord(session.Record{Kind: "hologram", Payload: []byte{0xa0}})
	if !errors.Is(err, session.ErrUnknownEntryKind) {
		t.Fatalf("error = %v, want ErrUnknownEntryKind", err)
	}
}
