package session_test

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/tailored-agentic-units/acphost/session"
)

func TestExtractNewContent(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		fragment string
		want     string
		changed  bool
	}{
		{name: "delta onto empty", current: "", fragment: "Hel", want: "Hel", changed: true},
		{name: "plain delta", current: "Hel", fragment: "lo wor", want: "lo wor", changed: true},
		{name: "cumulative restatement", current: "Hel", fragment: "Hello", want: "lo", changed: true},
		{name: "exact duplicate", current: "Hello", fragment: "Hello", want: "", changed: false},
		{name: "suffix duplicate", current: "Hello world", fragment: "world", want: "", changed: false},
		{name: "cumulative past duplicate", current: "Hello", fragment: "Hello wor", want: " wor", changed: true},
		{name: "empty fragment", current: "Hello", fragment: "", want: "", changed: false},
		{name: "both empty", current: "", fragment: "", want: "", changed: false},
		{name: "repeated word delta", current: "go go", fragment: "go", want: "", changed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := session.ExtractNewContent(tt.current, tt.fragment)
			if got != tt.want || changed != tt.changed {
				t.Errorf("ExtractNewContent(%q, %q) = (%q, %v), want (%q, %v)",
					tt.current, tt.fragment, got, changed, tt.want, tt.changed)
			}
		})
	}
}

// The documented mixed-semantics stream from a real agent trace: a delta,
// a cumulative restatement, a retransmitted duplicate, then a cumulative
// continuation.
func TestFoldMixedChunkSemantics(t *testing.T) {
	sess := newTestSession(t)

	for _, fragment := range []string{"Hel", "Hello", "Hello", "Hello wor"} {
		sess.FoldAssistantText(fragment)
	}

	entries := sess.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	msg := entries[0].(*session.MessageEntry)
	if msg.Text != "Hello wor" {
		t.Errorf("text = %q, want %q", msg.Text, "Hello wor")
	}
}

// Applying any fragment a second time never changes the text again.
func TestFoldIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sess := newTestSession(rt)

		n := rapid.IntRange(1, 8).Draw(rt, "n")
		for i := 0; i < n; i++ {
			fragment := rapid.StringN(0, 20, -1).Draw(rt, fmt.Sprintf("fragment%d", i))
			sess.FoldAssistantText(fragment)
			before := assistantText(sess)
			sess.FoldAssistantText(fragment)
			if after := assistantText(sess); after != before {
				rt.Fatalf("refolding %q changed text from %q to %q", fragment, before, after)
			}
		}
	})
}

// A cumulative stream of growing prefixes converges on the full message.
func TestFoldCumulativeStream(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sess := newTestSession(rt)

		full := rapid.StringN(1, 80, -1).Draw(rt, "full")
		cuts := rapid.SliceOfN(rapid.IntRange(0, len(full)), 1, 10).Draw(rt, "cuts")
		slices.Sort(cuts)
		for _, cut := range cuts {
			sess.FoldAssistantText(full[:cut])
		}
		sess.FoldAssistantText(full)

		got := assistantText(sess)
		if got != full {
			rt.Fatalf("folded %q, want %q", got, full)
		}
	})
}

// A pure delta stream accumulates to the concatenation. Markers keep the
// generated deltas from colliding with the duplicate heuristic.
func TestFoldDeltaStream(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sess := newTestSession(rt)

		n := rapid.IntRange(1, 10).Draw(rt, "n")
		var want strings.Builder
		for i := 0; i < n; i++ {
			body := rapid.StringMatching(`[a-z]{0,15}`).Draw(rt, fmt.Sprintf("delta%d", i))
			delta := fmt.Sprintf("<%d>%s", i, body)
			want.WriteString(delta)
			sess.FoldAssistantText(delta)
		}

		got := assistantText(sess)
		if got != want.String() {
			rt.Fatalf("folded %q, want %q", got, want.String())
		}
	})
}

// Message text never shrinks under any fragment sequence.
func TestFoldMonotonicGrowth(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sess := newTestSession(rt)

		n := rapid.IntRange(1, 15).Draw(rt, "n")
		previous := ""
		for i := 0; i < n; i++ {
			fragment := rapid.StringN(0, 30, -1).Draw(rt, fmt.Sprintf("fragment%d", i))
			sess.FoldAssistantText(fragment)
			current := assistantText(sess)
			if len(current) < len(previous) || !strings.HasPrefix(current, previous) {
				rt.Fatalf("text %q is not a growth of %q", current, previous)
			}
			previous = current
		}
	})
}

type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newTestSession(t testingT) *session.Session {
	t.Helper()
	sess, err := session.NewRegistry().Create("s-test", "/work")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sess
}

func assistantText(sess *session.Session) string {
	entries := sess.Entries()
	if len(entries) == 0 {
		return ""
	}
	if msg, ok := entries[len(entries)-1].(*session.MessageEntry); ok && msg.Role == session.RoleAssistant {
		return msg.Text
	}
	return ""
}
