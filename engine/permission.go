package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/acphost/core/acp"
	"github.com/tailored-agentic-units/acphost/observability"
	"github.com/tailored-agentic-units/acphost/session"
)

// HandlePermissionRequest records an agent-initiated permission request:
// it appends an unanswered permission entry, makes it the session's
// pending permission, and retains the reply callback until the user
// responds. requestID is the transport's correlation id for the request
// and must be unique within the session.
func (e *Engine) HandlePermissionRequest(ctx context.Context, requestID string, req acp.RequestPermissionRequest, reply PermissionReply) error {
	sess, err := e.registry.Get(req.SessionID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, req.SessionID)
	}

	var toolName string
	if tc := findToolCall(sess, req.ToolCall.ToolCallID); tc != nil {
		toolName = tc.ToolName
	}

	seq := sess.AppendPermission(&session.PermissionEntry{
		RequestID:   requestID,
		ToolCallID:  req.ToolCall.ToolCallID,
		ToolName:    toolName,
		Description: req.ToolCall.Title,
		Options:     req.Options,
	})

	if reply != nil {
		e.mu.Lock()
		e.replies[permKey{sessionID: req.SessionID, requestID: requestID}] = reply
		e.mu.Unlock()
	}

	e.observe(ctx, EventPermissionRequest, observability.LevelInfo, req.SessionID,
		map[string]any{"request_id": requestID, "seq": seq, "options": len(req.Options)})
	e.persist(ctx, sess, seq)
	return nil
}

// RespondPermission answers a pending permission request with the chosen
// option and sends the response back to the agent within the configured
// bounded wait.
//
// The three outcomes keep the consumer unblocked in every case:
//   - round trip succeeds: the entry records the option, pending clears
//   - dispatch fails outright: the chosen option is still recorded (the
//     user's decision is a fact), pending clears, the error is surfaced
//   - round trip times out: pending clears so nothing stays blocked, but
//     the entry is left unanswered for audit, and the error is surfaced
func (e *Engine) RespondPermission(ctx context.Context, sessionID, requestID, optionID string) error {
	sess, err := e.registry.Get(sessionID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	key := permKey{sessionID: sessionID, requestID: requestID}
	e.mu.Lock()
	reply, ok := e.replies[key]
	delete(e.replies, key)
	e.mu.Unlock()

	if !ok {
		// No transport reply outstanding (e.g. a restored session). The
		// entry mutation alone still applies; an unknown request id is a
		// no-op error either way.
		if err := sess.ResolvePermission(requestID, optionID); err != nil {
			return err
		}
		e.persistPermission(ctx, sess, requestID)
		return nil
	}

	sent := make(chan error, 1)
	go func() {
		sent <- reply(acp.RequestPermissionResponse{Outcome: acp.SelectedOutcome(optionID)})
	}()

	timer := time.NewTimer(e.cfg.PermissionTimeout())
	defer timer.Stop()

	select {
	case err := <-sent:
		if err != nil {
			// The dispatch failed immediately. Record the decision anyway
			// and clear the pending pointer; only the wire is unhappy.
			if resolveErr := sess.ResolvePermission(requestID, optionID); resolveErr != nil {
				return resolveErr
			}
			e.persistPermission(ctx, sess, requestID)
			e.observe(ctx, EventCommandError, observability.LevelError, sessionID,
				map[string]any{"request_id": requestID, "error": err.Error()})
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		if err := sess.ResolvePermission(requestID, optionID); err != nil {
			return err
		}
		e.persistPermission(ctx, sess, requestID)
		e.observe(ctx, EventPermissionResolve, observability.LevelInfo, sessionID,
			map[string]any{"request_id": requestID, "option_id": optionID})
		return nil

	case <-timer.C:
		sess.DismissPermission(requestID)
		e.observe(ctx, EventPermissionTimeout, observability.LevelError, sessionID,
			map[string]any{"request_id": requestID})
		return fmt.Errorf("%w: request %s", ErrTimeout, requestID)

	case <-ctx.Done():
		sess.DismissPermission(requestID)
		return ctx.Err()
	}
}

// DismissPermission abandons a pending request without choosing an
// option: the agent receives a cancelled outcome and the pending pointer
// clears. The entry stays unanswered.
func (e *Engine) DismissPermission(ctx context.Context, sessionID, requestID string) error {
	sess, err := e.registry.Get(sessionID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	key := permKey{sessionID: sessionID, requestID: requestID}
	e.mu.Lock()
	reply, ok := e.replies[key]
	delete(e.replies, key)
	e.mu.Unlock()

	sess.DismissPermission(requestID)
	if ok {
		go func() { _ = reply(acp.RequestPermissionResponse{Outcome: acp.CancelledOutcome()}) }()
	}
	return nil
}

func (e *Engine) persistPermission(ctx context.Context, sess *session.Session, requestID string) {
	for _, entry := range sess.Entries() {
		if p, ok := entry.(*session.PermissionEntry); ok && p.RequestID == requestID {
			e.persist(ctx, sess, p.Seq)
			return
		}
	}
}
