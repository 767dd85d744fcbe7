package engine

import (
	"context"
	"fmt"

	"github.com/tailored-agentic-units/acphost/core/acp"
	"github.com/tailored-agentic-units/acphost/observability"
	"github.com/tailored-agentic-units/acphost/session"
)

// PromptResult ends one prompt turn: the agent's stop reason, or the
// error that terminated the round trip.
type PromptResult struct {
	StopReason string
	Err        error
}

// Connect performs the initialize handshake. Commands that reach the
// agent require a prior successful Connect. The engine's connection state
// is connecting for the duration of the round trip, then ready or error.
func (e *Engine) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout())
	defer cancel()

	e.setState(session.StatusConnecting)
	_, err := e.agent.Initialize(ctx, acp.InitializeRequest{ProtocolVersion: acp.ProtocolVersion})
	if err != nil {
		e.setState(session.StatusError)
		return fmt.Errorf("%w: initialize: %v", ErrTransport, err)
	}

	e.setState(session.StatusReady)
	return nil
}

// Status returns the engine-level connection state. Per-session statuses
// layer prompting and error states on top of it.
func (e *Engine) Status() session.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Connected reports whether the initialize handshake has completed.
func (e *Engine) Connected() bool {
	return e.Status() == session.StatusReady
}

func (e *Engine) setState(s session.Status) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// NewSession asks the agent for a fresh session rooted at projectDir and
// registers it under the agent-assigned id. The response's mode/model
// state is recorded as the session's first capabilities snapshot.
func (e *Engine) NewSession(ctx context.Context, projectDir string) (*session.Session, error) {
	if !e.Connected() {
		return nil, ErrNotConnected
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout())
	defer cancel()

	resp, err := e.agent.NewSession(callCtx, acp.NewSessionRequest{
		Cwd:        projectDir,
		McpServers: []map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: session/new: %v", ErrTransport, err)
	}

	sess, err := e.registry.Create(resp.SessionID, projectDir)
	if err != nil {
		return nil, err
	}
	sess.SetStatus(session.StatusInitializing)
	e.applyCapabilities(ctx, sess, resp.Modes, resp.Models)
	sess.SetStatus(session.StatusReady)
	return sess, nil
}

// ResumeSession reattaches to an existing agent-side session. When the
// session is not yet registered locally (fresh process, log restored
// separately or not at all) it is registered first; the agent then
// replays history as ordinary session/update notifications.
func (e *Engine) ResumeSession(ctx context.Context, sessionID, projectDir string) (*session.Session, error) {
	if !e.Connected() {
		return nil, ErrNotConnected
	}

	sess, err := e.registry.Get(sessionID)
	if err != nil {
		if sess, err = e.registry.Create(sessionID, projectDir); err != nil {
			return nil, err
		}
	}
	sess.SetStatus(session.StatusInitializing)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout())
	defer cancel()

	resp, err := e.agent.LoadSession(callCtx, acp.LoadSessionRequest{
		SessionID:  sessionID,
		Cwd:        projectDir,
		McpServers: []map[string]any{},
	})
	if err != nil {
		sess.SetStatus(session.StatusError)
		return nil, fmt.Errorf("%w: session/load: %v", ErrTransport, err)
	}

	e.applyCapabilities(ctx, sess, resp.Modes, resp.Models)
	sess.SetStatus(session.StatusReady)
	return sess, nil
}

// SendPrompt records the user's message locally, then dispatches the
// prompt. The append is synchronous so the user-visible record of "what I
// asked" exists before any network activity; the round trip lasts the
// whole turn and completes on the returned channel. A failed dispatch
// retains the local entry, sets the session status to error, and delivers
// the failure on the channel.
func (e *Engine) SendPrompt(ctx context.Context, sessionID, text string) (<-chan PromptResult, error) {
	sess, err := e.registry.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	e.mu.Lock()
	if _, inFlight := e.prompts[sessionID]; inFlight {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s", ErrPromptInFlight, sessionID)
	}
	promptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.prompts[sessionID] = cancel
	e.mu.Unlock()

	seq := sess.AppendUserMessage(text)
	e.persist(ctx, sess, seq)
	sess.SetStatus(session.StatusPrompting)
	e.observe(ctx, EventPromptStart, observability.LevelInfo, sessionID,
		map[string]any{"seq": seq, "prompt_length": len(text)})

	done := make(chan PromptResult, 1)
	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.prompts, sessionID)
			e.mu.Unlock()
			cancel()
		}()

		resp, err := e.agent.Prompt(promptCtx, acp.PromptRequest{
			SessionID: sessionID,
			Prompt:    []acp.ContentBlock{acp.TextBlock(text)},
		})
		if err != nil {
			sess.SetStatus(session.StatusError)
			e.observe(promptCtx, EventCommandError, observability.LevelError, sessionID,
				map[string]any{"command": "prompt", "error": err.Error()})
			done <- PromptResult{Err: fmt.Errorf("%w: session/prompt: %v", ErrTransport, err)}
			return
		}

		sess.SetStatus(session.StatusReady)
		e.observe(promptCtx, EventPromptComplete, observability.LevelInfo, sessionID,
			map[string]any{"stop_reason": resp.StopReason})
		done <- PromptResult{StopReason: resp.StopReason}
	}()
	return done, nil
}

// Cancel aborts the in-flight prompt of a session. Only the outstanding
// round trip is cancelled; entries already appended stay untouched. The
// cancel notification to the agent is best effort.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	if _, err := e.registry.Get(sessionID); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	e.mu.Lock()
	cancel, inFlight := e.prompts[sessionID]
	e.mu.Unlock()
	if inFlight {
		cancel()
	}

	if err := e.agent.Cancel(ctx, acp.CancelNotification{SessionID: sessionID}); err != nil {
		return fmt.Errorf("%w: session/cancel: %v", ErrTransport, err)
	}
	return nil
}

// SetMode switches the session's operating mode. The local mode cache
// and log are updated on success; a later current_mode_update echoing the
// same id is suppressed as a no-op.
func (e *Engine) SetMode(ctx context.Context, sessionID, modeID string) error {
	sess, err := e.registry.Get(sessionID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout())
	defer cancel()

	if err := e.agent.SetMode(callCtx, acp.SetModeRequest{SessionID: sessionID, ModeID: modeID}); err != nil {
		sess.SetStatus(session.StatusError)
		e.observe(ctx, EventCommandError, observability.LevelError, sessionID,
			map[string]any{"command": "set_mode", "error": err.Error()})
		return fmt.Errorf("%w: session/set_mode: %v", ErrTransport, err)
	}

	if seq, changed := sess.ApplyMode(modeID); changed {
		e.observe(ctx, EventModeChange, observability.LevelInfo, sessionID,
			map[string]any{"mode": modeID, "seq": seq})
		e.persist(ctx, sess, seq)
	}
	return nil
}

// DeleteSession destroys a session: any in-flight prompt is cancelled,
// outstanding permission requests are answered with a cancelled outcome
// so the agent does not stay blocked on them, and the stored log is
// removed.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	if cancel, inFlight := e.prompts[sessionID]; inFlight {
		cancel()
		delete(e.prompts, sessionID)
	}
	var orphaned []PermissionReply
	for key, reply := range e.replies {
		if key.sessionID == sessionID {
			orphaned = append(orphaned, reply)
			delete(e.replies, key)
		}
	}
	e.mu.Unlock()

	for _, reply := range orphaned {
		go func(reply PermissionReply) {
			_ = reply(acp.RequestPermissionResponse{Outcome: acp.CancelledOutcome()})
		}(reply)
	}

	if err := e.registry.Delete(sessionID); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.DeleteSession(ctx, sessionID); err != nil {
			e.observe(ctx, EventStoreError, observability.LevelError, sessionID,
				map[string]any{"error": err.Error()})
		}
	}
	return nil
}

func (e *Engine) applyCapabilities(ctx context.Context, sess *session.Session, modes *acp.ModeState, models *acp.ModelState) {
	if modes == nil && models == nil {
		return
	}

	var (
		availableModes  []acp.Mode
		availableModels []acp.Model
		currentModeID   string
		currentModelID  string
	)
	if modes != nil {
		availableModes = modes.AvailableModes
		currentModeID = modes.CurrentModeID
	}
	if models != nil {
		availableModels = models.AvailableModels
		currentModelID = models.CurrentModelID
	}

	seq := sess.ApplyMeta(availableModes, availableModels, currentModeID, currentModelID)
	e.observe(ctx, EventEntryAppend, observability.LevelVerbose, sess.ID(),
		map[string]any{"kind": string(session.EntryMeta), "seq": seq})
	e.persist(ctx, sess, seq)
}
