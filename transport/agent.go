package transport

import (
	"context"

	"github.com/tailored-agentic-units/acphost/core/acp"
)

// The agent-facing command surface. Conn satisfies engine.Agent so the
// engine can dispatch commands without knowing about frames or ids.

func (c *Conn) Initialize(ctx context.Context, req acp.InitializeRequest) (acp.InitializeResponse, error) {
	var resp acp.InitializeResponse
	err := c.Call(ctx, acp.MethodInitialize, req, &resp)
	return resp, err
}

func (c *Conn) NewSession(ctx context.Context, req acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	var resp acp.NewSessionResponse
	err := c.Call(ctx, acp.MethodSessionNew, req, &resp)
	return resp, err
}

func (c *Conn) LoadSession(ctx context.Context, req acp.LoadSessionRequest) (acp.LoadSessionResponse, error) {
	var resp acp.LoadSessionResponse
	err := c.Call(ctx, acp.MethodSessionLoad, req, &resp)
	return resp, err
}

func (c *Conn) Prompt(ctx context.Context, req acp.PromptRequest) (acp.PromptResponse, error) {
	var resp acp.PromptResponse
	err := c.Call(ctx, acp.MethodSessionPrompt, req, &resp)
	return resp, err
}

// Cancel is fire and forget on the wire; the turn's outcome arrives as
// the prompt response's stop reason.
func (c *Conn) Cancel(_ context.Context, note acp.CancelNotification) error {
	return c.Notify(acp.MethodSessionCancel, note)
}

func (c *Conn) SetMode(ctx context.Context, req acp.SetModeRequest) error {
	return c.Call(ctx, acp.MethodSessionSetMode, req, nil)
}
