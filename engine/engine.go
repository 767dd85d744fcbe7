// Package engine turns the agent's asynchronous notification stream into
// per-session entry logs and dispatches user commands back to the agent.
//
// One Engine serves one agent connection and any number of sessions on it.
// Transport events and user commands both funnel into the owning session's
// lock, so no two mutations of the same log ever interleave. The engine
// assumes the transport delivers events for a single session in send order
// and does not reorder.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tailored-agentic-units/acphost/core/acp"
	"github.com/tailored-agentic-units/acphost/observability"
	"github.com/tailored-agentic-units/acphost/session"
)

// Agent is the outbound half of the transport: the commands a client can
// send. Implementations own the wire; the engine never sees raw frames
// going out.
type Agent interface {
	Initialize(ctx context.Context, req acp.InitializeRequest) (acp.InitializeResponse, error)
	NewSession(ctx context.Context, req acp.NewSessionRequest) (acp.NewSessionResponse, error)
	LoadSession(ctx context.Context, req acp.LoadSessionRequest) (acp.LoadSessionResponse, error)
	Prompt(ctx context.Context, req acp.PromptRequest) (acp.PromptResponse, error)
	Cancel(ctx context.Context, note acp.CancelNotification) error
	SetMode(ctx context.Context, req acp.SetModeRequest) error
}

// Store persists entry records as they are appended or updated. A nil
// store disables persistence. Store failures are logged and never block
// the in-memory log.
type Store interface {
	Put(ctx context.Context, rec session.Record) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// PermissionReply sends the answer to an agent-initiated permission
// request back over the transport.
type PermissionReply func(acp.RequestPermissionResponse) error

type permKey struct {
	sessionID string
	requestID string
}

// Engine is the protocol engine: decoder dispatch, streaming merge,
// tool-call and permission correlation, mode/plan tracking, and command
// dispatch, all against the session registry.
type Engine struct {
	agent    Agent
	registry *session.Registry
	store    Store
	observer observability.Observer
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	replies map[permKey]PermissionReply
	prompts map[string]context.CancelFunc
	state   session.Status
}

// Option configures an Engine after config-driven initialization.
type Option func(*Engine)

// WithRegistry overrides the engine-created session registry.
func WithRegistry(r *session.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithStore enables entry persistence.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine speaking to the given agent. A nil cfg uses
// DefaultConfig.
func New(agent Agent, cfg *Config, opts ...Option) (*Engine, error) {
	resolved := DefaultConfig()
	if cfg != nil {
		resolved.Merge(cfg)
	}
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		agent:    agent,
		registry: session.NewRegistry(),
		logger:   slog.Default(),
		cfg:      resolved,
		replies:  make(map[permKey]PermissionReply),
		prompts:  make(map[string]context.CancelFunc),
		state:    session.StatusDisconnected,
	}
	e.observer = observability.NewSlogObserver(e.logger)

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Registry returns the session registry all entry reads go through.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

func (e *Engine) observe(ctx context.Context, typ observability.EventType, level observability.Level, sessionID string, data map[string]any) {
	e.observer.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "engine",
		SessionID: sessionID,
		Data:      data,
	})
}

// persist writes the entry with the given sequence id to the store, if one
// is configured. Both fresh appends and in-place updates go through here;
// the store keys on (session, seq) and upserts.
func (e *Engine) persist(ctx context.Context, sess *session.Session, seq uint64) {
	if e.store == nil || seq == 0 {
		return
	}
	entry, ok := sess.EntryBySeq(seq)
	if !ok {
		return
	}
	rec, err := session.EncodeRecord(sess.ID(), entry)
	if err != nil {
		e.observe(ctx, EventStoreError, observability.LevelError, sess.ID(),
			map[string]any{"seq": seq, "error": err.Error()})
		return
	}
	if err := e.store.Put(ctx, rec); err != nil {
		e.observe(ctx, EventStoreError, observability.LevelError, sess.ID(),
			map[string]any{"seq": seq, "error": err.Error()})
	}
}
