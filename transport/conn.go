// Package transport speaks newline-delimited JSON-RPC 2.0 over an agent
// process's stdio. It is the opaque bidirectional channel the engine sits
// on: outbound commands become requests correlated by id, inbound
// session/update notifications and agent-initiated permission requests are
// handed to the engine, and nothing here interprets session state.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tailored-agentic-units/acphost/core/acp"
	"github.com/tailored-agentic-units/acphost/engine"
)

// jsonrpcVersion is the fixed version marker on every frame.
const jsonrpcVersion = "2.0"

// maxFrameSize bounds a single newline-delimited frame. Agents embed file
// contents in tool call payloads, so frames can be large.
const maxFrameSize = 10 * 1024 * 1024

// ErrClosed is returned for calls made after the read loop has ended.
var ErrClosed = errors.New("transport closed")

// Handler receives the agent-initiated traffic: session/update
// notifications and permission requests. *engine.Engine implements it.
type Handler interface {
	HandleNotification(ctx context.Context, raw []byte) error
	HandlePermissionRequest(ctx context.Context, requestID string, req acp.RequestPermissionRequest, reply engine.PermissionReply) error
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Conn is one JSON-RPC connection. It is safe for concurrent calls; a
// write mutex serializes frames, and responses are routed back to callers
// by request id.
type Conn struct {
	handler Handler
	logger  *slog.Logger

	writeMu sync.Mutex
	w       io.Writer

	seq       atomic.Uint64
	pendingMu sync.Mutex
	pending   map[string]chan callResult

	done chan struct{}
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// NewConn creates a connection reading agent output from r and writing
// client frames to w. Call Run to start the read loop.
func NewConn(r io.Reader, w io.Writer, handler Handler, opts ...Option) *Conn {
	c := &Conn{
		handler: handler,
		logger:  slog.Default(),
		w:       w,
		pending: make(map[string]chan callResult),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop(r)
	return c
}

// Run is kept for symmetry with servers that block on their read loop; it
// waits until the connection ends (agent exit or read error).
func (c *Conn) Run(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the read loop ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop(r io.Reader) {
	defer c.close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			c.logger.Warn("dropping unparseable frame", slog.String("error", err.Error()))
			continue
		}

		switch {
		case f.Method != "" && len(f.ID) > 0:
			go c.handleRequest(f)
		case f.Method != "":
			c.handleNotification(f)
		case len(f.ID) > 0:
			c.handleResponse(f)
		default:
			c.logger.Warn("ignoring frame without method or id")
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("transport read failed", slog.String("error", err.Error()))
	}
}

// close fails every pending call and marks the connection dead.
func (c *Conn) close() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- callResult{err: ErrClosed}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	close(c.done)
}

func (c *Conn) handleNotification(f frame) {
	if f.Method != acp.MethodSessionUpdate {
		c.logger.Debug("ignoring notification", slog.String("method", f.Method))
		return
	}
	if err := c.handler.HandleNotification(context.Background(), f.Params); err != nil && !engine.IsDrop(err) {
		c.logger.Warn("notification handling failed", slog.String("error", err.Error()))
	}
}

// handleRequest serves an agent-initiated request. Permission requests
// are answered asynchronously when the user decides; everything else gets
// a method-not-found error.
func (c *Conn) handleRequest(f frame) {
	if f.Method != acp.MethodRequestPermission {
		c.writeError(f.ID, -32601, "method not found: "+f.Method)
		return
	}

	var req acp.RequestPermissionRequest
	if err := json.Unmarshal(f.Params, &req); err != nil {
		c.writeError(f.ID, -32602, "invalid params: "+err.Error())
		return
	}

	id := f.ID
	requestID := rawIDKey(id)
	reply := func(resp acp.RequestPermissionResponse) error {
		return c.writeResult(id, resp)
	}

	if err := c.handler.HandlePermissionRequest(context.Background(), requestID, req, reply); err != nil {
		c.writeError(f.ID, -32603, err.Error())
	}
}

func (c *Conn) handleResponse(f frame) {
	key := rawIDKey(f.ID)

	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("no pending call for response", slog.String("id", key))
		return
	}

	if f.Error != nil {
		ch <- callResult{err: f.Error}
		return
	}
	ch <- callResult{result: f.Result}
}

// Call performs one request/response round trip, decoding the result into
// out when out is non-nil.
func (c *Conn) Call(ctx context.Context, method string, params, out any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	id := c.seq.Add(1)
	rawID := json.RawMessage(strconv.FormatUint(id, 10))
	key := rawIDKey(rawID)

	ch := make(chan callResult, 1)
	c.pendingMu.Lock()
	c.pending[key] = ch
	c.pendingMu.Unlock()

	if err := c.write(frameFor(rawID, method, params)); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
		return err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("%s: %w", method, res.err)
		}
		if out != nil && len(res.result) > 0 && string(res.result) != "null" {
			if err := json.Unmarshal(res.result, out); err != nil {
				return fmt.Errorf("%s: invalid result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
		return ctx.Err()
	}
}

// Notify sends a request without an id; no response will arrive.
func (c *Conn) Notify(method string, params any) error {
	return c.write(frameFor(nil, method, params))
}

func frameFor(id json.RawMessage, method string, params any) map[string]any {
	f := map[string]any{
		"jsonrpc": jsonrpcVersion,
		"method":  method,
		"params":  params,
	}
	if id != nil {
		f["id"] = id
	}
	return f
}

func (c *Conn) writeResult(id json.RawMessage, result any) error {
	return c.write(map[string]any{
		"jsonrpc": jsonrpcVersion,
		"id":      id,
		"result":  result,
	})
}

func (c *Conn) writeError(id json.RawMessage, code int, message string) {
	err := c.write(map[string]any{
		"jsonrpc": jsonrpcVersion,
		"id":      id,
		"error":   rpcError{Code: code, Message: message},
	})
	if err != nil {
		c.logger.Warn("failed to write error response", slog.String("error", err.Error()))
	}
}

func (c *Conn) write(v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(append(buf, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// rawIDKey canonicalizes a JSON-RPC id for map lookup. Numeric and string
// ids both occur in the wild; the raw JSON text distinguishes them.
func rawIDKey(id json.RawMessage) string {
	return string(id)
}
