package acp

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoSession marks a notification that cannot be routed because it
	// carries no session id.
	ErrNoSession = errors.New("notification has no session id")

	// ErrUnknownUpdate marks a session/update discriminant outside the
	// closed update set. Callers drop and log; newer agents may emit kinds
	// this client does not know.
	ErrUnknownUpdate = errors.New("unknown session update kind")

	// ErrMalformed marks a notification that is not valid JSON or whose
	// update payload does not match its discriminant's shape.
	ErrMalformed = errors.New("malformed notification")
)

// envelope is the raw shape of a session/update notification before the
// update payload is resolved to a concrete type.
type envelope struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

// chunkPayload is the shared shape of message and thought chunks.
type chunkPayload struct {
	Content ContentBlock `json:"content"`
}

// DecodeNotification parses one raw session/update notification into its
// typed form. It is pure: no state is read or written, and every failure
// is reported through the error taxonomy above so callers can decide
// between dropping and surfacing.
func DecodeNotification(raw []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.SessionID == "" {
		return Notification{}, ErrNoSession
	}
	if len(env.Update) == 0 {
		return Notification{}, fmt.Errorf("%w: missing update", ErrMalformed)
	}

	update, err := decodeUpdate(env.Update)
	if err != nil {
		return Notification{}, err
	}
	return Notification{SessionID: env.SessionID, Update: update}, nil
}

func decodeUpdate(raw json.RawMessage) (Update, error) {
	var disc struct {
		SessionUpdate UpdateKind `json:"sessionUpdate"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch disc.SessionUpdate {
	case UpdateAgentMessageChunk:
		var p chunkPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return MessageChunk{Text: p.Content.Text}, nil

	case UpdateAgentThoughtChunk:
		var p chunkPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ThoughtChunk{Text: p.Content.Text}, nil

	case UpdateToolCall:
		var u ToolCallStart
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if u.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool_call without toolCallId", ErrMalformed)
		}
		return u, nil

	case UpdateToolCallUpdate:
		var u ToolCallProgress
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if u.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool_call_update without toolCallId", ErrMalformed)
		}
		return u, nil

	case UpdatePlan:
		var u PlanUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return u, nil

	case UpdateCurrentMode:
		var u ModeUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return u, nil

	case UpdateAvailableCommands:
		var u CommandsUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return u, nil

	case UpdateError:
		var u ErrorUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return u, nil

	case "":
		return nil, fmt.Errorf("%w: missing sessionUpdate discriminant", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownUpdate, disc.SessionUpdate)
	}
}
