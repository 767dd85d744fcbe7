package session

import (
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is the storage-neutral form of one entry. Kind, sequence id,
// correlation ids, and timestamp live in dedicated fields so a store can
// index them; the variant body travels as an opaque CBOR payload. A
// session reloaded from records continues receiving correlated updates
// without re-deriving merge state.
type Record struct {
	SessionID string
	Seq       uint64
	Kind      EntryKind
	CallID    string
	RequestID string
	CreatedAt time.Time
	Payload   []byte
}

// encMode uses Core Deterministic Encoding so the same entry always
// produces identical bytes, which keeps stored logs diffable.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Unknown fields decode into any-typed targets as string-keyed
		// maps, matching what encoding/json would produce.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeRecord converts an entry to its storable form.
func EncodeRecord(sessionID string, e Entry) (Record, error) {
	payload, err := encMode.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s entry: %w", e.Kind(), err)
	}

	rec := Record{
		SessionID: sessionID,
		Seq:       e.Sequence(),
		Kind:      e.Kind(),
		CreatedAt: e.Time(),
		Payload:   payload,
	}
	switch v := e.(type) {
	case *ToolCallEntry:
		rec.CallID = v.CallID
	case *PermissionEntry:
		rec.RequestID = v.RequestID
	}
	return rec, nil
}

// DecodeRecord rebuilds an entry from its storable form. The record's
// sequence id and timestamp are authoritative and overwrite whatever the
// payload carries.
func DecodeRecord(rec Record) (Entry, error) {
	var e Entry
	switch rec.Kind {
	case EntryMessage:
		e = &MessageEntry{}
	case EntryThought:
		e = &ThoughtEntry{}
	case EntryToolCall:
		e = &ToolCallEntry{}
	case EntryPermission:
		e = &PermissionEntry{}
	case EntryPlan:
		e = &PlanEntry{}
	case EntryModeChange:
		e = &ModeChangeEntry{}
	case EntryMeta:
		e = &MetaEntry{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntryKind, rec.Kind)
	}

	if err := decMode.Unmarshal(rec.Payload, e); err != nil {
		return nil, fmt.Errorf("decode %s entry: %w", rec.Kind, err)
	}
	b := e.base()
	b.Seq = rec.Seq
	b.CreatedAt = rec.CreatedAt
	return e, nil
}
