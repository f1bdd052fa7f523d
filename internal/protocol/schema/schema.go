package schema

import (
	"fmt"

	"github.com/danmuck/wamctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs, one per command name.
const (
	MsgStartApp        uint32 = 1
	MsgActivateEvent   uint32 = 2
	MsgDeactivateEvent uint32 = 3
	MsgKilledApp       uint32 = 4
	MsgReadyEvent      uint32 = 5
)

// Field IDs. Positional argument i travels as FieldArgBase+i.
const (
	FieldSurfaces uint16 = 1
	FieldArgBase  uint16 = 100
)

// ArgID returns the field id of positional argument i.
func ArgID(i int) uint16 {
	return FieldArgBase + uint16(i)
}

var names = map[uint32]string{
	MsgStartApp:        "start-app",
	MsgActivateEvent:   "activate-event",
	MsgDeactivateEvent: "deactivate-event",
	MsgKilledApp:       "killed-app",
	MsgReadyEvent:      "ready-event",
}

var byName = func() map[string]uint32 {
	out := make(map[string]uint32, len(names))
	for id, name := range names {
		out[name] = id
	}
	return out
}()

// Name returns the command name for a message type.
func Name(messageType uint32) (string, bool) {
	name, ok := names[messageType]
	return name, ok
}

// Lookup returns the message type for a command name.
func Lookup(name string) (uint32, bool) {
	id, ok := byName[name]
	return id, ok
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

func args(n int) []Requirement {
	out := make([]Requirement, n)
	for i := range out {
		out[i] = Requirement{ID: ArgID(i), Type: tlv.TypeString}
	}
	return out
}

// start-app: appId, appUri, pid, width, height. The rest: one id.
var requirements = map[uint32][]Requirement{
	MsgStartApp:        args(5),
	MsgActivateEvent:   args(1),
	MsgDeactivateEvent: args(1),
	MsgKilledApp:       args(1),
	MsgReadyEvent:      args(1),
}

// optional fields are type-checked only when present.
var optional = map[uint32][]Requirement{
	MsgStartApp: {{FieldSurfaces, tlv.TypeBytes}},
}

// Arity returns the number of positional arguments a message type requires.
func Arity(messageType uint32) (int, bool) {
	reqs, ok := requirements[messageType]
	return len(reqs), ok
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields, including extra trailing arguments, are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	log.Debug().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	byID := tlv.Index(fields)
	for _, req := range reqs {
		f, found := byID[req.ID]
		if !found {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, opt := range optional[messageType] {
		if f, found := byID[opt.ID]; found && f.Type != opt.Type {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", opt.ID).
				Msg("schema.Validate optional type mismatch")
			return ValidationError{MessageType: messageType, FieldID: opt.ID, Reason: "type mismatch"}
		}
	}
	log.Debug().Uint32("message_type", messageType).Msg("schema.Validate ok")
	return nil
}
