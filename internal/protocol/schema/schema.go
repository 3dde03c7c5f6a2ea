// Package schema names the halo wire messages and checks their required fields.
package schema

import (
	"fmt"

	"github.com/danmuck/lifegrid/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs.
const (
	MsgHello uint32 = 1
	MsgHalo  uint32 = 2
)

// Field IDs.
const (
	FieldRank       uint16 = 1
	FieldGeneration uint16 = 2
	FieldTag        uint16 = 3
	FieldCells      uint16 = 4
	FieldRunID      uint16 = 5
)

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

var requirements = map[uint32][]Requirement{
	MsgHello: {
		{FieldRank, tlv.TypeU32},
		{FieldRunID, tlv.TypeString},
	},
	MsgHalo: {
		{FieldRank, tlv.TypeU32},
		{FieldGeneration, tlv.TypeU64},
		{FieldTag, tlv.TypeU8},
		{FieldCells, tlv.TypeBytes},
	},
}

// Validate enforces required fields and their types. Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema: unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Uint32("message_type", messageType).Uint16("field_id", req.ID).Msg("schema: missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema: type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
