package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/lifegrid/internal/protocol/frame"
	"github.com/danmuck/lifegrid/internal/protocol/schema"
	"github.com/danmuck/lifegrid/internal/protocol/tlv"
)

var ErrUnexpectedMessage = errors.New("session: unexpected message type")

// Hello opens a neighbour link: the dialer names its rank and run.
type Hello struct {
	Rank  int
	RunID string
}

// Strip is one halo strip in flight between neighbours.
type Strip struct {
	Rank       int
	Generation uint64
	Tag        uint8
	Cells      []byte
}

func WriteHello(w io.Writer, h Hello) error {
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.U32(schema.FieldRank, uint32(h.Rank)),
		tlv.String(schema.FieldRunID, h.RunID),
	})
	return frame.WriteFrame(w, frame.Frame{
		Header:  frame.Header{MessageType: schema.MsgHello},
		Payload: payload,
	}, frame.DefaultLimits())
}

func ReadHello(r io.Reader) (Hello, error) {
	fields, err := readMessage(r, schema.MsgHello)
	if err != nil {
		return Hello{}, err
	}
	rf, _ := tlv.GetField(fields, schema.FieldRank)
	rank, err := rf.AsU32()
	if err != nil {
		return Hello{}, err
	}
	idf, _ := tlv.GetField(fields, schema.FieldRunID)
	return Hello{Rank: int(rank), RunID: string(idf.Value)}, nil
}

// WriteStrip frames s. The generation also rides in the header sequence.
func WriteStrip(w io.Writer, s Strip) error {
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.U32(schema.FieldRank, uint32(s.Rank)),
		tlv.U64(schema.FieldGeneration, s.Generation),
		tlv.U8(schema.FieldTag, s.Tag),
		tlv.Bytes(schema.FieldCells, s.Cells),
	})
	return frame.WriteFrame(w, frame.Frame{
		Header:  frame.Header{MessageType: schema.MsgHalo, Sequence: s.Generation},
		Payload: payload,
	}, frame.DefaultLimits())
}

// ReadStrip decodes one strip. Cells alias a fresh buffer owned by the caller.
func ReadStrip(r io.Reader) (Strip, error) {
	fields, err := readMessage(r, schema.MsgHalo)
	if err != nil {
		return Strip{}, err
	}
	var s Strip
	f, _ := tlv.GetField(fields, schema.FieldRank)
	rank, err := f.AsU32()
	if err != nil {
		return Strip{}, err
	}
	s.Rank = int(rank)
	f, _ = tlv.GetField(fields, schema.FieldGeneration)
	if s.Generation, err = f.AsU64(); err != nil {
		return Strip{}, err
	}
	f, _ = tlv.GetField(fields, schema.FieldTag)
	if s.Tag, err = f.AsU8(); err != nil {
		return Strip{}, err
	}
	f, _ = tlv.GetField(fields, schema.FieldCells)
	s.Cells = f.Value
	return s, nil
}

func readMessage(r io.Reader, want uint32) ([]tlv.Field, error) {
	fr, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	if fr.Header.MessageType != want {
		return nil, fmt.Errorf("%w: got %d want %d", ErrUnexpectedMessage, fr.Header.MessageType, want)
	}
	fields, err := tlv.DecodeFields(fr.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(want, fields); err != nil {
		return nil, err
	}
	return fields, nil
}
