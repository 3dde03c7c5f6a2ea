package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		U32(1, 7),
		U64(2, 1<<40),
		Bytes(9999, []byte{0xAA, 0xBB}), // unknown field id
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(out))
	}
	if v, err := out[0].AsU32(); err != nil || v != 7 {
		t.Fatalf("u32 field: %d %v", v, err)
	}
	if v, err := out[1].AsU64(); err != nil || v != 1<<40 {
		t.Fatalf("u64 field: %d %v", v, err)
	}
	if out[2].ID != 9999 || out[2].Type != TypeBytes || !bytes.Equal(out[2].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[2])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=bytes, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeBytes, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestScalarAccessorsRejectWrongWidth(t *testing.T) {
	f := Field{ID: 3, Type: TypeU32, Value: []byte{1, 2}}
	if _, err := f.AsU32(); err == nil {
		t.Fatalf("expected width error")
	}
	if _, err := U8(1, 4).AsU64(); err == nil {
		t.Fatalf("expected width error")
	}
}
