package model

import (
	"errors"
	"testing"
)

func TestDecodePayloadDispatch(t *testing.T) {
	raw, err := EncodePayload(ItemAddPayload{
		ItemLocalID: "i1",
		ListLocalID: "l1",
		Text:        "milk",
		Quantity:    2,
		Unit:        UnitLiter,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodePayload(OpItemAdd, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, ok := decoded.(*ItemAddPayload)
	if !ok {
		t.Fatalf("decoded type = %T, want *ItemAddPayload", decoded)
	}
	if p.ItemLocalID != "i1" || p.Text != "milk" || p.Unit != UnitLiter {
		t.Errorf("decoded = %+v, want original fields", p)
	}
}

func TestDecodePayloadUnknownOperation(t *testing.T) {
	_, err := DecodePayload(Operation("list_explode"), []byte(`{}`))
	var ce *StoreCorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want StoreCorruptionError", err)
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	_, err := DecodePayload(OpListCreate, []byte(`{"name": `))
	var ce *StoreCorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want StoreCorruptionError", err)
	}
	if ce.Unwrap() == nil {
		t.Error("corruption error should wrap the JSON cause")
	}
}
