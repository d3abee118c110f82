package jsoncodec

import (
	"strings"
	"testing"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "orders"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}
}

func TestMarshalString(t *testing.T) {
	s, err := MarshalString(testPayload{ID: 7, Name: "stream"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(s, `"name":"stream"`) {
		t.Fatalf("unexpected output %s", s)
	}
}

func TestUnmarshalStrictRejectsUnknownFields(t *testing.T) {
	var out testPayload
	if err := UnmarshalStrict([]byte(`{"id":1,"name":"a"}`), &out); err != nil {
		t.Fatalf("expected known fields to decode, got %v", err)
	}
	if err := UnmarshalStrict([]byte(`{"id":1,"nmae":"a"}`), &out); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}
