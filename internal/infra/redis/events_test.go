package redis

import (
	"encoding/json"
	"testing"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

func TestEncodeEvent(t *testing.T) {
	payload, err := EncodeEvent(domain.Event{
		Type:       domain.EventReorgRepaired,
		FromHeight: 10,
		ToHeight:   12,
		Depth:      3,
		Metadata:   map[string]any{"orphaned": 3},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["type"] != "reorg_repaired" {
		t.Errorf("unexpected type %v", got["type"])
	}
	if got["from_height"] != float64(10) || got["to_height"] != float64(12) || got["depth"] != float64(3) {
		t.Errorf("unexpected heights in %s", payload)
	}
}

func TestEncodeEvent_OmitsEmpty(t *testing.T) {
	payload, err := EncodeEvent(domain.Event{Type: domain.EventChunkCommitted, FromHeight: 1, ToHeight: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if _, ok := got["depth"]; ok {
		t.Error("depth should be omitted")
	}
	if _, ok := got["metadata"]; ok {
		t.Error("metadata should be omitted")
	}
}
