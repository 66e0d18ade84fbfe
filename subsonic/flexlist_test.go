package subsonic

import (
	"encoding/json"
	"testing"
)

func TestFlexListUnmarshalsArray(t *testing.T) {
	var l FlexList[Artist]
	if err := json.Unmarshal([]byte(`[{"id":"1","name":"A"},{"id":"2","name":"B"}]`), &l); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(l) != 2 {
		t.Fatalf("got %d items, want 2", len(l))
	}
}

func TestFlexListUnmarshalsSingleObject(t *testing.T) {
	var l FlexList[Artist]
	if err := json.Unmarshal([]byte(`{"id":"1","name":"A"}`), &l); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(l) != 1 || l[0].Name != "A" {
		t.Fatalf("got %+v, want single Artist A", l)
	}
}

func TestFlexListUnmarshalsNull(t *testing.T) {
	var l FlexList[Artist]
	if err := json.Unmarshal([]byte(`null`), &l); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if l != nil {
		t.Fatalf("expected nil for null, got %+v", l)
	}
}
