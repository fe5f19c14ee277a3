package broker

import (
	"encoding/json"
	"testing"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

func TestOverlayTopicNameStable(t *testing.T) {
	var overlay ngtypes.OverlayID
	overlay[0] = 0xAB
	overlay[31] = 0xCD

	name1 := overlayTopicName(overlay)
	name2 := overlayTopicName(overlay)
	if name1 != name2 {
		t.Fatalf("expected stable topic name, got %q then %q", name1, name2)
	}

	var other ngtypes.OverlayID
	other[0] = 0x01
	if overlayTopicName(other) == name1 {
		t.Fatal("expected distinct overlays to map to distinct topic names")
	}
}

func TestMeshMessageRoundTrip(t *testing.T) {
	event := ngtypes.Event{Seq: 7, EncryptedBody: []byte("body")}
	data, err := json.Marshal(meshMessage{Event: event})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded meshMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Event.Seq != event.Seq || string(decoded.Event.EncryptedBody) != string(event.EncryptedBody) {
		t.Fatalf("round trip mismatch: %+v", decoded.Event)
	}
}
