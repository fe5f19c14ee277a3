package outbox

import (
	"encoding/json"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

// entryWire is the JSON-serializable mirror of Entry; ngtypes.Event embeds
// fixed-size byte arrays that encoding/json handles natively, so a plain
// struct tag mapping is enough here (no bespoke binary framing needed
// beyond the length-prefix already applied by the caller).
type entryWire struct {
	PublisherPeer ngtypes.PubKey      `json:"publisher_peer"`
	Seq           uint64              `json:"seq"`
	TopicID       ngtypes.TopicID     `json:"topic_id"`
	EncryptedBody []byte              `json:"encrypted_body"`
	Overlay       ngtypes.OverlayID   `json:"overlay"`
	Branch        ngtypes.BranchID    `json:"branch"`
	Acks          []ngtypes.ObjectRef `json:"acks"`
	SelfRef       ngtypes.ObjectRef   `json:"self_ref"`
}

func encodeEntry(e Entry) []byte {
	w := entryWire{
		PublisherPeer: e.Event.PublisherPeer,
		Seq:           e.Event.Seq,
		TopicID:       e.Event.TopicID,
		EncryptedBody: e.Event.EncryptedBody,
		Overlay:       e.Overlay,
		Branch:        e.Branch,
		Acks:          e.Acks,
		SelfRef:       e.SelfRef,
	}
	b, _ := json.Marshal(w)
	return b
}

func decodeEntry(b []byte) (Entry, error) {
	var w entryWire
	if err := json.Unmarshal(b, &w); err != nil {
		return Entry{}, err
	}
	return Entry{
		Event: ngtypes.Event{
			PublisherPeer: w.PublisherPeer,
			Seq:           w.Seq,
			TopicID:       w.TopicID,
			EncryptedBody: w.EncryptedBody,
		},
		Overlay: w.Overlay,
		Branch:  w.Branch,
		Acks:    w.Acks,
		SelfRef: w.SelfRef,
	}, nil
}
