package nuri

import (
	"testing"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

func TestRepoRoundTrip(t *testing.T) {
	var id ngtypes.RepoID
	id[0] = 0xAB
	id[31] = 0xCD

	n := ForRepo(id)
	s := n.String()

	parsed, err := Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	got, err := parsed.RepoID()
	if err != nil {
		t.Fatalf("RepoID: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: got %v want %v", got, id)
	}
}

func TestTopicAndIdentityPreserveKeyKind(t *testing.T) {
	topic := ngtypes.TopicID{Kind: ngtypes.KeyKindX25519, Bytes: [32]byte{0x01, 0x02}}
	n := ForTopic(topic)
	parsed, err := Parse(n.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := parsed.TopicID()
	if err != nil {
		t.Fatalf("TopicID: %v", err)
	}
	if got != topic {
		t.Fatalf("topic round trip mismatch: got %+v want %+v", got, topic)
	}
}

func TestStoreClassSegment(t *testing.T) {
	var id ngtypes.RepoID
	id[0] = 0x01
	n := ForRepo(id).WithStoreClass(StoreClassPrivate)

	parsed, err := Parse(n.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	class, ok := parsed.StoreClass()
	if !ok || class != StoreClassPrivate {
		t.Fatalf("expected private store class, got %v ok=%v", class, ok)
	}
}

func TestParseRejectsMissingPrefix(t *testing.T) {
	if _, err := Parse("ng:o:AQ"); err == nil {
		t.Fatalf("expected error for missing did:ng: prefix")
	}
}

func TestParseRejectsWrongKeyLength(t *testing.T) {
	// "AQ" base64url-decodes to a single byte, not the 32 a repo requires.
	if _, err := Parse("did:ng:o:AQ"); err == nil {
		t.Fatalf("expected error for undersized repo key")
	}
}

func TestRepoIDWrongSegmentType(t *testing.T) {
	var ov ngtypes.OverlayID
	n := ForOverlay(ov)
	parsed, err := Parse(n.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := parsed.RepoID(); err == nil {
		t.Fatalf("expected error extracting RepoID from an overlay nuri")
	}
}
