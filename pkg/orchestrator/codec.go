package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/nextgraph-org/ng-verifier-core/pkg/crypto"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

// eventKey derives a key unique to one event from a branch's shared
// topic key: crypto.Encrypt's zero-nonce chacha20 cipher is only safe when
// every key is unique to its plaintext (see crypto.go), and a topic key is
// reused across every event published on that topic.
func eventKey(topicKey ngtypes.SymKey, seq uint64) [crypto.KeySize]byte {
	return crypto.DeriveSubkey(fmt.Sprintf("NextGraph event seq %d", seq), [crypto.KeySize]byte(topicKey))
}

// encryptEventCommit seals commit as the EncryptedBody of an outbound
// Event, one event-unique key derived from the branch's topic key.
func encryptEventCommit(topicKey ngtypes.SymKey, commit *ngtypes.Commit) ([]byte, error) {
	payload, err := json.Marshal(commit)
	if err != nil {
		return nil, fmt.Errorf("encode commit for event body: %w", err)
	}
	return crypto.Encrypt(eventKey(topicKey, commit.Seq), payload)
}

// decryptEventCommit opens an inbound Event's EncryptedBody back into the
// Commit it carries (Deliver's first step, spec section 4.10).
func decryptEventCommit(topicKey ngtypes.SymKey, event ngtypes.Event) (*ngtypes.Commit, error) {
	plaintext, err := crypto.Decrypt(eventKey(topicKey, event.Seq), event.EncryptedBody)
	if err != nil {
		return nil, fmt.Errorf("decrypt event body: %w", err)
	}
	var commit ngtypes.Commit
	if err := json.Unmarshal(plaintext, &commit); err != nil {
		return nil, fmt.Errorf("decode event commit: %w", err)
	}
	return &commit, nil
}
