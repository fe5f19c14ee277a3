// Package ngerrors centralizes the sentinel error values shared by the
// verifier, broker and connection layers, grouped the way spec section 7
// groups them by recovery strategy.
package ngerrors

import "errors"

// Storage errors.
var (
	ErrNotFound      = errors.New("block not found")
	ErrCorruptedData = errors.New("corrupted data")
	ErrBackend       = errors.New("storage backend error")
)

// Object/commit errors.
var (
	ErrMissingBlocks    = errors.New("missing blocks")
	ErrObjectParse      = errors.New("object parse error")
	ErrCommitBodyNotFound = errors.New("commit body not found")
)

// Verifier / semantic errors.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidQuorum     = errors.New("invalid quorum")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrTopicNotFound     = errors.New("topic not found")
	ErrRepoNotFound      = errors.New("repo not found")
	ErrBranchNotFound    = errors.New("branch not found")
	ErrBranchAlreadyExists = errors.New("branch already exists")
	ErrCommitOutOfOrder  = errors.New("commit out of order")
	ErrInvalidNuri       = errors.New("invalid nuri")
)

// Authorization / connection errors.
var (
	ErrAccessDenied        = errors.New("access denied")
	ErrInvitationRequired  = errors.New("invitation required")
	ErrPeerAlreadyConnected = errors.New("peer already connected")
	ErrPeerNotConnected    = errors.New("peer not connected")
	ErrInvalidNonce        = errors.New("invalid nonce")
	ErrProtocol            = errors.New("protocol error")
	ErrCryptoFailure       = errors.New("cryptographic failure")
)

// ORM errors.
var (
	ErrOrmSubscriptionNotFound = errors.New("orm subscription not found")
	ErrInvalidOrmSchema        = errors.New("invalid orm schema")
)

// Orchestrator / event delivery errors.
var (
	ErrStoreNotFound    = errors.New("store not found")
	ErrTopicKeyUnknown  = errors.New("topic key not known locally")
	ErrOutboxDiverged   = errors.New("outbox diverged from local state, replay required")
)
