package wire

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

// RegistrationMode is the broker-wide registration policy (spec section 6).
type RegistrationMode uint8

const (
	RegClosed RegistrationMode = iota
	RegInvitation
	RegOpen
)

// InvitationType controls how many times an invitation code may be
// redeemed and whether redemption grants admin rights.
type InvitationType uint8

const (
	InviteUnique InvitationType = iota
	InviteMulti
	InviteAdmin
)

// Invitation is one outstanding invitation code.
type Invitation struct {
	Code    string
	Type    InvitationType
	Name    string
	Memo    string
	Expires *time.Time
	used    bool
}

// InvitationRegistry tracks outstanding invitations; unique/admin
// invitations are deleted on use, admin invitations grant is_admin=true
// (spec section 6).
type InvitationRegistry struct {
	mu          sync.Mutex
	invitations map[string]*Invitation
}

func NewInvitationRegistry() *InvitationRegistry {
	return &InvitationRegistry{invitations: make(map[string]*Invitation)}
}

// Add creates a new invitation of the given type and returns its code.
func (r *InvitationRegistry) Add(t InvitationType, name, memo string, expires *time.Time) *Invitation {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := &Invitation{Code: uuid.NewString(), Type: t, Name: name, Memo: memo, Expires: expires}
	r.invitations[inv.Code] = inv
	return inv
}

// List returns every currently outstanding invitation.
func (r *InvitationRegistry) List() []*Invitation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Invitation, 0, len(r.invitations))
	for _, inv := range r.invitations {
		out = append(out, inv)
	}
	return out
}

// Redeem validates and consumes an invitation code, returning whether the
// registering user should be granted admin rights.
func (r *InvitationRegistry) Redeem(code string) (isAdmin bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[code]
	if !ok || inv.used {
		return false, fmt.Errorf("invitation %s: %w", code, ngerrors.ErrInvitationRequired)
	}
	if inv.Expires != nil && time.Now().After(*inv.Expires) {
		return false, fmt.Errorf("invitation %s expired: %w", code, ngerrors.ErrInvitationRequired)
	}
	isAdmin = inv.Type == InviteAdmin
	switch inv.Type {
	case InviteUnique, InviteAdmin:
		delete(r.invitations, code)
	case InviteMulti:
		// multi-use invitations remain valid until explicitly revoked.
	}
	return isAdmin, nil
}

// UserDirectory tracks registered users and their admin flag, the
// authorization backend consulted by the Connection FSM's ClientAuth step
// and the Admin flow (spec section 4.5).
type UserDirectory struct {
	mu    sync.Mutex
	users map[string]bool // user pubkey string -> is_admin
	mode  RegistrationMode
	admin ngtypes.PubKey
}

func NewUserDirectory(mode RegistrationMode, admin ngtypes.PubKey) *UserDirectory {
	return &UserDirectory{users: make(map[string]bool), mode: mode, admin: admin}
}

func (d *UserDirectory) AddUser(user ngtypes.PubKey, isAdmin bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.String()] = isAdmin
}

func (d *UserDirectory) DelUser(user ngtypes.PubKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, user.String())
}

func (d *UserDirectory) ListUsers(adminOnly bool) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for u, isAdmin := range d.users {
		if !adminOnly || isAdmin {
			out = append(out, u)
		}
	}
	return out
}

func (d *UserDirectory) IsKnown(user ngtypes.PubKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.users[user.String()]
	return ok
}

func (d *UserDirectory) IsAdmin(user ngtypes.PubKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if user == d.admin {
		return true
	}
	return d.users[user.String()]
}

// Authorize implements the server-side half of ClientAuth authorization:
// a known user is always accepted; an unknown user is accepted only under
// RegOpen, or under RegInvitation with a valid registration attempt.
func (d *UserDirectory) Authorize(user ngtypes.PubKey, invitations *InvitationRegistry, reg *RegistrationAttempt) (admit bool, isAdmin bool, err error) {
	if d.IsKnown(user) {
		return true, d.IsAdmin(user), nil
	}
	switch d.mode {
	case RegOpen:
		d.AddUser(user, false)
		return true, false, nil
	case RegInvitation:
		if reg == nil || reg.InvitationCode == nil {
			return false, false, fmt.Errorf("registration requires invitation: %w", ngerrors.ErrInvitationRequired)
		}
		admin, err := invitations.Redeem(*reg.InvitationCode)
		if err != nil {
			return false, false, err
		}
		d.AddUser(user, admin)
		return true, admin, nil
	default:
		return false, false, fmt.Errorf("user %s unknown: %w", user, ngerrors.ErrAccessDenied)
	}
}
