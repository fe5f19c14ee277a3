package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
)

// adminCommand/adminReply mirror pkg/broker's AdminRequest JSON envelope;
// kept as a local copy rather than an import so the wire shape ngcli emits
// is visibly pinned to what this binary actually sends, independent of the
// broker package's internal representation.
type adminCommand struct {
	Op         string `json:"op"`
	UserID     string `json:"user_id,omitempty"`
	IsAdmin    bool   `json:"is_admin,omitempty"`
	AdminOnly  bool   `json:"admin_only,omitempty"`
	InviteType uint8  `json:"invite_type,omitempty"`
	Name       string `json:"name,omitempty"`
	Memo       string `json:"memo,omitempty"`
}

type adminReply struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Users   []string `json:"users,omitempty"`
	Invites []string `json:"invites,omitempty"`
	Code    string   `json:"code,omitempty"`
}

// sendAdmin dials the configured server, authenticates as the admin user
// over the Admin flow, and returns the decoded reply (spec section 4.5:
// "An AdminRequest is signed by the admin user... dispatches to the
// storage backend, returns AdminResponse, and closes").
func sendAdmin(cmd adminCommand) (*adminReply, error) {
	if cliConfig.UserPrivKey == "" {
		return nil, fmt.Errorf("no admin user key configured: set -u or NG_CLIENT_USER")
	}
	seed, err := base64.RawURLEncoding.DecodeString(cliConfig.UserPrivKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("user key: not a valid base64url ed25519 seed")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var adminUser ngtypes.PubKey
	adminUser.Kind = ngtypes.KeyKindEd25519
	copy(adminUser.Bytes[:], priv.Public().(ed25519.PublicKey))

	c, err := dial(cliConfig)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.send(wire.Message{Kind: wire.KindStart, StartKind: wire.StartAdmin}); err != nil {
		return nil, fmt.Errorf("send start: %w", err)
	}

	content, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal admin command: %w", err)
	}
	sig := ed25519.Sign(priv, content)
	if err := c.send(wire.Message{Kind: wire.KindAdminRequest, AdminUser: adminUser, AdminSig: sig, AdminContent: content}); err != nil {
		return nil, fmt.Errorf("send admin request: %w", err)
	}

	resp, err := c.recv()
	if err != nil {
		return nil, fmt.Errorf("read admin response: %w", err)
	}
	if resp.Kind != wire.KindAdminResponse {
		return nil, fmt.Errorf("unexpected response kind %v", resp.Kind)
	}

	var reply adminReply
	if err := json.Unmarshal(resp.AdminReply, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal admin response: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%s", reply.Error)
	}
	return &reply, nil
}

func adminAddUserHandler(cmd *cobra.Command, args []string) error {
	isAdmin, _ := cmd.Flags().GetBool("admin")
	_, err := sendAdmin(adminCommand{Op: "add_user", UserID: args[0], IsAdmin: isAdmin})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "User added successfully")
	return nil
}

func adminDelUserHandler(cmd *cobra.Command, args []string) error {
	_, err := sendAdmin(adminCommand{Op: "del_user", UserID: args[0]})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "User removed successfully")
	return nil
}

func adminListUsersHandler(cmd *cobra.Command, _ []string) error {
	adminOnly, _ := cmd.Flags().GetBool("admin")
	reply, err := sendAdmin(adminCommand{Op: "list_users", AdminOnly: adminOnly})
	if err != nil {
		return err
	}
	for _, u := range reply.Users {
		fmt.Fprintln(cmd.OutOrStdout(), u)
	}
	return nil
}

func adminAddInvitationHandler(cmd *cobra.Command, _ []string) error {
	inviteType := wire.InviteUnique
	if multi, _ := cmd.Flags().GetBool("multi"); multi {
		inviteType = wire.InviteMulti
	}
	if admin, _ := cmd.Flags().GetBool("admin"); admin {
		inviteType = wire.InviteAdmin
	}
	name, _ := cmd.Flags().GetString("name")
	memo, _ := cmd.Flags().GetString("memo")

	reply, err := sendAdmin(adminCommand{Op: "add_invitation", InviteType: uint8(inviteType), Name: name, Memo: memo})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply.Code)
	return nil
}

func adminListInvitationsHandler(cmd *cobra.Command, _ []string) error {
	reply, err := sendAdmin(adminCommand{Op: "list_invitations"})
	if err != nil {
		return err
	}
	for _, code := range reply.Invites {
		fmt.Fprintln(cmd.OutOrStdout(), code)
	}
	return nil
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "administrative operations against the configured server",
}

var adminAddUserCmd = &cobra.Command{Use: "add-user <USER_ID>", Short: "register a user", Args: cobra.ExactArgs(1), RunE: adminAddUserHandler}
var adminDelUserCmd = &cobra.Command{Use: "del-user <USER_ID>", Short: "remove a user", Args: cobra.ExactArgs(1), RunE: adminDelUserHandler}
var adminListUsersCmd = &cobra.Command{Use: "list-users", Short: "list registered users", RunE: adminListUsersHandler}
var adminAddInvitationCmd = &cobra.Command{Use: "add-invitation", Short: "create an invitation code", RunE: adminAddInvitationHandler}
var adminListInvitationsCmd = &cobra.Command{Use: "list-invitations", Short: "list outstanding invitations", RunE: adminListInvitationsHandler}

func init() {
	adminAddUserCmd.Flags().Bool("admin", false, "grant admin rights to the new user")
	adminListUsersCmd.Flags().Bool("admin", false, "list only admin users")
	adminAddInvitationCmd.Flags().Bool("multi", false, "invitation may be redeemed more than once")
	adminAddInvitationCmd.Flags().Bool("admin", false, "invitation grants admin rights on redemption")
	adminAddInvitationCmd.Flags().String("name", "", "invitation display name")
	adminAddInvitationCmd.Flags().String("memo", "", "invitation memo")

	adminCmd.AddCommand(adminAddUserCmd, adminDelUserCmd, adminListUsersCmd, adminAddInvitationCmd, adminListInvitationsCmd)
}

// AdminCmd exports the root admin command.
var AdminCmd = adminCmd
