package main

import (
	"crypto/ed25519"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngconfig"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/nuri"
)

func genKeyHandler(cmd *cobra.Command, _ []string) error {
	master, err := resolveMasterKey()
	if err != nil {
		return err
	}
	sub := ngconfig.DeriveSubkeys(master)
	if err := ngconfig.WriteSignProof(baseDir, sub); err != nil {
		return fmt.Errorf("write sign proof: %w", err)
	}

	var peerID ngtypes.PubKey
	peerID.Kind = ngtypes.KeyKindEd25519
	copy(peerID.Bytes[:], sub.PeerID.Public().(ed25519.PublicKey))

	fmt.Fprintln(cmd.OutOrStdout(), nuri.ForIdentity(peerID).String())
	return nil
}

// GenKeyCmd exports the gen-key subcommand.
var GenKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "generate (or re-derive) this peer's identity and print its NURI",
	RunE:  genKeyHandler,
}
