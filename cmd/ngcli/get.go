package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/nuri"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
)

// getHandler dials anonymously over the Ext flow and fetches the object(s)
// named by a did:ng:j:... NURI, optionally qualified by a did:ng:v:...
// overlay segment (spec section 6: "the Ext flow serves unauthenticated
// object retrieval, keyed by overlay and object id").
func getHandler(cmd *cobra.Command, args []string) error {
	n, err := nuri.Parse(args[0])
	if err != nil {
		return err
	}
	objectID, err := n.ObjectID()
	if err != nil {
		return fmt.Errorf("%s does not address an object: %w", args[0], err)
	}

	var overlay ngtypes.OverlayID
	for _, seg := range n.Segments {
		if seg.Type == nuri.TypeOverlay {
			copy(overlay[:], seg.Key)
		}
	}

	includeFiles, _ := cmd.Flags().GetBool("include-files")

	c, err := dial(cliConfig)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.send(wire.Message{Kind: wire.KindStart, StartKind: wire.StartExt}); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	req := wire.Message{
		Kind:           wire.KindExtObjectGet,
		Overlay:        overlay,
		ExtIDs:         []ngtypes.BlockID{objectID},
		ExtIncludeFile: includeFiles,
	}
	if err := c.send(req); err != nil {
		return fmt.Errorf("send ext object get: %w", err)
	}

	resp, err := c.recv()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("server returned error code %d", resp.Code)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d bytes\n", len(resp.Content))
	cmd.OutOrStdout().Write(resp.Content)
	return nil
}

// GetCmd exports the get subcommand.
var GetCmd = &cobra.Command{
	Use:   "get <NURI>",
	Short: "retrieve an object by its NURI over the anonymous Ext flow",
	Args:  cobra.ExactArgs(1),
	RunE:  getHandler,
}

func init() {
	GetCmd.Flags().Bool("include-files", false, "also retrieve file blocks referenced by the object")
}
