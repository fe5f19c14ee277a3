// Command ngcli is the command-line client: it authenticates as a user
// against a configured ngd server for admin and object-retrieval
// operations, loading its identity and server address from base-directory
// state and the -b/-k/-u/-s flags and NG_CLIENT_* environment variables
// (spec section 6).
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngconfig"
)

// cliConfig holds the resolved client configuration for the invocation,
// populated by rootPreRun once global flags and environment overrides
// have been reconciled with the persisted config.json.
var cliConfig *ngconfig.ClientConfig
var baseDir string
var saveKey bool
var saveConfig bool

func main() {
	var verbosity int
	root := &cobra.Command{
		Use:   "ngcli",
		Short: "command-line client for a NextGraph-compatible broker",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbosity >= 2 {
				log.SetLevel(log.DebugLevel)
			}
			return rootPreRun(cmd, args)
		},
	}

	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity")
	root.PersistentFlags().StringVarP(&baseDir, "base", "b", ".ng", "base directory for persisted state")
	root.PersistentFlags().StringP("key", "k", "", "master key, overriding NG_CLIENT_KEY / the base dir's key file")
	root.PersistentFlags().StringP("user", "u", "", "user private key, overriding NG_CLIENT_USER")
	root.PersistentFlags().StringP("server", "s", "", "server address IP,PORT,PEER_ID, overriding NG_CLIENT_SERVER")
	root.PersistentFlags().BoolVar(&saveKey, "save-key", false, "persist the master key to the base directory")
	root.PersistentFlags().BoolVar(&saveConfig, "save-config", false, "persist the resolved config to the base directory")

	root.AddCommand(GenKeyCmd)
	root.AddCommand(AdminCmd)
	root.AddCommand(GetCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootPreRun loads the base directory's client config, then layers the -k,
// -u and -s flags on top (flags take precedence over both the file and the
// NG_CLIENT_* environment variables already folded in by LoadClientConfig).
func rootPreRun(cmd *cobra.Command, _ []string) error {
	cfg, err := ngconfig.LoadClientConfig(baseDir)
	if err != nil {
		return fmt.Errorf("load client config: %w", err)
	}

	if key, _ := cmd.Flags().GetString("key"); key != "" {
		os.Setenv("NG_CLIENT_KEY", key)
	}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		cfg.UserPrivKey = user
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		if err := applyServerFlag(cfg, server); err != nil {
			return err
		}
	}

	cliConfig = cfg
	if saveConfig {
		if err := ngconfig.SaveClientConfig(baseDir, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}
	return nil
}

// applyServerFlag parses the -s flag's "IP,PORT,PEER_ID" form onto cfg,
// the same shape NG_CLIENT_SERVER takes (spec section 6).
func applyServerFlag(cfg *ngconfig.ClientConfig, raw string) error {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return fmt.Errorf("-s %q: expected IP,PORT,PEER_ID", raw)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("-s %q: invalid port: %w", raw, err)
	}
	cfg.ServerIP = parts[0]
	cfg.ServerPort = port
	cfg.ServerPeerID = parts[2]
	return nil
}
