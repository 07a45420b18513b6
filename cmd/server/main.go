package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "mailsync",
		Short:        "mailsync mirrors IMAP mailboxes into a local cache and serves them over MCP",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $HOME/.config/mailsync/config.yaml)")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newSyncCmd(&configPath))
	cmd.AddCommand(newPasswordCmd(&configPath))

	cmd.SetErr(os.Stderr)
	cmd.SetOut(os.Stdout)

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
