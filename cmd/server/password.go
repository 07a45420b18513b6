package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/credential"
)

func newPasswordCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage IMAP passwords in the system keyring",
	}
	cmd.AddCommand(newPasswordSetCmd(configPath))
	cmd.AddCommand(newPasswordDeleteCmd(configPath))
	return cmd
}

// openCredentials resolves the account and opens the keyring it uses
func openCredentials(configPath, accountName string) (*config.AccountConfig, *credential.Store, error) {
	cfg, _, err := loadConfig(configPath, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	acc := cfg.GetDefaultAccount()
	if accountName != "" {
		if acc, err = cfg.GetAccountByName(accountName); err != nil {
			return nil, nil, err
		}
	}
	if acc == nil {
		return nil, nil, fmt.Errorf("no account configured")
	}

	store, err := credential.Open(cfg.Keyring)
	if err != nil {
		return nil, nil, err
	}
	return acc, store, nil
}

func newPasswordSetCmd(configPath *string) *cobra.Command {
	var accountName string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Read a password from stdin and store it for the account's IMAP login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, store, err := openCredentials(*configPath, accountName)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", acc.IMAP.Username)
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return fmt.Errorf("empty password")
			}

			if err := store.SetIMAPPassword(acc.IMAP.Username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password stored for %s\n", acc.IMAP.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountName, "account", "", "Account name (default: first configured account)")
	return cmd
}

func newPasswordDeleteCmd(configPath *string) *cobra.Command {
	var accountName string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored password of the account's IMAP login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, store, err := openCredentials(*configPath, accountName)
			if err != nil {
				return err
			}
			if err := store.DeleteIMAPPassword(acc.IMAP.Username); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password removed for %s\n", acc.IMAP.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountName, "account", "", "Account name (default: first configured account)")
	return cmd
}
