package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/internal/sync"
)

func newSyncCmd(configPath *string) *cobra.Command {
	var (
		accountName string
		mailbox     string
		criteria    []string
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass against the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			want, err := imap.ParseSyncCriteria(criteria)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			account, err := a.accounts.GetAccount(ctx, accountName)
			if err != nil {
				return err
			}

			var results []*sync.Result
			if mailbox != "" {
				res, err := a.manager.SyncMailbox(ctx, account, mailbox, want, quiet)
				if err != nil {
					return err
				}
				results = []*sync.Result{res}
			} else {
				// Failed mailboxes do not hide the ones that synced.
				results, err = a.manager.SyncAccount(ctx, account, want, quiet, a.cfg.SyncParallelism)
			}

			printResults(cmd.OutOrStdout(), results)
			return err
		},
	}

	cmd.Flags().StringVar(&accountName, "account", "", "Account name (default: first configured account)")
	cmd.Flags().StringVar(&mailbox, "mailbox", "", "Mailbox to sync (default: all mailboxes)")
	cmd.Flags().StringSliceVar(&criteria, "criteria", nil, "Windows to sync: new, changed, vanished (default: all)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Do not dispatch new message events")

	return cmd
}

func printResults(out io.Writer, results []*sync.Result) {
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "MAILBOX\tMODE\tNEW\tCHANGED\tVANISHED\tUIDNEXT")
	for _, res := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			res.Mailbox,
			res.Mode,
			humanize.Comma(int64(len(res.New))),
			humanize.Comma(int64(res.Changed)),
			humanize.Comma(int64(res.Vanished)),
			res.Token.UIDNext,
		)
	}
	w.Flush()
}
