package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/internal/imap"
)

// SyncMailboxTool reconciles cached messages with the server
type SyncMailboxTool struct {
	base
}

// Name returns the tool name
func (t *SyncMailboxTool) Name() string {
	return "sync_mailbox"
}

// Description returns the tool description
func (t *SyncMailboxTool) Description() string {
	return "Synchronize one mailbox, or every mailbox of the account, with the server"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncMailboxTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountNameProperty,
			"mailbox": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Mailbox name, all mailboxes if omitted",
			},
			"criteria": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string", "enum": []string{"new", "changed", "vanished"}},
				"description": "Optional: Which changes to pick up (default: all)",
			},
			"quiet": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Do not dispatch new message events",
			},
		},
	}
}

// Execute executes the tool
func (t *SyncMailboxTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	names, err := stringsParam(params, "criteria")
	if err != nil {
		return nil, err
	}
	criteria, err := imap.ParseSyncCriteria(names)
	if err != nil {
		return nil, err
	}
	quiet, err := boolParam(params, "quiet", false)
	if err != nil {
		return nil, err
	}
	account, err := t.account(ctx, params)
	if err != nil {
		return nil, err
	}

	if mailbox := stringParam(params, "mailbox"); mailbox != nil {
		result, err := t.Manager.SyncMailbox(ctx, account, *mailbox, criteria, quiet)
		if err != nil {
			return nil, fmt.Errorf("failed to sync mailbox: %w", err)
		}
		return result, nil
	}

	results, err := t.Manager.SyncAccount(ctx, account, criteria, quiet, t.Config.SyncParallelism)
	if err != nil && len(results) == 0 {
		return nil, fmt.Errorf("failed to sync account: %w", err)
	}
	out := map[string]interface{}{
		"account_name": account.Name,
		"results":      results,
	}
	if err != nil {
		t.Logger.WithError(err).WithField("account", account.Name).Warn("Some mailboxes failed to sync")
		out["error"] = err.Error()
	}
	return out, nil
}
