package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/pkg/types"
)

// ListMailboxesTool lists the mailboxes of an account
type ListMailboxesTool struct {
	base
}

// Name returns the tool name
func (t *ListMailboxesTool) Name() string {
	return "list_mailboxes"
}

// Description returns the tool description
func (t *ListMailboxesTool) Description() string {
	return "List mailboxes of an email account with message counts and special use"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListMailboxesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountNameProperty,
			"refresh": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Re-read the folder list from the server even if it is recent",
			},
		},
	}
}

// Execute executes the tool
func (t *ListMailboxesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	account, err := t.account(ctx, params)
	if err != nil {
		return nil, err
	}
	refresh, err := boolParam(params, "refresh", false)
	if err != nil {
		return nil, err
	}

	var mailboxes []*types.Mailbox
	if refresh {
		mailboxes, err = t.Manager.RefreshMailboxes(ctx, account)
	} else {
		mailboxes, err = t.Manager.GetMailboxes(ctx, account)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	result := make([]map[string]interface{}, len(mailboxes))
	for i, mb := range mailboxes {
		result[i] = mailboxResult(account, mb)
	}
	return result, nil
}

func mailboxResult(account *types.Account, mb *types.Mailbox) map[string]interface{} {
	result := map[string]interface{}{
		"id":           mb.ID,
		"account_name": account.Name,
		"name":         mb.Name,
		"selectable":   mb.Selectable,
		"messages":     mb.Messages,
		"unseen":       mb.Unseen,
		"synced":       !mb.SyncToken.IsZero(),
	}
	if mb.SpecialUse != types.SpecialUseNone {
		result["special_use"] = mb.SpecialUse
	}
	if account.TrashMailboxID != nil && *account.TrashMailboxID == mb.ID {
		result["trash"] = true
	}
	return result
}

// CreateMailboxTool creates a mailbox on the server
type CreateMailboxTool struct {
	base
}

// Name returns the tool name
func (t *CreateMailboxTool) Name() string {
	return "create_mailbox"
}

// Description returns the tool description
func (t *CreateMailboxTool) Description() string {
	return "Create a mailbox on the server and add it to the cache"
}

// InputSchema returns the JSON schema for tool inputs
func (t *CreateMailboxTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountNameProperty,
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Full mailbox name, using the server's hierarchy delimiter",
			},
		},
		"required": []string{"name"},
	}
}

// Execute executes the tool
func (t *CreateMailboxTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return nil, err
	}
	account, err := t.account(ctx, params)
	if err != nil {
		return nil, err
	}

	mb, err := t.Manager.CreateMailbox(ctx, account, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailbox: %w", err)
	}
	return mailboxResult(account, mb), nil
}
