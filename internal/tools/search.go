package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/brandon/mailsync/internal/cache"
)

// SearchMessagesTool searches cached messages
type SearchMessagesTool struct {
	base
}

// Name returns the tool name
func (t *SearchMessagesTool) Name() string {
	return "search_messages"
}

// Description returns the tool description
func (t *SearchMessagesTool) Description() string {
	return "Search cached messages with flexible filters (mailbox, sender, subject, text, tag, flags, date range)"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchMessagesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountNameProperty,
			"mailbox": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by mailbox name",
			},
			"sender": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by sender email/name",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by subject (substring match)",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Full-text search over subject and sender",
			},
			"tag": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by tag label (e.g. $label1)",
			},
			"unseen": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Only unread messages",
			},
			"flagged": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Only flagged messages",
			},
			"date_from": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Start date (ISO 8601 format)",
			},
			"date_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: End date (ISO 8601 format)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Result limit (default from configuration, max: 1000)",
				"minimum":     1,
				"maximum":     1000,
			},
		},
	}
}

// Execute executes the tool
func (t *SearchMessagesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	account, err := t.account(ctx, params)
	if err != nil {
		return nil, err
	}

	opts := cache.SearchOptions{
		AccountID:   &account.ID,
		UserID:      account.UserID,
		MailboxName: stringParam(params, "mailbox"),
		Sender:      stringParam(params, "sender"),
		Subject:     stringParam(params, "subject"),
		Query:       stringParam(params, "query"),
		TagLabel:    stringParam(params, "tag"),
	}
	if opts.Unseen, err = boolParam(params, "unseen", false); err != nil {
		return nil, err
	}
	if opts.Flagged, err = boolParam(params, "flagged", false); err != nil {
		return nil, err
	}
	if opts.DateFrom, err = timeParam(params, "date_from"); err != nil {
		return nil, err
	}
	if opts.DateTo, err = timeParam(params, "date_to"); err != nil {
		return nil, err
	}

	limit, ok, err := intParam(params, "limit")
	if err != nil {
		return nil, err
	}
	opts.Limit = int(limit)
	if !ok || opts.Limit <= 0 {
		opts.Limit = t.Config.SearchResultLimit
	}

	results, err := t.Manager.SearchMessages(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	messages := make([]map[string]interface{}, len(results))
	for i, msg := range results {
		messages[i] = map[string]interface{}{
			"id":           msg.ID,
			"account_name": msg.AccountName,
			"mailbox":      msg.Mailbox,
			"uid":          msg.UID,
			"subject":      msg.Subject,
			"sender_name":  msg.SenderName,
			"sender_email": msg.SenderEmail,
			"date":         msg.SentAt.Format(time.RFC3339),
			"flags":        msg.Flags,
		}
	}

	return messages, nil
}
