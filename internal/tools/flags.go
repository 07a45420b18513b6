package tools

import (
	"context"
	"fmt"
)

var (
	mailboxProperty = map[string]interface{}{
		"type":        "string",
		"description": "Mailbox name",
	}
	uidProperty = map[string]interface{}{
		"type":        "integer",
		"description": "Message UID within the mailbox (from search results)",
	}
)

// FlagMessageTool sets or clears a flag on a message
type FlagMessageTool struct {
	base
}

// Name returns the tool name
func (t *FlagMessageTool) Name() string {
	return "flag_message"
}

// Description returns the tool description
func (t *FlagMessageTool) Description() string {
	return "Set or clear a flag (seen, answered, flagged, deleted, draft, recent, junk, mdnsent) or a custom keyword on a message"
}

// InputSchema returns the JSON schema for tool inputs
func (t *FlagMessageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountNameProperty,
			"mailbox":      mailboxProperty,
			"uid":          uidProperty,
			"flag": map[string]interface{}{
				"type":        "string",
				"description": "Flag name; custom keywords are ignored when the mailbox does not accept them",
			},
			"value": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: true to set, false to clear (default: true)",
			},
		},
		"required": []string{"mailbox", "uid", "flag"},
	}
}

// Execute executes the tool
func (t *FlagMessageTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	mailbox, err := requireString(params, "mailbox")
	if err != nil {
		return nil, err
	}
	uid, err := requireUID(params)
	if err != nil {
		return nil, err
	}
	flag, err := requireString(params, "flag")
	if err != nil {
		return nil, err
	}
	value, err := boolParam(params, "value", true)
	if err != nil {
		return nil, err
	}
	account, err := t.account(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := t.Manager.FlagMessage(ctx, account, mailbox, uid, flag, value); err != nil {
		return nil, fmt.Errorf("failed to flag message: %w", err)
	}
	return map[string]interface{}{
		"success": true,
		"mailbox": mailbox,
		"uid":     uid,
		"flag":    flag,
		"value":   value,
	}, nil
}

// TagMessageTool adds or removes a user tag on a message
type TagMessageTool struct {
	base
}

// Name returns the tool name
func (t *TagMessageTool) Name() string {
	return "tag_message"
}

// Description returns the tool description
func (t *TagMessageTool) Description() string {
	return "Add or remove a tag on a message; the tag is stored as a custom keyword on the server"
}

// InputSchema returns the JSON schema for tool inputs
func (t *TagMessageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountNameProperty,
			"message_id":   messageIDProperty,
			"tag": map[string]interface{}{
				"type":        "string",
				"description": "Tag label (e.g. $label1)",
			},
			"value": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: true to add, false to remove (default: true)",
			},
		},
		"required": []string{"message_id", "tag"},
	}
}

// Execute executes the tool
func (t *TagMessageTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requireInt(params, "message_id")
	if err != nil {
		return nil, err
	}
	label, err := requireString(params, "tag")
	if err != nil {
		return nil, err
	}
	value, err := boolParam(params, "value", true)
	if err != nil {
		return nil, err
	}
	account, err := t.account(ctx, params)
	if err != nil {
		return nil, err
	}

	msg, mb, err := t.Manager.GetMessage(ctx, account, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	tag, err := t.Manager.ResolveTag(ctx, account, label)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tag: %w", err)
	}
	if err := t.Manager.TagMessage(ctx, account, mb.Name, msg, tag, value); err != nil {
		return nil, fmt.Errorf("failed to tag message: %w", err)
	}
	return map[string]interface{}{
		"success":    true,
		"message_id": msg.ID,
		"tag":        tag.IMAPLabel,
		"value":      value,
	}, nil
}

// DeleteMessageTool moves a message to the trash mailbox
type DeleteMessageTool struct {
	base
}

// Name returns the tool name
func (t *DeleteMessageTool) Name() string {
	return "delete_message"
}

// Description returns the tool description
func (t *DeleteMessageTool) Description() string {
	return "Move a message to the trash mailbox, or remove it permanently when it already is in the trash"
}

// InputSchema returns the JSON schema for tool inputs
func (t *DeleteMessageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountNameProperty,
			"mailbox":      mailboxProperty,
			"uid":          uidProperty,
		},
		"required": []string{"mailbox", "uid"},
	}
}

// Execute executes the tool
func (t *DeleteMessageTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	mailbox, err := requireString(params, "mailbox")
	if err != nil {
		return nil, err
	}
	uid, err := requireUID(params)
	if err != nil {
		return nil, err
	}
	account, err := t.account(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := t.Manager.DeleteMessage(ctx, account, mailbox, uid); err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}
	return map[string]interface{}{
		"success": true,
		"mailbox": mailbox,
		"uid":     uid,
	}, nil
}
