package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brandon/mailsync/pkg/types"
)

var messageIDProperty = map[string]interface{}{
	"type":        "integer",
	"description": "Message ID (from search results)",
}

func messageResult(msg *types.Message) map[string]interface{} {
	tags := make([]map[string]interface{}, len(msg.Tags))
	for i, tag := range msg.Tags {
		tags[i] = map[string]interface{}{
			"label":        tag.IMAPLabel,
			"display_name": tag.DisplayName,
			"color":        tag.Color,
		}
	}
	return map[string]interface{}{
		"id":             msg.ID,
		"mailbox_id":     msg.MailboxID,
		"uid":            msg.UID,
		"message_id":     msg.MessageID,
		"in_reply_to":    msg.InReplyTo,
		"thread_root_id": msg.ThreadRootID,
		"subject":        msg.Subject,
		"sender_name":    msg.SenderName,
		"sender_email":   msg.SenderEmail,
		"date":           msg.SentAt.Format(time.RFC3339),
		"flags":          msg.Flags,
		"tags":           tags,
	}
}

// GetMessageTool retrieves a cached message by ID
type GetMessageTool struct {
	base
}

// Name returns the tool name
func (t *GetMessageTool) Name() string {
	return "get_message"
}

// Description returns the tool description
func (t *GetMessageTool) Description() string {
	return "Retrieve a cached message by ID with its flags and tags"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetMessageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message_id":   messageIDProperty,
			"account_name": accountNameProperty,
		},
		"required": []string{"message_id"},
	}
}

// Execute executes the tool
func (t *GetMessageTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requireInt(params, "message_id")
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

	result := messageResult(msg)
	result["account_name"] = account.Name
	result["mailbox"] = mb.Name
	return result, nil
}

// GetThreadTool returns the conversation a message belongs to
type GetThreadTool struct {
	base
}

// Name returns the tool name
func (t *GetThreadTool) Name() string {
	return "get_thread"
}

// Description returns the tool description
func (t *GetThreadTool) Description() string {
	return "Retrieve all cached messages of the thread a message belongs to, oldest first"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetThreadTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message_id":   messageIDProperty,
			"account_name": accountNameProperty,
		},
		"required": []string{"message_id"},
	}
}

// Execute executes the tool
func (t *GetThreadTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requireInt(params, "message_id")
	if err != nil {
		return nil, err
	}
	account, err := t.account(ctx, params)
	if err != nil {
		return nil, err
	}

	thread, err := t.Manager.GetThread(ctx, account, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	result := make([]map[string]interface{}, len(thread))
	for i, msg := range thread {
		result[i] = messageResult(msg)
	}
	return result, nil
}

// GetAttachmentsTool downloads the attachments of a message
type GetAttachmentsTool struct {
	base
}

// Name returns the tool name
func (t *GetAttachmentsTool) Name() string {
	return "get_attachments"
}

// Description returns the tool description
func (t *GetAttachmentsTool) Description() string {
	return "List the attachments of a message, optionally with base64 encoded content"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetAttachmentsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message_id":   messageIDProperty,
			"account_name": accountNameProperty,
			"include_content": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Include the attachment bodies (default: false)",
			},
		},
		"required": []string{"message_id"},
	}
}

// Execute executes the tool
func (t *GetAttachmentsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requireInt(params, "message_id")
	if err != nil {
		return nil, err
	}
	withContent, err := boolParam(params, "include_content", false)
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
	attachments, err := t.Manager.GetMailAttachments(ctx, account, mb, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}

	result := make([]map[string]interface{}, len(attachments))
	for i, a := range attachments {
		result[i] = map[string]interface{}{
			"name":         a.Name,
			"content_type": a.ContentType,
			"size":         a.Size,
			"size_human":   humanize.Bytes(uint64(a.Size)),
		}
		if withContent {
			result[i]["content"] = base64.StdEncoding.EncodeToString(a.Content)
		}
	}
	return result, nil
}
