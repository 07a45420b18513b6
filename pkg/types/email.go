package types

import (
	"strings"
	"time"
)

// Message represents a cached message header record
type Message struct {
	ID           int64     `json:"id"`
	MailboxID    int64     `json:"mailbox_id"`
	UID          uint32    `json:"uid"`
	MessageID    string    `json:"message_id"`
	InReplyTo    string    `json:"in_reply_to,omitempty"`
	ThreadRootID string    `json:"thread_root_id"`
	Subject      string    `json:"subject"`
	SenderName   string    `json:"sender_name"`
	SenderEmail  string    `json:"sender_email"`
	SentAt       time.Time `json:"sent_at"`
	Flags        []string  `json:"flags,omitempty"`
	Tags         []Tag     `json:"tags,omitempty"`
}

// HasFlag reports whether the message carries flag, ignoring case
func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// MessageSummary represents a message row returned by searches
type MessageSummary struct {
	ID          int64     `json:"id"`
	AccountName string    `json:"account_name"`
	Mailbox     string    `json:"mailbox"`
	UID         uint32    `json:"uid"`
	Subject     string    `json:"subject"`
	SenderName  string    `json:"sender_name"`
	SenderEmail string    `json:"sender_email"`
	SentAt      time.Time `json:"sent_at"`
	Flags       []string  `json:"flags,omitempty"`
}

// Attachment is a MIME part extracted from a message body
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Content     []byte `json:"-"`
}
