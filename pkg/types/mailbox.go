package types

import "time"

// SpecialUse is the canonical purpose assigned to a mailbox
type SpecialUse string

const (
	SpecialUseNone    SpecialUse = ""
	SpecialUseInbox   SpecialUse = "inbox"
	SpecialUseSent    SpecialUse = "sent"
	SpecialUseDrafts  SpecialUse = "drafts"
	SpecialUseTrash   SpecialUse = "trash"
	SpecialUseJunk    SpecialUse = "junk"
	SpecialUseArchive SpecialUse = "archive"
)

// Account represents a configured mail account
type Account struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`

	IMAPHost           string `json:"imap_host"`
	IMAPPort           int    `json:"imap_port"`
	IMAPUsername       string `json:"imap_username"`
	IMAPPassword       string `json:"-"`
	TLS                bool   `json:"tls"`
	StartTLS           bool   `json:"starttls"`
	InsecureSkipVerify bool   `json:"-"`

	// TrashMailbox is the configured name of the trash folder, if any
	TrashMailbox    string     `json:"trash_mailbox,omitempty"`
	TrashMailboxID  *int64     `json:"trash_mailbox_id,omitempty"`
	LastMailboxSync *time.Time `json:"last_mailbox_sync,omitempty"`
}

// SyncToken is the persisted position marker of a mailbox. A zero
// UIDValidity means the mailbox has never been synchronized.
type SyncToken struct {
	UIDValidity   uint32 `json:"uid_validity"`
	UIDNext       uint32 `json:"uid_next"`
	HighestModSeq uint64 `json:"highest_modseq,omitempty"`
}

// IsZero reports whether the token marks a never-synchronized mailbox
func (t SyncToken) IsZero() bool {
	return t.UIDValidity == 0
}

// Mailbox represents a cached server folder
type Mailbox struct {
	ID         int64      `json:"id"`
	AccountID  int64      `json:"account_id"`
	Name       string     `json:"name"`
	Delimiter  string     `json:"delimiter"`
	Attributes []string   `json:"attributes,omitempty"`
	SpecialUse SpecialUse `json:"special_use,omitempty"`
	Selectable bool       `json:"selectable"`
	Messages   uint32     `json:"messages"`
	Unseen     uint32     `json:"unseen"`
	SyncToken  SyncToken  `json:"sync_token"`
}

// Tag is a user-scoped label backed by a custom protocol flag
type Tag struct {
	ID          int64  `json:"id"`
	UserID      string `json:"user_id"`
	IMAPLabel   string `json:"imap_label"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	IsDefault   bool   `json:"is_default"`
}

// LabelImportant is the protocol label of the default "Important" tag
const LabelImportant = "$label1"
