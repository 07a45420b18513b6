package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

// SearchOptions contains search parameters
type SearchOptions struct {
	AccountID *int64
	MailboxID *int64
	// MailboxName matches the mailbox by its full name
	MailboxName *string
	Sender      *string
	Subject     *string
	// Query is matched against the full-text index of subject and sender
	Query *string
	// TagLabel restricts results to messages carrying the user's tag
	TagLabel *string
	UserID   string
	Unseen   bool
	Flagged  bool
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
}

// Search performs a search on cached messages
func (s *Store) Search(ctx context.Context, opts SearchOptions) ([]types.MessageSummary, error) {
	var conditions []string
	var args []interface{}

	if opts.AccountID != nil {
		conditions = append(conditions, "mb.account_id = ?")
		args = append(args, *opts.AccountID)
	}

	if opts.MailboxID != nil {
		conditions = append(conditions, "m.mailbox_id = ?")
		args = append(args, *opts.MailboxID)
	}

	if opts.MailboxName != nil {
		conditions = append(conditions, "mb.name = ?")
		args = append(args, *opts.MailboxName)
	}

	if opts.Sender != nil {
		conditions = append(conditions, "(m.sender_email LIKE ? OR m.sender_name LIKE ?)")
		searchTerm := "%" + *opts.Sender + "%"
		args = append(args, searchTerm, searchTerm)
	}

	if opts.Subject != nil {
		conditions = append(conditions, "m.subject LIKE ?")
		args = append(args, "%"+*opts.Subject+"%")
	}

	if opts.Query != nil && *opts.Query != "" {
		conditions = append(conditions, "m.id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)")
		args = append(args, ftsQuery(*opts.Query))
	}

	if opts.TagLabel != nil {
		conditions = append(conditions, `m.message_id IN (
			SELECT mt.imap_message_id FROM message_tags mt
			JOIN tags t ON t.id = mt.tag_id
			WHERE t.user_id = ? AND t.imap_label = ?)`)
		args = append(args, opts.UserID, *opts.TagLabel)
	}

	// Flags are stored as a sorted JSON array of canonical names.
	if opts.Unseen {
		conditions = append(conditions, `NOT EXISTS (SELECT 1 FROM json_each(m.flags) WHERE lower(value) = '\seen')`)
	}
	if opts.Flagged {
		conditions = append(conditions, `EXISTS (SELECT 1 FROM json_each(m.flags) WHERE lower(value) = '\flagged')`)
	}

	if opts.DateFrom != nil {
		conditions = append(conditions, "m.sent_at >= ?")
		args = append(args, opts.DateFrom.Unix())
	}

	if opts.DateTo != nil {
		conditions = append(conditions, "m.sent_at <= ?")
		args = append(args, opts.DateTo.Unix())
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT m.id, a.name AS account_name, mb.name AS mailbox, m.uid, m.subject,
			m.sender_name, m.sender_email, m.sent_at, m.flags
		FROM messages m
		JOIN mailboxes mb ON m.mailbox_id = mb.id
		JOIN accounts a ON mb.account_id = a.id
		%s
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT ?
	`, whereClause)
	args = append(args, limit)

	var rows []struct {
		ID          int64  `db:"id"`
		AccountName string `db:"account_name"`
		Mailbox     string `db:"mailbox"`
		UID         uint32 `db:"uid"`
		Subject     string `db:"subject"`
		SenderName  string `db:"sender_name"`
		SenderEmail string `db:"sender_email"`
		SentAt      int64  `db:"sent_at"`
		Flags       string `db:"flags"`
	}
	if err := s.cache.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	results := make([]types.MessageSummary, 0, len(rows))
	for _, r := range rows {
		summary := types.MessageSummary{
			ID:          r.ID,
			AccountName: r.AccountName,
			Mailbox:     r.Mailbox,
			UID:         r.UID,
			Subject:     r.Subject,
			SenderName:  r.SenderName,
			SenderEmail: r.SenderEmail,
			SentAt:      time.Unix(r.SentAt, 0).UTC(),
		}
		if err := json.Unmarshal([]byte(r.Flags), &summary.Flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
		}
		results = append(results, summary)
	}
	return results, nil
}

// ftsQuery quotes each term so user input cannot inject FTS5 operators
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
