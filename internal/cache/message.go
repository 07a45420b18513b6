package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

type messageRow struct {
	ID           int64  `db:"id"`
	MailboxID    int64  `db:"mailbox_id"`
	UID          uint32 `db:"uid"`
	MessageID    string `db:"message_id"`
	InReplyTo    string `db:"in_reply_to"`
	ThreadRootID string `db:"thread_root_id"`
	Subject      string `db:"subject"`
	SenderName   string `db:"sender_name"`
	SenderEmail  string `db:"sender_email"`
	SentAt       int64  `db:"sent_at"`
	Flags        string `db:"flags"`
}

const messageColumns = `m.id, m.mailbox_id, m.uid, m.message_id, m.in_reply_to, m.thread_root_id,
	m.subject, m.sender_name, m.sender_email, m.sent_at, m.flags`

func (r *messageRow) toMessage() (*types.Message, error) {
	msg := &types.Message{
		ID:           r.ID,
		MailboxID:    r.MailboxID,
		UID:          r.UID,
		MessageID:    r.MessageID,
		InReplyTo:    r.InReplyTo,
		ThreadRootID: r.ThreadRootID,
		Subject:      r.Subject,
		SenderName:   r.SenderName,
		SenderEmail:  r.SenderEmail,
		SentAt:       time.Unix(r.SentAt, 0).UTC(),
	}
	flags, err := decodeFlags(r.Flags)
	if err != nil {
		return nil, fmt.Errorf("uid %d: %w", r.UID, err)
	}
	msg.Flags = flags
	return msg, nil
}

func toMessages(rows []messageRow) ([]*types.Message, error) {
	out := make([]*types.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// encodeFlags stores flags sorted so equal sets compare equal in SQL
func encodeFlags(flags []string) (string, error) {
	sorted := append([]string{}, flags...)
	sort.Strings(sorted)
	b, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("failed to marshal flags: %w", err)
	}
	return string(b), nil
}

func decodeFlags(raw string) ([]string, error) {
	var flags []string
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
	}
	return flags, nil
}

// GetMessage retrieves a cached message by its row ID
func (s *Store) GetMessage(ctx context.Context, id int64) (*types.Message, error) {
	var row messageRow
	err := s.cache.DB().GetContext(ctx, &row,
		"SELECT "+messageColumns+" FROM messages m WHERE m.id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return row.toMessage()
}

// FindMessagesByUIDs returns the cached messages of a mailbox for the given UIDs
func (s *Store) FindMessagesByUIDs(ctx context.Context, mailboxID int64, uids []uint32) ([]*types.Message, error) {
	if len(uids) == 0 {
		return []*types.Message{}, nil
	}
	query, args, err := sqlx.In(
		"SELECT "+messageColumns+" FROM messages m WHERE m.mailbox_id = ? AND m.uid IN (?) ORDER BY m.uid",
		mailboxID, uids)
	if err != nil {
		return nil, fmt.Errorf("failed to build message query: %w", err)
	}
	var rows []messageRow
	db := s.cache.DB()
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return toMessages(rows)
}

// FindThread returns every cached message of the account that shares the
// thread root of the given message, oldest first
func (s *Store) FindThread(ctx context.Context, accountID, messageID int64) ([]*types.Message, error) {
	var root string
	err := s.cache.DB().GetContext(ctx, &root, `
		SELECT m.thread_root_id FROM messages m
		JOIN mailboxes mb ON mb.id = m.mailbox_id
		WHERE m.id = ? AND mb.account_id = ?`, messageID, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve thread root: %w", err)
	}
	if root == "" {
		msg, err := s.GetMessage(ctx, messageID)
		if err != nil {
			return nil, err
		}
		return []*types.Message{msg}, nil
	}

	var rows []messageRow
	err = s.cache.DB().SelectContext(ctx, &rows, `
		SELECT `+messageColumns+` FROM messages m
		JOIN mailboxes mb ON mb.id = m.mailbox_id
		WHERE mb.account_id = ? AND m.thread_root_id = ?
		ORDER BY m.sent_at, m.id`, accountID, root)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}
	return toMessages(rows)
}

// KnownFlags returns the cached flag set of every message in the mailbox,
// keyed by UID
func (s *Store) KnownFlags(ctx context.Context, mailboxID int64) (map[uint32][]string, error) {
	var rows []struct {
		UID   uint32 `db:"uid"`
		Flags string `db:"flags"`
	}
	if err := s.cache.DB().SelectContext(ctx, &rows,
		"SELECT uid, flags FROM messages WHERE mailbox_id = ?", mailboxID); err != nil {
		return nil, fmt.Errorf("failed to query known flags: %w", err)
	}

	known := make(map[uint32][]string, len(rows))
	for _, r := range rows {
		flags, err := decodeFlags(r.Flags)
		if err != nil {
			return nil, fmt.Errorf("uid %d: %w", r.UID, err)
		}
		known[r.UID] = flags
	}
	return known, nil
}
