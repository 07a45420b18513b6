package cache

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// FlagUpdate carries the new flag set of a cached message
type FlagUpdate struct {
	UID   uint32
	Flags []string
}

// SyncBatch is the outcome of one reconciliation pass over a mailbox. It is
// applied in a single transaction together with the token advance.
type SyncBatch struct {
	MailboxID int64
	// UserID scopes tag reconciliation. Empty disables it.
	UserID string
	// Reset drops every cached message of the mailbox before the rest of
	// the batch is applied.
	Reset    bool
	New      []*types.Message
	Changed  []FlagUpdate
	Vanished []uint32
	Messages uint32
	Unseen   uint32
	Token    types.SyncToken
}

// ApplySync writes a reconciliation batch atomically: either every insert,
// flag update, deletion and the new token are stored, or none of them
func (s *Store) ApplySync(ctx context.Context, batch *SyncBatch) error {
	tx, err := s.cache.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if batch.Reset {
		if err := resetMailbox(ctx, tx, batch.MailboxID, batch.UserID); err != nil {
			return err
		}
	}
	if err := upsertMessages(ctx, tx, batch); err != nil {
		return err
	}
	if err := updateFlags(ctx, tx, batch); err != nil {
		return err
	}
	if err := deleteVanished(ctx, tx, batch.MailboxID, batch.UserID, batch.Vanished); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE mailboxes SET
			messages = ?, unseen = ?,
			uid_validity = ?, uid_next = ?, highest_modseq = ?
		WHERE id = ?`,
		batch.Messages, batch.Unseen,
		batch.Token.UIDValidity, batch.Token.UIDNext, int64(batch.Token.HighestModSeq),
		batch.MailboxID)
	if err != nil {
		return fmt.Errorf("failed to advance sync token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync batch: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"mailbox_id": batch.MailboxID,
		"reset":      batch.Reset,
		"new":        len(batch.New),
		"changed":    len(batch.Changed),
		"vanished":   len(batch.Vanished),
	}).Debug("Applied sync batch")
	return nil
}

func resetMailbox(ctx context.Context, tx *sqlx.Tx, mailboxID int64, userID string) error {
	var messageIDs []string
	if err := tx.SelectContext(ctx, &messageIDs,
		"SELECT DISTINCT message_id FROM messages WHERE mailbox_id = ?", mailboxID); err != nil {
		return fmt.Errorf("failed to collect message ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE mailbox_id = ?", mailboxID); err != nil {
		return fmt.Errorf("failed to reset mailbox: %w", err)
	}
	return releaseTags(ctx, tx, userID, messageIDs)
}

func upsertMessages(ctx context.Context, tx *sqlx.Tx, batch *SyncBatch) error {
	if len(batch.New) == 0 {
		return nil
	}

	// Unchanged rows are left untouched so a repeated pass writes nothing.
	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO messages (
			mailbox_id, uid, message_id, in_reply_to, thread_root_id,
			subject, sender_name, sender_email, sent_at, flags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mailbox_id, uid) DO UPDATE SET
			message_id = excluded.message_id,
			in_reply_to = excluded.in_reply_to,
			thread_root_id = excluded.thread_root_id,
			subject = excluded.subject,
			sender_name = excluded.sender_name,
			sender_email = excluded.sender_email,
			sent_at = excluded.sent_at,
			flags = excluded.flags
		WHERE messages.flags IS NOT excluded.flags
			OR messages.message_id IS NOT excluded.message_id
			OR messages.thread_root_id IS NOT excluded.thread_root_id
			OR messages.subject IS NOT excluded.subject`)
	if err != nil {
		return fmt.Errorf("failed to prepare message upsert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range batch.New {
		flags, err := encodeFlags(msg.Flags)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			batch.MailboxID, msg.UID, msg.MessageID, msg.InReplyTo, msg.ThreadRootID,
			msg.Subject, msg.SenderName, msg.SenderEmail, msg.SentAt.Unix(), flags)
		if err != nil {
			return fmt.Errorf("failed to upsert message uid %d: %w", msg.UID, err)
		}
		if batch.UserID != "" && msg.MessageID != "" {
			if err := reconcileTags(ctx, tx, batch.UserID, msg.MessageID); err != nil {
				return err
			}
		}
	}
	return nil
}

func updateFlags(ctx context.Context, tx *sqlx.Tx, batch *SyncBatch) error {
	if len(batch.Changed) == 0 {
		return nil
	}

	stmt, err := tx.PreparexContext(ctx, `
		UPDATE messages SET flags = ?
		WHERE mailbox_id = ? AND uid = ? AND flags IS NOT ?
		RETURNING message_id`)
	if err != nil {
		return fmt.Errorf("failed to prepare flag update: %w", err)
	}
	defer stmt.Close()

	for _, change := range batch.Changed {
		flags, err := encodeFlags(change.Flags)
		if err != nil {
			return err
		}
		var messageIDs []string
		if err := stmt.SelectContext(ctx, &messageIDs, flags, batch.MailboxID, change.UID, flags); err != nil {
			return fmt.Errorf("failed to update flags of uid %d: %w", change.UID, err)
		}
		if batch.UserID == "" {
			continue
		}
		for _, id := range messageIDs {
			if id == "" {
				continue
			}
			if err := reconcileTags(ctx, tx, batch.UserID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func deleteVanished(ctx context.Context, tx *sqlx.Tx, mailboxID int64, userID string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		"SELECT DISTINCT message_id FROM messages WHERE mailbox_id = ? AND uid IN (?)", mailboxID, uids)
	if err != nil {
		return fmt.Errorf("failed to build vanished query: %w", err)
	}
	var messageIDs []string
	if err := tx.SelectContext(ctx, &messageIDs, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to collect vanished message ids: %w", err)
	}

	query, args, err = sqlx.In("DELETE FROM messages WHERE mailbox_id = ? AND uid IN (?)", mailboxID, uids)
	if err != nil {
		return fmt.Errorf("failed to build vanished delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete vanished messages: %w", err)
	}
	return releaseTags(ctx, tx, userID, messageIDs)
}
