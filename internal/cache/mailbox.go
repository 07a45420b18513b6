package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brandon/mailsync/pkg/types"
)

type mailboxRow struct {
	ID            int64  `db:"id"`
	AccountID     int64  `db:"account_id"`
	Name          string `db:"name"`
	Delimiter     string `db:"delimiter"`
	Attributes    string `db:"attributes"`
	SpecialUse    string `db:"special_use"`
	Selectable    bool   `db:"selectable"`
	Messages      uint32 `db:"messages"`
	Unseen        uint32 `db:"unseen"`
	UIDValidity   uint32 `db:"uid_validity"`
	UIDNext       uint32 `db:"uid_next"`
	HighestModSeq int64  `db:"highest_modseq"`
}

const mailboxColumns = `id, account_id, name, delimiter, attributes, special_use, selectable,
	messages, unseen, uid_validity, uid_next, highest_modseq`

func (r *mailboxRow) toMailbox() (*types.Mailbox, error) {
	mb := &types.Mailbox{
		ID:         r.ID,
		AccountID:  r.AccountID,
		Name:       r.Name,
		Delimiter:  r.Delimiter,
		SpecialUse: types.SpecialUse(r.SpecialUse),
		Selectable: r.Selectable,
		Messages:   r.Messages,
		Unseen:     r.Unseen,
		SyncToken: types.SyncToken{
			UIDValidity:   r.UIDValidity,
			UIDNext:       r.UIDNext,
			HighestModSeq: uint64(r.HighestModSeq),
		},
	}
	if err := json.Unmarshal([]byte(r.Attributes), &mb.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes of %s: %w", r.Name, err)
	}
	return mb, nil
}

// FindAllMailboxes lists the cached mailboxes of an account ordered by name
func (s *Store) FindAllMailboxes(ctx context.Context, accountID int64) ([]*types.Mailbox, error) {
	var rows []mailboxRow
	err := s.cache.DB().SelectContext(ctx, &rows,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE account_id = ? ORDER BY name", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mailboxes: %w", err)
	}

	mailboxes := make([]*types.Mailbox, 0, len(rows))
	for i := range rows {
		mb, err := rows[i].toMailbox()
		if err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, mb)
	}
	return mailboxes, nil
}

// FindMailbox returns the cached mailbox with the given name
func (s *Store) FindMailbox(ctx context.Context, accountID int64, name string) (*types.Mailbox, error) {
	return s.findMailbox(ctx, "account_id = ? AND name = ?", accountID, name)
}

// FindMailboxByID returns the cached mailbox with the given ID
func (s *Store) FindMailboxByID(ctx context.Context, id int64) (*types.Mailbox, error) {
	return s.findMailbox(ctx, "id = ?", id)
}

func (s *Store) findMailbox(ctx context.Context, where string, args ...interface{}) (*types.Mailbox, error) {
	var row mailboxRow
	err := s.cache.DB().GetContext(ctx, &row,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE "+where, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mailbox %v: %w", args[len(args)-1], ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get mailbox: %w", err)
	}
	return row.toMailbox()
}

// UpsertMailbox stores folder metadata and counts. The sync token is left
// alone; only ApplySync moves it.
func (s *Store) UpsertMailbox(ctx context.Context, mb *types.Mailbox) error {
	attrs := mb.Attributes
	if attrs == nil {
		attrs = []string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
		INSERT INTO mailboxes (account_id, name, delimiter, attributes, special_use, selectable, messages, unseen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, name) DO UPDATE SET
			delimiter = excluded.delimiter,
			attributes = excluded.attributes,
			special_use = excluded.special_use,
			selectable = excluded.selectable,
			messages = excluded.messages,
			unseen = excluded.unseen
		RETURNING id
	`
	var id int64
	err = s.cache.DB().GetContext(ctx, &id, query,
		mb.AccountID, mb.Name, mb.Delimiter, string(attrsJSON), string(mb.SpecialUse),
		mb.Selectable, mb.Messages, mb.Unseen)
	if err != nil {
		return fmt.Errorf("failed to upsert mailbox %s: %w", mb.Name, err)
	}
	mb.ID = id
	return nil
}

// DeleteMailbox removes a mailbox with its messages and their orphaned tag
// associations
func (s *Store) DeleteMailbox(ctx context.Context, id int64) error {
	tx, err := s.cache.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.GetContext(ctx, &userID, `
		SELECT a.user_id FROM mailboxes mb
		JOIN accounts a ON a.id = mb.account_id
		WHERE mb.id = ?`, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to resolve mailbox owner: %w", err)
	}

	var messageIDs []string
	if err := tx.SelectContext(ctx, &messageIDs,
		"SELECT DISTINCT message_id FROM messages WHERE mailbox_id = ?", id); err != nil {
		return fmt.Errorf("failed to collect message ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM mailboxes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete mailbox: %w", err)
	}
	if err := releaseTags(ctx, tx, userID, messageIDs); err != nil {
		return err
	}
	return tx.Commit()
}
