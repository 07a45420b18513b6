package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// Store provides methods for storing and retrieving data from the cache
type Store struct {
	cache  *Cache
	logger *logrus.Logger
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
	}
}

type accountRow struct {
	ID              int64         `db:"id"`
	Name            string        `db:"name"`
	UserID          string        `db:"user_id"`
	Email           string        `db:"email"`
	IMAPHost        string        `db:"imap_host"`
	IMAPPort        int           `db:"imap_port"`
	IMAPUsername    string        `db:"imap_username"`
	TrashMailboxID  sql.NullInt64 `db:"trash_mailbox_id"`
	LastMailboxSync sql.NullInt64 `db:"last_mailbox_sync"`
}

func (r *accountRow) toAccount() *types.Account {
	acc := &types.Account{
		ID:           r.ID,
		Name:         r.Name,
		UserID:       r.UserID,
		Email:        r.Email,
		IMAPHost:     r.IMAPHost,
		IMAPPort:     r.IMAPPort,
		IMAPUsername: r.IMAPUsername,
	}
	if r.TrashMailboxID.Valid {
		id := r.TrashMailboxID.Int64
		acc.TrashMailboxID = &id
	}
	if r.LastMailboxSync.Valid {
		t := time.Unix(r.LastMailboxSync.Int64, 0).UTC()
		acc.LastMailboxSync = &t
	}
	return acc
}

const accountColumns = `id, name, user_id, email, imap_host, imap_port, imap_username, trash_mailbox_id, last_mailbox_sync`

// UpsertAccount upserts an account in the cache and returns its ID
func (s *Store) UpsertAccount(ctx context.Context, acc *types.Account) (int64, error) {
	query := `
		INSERT INTO accounts (name, user_id, email, imap_host, imap_port, imap_username, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_username = excluded.imap_username,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`
	var id int64
	err := s.cache.DB().GetContext(ctx, &id, query,
		acc.Name, acc.UserID, acc.Email, acc.IMAPHost, acc.IMAPPort, acc.IMAPUsername)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}
	return id, nil
}

// GetAccount returns the cached account row by name
func (s *Store) GetAccount(ctx context.Context, name string) (*types.Account, error) {
	var row accountRow
	err := s.cache.DB().GetContext(ctx, &row,
		"SELECT "+accountColumns+" FROM accounts WHERE name = ?", name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return row.toAccount(), nil
}

// SetTrashMailbox records the mailbox used as the account's trash
func (s *Store) SetTrashMailbox(ctx context.Context, accountID, mailboxID int64) error {
	_, err := s.cache.DB().ExecContext(ctx,
		"UPDATE accounts SET trash_mailbox_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		mailboxID, accountID)
	if err != nil {
		return fmt.Errorf("failed to set trash mailbox: %w", err)
	}
	return nil
}

// MarkMailboxListSynced records when the account's folder list was last refreshed
func (s *Store) MarkMailboxListSynced(ctx context.Context, accountID int64, at time.Time) error {
	_, err := s.cache.DB().ExecContext(ctx,
		"UPDATE accounts SET last_mailbox_sync = ? WHERE id = ?", at.Unix(), accountID)
	if err != nil {
		return fmt.Errorf("failed to mark mailbox list synced: %w", err)
	}
	return nil
}
