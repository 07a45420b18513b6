package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// AccountStore persists the cached side of accounts
type AccountStore interface {
	UpsertAccount(ctx context.Context, acc *types.Account) (int64, error)
	GetAccount(ctx context.Context, name string) (*types.Account, error)
}

// AccountManager resolves configured accounts, merging connection settings
// from the configuration with the cached identifier and trash assignment
type AccountManager struct {
	cfg    *config.Config
	store  AccountStore
	logger *logrus.Logger
}

// NewAccountManager creates a new account manager
func NewAccountManager(cfg *config.Config, store AccountStore, logger *logrus.Logger) *AccountManager {
	return &AccountManager{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// Register writes every configured account to the cache
func (m *AccountManager) Register(ctx context.Context) error {
	for i := range m.cfg.Accounts {
		acc := m.cfg.Accounts[i].Account()
		if _, err := m.store.UpsertAccount(ctx, acc); err != nil {
			return fmt.Errorf("failed to register account %s: %w", acc.Name, err)
		}
	}
	m.logger.WithField("accounts", len(m.cfg.Accounts)).Debug("Registered accounts")
	return nil
}

// GetAccount returns an account by name. An empty name selects the default
// account.
func (m *AccountManager) GetAccount(ctx context.Context, name string) (*types.Account, error) {
	var accCfg *config.AccountConfig
	if name == "" {
		accCfg = m.cfg.GetDefaultAccount()
		if accCfg == nil {
			return nil, serviceError("no account configured", nil)
		}
	} else {
		var err error
		if accCfg, err = m.cfg.GetAccountByName(name); err != nil {
			return nil, serviceError("unknown account", err)
		}
	}

	acc := accCfg.Account()
	cached, err := m.store.GetAccount(ctx, acc.Name)
	if errors.Is(err, cache.ErrNotFound) {
		if _, err := m.store.UpsertAccount(ctx, acc); err != nil {
			return nil, fmt.Errorf("failed to register account %s: %w", acc.Name, err)
		}
		cached, err = m.store.GetAccount(ctx, acc.Name)
	}
	if err != nil {
		return nil, serviceError("failed to load account "+acc.Name, err)
	}

	acc.ID = cached.ID
	acc.TrashMailboxID = cached.TrashMailboxID
	acc.LastMailboxSync = cached.LastMailboxSync
	return acc, nil
}

// ListAccounts returns all account names
func (m *AccountManager) ListAccounts() []string {
	return m.cfg.AccountNames()
}
