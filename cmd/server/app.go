package main

import (
	"context"
	"fmt"
	"io"
	gosync "sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/credential"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/events"
	"github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/internal/sync"
)

// app holds the wired components shared by all commands
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	cache    *cache.Cache
	accounts *email.AccountManager
	manager  *email.Manager
}

func loadConfig(path string, logOut io.Writer) (*config.Config, *logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(logOut)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return cfg, logger, nil
}

// newApp loads the configuration and wires the cache, the IMAP dialer, the
// sync orchestrator and the mail manager
func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, logger, err := loadConfig(configPath, logOut)
	if err != nil {
		return nil, err
	}

	c, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	store := cache.NewStore(c, logger)

	accounts := email.NewAccountManager(cfg, store, logger)
	if err := accounts.Register(ctx); err != nil {
		c.Close()
		return nil, err
	}

	connector := imap.NewDialer(cfg.IMAPTimeout, keyringPasswords(cfg.Keyring), logger)
	sink := events.NewLogSink(logger)

	manager := email.NewManager(email.Deps{
		Connector: connector,
		Store:     store,
		Messages:  imap.NewMessageMapper(logger),
		Folders:   imap.NewFolderMapper(logger),
		Probe:     imap.NewCapabilityProbe(logger),
		Mailboxes: sync.NewMailboxSync(connector, store, cfg.MailboxSyncInterval, logger),
		Syncer:    sync.NewSyncer(connector, store, sink, logger),
		Sink:      sink,
	}, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		cache:    c,
		accounts: accounts,
		manager:  manager,
	}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close cache")
	}
}

// keyringPasswords opens the keyring on first use, so accounts with a
// configured password never touch it
func keyringPasswords(cfg config.KeyringConfig) imap.PasswordFunc {
	var (
		once  gosync.Once
		store *credential.Store
		err   error
	)
	return func(username string) (string, error) {
		once.Do(func() { store, err = credential.Open(cfg) })
		if err != nil {
			return "", err
		}
		return store.IMAPPassword(username)
	}
}
