package sync

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/pkg/types"
)

// MailboxSync refreshes the cached folder list of an account
type MailboxSync struct {
	connector imap.Connector
	folders   *imap.FolderMapper
	store     Store
	interval  time.Duration
	logger    *logrus.Logger
	group     singleflight.Group
	now       func() time.Time
}

// NewMailboxSync creates a folder list synchronizer. Unforced refreshes
// within interval of the previous one are skipped.
func NewMailboxSync(connector imap.Connector, store Store, interval time.Duration, logger *logrus.Logger) *MailboxSync {
	return &MailboxSync{
		connector: connector,
		folders:   imap.NewFolderMapper(logger),
		store:     store,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Sync mirrors the server folder list into the cache and returns the cached
// mailboxes. Concurrent calls for one account share a single refresh.
func (m *MailboxSync) Sync(ctx context.Context, account *types.Account, force bool) ([]*types.Mailbox, error) {
	if force || !m.fresh(account) {
		key := strconv.FormatInt(account.ID, 10)
		_, err, shared := m.group.Do(key, func() (interface{}, error) {
			return nil, m.sync(ctx, account)
		})
		if err != nil {
			return nil, err
		}
		if shared {
			m.logger.WithField("account", account.Name).Debug("Joined running mailbox list sync")
		}
	}
	return m.store.FindAllMailboxes(ctx, account.ID)
}

func (m *MailboxSync) fresh(account *types.Account) bool {
	if account.LastMailboxSync == nil || m.interval <= 0 {
		return false
	}
	return m.now().Sub(*account.LastMailboxSync) < m.interval
}

func (m *MailboxSync) sync(ctx context.Context, account *types.Account) (err error) {
	start := time.Now()
	defer func() {
		recordRun(modeMailboxes, err, time.Since(start).Seconds())
	}()

	c, err := m.connector.Connect(ctx, account)
	if err != nil {
		return err
	}
	defer imap.Close(c)

	folders, err := m.folders.ListFolders(ctx, c)
	if err != nil {
		return err
	}
	cached, err := m.store.FindAllMailboxes(ctx, account.ID)
	if err != nil {
		return err
	}

	// Keep the cached counts of folders whose status cannot be read.
	byName := make(map[string]*types.Mailbox, len(cached))
	for _, mb := range cached {
		byName[mb.Name] = mb
	}
	for _, f := range folders {
		if mb, ok := byName[f.Name]; ok {
			f.Messages, f.Unseen = mb.Messages, mb.Unseen
		}
	}
	if err := m.folders.GetFoldersStatus(ctx, c, folders); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.WithError(err).WithField("account", account.Name).Warn("Some mailbox counts were not refreshed")
	}
	m.folders.DetectFolderSpecialUse(folders)

	listed := make([]*types.Mailbox, 0, len(folders))
	names := make(map[string]bool, len(folders))
	for _, f := range folders {
		mb := f.Mailbox(account.ID)
		if err := m.store.UpsertMailbox(ctx, mb); err != nil {
			return err
		}
		listed = append(listed, mb)
		names[mb.Name] = true
	}

	for _, mb := range cached {
		if names[mb.Name] {
			continue
		}
		if err := m.store.DeleteMailbox(ctx, mb.ID); err != nil {
			return err
		}
		m.logger.WithFields(logrus.Fields{
			"account": account.Name,
			"mailbox": mb.Name,
		}).Info("Removed mailbox deleted on server")
	}

	if err := m.assignTrash(ctx, account, listed); err != nil {
		return err
	}
	if account.UserID != "" {
		if err := m.store.EnsureDefaultTags(ctx, account.UserID); err != nil {
			return err
		}
	}
	if err := m.store.MarkMailboxListSynced(ctx, account.ID, m.now()); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"account":   account.Name,
		"mailboxes": len(listed),
	}).Info("Synchronized mailbox list")
	return nil
}

// assignTrash points the account at its trash mailbox: the configured name
// when listed, else a still-listed current choice, else the folder detected
// as Trash
func (m *MailboxSync) assignTrash(ctx context.Context, account *types.Account, listed []*types.Mailbox) error {
	var trash *types.Mailbox
	if account.TrashMailbox != "" {
		for _, mb := range listed {
			if mb.Name == account.TrashMailbox {
				trash = mb
				break
			}
		}
		if trash == nil {
			m.logger.WithFields(logrus.Fields{
				"account": account.Name,
				"mailbox": account.TrashMailbox,
			}).Warn("Configured trash mailbox not found on server")
		}
	}
	if trash == nil && account.TrashMailboxID != nil {
		for _, mb := range listed {
			if mb.ID == *account.TrashMailboxID {
				return nil
			}
		}
	}
	if trash == nil {
		for _, mb := range listed {
			if mb.SpecialUse == types.SpecialUseTrash {
				trash = mb
				break
			}
		}
	}
	if trash == nil {
		m.logger.WithField("account", account.Name).Debug("No trash mailbox found")
		return nil
	}
	if account.TrashMailboxID != nil && *account.TrashMailboxID == trash.ID {
		return nil
	}

	if err := m.store.SetTrashMailbox(ctx, account.ID, trash.ID); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"account": account.Name,
		"mailbox": trash.Name,
	}).Info("Assigned trash mailbox")
	return nil
}
