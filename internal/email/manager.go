package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/events"
	"github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/internal/sync"
	"github.com/brandon/mailsync/pkg/types"
)

// Store is the cache access used by the manager
type Store interface {
	FindMailbox(ctx context.Context, accountID int64, name string) (*types.Mailbox, error)
	FindMailboxByID(ctx context.Context, id int64) (*types.Mailbox, error)
	UpsertMailbox(ctx context.Context, mb *types.Mailbox) error
	GetMessage(ctx context.Context, id int64) (*types.Message, error)
	FindThread(ctx context.Context, accountID, messageID int64) ([]*types.Message, error)
	AttachTags(ctx context.Context, userID string, messages []*types.Message) error
	GetTagByLabel(ctx context.Context, userID, label string) (*types.Tag, error)
	TagMessage(ctx context.Context, tag *types.Tag, message *types.Message, userID string) error
	UntagMessage(ctx context.Context, tag *types.Tag, message *types.Message, userID string) error
	Search(ctx context.Context, opts cache.SearchOptions) ([]types.MessageSummary, error)
}

// MessageMapper performs message operations on the server
type MessageMapper interface {
	AddFlag(ctx context.Context, c imap.Client, mailbox string, uids []uint32, flag string) error
	RemoveFlag(ctx context.Context, c imap.Client, mailbox string, uids []uint32, flag string) error
	Move(ctx context.Context, c imap.Client, source string, uid uint32, destination string) error
	Expunge(ctx context.Context, c imap.Client, mailbox string, uid uint32) error
	GetAttachments(ctx context.Context, c imap.Client, mailbox string, uid uint32) ([]types.Attachment, error)
}

// FolderMapper performs folder operations on the server
type FolderMapper interface {
	CreateFolder(ctx context.Context, c imap.Client, account *types.Account, name string) (*imap.Folder, error)
	GetFoldersStatus(ctx context.Context, c imap.Client, folders []*imap.Folder) error
	DetectFolderSpecialUse(folders []*imap.Folder)
}

// PermflagsProbe reports whether a mailbox accepts custom flags
type PermflagsProbe interface {
	PermanentFlagsEnabled(ctx context.Context, c imap.Client, mailbox string) (bool, error)
}

// MailboxSyncer refreshes the cached folder list
type MailboxSyncer interface {
	Sync(ctx context.Context, account *types.Account, force bool) ([]*types.Mailbox, error)
}

// MessageSyncer reconciles cached messages with the server
type MessageSyncer interface {
	SyncMailbox(ctx context.Context, account *types.Account, mailbox string, criteria imap.SyncCriteria, quiet bool) (*sync.Result, error)
	SyncAccount(ctx context.Context, account *types.Account, criteria imap.SyncCriteria, quiet bool, parallel int) ([]*sync.Result, error)
}

// Manager manages email operations
type Manager struct {
	connector imap.Connector
	store     Store
	messages  MessageMapper
	folders   FolderMapper
	probe     PermflagsProbe
	mailboxes MailboxSyncer
	syncer    MessageSyncer
	sink      events.Sink
	logger    *logrus.Logger
}

// Deps lists the collaborators of a Manager
type Deps struct {
	Connector imap.Connector
	Store     Store
	Messages  MessageMapper
	Folders   FolderMapper
	Probe     PermflagsProbe
	Mailboxes MailboxSyncer
	Syncer    MessageSyncer
	Sink      events.Sink
}

// NewManager creates a new email manager
func NewManager(deps Deps, logger *logrus.Logger) *Manager {
	sink := deps.Sink
	if sink == nil {
		sink = events.Discard{}
	}
	return &Manager{
		connector: deps.Connector,
		store:     deps.Store,
		messages:  deps.Messages,
		folders:   deps.Folders,
		probe:     deps.Probe,
		mailboxes: deps.Mailboxes,
		syncer:    deps.Syncer,
		sink:      sink,
		logger:    logger,
	}
}

// GetMailboxes refreshes the folder list of the account and returns the
// cached mailboxes
func (m *Manager) GetMailboxes(ctx context.Context, account *types.Account) ([]*types.Mailbox, error) {
	return m.mailboxes.Sync(ctx, account, false)
}

// RefreshMailboxes forces a folder list refresh regardless of its age
func (m *Manager) RefreshMailboxes(ctx context.Context, account *types.Account) ([]*types.Mailbox, error) {
	return m.mailboxes.Sync(ctx, account, true)
}

// CreateMailbox creates a folder on the server and returns its cached record
func (m *Manager) CreateMailbox(ctx context.Context, account *types.Account, name string) (*types.Mailbox, error) {
	c, err := m.connector.Connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer imap.Close(c)

	folder, err := m.folders.CreateFolder(ctx, c, account, name)
	if err != nil {
		return nil, err
	}
	folders := []*imap.Folder{folder}
	if err := m.folders.GetFoldersStatus(ctx, c, folders); err != nil {
		m.logger.WithError(err).WithField("mailbox", name).Warn("Failed to read status of new mailbox")
	}
	m.folders.DetectFolderSpecialUse(folders)

	if err := m.store.UpsertMailbox(ctx, folder.Mailbox(account.ID)); err != nil {
		return nil, fmt.Errorf("failed to cache mailbox %s: %w", name, err)
	}
	mb, err := m.store.FindMailbox(ctx, account.ID, name)
	if err != nil {
		return nil, serviceError("created mailbox "+name+" is not cached", err)
	}
	return mb, nil
}

// DeleteMessage moves a message to the account's trash mailbox, or expunges
// it when it already is in the trash. A before-delete event is dispatched
// first; the deleted event only on success.
func (m *Manager) DeleteMessage(ctx context.Context, account *types.Account, mailboxName string, uid uint32) error {
	m.sink.Dispatch(ctx, events.New(events.MessageBeforeDelete, account.ID, account.Name, mailboxName, uid))

	source, err := m.store.FindMailbox(ctx, account.ID, mailboxName)
	if err != nil {
		return serviceError("source mailbox "+mailboxName+" not found", err)
	}
	if account.TrashMailboxID == nil {
		return serviceError("no trash mailbox set for account "+account.Name, cache.ErrNotFound)
	}
	trash, err := m.store.FindMailboxByID(ctx, *account.TrashMailboxID)
	if err != nil {
		return serviceError(fmt.Sprintf("trash mailbox %d not found", *account.TrashMailboxID), err)
	}

	c, err := m.connector.Connect(ctx, account)
	if err != nil {
		return err
	}
	defer imap.Close(c)

	logger := m.logger.WithFields(logrus.Fields{
		"account": account.Name,
		"mailbox": source.Name,
		"uid":     uid,
	})
	if source.ID == trash.ID {
		if err := m.messages.Expunge(ctx, c, source.Name, uid); err != nil {
			return err
		}
		logger.Debug("Expunged message from trash")
	} else {
		if err := m.messages.Move(ctx, c, source.Name, uid, trash.Name); err != nil {
			return err
		}
		logger.WithField("trash", trash.Name).Debug("Moved message to trash")
	}

	m.sink.Dispatch(ctx, events.New(events.MessageDeleted, account.ID, account.Name, mailboxName, uid))
	return nil
}

// FlagMessage sets or clears a flag on a message. Names without a protocol
// mapping are ignored.
func (m *Manager) FlagMessage(ctx context.Context, account *types.Account, mailboxName string, uid uint32, flagName string, value bool) error {
	c, err := m.connector.Connect(ctx, account)
	if err != nil {
		return err
	}
	defer imap.Close(c)

	flags, err := m.filterFlags(ctx, c, flagName, mailboxName)
	if err != nil {
		return err
	}
	if len(flags) == 0 {
		m.logger.WithFields(logrus.Fields{
			"mailbox": mailboxName,
			"flag":    flagName,
		}).Debug("Flag not supported by mailbox, skipping")
		return nil
	}

	mb, err := m.store.FindMailbox(ctx, account.ID, mailboxName)
	if err != nil {
		return serviceError("mailbox "+mailboxName+" not found", err)
	}
	for _, flag := range flags {
		if value {
			err = m.messages.AddFlag(ctx, c, mb.Name, []uint32{uid}, flag)
		} else {
			err = m.messages.RemoveFlag(ctx, c, mb.Name, []uint32{uid}, flag)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// FilterFlags maps a flag name to the protocol flags to apply. Standard
// names always map; any other name is a custom label and maps to itself only
// when the mailbox accepts custom flags. An empty result means no mapping.
func (m *Manager) FilterFlags(ctx context.Context, account *types.Account, flagName, mailboxName string) ([]string, error) {
	if kind := parseFlagKind(flagName); kind != flagCustom {
		return kind.protocolFlags(), nil
	}

	c, err := m.connector.Connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer imap.Close(c)
	return m.filterFlags(ctx, c, flagName, mailboxName)
}

func (m *Manager) filterFlags(ctx context.Context, c imap.Client, flagName, mailboxName string) ([]string, error) {
	if kind := parseFlagKind(flagName); kind != flagCustom {
		return kind.protocolFlags(), nil
	}
	label, ok, err := m.customLabel(ctx, c, flagName, mailboxName)
	if err != nil || !ok {
		return []string{}, err
	}
	return []string{label}, nil
}

// customLabel resolves a custom label through the capability probe
func (m *Manager) customLabel(ctx context.Context, c imap.Client, label, mailboxName string) (string, bool, error) {
	enabled, err := m.probe.PermanentFlagsEnabled(ctx, c, mailboxName)
	if err != nil {
		return "", false, err
	}
	if !enabled {
		return "", false, nil
	}
	return label, true, nil
}

// TagMessage adds or removes a tag on a message. The server flag is updated
// first; the user's tag association in the cache follows. Without custom
// flag support neither side changes.
func (m *Manager) TagMessage(ctx context.Context, account *types.Account, mailboxName string, message *types.Message, tag *types.Tag, value bool) error {
	mb, err := m.store.FindMailbox(ctx, account.ID, mailboxName)
	if err != nil {
		return serviceError("mailbox "+mailboxName+" not found", err)
	}

	c, err := m.connector.Connect(ctx, account)
	if err != nil {
		return err
	}
	defer imap.Close(c)

	label, ok, err := m.customLabel(ctx, c, tag.IMAPLabel, mb.Name)
	if err != nil {
		return err
	}
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"mailbox": mb.Name,
			"tag":     tag.IMAPLabel,
		}).Debug("Mailbox does not accept custom flags, tag not applied")
		return nil
	}

	if value {
		if err := m.messages.AddFlag(ctx, c, mb.Name, []uint32{message.UID}, label); err != nil {
			return err
		}
		return m.store.TagMessage(ctx, tag, message, account.UserID)
	}
	if err := m.messages.RemoveFlag(ctx, c, mb.Name, []uint32{message.UID}, label); err != nil {
		return err
	}
	return m.store.UntagMessage(ctx, tag, message, account.UserID)
}

// IsPermflagsEnabled reports whether the mailbox accepts custom flags
func (m *Manager) IsPermflagsEnabled(ctx context.Context, account *types.Account, mailboxName string) (bool, error) {
	c, err := m.connector.Connect(ctx, account)
	if err != nil {
		return false, err
	}
	defer imap.Close(c)
	return m.probe.PermanentFlagsEnabled(ctx, c, mailboxName)
}

// GetThread returns the cached messages sharing the thread of a message
func (m *Manager) GetThread(ctx context.Context, account *types.Account, messageID int64) ([]*types.Message, error) {
	msgs, err := m.store.FindThread(ctx, account.ID, messageID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, serviceError("message not found", err)
		}
		return nil, err
	}
	if err := m.store.AttachTags(ctx, account.UserID, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMailAttachments downloads the attachments of a message
func (m *Manager) GetMailAttachments(ctx context.Context, account *types.Account, mailbox *types.Mailbox, message *types.Message) ([]types.Attachment, error) {
	c, err := m.connector.Connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer imap.Close(c)
	return m.messages.GetAttachments(ctx, c, mailbox.Name, message.UID)
}

// GetMessage returns a cached message of the account with its tags and
// mailbox
func (m *Manager) GetMessage(ctx context.Context, account *types.Account, id int64) (*types.Message, *types.Mailbox, error) {
	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return nil, nil, serviceError(fmt.Sprintf("message %d not found", id), err)
	}
	mb, err := m.store.FindMailboxByID(ctx, msg.MailboxID)
	if err != nil {
		return nil, nil, serviceError(fmt.Sprintf("mailbox of message %d not found", id), err)
	}
	if mb.AccountID != account.ID {
		return nil, nil, serviceError(fmt.Sprintf("message %d not found", id), cache.ErrNotFound)
	}
	if err := m.store.AttachTags(ctx, account.UserID, []*types.Message{msg}); err != nil {
		return nil, nil, err
	}
	return msg, mb, nil
}

// SyncMailbox reconciles one cached mailbox with the server
func (m *Manager) SyncMailbox(ctx context.Context, account *types.Account, mailboxName string, criteria imap.SyncCriteria, quiet bool) (*sync.Result, error) {
	res, err := m.syncer.SyncMailbox(ctx, account, mailboxName, criteria, quiet)
	if err != nil && errors.Is(err, cache.ErrNotFound) {
		return nil, serviceError("mailbox "+mailboxName+" not found", err)
	}
	return res, err
}

// SyncAccount refreshes the folder list and reconciles every mailbox of the
// account. Failed mailboxes are reported in the joined error alongside the
// results of the others.
func (m *Manager) SyncAccount(ctx context.Context, account *types.Account, criteria imap.SyncCriteria, quiet bool, parallel int) ([]*sync.Result, error) {
	if _, err := m.mailboxes.Sync(ctx, account, false); err != nil {
		return nil, err
	}
	return m.syncer.SyncAccount(ctx, account, criteria, quiet, parallel)
}

// ResolveTag returns the user's tag for a label, or an unsaved tag named
// after the label. Tagging a message saves it.
func (m *Manager) ResolveTag(ctx context.Context, account *types.Account, label string) (*types.Tag, error) {
	tag, err := m.store.GetTagByLabel(ctx, account.UserID, label)
	if errors.Is(err, cache.ErrNotFound) {
		return &types.Tag{UserID: account.UserID, IMAPLabel: label, DisplayName: label}, nil
	}
	return tag, err
}

// SearchMessages searches the cache
func (m *Manager) SearchMessages(ctx context.Context, opts cache.SearchOptions) ([]types.MessageSummary, error) {
	return m.store.Search(ctx, opts)
}
