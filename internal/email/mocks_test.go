package email

import (
	"context"
	gosync "sync"

	"github.com/stretchr/testify/mock"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/events"
	"github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/internal/sync"
	"github.com/brandon/mailsync/pkg/types"
)

// MockConnector hands out a fixed client
type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) Connect(ctx context.Context, account *types.Account) (imap.Client, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(imap.Client), args.Error(1)
}

// MockStore mocks the cache
type MockStore struct {
	mock.Mock
}

func (m *MockStore) FindMailbox(ctx context.Context, accountID int64, name string) (*types.Mailbox, error) {
	args := m.Called(ctx, accountID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Mailbox), args.Error(1)
}

func (m *MockStore) FindMailboxByID(ctx context.Context, id int64) (*types.Mailbox, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Mailbox), args.Error(1)
}

func (m *MockStore) UpsertMailbox(ctx context.Context, mb *types.Mailbox) error {
	args := m.Called(ctx, mb)
	return args.Error(0)
}

func (m *MockStore) GetMessage(ctx context.Context, id int64) (*types.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Message), args.Error(1)
}

func (m *MockStore) FindThread(ctx context.Context, accountID, messageID int64) ([]*types.Message, error) {
	args := m.Called(ctx, accountID, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.Message), args.Error(1)
}

func (m *MockStore) AttachTags(ctx context.Context, userID string, messages []*types.Message) error {
	args := m.Called(ctx, userID, messages)
	return args.Error(0)
}

func (m *MockStore) GetTagByLabel(ctx context.Context, userID, label string) (*types.Tag, error) {
	args := m.Called(ctx, userID, label)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Tag), args.Error(1)
}

func (m *MockStore) TagMessage(ctx context.Context, tag *types.Tag, message *types.Message, userID string) error {
	args := m.Called(ctx, tag, message, userID)
	return args.Error(0)
}

func (m *MockStore) UntagMessage(ctx context.Context, tag *types.Tag, message *types.Message, userID string) error {
	args := m.Called(ctx, tag, message, userID)
	return args.Error(0)
}

func (m *MockStore) Search(ctx context.Context, opts cache.SearchOptions) ([]types.MessageSummary, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.MessageSummary), args.Error(1)
}

// MockMessageMapper mocks server message operations
type MockMessageMapper struct {
	mock.Mock
}

func (m *MockMessageMapper) AddFlag(ctx context.Context, c imap.Client, mailbox string, uids []uint32, flag string) error {
	args := m.Called(ctx, c, mailbox, uids, flag)
	return args.Error(0)
}

func (m *MockMessageMapper) RemoveFlag(ctx context.Context, c imap.Client, mailbox string, uids []uint32, flag string) error {
	args := m.Called(ctx, c, mailbox, uids, flag)
	return args.Error(0)
}

func (m *MockMessageMapper) Move(ctx context.Context, c imap.Client, source string, uid uint32, destination string) error {
	args := m.Called(ctx, c, source, uid, destination)
	return args.Error(0)
}

func (m *MockMessageMapper) Expunge(ctx context.Context, c imap.Client, mailbox string, uid uint32) error {
	args := m.Called(ctx, c, mailbox, uid)
	return args.Error(0)
}

func (m *MockMessageMapper) GetAttachments(ctx context.Context, c imap.Client, mailbox string, uid uint32) ([]types.Attachment, error) {
	args := m.Called(ctx, c, mailbox, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Attachment), args.Error(1)
}

// MockFolderMapper mocks server folder operations
type MockFolderMapper struct {
	mock.Mock
}

func (m *MockFolderMapper) CreateFolder(ctx context.Context, c imap.Client, account *types.Account, name string) (*imap.Folder, error) {
	args := m.Called(ctx, c, account, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*imap.Folder), args.Error(1)
}

func (m *MockFolderMapper) GetFoldersStatus(ctx context.Context, c imap.Client, folders []*imap.Folder) error {
	args := m.Called(ctx, c, folders)
	return args.Error(0)
}

func (m *MockFolderMapper) DetectFolderSpecialUse(folders []*imap.Folder) {
	m.Called(folders)
}

// MockProbe mocks the capability probe
type MockProbe struct {
	mock.Mock
}

func (m *MockProbe) PermanentFlagsEnabled(ctx context.Context, c imap.Client, mailbox string) (bool, error) {
	args := m.Called(ctx, c, mailbox)
	return args.Bool(0), args.Error(1)
}

// MockMailboxSyncer mocks the folder list refresh
type MockMailboxSyncer struct {
	mock.Mock
}

func (m *MockMailboxSyncer) Sync(ctx context.Context, account *types.Account, force bool) ([]*types.Mailbox, error) {
	args := m.Called(ctx, account, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.Mailbox), args.Error(1)
}

// MockMessageSyncer mocks the orchestrator
type MockMessageSyncer struct {
	mock.Mock
}

func (m *MockMessageSyncer) SyncMailbox(ctx context.Context, account *types.Account, mailbox string, criteria imap.SyncCriteria, quiet bool) (*sync.Result, error) {
	args := m.Called(ctx, account, mailbox, criteria, quiet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.Result), args.Error(1)
}

func (m *MockMessageSyncer) SyncAccount(ctx context.Context, account *types.Account, criteria imap.SyncCriteria, quiet bool, parallel int) ([]*sync.Result, error) {
	args := m.Called(ctx, account, criteria, quiet, parallel)
	results, _ := args.Get(0).([]*sync.Result)
	return results, args.Error(1)
}

// recordingSink keeps dispatched events
type recordingSink struct {
	mu     gosync.Mutex
	events []events.Event
}

func (s *recordingSink) Dispatch(ctx context.Context, event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]events.Kind, 0, len(s.events))
	for _, e := range s.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
