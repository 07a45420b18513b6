package email

import (
	"context"
	"errors"
	"io"
	"testing"

	goimap "github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/events"
	"github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/internal/imap/imaptest"
	"github.com/brandon/mailsync/internal/sync"
	"github.com/brandon/mailsync/pkg/types"
)

type managerFixture struct {
	connector *MockConnector
	client    imap.Client
	store     *MockStore
	messages  *MockMessageMapper
	folders   *MockFolderMapper
	probe     *MockProbe
	mailboxes *MockMailboxSyncer
	syncer    *MockMessageSyncer
	sink      *recordingSink
	manager   *Manager
	account   *types.Account
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	trashID := int64(123)
	f := &managerFixture{
		connector: &MockConnector{},
		client:    imaptest.NewServer(),
		store:     &MockStore{},
		messages:  &MockMessageMapper{},
		folders:   &MockFolderMapper{},
		probe:     &MockProbe{},
		mailboxes: &MockMailboxSyncer{},
		syncer:    &MockMessageSyncer{},
		sink:      &recordingSink{},
		account:   &types.Account{ID: 1, Name: "work", UserID: "test", TrashMailboxID: &trashID},
	}
	f.connector.On("Connect", mock.Anything, f.account).Return(f.client, nil).Maybe()
	f.manager = NewManager(Deps{
		Connector: f.connector,
		Store:     f.store,
		Messages:  f.messages,
		Folders:   f.folders,
		Probe:     f.probe,
		Mailboxes: f.mailboxes,
		Syncer:    f.syncer,
		Sink:      f.sink,
	}, logger)

	t.Cleanup(func() {
		f.store.AssertExpectations(t)
		f.messages.AssertExpectations(t)
		f.folders.AssertExpectations(t)
		f.probe.AssertExpectations(t)
		f.mailboxes.AssertExpectations(t)
		f.syncer.AssertExpectations(t)
	})
	return f
}

func TestGetMailboxes(t *testing.T) {
	f := newManagerFixture(t)
	mailboxes := []*types.Mailbox{{ID: 1, Name: "INBOX"}, {ID: 2, Name: "Trash"}}
	f.mailboxes.On("Sync", mock.Anything, f.account, false).Return(mailboxes, nil).Once()

	result, err := f.manager.GetMailboxes(context.Background(), f.account)
	require.NoError(t, err)
	assert.Equal(t, mailboxes, result)
}

func TestCreateMailbox(t *testing.T) {
	f := newManagerFixture(t)
	folder := &imap.Folder{Name: "new", Delimiter: "/"}
	mailbox := &types.Mailbox{ID: 7, AccountID: 1, Name: "new"}

	f.folders.On("CreateFolder", mock.Anything, f.client, f.account, "new").Return(folder, nil).Once()
	f.folders.On("GetFoldersStatus", mock.Anything, f.client, []*imap.Folder{folder}).Return(nil).Once()
	f.folders.On("DetectFolderSpecialUse", []*imap.Folder{folder}).Once()
	f.store.On("UpsertMailbox", mock.Anything, mock.MatchedBy(func(mb *types.Mailbox) bool {
		return mb.Name == "new" && mb.AccountID == 1
	})).Return(nil).Once()
	f.store.On("FindMailbox", mock.Anything, int64(1), "new").Return(mailbox, nil).Once()

	created, err := f.manager.CreateMailbox(context.Background(), f.account, "new")
	require.NoError(t, err)
	assert.Equal(t, mailbox, created)
}

func TestDeleteMessageSourceMailboxNotFound(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").
		Return(nil, cache.ErrNotFound).Once()

	err := f.manager.DeleteMessage(context.Background(), f.account, "INBOX", 123)
	require.Error(t, err)
	assert.True(t, IsServiceError(err))
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, []events.Kind{events.MessageBeforeDelete}, f.sink.kinds())
	f.connector.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
}

func TestDeleteMessageTrashMailboxNotFound(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").
		Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.store.On("FindMailboxByID", mock.Anything, int64(123)).
		Return(nil, cache.ErrNotFound).Once()

	err := f.manager.DeleteMessage(context.Background(), f.account, "INBOX", 123)
	require.Error(t, err)
	assert.True(t, IsServiceError(err))
	assert.Equal(t, []events.Kind{events.MessageBeforeDelete}, f.sink.kinds())
}

func TestDeleteMessageWithoutTrash(t *testing.T) {
	f := newManagerFixture(t)
	f.account.TrashMailboxID = nil
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").
		Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()

	err := f.manager.DeleteMessage(context.Background(), f.account, "INBOX", 123)
	assert.True(t, IsServiceError(err))
	assert.Len(t, f.sink.kinds(), 1)
}

func TestDeleteMessage(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").
		Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.store.On("FindMailboxByID", mock.Anything, int64(123)).
		Return(&types.Mailbox{ID: 123, Name: "Trash"}, nil).Once()
	f.messages.On("Move", mock.Anything, f.client, "INBOX", uint32(123), "Trash").Return(nil).Once()

	err := f.manager.DeleteMessage(context.Background(), f.account, "INBOX", 123)
	require.NoError(t, err)
	assert.Equal(t, []events.Kind{events.MessageBeforeDelete, events.MessageDeleted}, f.sink.kinds())
	f.messages.AssertNotCalled(t, "Expunge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.connector.AssertNumberOfCalls(t, "Connect", 1)
}

func TestExpungeMessage(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("FindMailbox", mock.Anything, int64(1), "Trash").
		Return(&types.Mailbox{ID: 123, Name: "Trash"}, nil).Once()
	f.store.On("FindMailboxByID", mock.Anything, int64(123)).
		Return(&types.Mailbox{ID: 123, Name: "Trash"}, nil).Once()
	f.messages.On("Expunge", mock.Anything, f.client, "Trash", uint32(123)).Return(nil).Once()

	err := f.manager.DeleteMessage(context.Background(), f.account, "Trash", 123)
	require.NoError(t, err)
	assert.Equal(t, []events.Kind{events.MessageBeforeDelete, events.MessageDeleted}, f.sink.kinds())
	f.messages.AssertNotCalled(t, "Move", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteMessageMoveFails(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").
		Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.store.On("FindMailboxByID", mock.Anything, int64(123)).
		Return(&types.Mailbox{ID: 123, Name: "Trash"}, nil).Once()
	f.messages.On("Move", mock.Anything, f.client, "INBOX", uint32(123), "Trash").
		Return(&imap.ProtocolError{Op: "move", Mailbox: "INBOX", Err: errors.New("NO")}).Once()

	err := f.manager.DeleteMessage(context.Background(), f.account, "INBOX", 123)
	var perr *imap.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.False(t, IsServiceError(err))
	assert.Equal(t, []events.Kind{events.MessageBeforeDelete}, f.sink.kinds())
}

func TestFilterFlagsStandard(t *testing.T) {
	f := newManagerFixture(t)
	flags := map[string][]string{
		"seen":     {goimap.SeenFlag},
		"answered": {goimap.AnsweredFlag},
		"flagged":  {goimap.FlaggedFlag},
		"deleted":  {goimap.DeletedFlag},
		"draft":    {goimap.DraftFlag},
		"recent":   {goimap.RecentFlag},
		"junk":     {"$Junk", "junk"},
		"mdnsent":  {"$MDNSent"},
	}

	for name, want := range flags {
		got, err := f.manager.FilterFlags(context.Background(), f.account, name, "INBOX")
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	f.connector.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
	f.probe.AssertNotCalled(t, "PermanentFlagsEnabled", mock.Anything, mock.Anything, mock.Anything)
}

func TestFilterFlagsCustom(t *testing.T) {
	t.Run("without capability", func(t *testing.T) {
		f := newManagerFixture(t)
		f.probe.On("PermanentFlagsEnabled", mock.Anything, f.client, "INBOX").Return(false, nil).Once()

		got, err := f.manager.FilterFlags(context.Background(), f.account, types.LabelImportant, "INBOX")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("with capability", func(t *testing.T) {
		f := newManagerFixture(t)
		f.probe.On("PermanentFlagsEnabled", mock.Anything, f.client, "INBOX").Return(true, nil).Once()

		got, err := f.manager.FilterFlags(context.Background(), f.account, types.LabelImportant, "INBOX")
		require.NoError(t, err)
		assert.Equal(t, []string{types.LabelImportant}, got)
	})
}

func TestSetCustomFlagNoCapabilities(t *testing.T) {
	f := newManagerFixture(t)
	f.probe.On("PermanentFlagsEnabled", mock.Anything, f.client, "INBOX").Return(false, nil).Twice()

	require.NoError(t, f.manager.FlagMessage(context.Background(), f.account, "INBOX", 123, types.LabelImportant, true))
	require.NoError(t, f.manager.FlagMessage(context.Background(), f.account, "INBOX", 123, types.LabelImportant, false))

	f.messages.AssertNotCalled(t, "AddFlag", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "RemoveFlag", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSetCustomFlagWithCapabilities(t *testing.T) {
	f := newManagerFixture(t)
	f.probe.On("PermanentFlagsEnabled", mock.Anything, f.client, "INBOX").Return(true, nil).Twice()
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Twice()
	f.messages.On("AddFlag", mock.Anything, f.client, "INBOX", []uint32{123}, types.LabelImportant).Return(nil).Once()
	f.messages.On("RemoveFlag", mock.Anything, f.client, "INBOX", []uint32{123}, types.LabelImportant).Return(nil).Once()

	require.NoError(t, f.manager.FlagMessage(context.Background(), f.account, "INBOX", 123, types.LabelImportant, true))
	require.NoError(t, f.manager.FlagMessage(context.Background(), f.account, "INBOX", 123, types.LabelImportant, false))
}

func TestRemoveFlag(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.messages.On("RemoveFlag", mock.Anything, f.client, "INBOX", []uint32{123}, goimap.SeenFlag).Return(nil).Once()

	require.NoError(t, f.manager.FlagMessage(context.Background(), f.account, "INBOX", 123, "seen", false))
	f.messages.AssertNotCalled(t, "AddFlag", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFlagJunkAppliesBothKeywords(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.messages.On("AddFlag", mock.Anything, f.client, "INBOX", []uint32{5}, mock.Anything).Return(nil).Twice()

	require.NoError(t, f.manager.FlagMessage(context.Background(), f.account, "INBOX", 5, "junk", true))
	require.Len(t, f.messages.Calls, 2)
	assert.Equal(t, "$Junk", f.messages.Calls[0].Arguments.String(4))
	assert.Equal(t, "junk", f.messages.Calls[1].Arguments.String(4))
}

func TestFlagMessageFailure(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.messages.On("AddFlag", mock.Anything, f.client, "INBOX", []uint32{5}, goimap.FlaggedFlag).
		Return(&imap.ProtocolError{Op: "store", Err: errors.New("NO")}).Once()

	err := f.manager.FlagMessage(context.Background(), f.account, "INBOX", 5, "flagged", true)
	var perr *imap.ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func tagFixture() (*types.Tag, *types.Message) {
	tag := &types.Tag{IMAPLabel: types.LabelImportant}
	message := &types.Message{UID: 123, MessageID: "<jhfjkhdsjkfhdsjkhfjkdsh@test.com>"}
	return tag, message
}

func TestTagMessage(t *testing.T) {
	f := newManagerFixture(t)
	tag, message := tagFixture()
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.probe.On("PermanentFlagsEnabled", mock.Anything, f.client, "INBOX").Return(true, nil).Once()
	f.messages.On("AddFlag", mock.Anything, f.client, "INBOX", []uint32{123}, types.LabelImportant).Return(nil).Once()
	f.store.On("TagMessage", mock.Anything, tag, message, "test").Return(nil).Once()

	require.NoError(t, f.manager.TagMessage(context.Background(), f.account, "INBOX", message, tag, true))
}

func TestUntagMessage(t *testing.T) {
	f := newManagerFixture(t)
	tag, message := tagFixture()
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.probe.On("PermanentFlagsEnabled", mock.Anything, f.client, "INBOX").Return(true, nil).Once()
	f.messages.On("RemoveFlag", mock.Anything, f.client, "INBOX", []uint32{123}, types.LabelImportant).Return(nil).Once()
	f.store.On("UntagMessage", mock.Anything, tag, message, "test").Return(nil).Once()

	require.NoError(t, f.manager.TagMessage(context.Background(), f.account, "INBOX", message, tag, false))
	f.messages.AssertNotCalled(t, "AddFlag", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTagNoCapabilities(t *testing.T) {
	f := newManagerFixture(t)
	tag, message := tagFixture()
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.probe.On("PermanentFlagsEnabled", mock.Anything, f.client, "INBOX").Return(false, nil).Once()

	require.NoError(t, f.manager.TagMessage(context.Background(), f.account, "INBOX", message, tag, true))
	f.messages.AssertNotCalled(t, "AddFlag", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "RemoveFlag", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "TagMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTagMessageFlagFailureLeavesCache(t *testing.T) {
	f := newManagerFixture(t)
	tag, message := tagFixture()
	f.store.On("FindMailbox", mock.Anything, int64(1), "INBOX").Return(&types.Mailbox{ID: 1, Name: "INBOX"}, nil).Once()
	f.probe.On("PermanentFlagsEnabled", mock.Anything, f.client, "INBOX").Return(true, nil).Once()
	f.messages.On("AddFlag", mock.Anything, f.client, "INBOX", []uint32{123}, types.LabelImportant).
		Return(&imap.ProtocolError{Op: "store", Err: errors.New("NO")}).Once()

	require.Error(t, f.manager.TagMessage(context.Background(), f.account, "INBOX", message, tag, true))
	f.store.AssertNotCalled(t, "TagMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIsPermflagsEnabled(t *testing.T) {
	f := newManagerFixture(t)
	f.probe.On("PermanentFlagsEnabled", mock.Anything, f.client, "INBOX").Return(false, nil).Once()

	enabled, err := f.manager.IsPermflagsEnabled(context.Background(), f.account, "INBOX")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestGetThread(t *testing.T) {
	f := newManagerFixture(t)
	thread := []*types.Message{{ID: 123}, {ID: 124}}
	f.store.On("FindThread", mock.Anything, int64(1), int64(123)).Return(thread, nil).Once()
	f.store.On("AttachTags", mock.Anything, "test", thread).Return(nil).Once()

	got, err := f.manager.GetThread(context.Background(), f.account, 123)
	require.NoError(t, err)
	assert.Equal(t, thread, got)
	f.connector.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
}

func TestGetThreadUnknownMessage(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("FindThread", mock.Anything, int64(1), int64(9)).Return(nil, cache.ErrNotFound).Once()

	_, err := f.manager.GetThread(context.Background(), f.account, 9)
	assert.True(t, IsServiceError(err))
}

func TestGetMailAttachments(t *testing.T) {
	f := newManagerFixture(t)
	attachments := []types.Attachment{{Name: "cat.png", Content: []byte("abcdefg")}}
	mailbox := &types.Mailbox{Name: "Inbox"}
	message := &types.Message{UID: 123}
	f.messages.On("GetAttachments", mock.Anything, f.client, "Inbox", uint32(123)).Return(attachments, nil).Once()

	result, err := f.manager.GetMailAttachments(context.Background(), f.account, mailbox, message)
	require.NoError(t, err)
	assert.Equal(t, attachments, result)
	f.connector.AssertNumberOfCalls(t, "Connect", 1)
}

func TestGetMessage(t *testing.T) {
	f := newManagerFixture(t)
	msg := &types.Message{ID: 5, MailboxID: 2}
	f.store.On("GetMessage", mock.Anything, int64(5)).Return(msg, nil).Twice()
	f.store.On("AttachTags", mock.Anything, "test", []*types.Message{msg}).Return(nil).Once()
	f.store.On("FindMailboxByID", mock.Anything, int64(2)).Return(&types.Mailbox{ID: 2, AccountID: 1, Name: "INBOX"}, nil).Twice()

	got, mb, err := f.manager.GetMessage(context.Background(), f.account, 5)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
	assert.Equal(t, "INBOX", mb.Name)

	other := &types.Account{ID: 2, Name: "home", UserID: "test"}
	_, _, err = f.manager.GetMessage(context.Background(), other, 5)
	assert.True(t, IsServiceError(err))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestSyncMailbox(t *testing.T) {
	f := newManagerFixture(t)
	res := &sync.Result{Mailbox: "INBOX", Mode: "incremental", New: []uint32{4}}
	f.syncer.On("SyncMailbox", mock.Anything, f.account, "INBOX", imap.SyncAll, false).Return(res, nil).Once()
	f.syncer.On("SyncMailbox", mock.Anything, f.account, "Gone", imap.SyncAll, false).
		Return(nil, cache.ErrNotFound).Once()

	got, err := f.manager.SyncMailbox(context.Background(), f.account, "INBOX", imap.SyncAll, false)
	require.NoError(t, err)
	assert.Equal(t, res, got)

	_, err = f.manager.SyncMailbox(context.Background(), f.account, "Gone", imap.SyncAll, false)
	assert.True(t, IsServiceError(err))
}

func TestSearchMessages(t *testing.T) {
	f := newManagerFixture(t)
	opts := cache.SearchOptions{Limit: 10}
	summaries := []types.MessageSummary{{ID: 1, Subject: "hello"}}
	f.store.On("Search", mock.Anything, opts).Return(summaries, nil).Once()

	got, err := f.manager.SearchMessages(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, summaries, got)
}

func TestSyncAccount(t *testing.T) {
	f := newManagerFixture(t)
	results := []*sync.Result{{Mailbox: "INBOX"}}
	f.mailboxes.On("Sync", mock.Anything, f.account, false).Return([]*types.Mailbox{}, nil).Once()
	f.syncer.On("SyncAccount", mock.Anything, f.account, imap.SyncNew, true, 2).Return(results, nil).Once()

	got, err := f.manager.SyncAccount(context.Background(), f.account, imap.SyncNew, true, 2)
	require.NoError(t, err)
	assert.Equal(t, results, got)
}

func TestResolveTag(t *testing.T) {
	f := newManagerFixture(t)
	saved := &types.Tag{ID: 3, UserID: "test", IMAPLabel: "$label1", DisplayName: "Important"}
	f.store.On("GetTagByLabel", mock.Anything, "test", "$label1").Return(saved, nil).Once()
	f.store.On("GetTagByLabel", mock.Anything, "test", "projects").Return(nil, cache.ErrNotFound).Once()

	tag, err := f.manager.ResolveTag(context.Background(), f.account, "$label1")
	require.NoError(t, err)
	assert.Equal(t, saved, tag)

	tag, err = f.manager.ResolveTag(context.Background(), f.account, "projects")
	require.NoError(t, err)
	assert.Zero(t, tag.ID)
	assert.Equal(t, "projects", tag.IMAPLabel)
	assert.Equal(t, "test", tag.UserID)
}
