package sync

import (
	"context"
	"testing"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/imap/imaptest"
	"github.com/brandon/mailsync/pkg/types"
)

func TestMailboxSync(t *testing.T) {
	f := newFixture(t)
	f.srv.AddMailbox("Archive", "\\Archive")
	f.srv.AddMailbox("[Gmail]", goimap.NoSelectAttr)
	f.appendMessages(goimap.InboxName, 2, goimap.SeenFlag)
	ctx := context.Background()

	mailboxes, err := f.mailboxes.Sync(ctx, f.account, false)
	require.NoError(t, err)
	require.Len(t, mailboxes, 4)

	byName := map[string]*types.Mailbox{}
	for _, mb := range mailboxes {
		byName[mb.Name] = mb
	}
	assert.Equal(t, types.SpecialUseArchive, byName["Archive"].SpecialUse)
	assert.Equal(t, types.SpecialUseTrash, byName["Trash"].SpecialUse)
	assert.False(t, byName["[Gmail]"].Selectable)
	assert.Equal(t, uint32(2), byName[goimap.InboxName].Messages)
	assert.Equal(t, uint32(1), byName[goimap.InboxName].Unseen)
	assert.True(t, byName[goimap.InboxName].SyncToken.IsZero())

	account, err := f.store.GetAccount(ctx, "work")
	require.NoError(t, err)
	require.NotNil(t, account.TrashMailboxID)
	assert.Equal(t, byName["Trash"].ID, *account.TrashMailboxID)
	assert.NotNil(t, account.LastMailboxSync)

	tag, err := f.store.GetTagByLabel(ctx, "alice", types.LabelImportant)
	require.NoError(t, err)
	assert.True(t, tag.IsDefault)

	t.Run("removes folders gone from the server", func(t *testing.T) {
		f.srv.RemoveMailbox("Archive")
		mailboxes, err := f.mailboxes.Sync(ctx, f.account, true)
		require.NoError(t, err)
		assert.Len(t, mailboxes, 3)
		for _, mb := range mailboxes {
			assert.NotEqual(t, "Archive", mb.Name)
		}
	})

	t.Run("keeps counts when status fails", func(t *testing.T) {
		f.srv.FailStatus[goimap.InboxName] = assert.AnError
		defer delete(f.srv.FailStatus, goimap.InboxName)
		f.srv.Append(goimap.InboxName, imaptest.NewMessage("<late@x>", "late", "bob@example.com", sentAt))

		_, err := f.mailboxes.Sync(ctx, f.account, true)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), f.mailbox(t, goimap.InboxName).Messages)
	})
}

func TestMailboxSyncKeepsSyncToken(t *testing.T) {
	f := newFixture(t)
	f.appendMessages(goimap.InboxName, 2)
	f.syncList(t)
	ctx := context.Background()

	res, err := f.syncer.SyncMailbox(ctx, f.account, goimap.InboxName, 0, true)
	require.NoError(t, err)

	f.syncList(t)
	assert.Equal(t, res.Token, f.mailbox(t, goimap.InboxName).SyncToken)
}

func TestMailboxSyncThrottle(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f.mailboxes.now = func() time.Time { return now }
	ctx := context.Background()

	synced := now.Add(-30 * time.Second)
	f.account.LastMailboxSync = &synced
	mailboxes, err := f.mailboxes.Sync(ctx, f.account, false)
	require.NoError(t, err)
	assert.Empty(t, mailboxes)
	assert.Zero(t, f.connector.Connects())

	_, err = f.mailboxes.Sync(ctx, f.account, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.connector.Connects())

	stale := now.Add(-2 * time.Minute)
	f.account.LastMailboxSync = &stale
	mailboxes, err = f.mailboxes.Sync(ctx, f.account, false)
	require.NoError(t, err)
	assert.Len(t, mailboxes, 2)
	assert.Equal(t, 2, f.connector.Connects())
}

func TestMailboxSyncTrashAssignment(t *testing.T) {
	t.Run("configured name wins", func(t *testing.T) {
		f := newFixture(t)
		f.srv.AddMailbox("Deleted Items")
		f.account.TrashMailbox = "Deleted Items"
		f.syncList(t)

		account, err := f.store.GetAccount(context.Background(), "work")
		require.NoError(t, err)
		require.NotNil(t, account.TrashMailboxID)
		assert.Equal(t, f.mailbox(t, "Deleted Items").ID, *account.TrashMailboxID)
	})

	t.Run("unknown configured name falls back to special use", func(t *testing.T) {
		f := newFixture(t)
		f.account.TrashMailbox = "Bin"
		f.syncList(t)

		account, err := f.store.GetAccount(context.Background(), "work")
		require.NoError(t, err)
		require.NotNil(t, account.TrashMailboxID)
		assert.Equal(t, f.mailbox(t, "Trash").ID, *account.TrashMailboxID)
	})

	t.Run("no trash folder", func(t *testing.T) {
		f := newFixture(t)
		f.srv.RemoveMailbox("Trash")
		f.syncList(t)

		account, err := f.store.GetAccount(context.Background(), "work")
		require.NoError(t, err)
		assert.Nil(t, account.TrashMailboxID)
	})
}
