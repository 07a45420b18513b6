package imap_test

import (
	"context"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailimap "github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/internal/imap/imaptest"
	"github.com/brandon/mailsync/pkg/types"
)

func folder(name string, attrs ...string) *mailimap.Folder {
	return &mailimap.Folder{Name: name, Delimiter: "/", Attributes: attrs}
}

func specialUses(folders []*mailimap.Folder) map[string]types.SpecialUse {
	out := make(map[string]types.SpecialUse, len(folders))
	for _, f := range folders {
		out[f.Name] = f.SpecialUse
	}
	return out
}

func TestDetectFolderSpecialUse(t *testing.T) {
	mapper := mailimap.NewFolderMapper(testLogger())

	t.Run("attributes", func(t *testing.T) {
		folders := []*mailimap.Folder{
			folder("inbox"),
			folder("Gesendet", "\\Sent"),
			folder("Papierkorb", "\\HasNoChildren", "\\Trash"),
			folder("Entwürfe", "\\drafts"),
			folder("Other"),
		}
		mapper.DetectFolderSpecialUse(folders)
		assert.Equal(t, map[string]types.SpecialUse{
			"inbox":      types.SpecialUseInbox,
			"Gesendet":   types.SpecialUseSent,
			"Papierkorb": types.SpecialUseTrash,
			"Entwürfe":   types.SpecialUseDrafts,
			"Other":      types.SpecialUseNone,
		}, specialUses(folders))
	})

	t.Run("names", func(t *testing.T) {
		folders := []*mailimap.Folder{
			folder("Sent Items"),
			folder("INBOX/Spam"),
			folder("Deleted Messages"),
			folder("Archive"),
		}
		mapper.DetectFolderSpecialUse(folders)
		assert.Equal(t, map[string]types.SpecialUse{
			"Sent Items":       types.SpecialUseSent,
			"INBOX/Spam":       types.SpecialUseJunk,
			"Deleted Messages": types.SpecialUseTrash,
			"Archive":          types.SpecialUseArchive,
		}, specialUses(folders))
	})

	t.Run("attribute wins over name", func(t *testing.T) {
		folders := []*mailimap.Folder{
			folder("Trash"),
			folder("Bin", "\\Trash"),
		}
		mapper.DetectFolderSpecialUse(folders)
		assert.Equal(t, types.SpecialUseNone, folders[0].SpecialUse)
		assert.Equal(t, types.SpecialUseTrash, folders[1].SpecialUse)
	})

	t.Run("ambiguous names", func(t *testing.T) {
		folders := []*mailimap.Folder{
			folder("Sent"),
			folder("Sent Messages"),
			folder("Drafts"),
		}
		mapper.DetectFolderSpecialUse(folders)
		assert.Equal(t, types.SpecialUseNone, folders[0].SpecialUse)
		assert.Equal(t, types.SpecialUseNone, folders[1].SpecialUse)
		assert.Equal(t, types.SpecialUseDrafts, folders[2].SpecialUse)
	})
}

func TestFolderSelectable(t *testing.T) {
	assert.True(t, folder("INBOX").Selectable())
	assert.False(t, folder("[Gmail]", imap.NoSelectAttr).Selectable())
	assert.False(t, folder("Gone", "\\nonexistent").Selectable())
}

func TestListFolders(t *testing.T) {
	srv := imaptest.NewServer()
	srv.AddMailbox("Archive", "\\Archive")
	srv.AddMailbox("Sent", "\\Sent")

	folders, err := mailimap.NewFolderMapper(testLogger()).ListFolders(context.Background(), srv)
	require.NoError(t, err)
	require.Len(t, folders, 3)
	assert.Equal(t, "Archive", folders[0].Name)
	assert.Equal(t, []string{"\\Archive"}, folders[0].Attributes)
	assert.Equal(t, "/", folders[0].Delimiter)
}

func TestCreateFolder(t *testing.T) {
	srv := imaptest.NewServer()
	account := &types.Account{Name: "work"}
	mapper := mailimap.NewFolderMapper(testLogger())

	f, err := mapper.CreateFolder(context.Background(), srv, account, "Projects")
	require.NoError(t, err)
	assert.Equal(t, "Projects", f.Name)
	assert.NotNil(t, srv.Mailbox("Projects"))

	_, err = mapper.CreateFolder(context.Background(), srv, account, "Projects")
	var perr *mailimap.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create", perr.Op)
}

func TestGetFoldersStatus(t *testing.T) {
	srv := imaptest.NewServer()
	srv.AddMailbox("Broken")
	srv.AddMailbox("Archive")
	srv.Append(imap.InboxName, imaptest.NewMessage("<1@x>", "one", "a@example.com", sentAt))
	srv.Append(imap.InboxName, imaptest.NewMessage("<2@x>", "two", "a@example.com", sentAt, imap.SeenFlag))
	srv.Append("Archive", imaptest.NewMessage("<3@x>", "three", "a@example.com", sentAt, imap.SeenFlag))
	srv.FailStatus["Broken"] = assert.AnError

	folders := []*mailimap.Folder{
		folder(imap.InboxName),
		folder("Broken"),
		folder("[Gmail]", imap.NoSelectAttr),
		folder("Archive"),
	}
	err := mailimap.NewFolderMapper(testLogger()).GetFoldersStatus(context.Background(), srv, folders)
	assert.ErrorIs(t, err, assert.AnError)

	assert.Equal(t, uint32(2), folders[0].Messages)
	assert.Equal(t, uint32(1), folders[0].Unseen)
	assert.Zero(t, folders[1].Messages)
	assert.Equal(t, uint32(1), folders[3].Messages)
	assert.Zero(t, folders[3].Unseen)
	assert.Equal(t, 0, srv.CountCalls("status [Gmail]"))
}

func TestFolderMailbox(t *testing.T) {
	f := folder("Trash", "\\Trash")
	f.SpecialUse = types.SpecialUseTrash
	f.Messages = 4

	mb := f.Mailbox(7)
	assert.Equal(t, int64(7), mb.AccountID)
	assert.Equal(t, "Trash", mb.Name)
	assert.Equal(t, types.SpecialUseTrash, mb.SpecialUse)
	assert.True(t, mb.Selectable)
	assert.Equal(t, uint32(4), mb.Messages)
}
