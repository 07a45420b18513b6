package imap

import (
	"context"
	"errors"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// Special-use mailbox attributes (RFC 6154)
const (
	attrSent    = "\\Sent"
	attrDrafts  = "\\Drafts"
	attrTrash   = "\\Trash"
	attrJunk    = "\\Junk"
	attrArchive = "\\Archive"
)

var specialUseAttributes = map[string]types.SpecialUse{
	strings.ToLower(attrSent):    types.SpecialUseSent,
	strings.ToLower(attrDrafts):  types.SpecialUseDrafts,
	strings.ToLower(attrTrash):   types.SpecialUseTrash,
	strings.ToLower(attrJunk):    types.SpecialUseJunk,
	strings.ToLower(attrArchive): types.SpecialUseArchive,
}

// specialUseNames maps canonical folder names, lower-cased, to their role
var specialUseNames = map[string]types.SpecialUse{
	"sent":             types.SpecialUseSent,
	"sent items":       types.SpecialUseSent,
	"sent messages":    types.SpecialUseSent,
	"sent mail":        types.SpecialUseSent,
	"drafts":           types.SpecialUseDrafts,
	"draft":            types.SpecialUseDrafts,
	"trash":            types.SpecialUseTrash,
	"deleted items":    types.SpecialUseTrash,
	"deleted messages": types.SpecialUseTrash,
	"bin":              types.SpecialUseTrash,
	"junk":             types.SpecialUseJunk,
	"spam":             types.SpecialUseJunk,
	"junk e-mail":      types.SpecialUseJunk,
	"junk email":       types.SpecialUseJunk,
	"bulk mail":        types.SpecialUseJunk,
	"archive":          types.SpecialUseArchive,
	"archives":         types.SpecialUseArchive,
}

// Folder is a server mailbox as seen through LIST and STATUS
type Folder struct {
	Name       string
	Delimiter  string
	Attributes []string
	SpecialUse types.SpecialUse
	Messages   uint32
	Unseen     uint32
}

// Selectable reports whether the folder can hold messages
func (f *Folder) Selectable() bool {
	return !f.HasAttribute(imap.NoSelectAttr) && !f.HasAttribute("\\NonExistent")
}

// HasAttribute reports whether the folder carries attr, ignoring case
func (f *Folder) HasAttribute(attr string) bool {
	for _, a := range f.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// Mailbox converts the folder into a cache record for the account
func (f *Folder) Mailbox(accountID int64) *types.Mailbox {
	return &types.Mailbox{
		AccountID:  accountID,
		Name:       f.Name,
		Delimiter:  f.Delimiter,
		Attributes: f.Attributes,
		SpecialUse: f.SpecialUse,
		Selectable: f.Selectable(),
		Messages:   f.Messages,
		Unseen:     f.Unseen,
	}
}

func (f *Folder) leafName() string {
	if f.Delimiter == "" {
		return f.Name
	}
	parts := strings.Split(f.Name, f.Delimiter)
	return parts[len(parts)-1]
}

// FolderMapper lists, creates and classifies server mailboxes
type FolderMapper struct {
	logger *logrus.Logger
}

// NewFolderMapper creates a new folder mapper
func NewFolderMapper(logger *logrus.Logger) *FolderMapper {
	return &FolderMapper{logger: logger}
}

// ListFolders lists every mailbox on the server
func (fm *FolderMapper) ListFolders(ctx context.Context, c Client) ([]*Folder, error) {
	return fm.list(ctx, c, "*")
}

func (fm *FolderMapper) list(ctx context.Context, c Client, pattern string) ([]*Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", pattern, mailboxes)
	}()

	folders := []*Folder{}
	for info := range mailboxes {
		folders = append(folders, &Folder{
			Name:       info.Name,
			Delimiter:  info.Delimiter,
			Attributes: info.Attributes,
		})
	}

	if err := <-done; err != nil {
		return nil, protocolError("list", pattern, err)
	}
	return folders, nil
}

// CreateFolder creates a mailbox and returns it as the server lists it
func (fm *FolderMapper) CreateFolder(ctx context.Context, c Client, account *types.Account, name string) (*Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Create(name); err != nil {
		return nil, protocolError("create", name, err)
	}

	fm.logger.WithFields(logrus.Fields{
		"account": account.Name,
		"mailbox": name,
	}).Info("Created mailbox")

	folders, err := fm.list(ctx, c, name)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if f.Name == name {
			return f, nil
		}
	}
	return &Folder{Name: name}, nil
}

// GetFoldersStatus fills message counts. A folder whose status cannot be
// read is logged and skipped; the others are still queried.
func (fm *FolderMapper) GetFoldersStatus(ctx context.Context, c Client, folders []*Folder) error {
	var errs []error
	for _, f := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !f.Selectable() {
			continue
		}

		status, err := c.Status(f.Name, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
		if err != nil {
			fm.logger.WithError(err).WithField("mailbox", f.Name).Warn("Failed to get mailbox status")
			errs = append(errs, protocolError("status", f.Name, err))
			continue
		}
		f.Messages = status.Messages
		f.Unseen = status.Unseen
	}
	return errors.Join(errs...)
}

// DetectFolderSpecialUse assigns a role to each folder. Server attributes
// win; otherwise the leaf name is matched case-insensitively. A role matched
// by name on more than one folder is given to none of them.
func (fm *FolderMapper) DetectFolderSpecialUse(folders []*Folder) {
	claimed := make(map[types.SpecialUse]bool)

	for _, f := range folders {
		f.SpecialUse = types.SpecialUseNone
		if strings.EqualFold(f.Name, imap.InboxName) {
			f.SpecialUse = types.SpecialUseInbox
			claimed[types.SpecialUseInbox] = true
			continue
		}
		for _, attr := range f.Attributes {
			if use, ok := specialUseAttributes[strings.ToLower(attr)]; ok {
				f.SpecialUse = use
				claimed[use] = true
				break
			}
		}
	}

	candidates := make(map[types.SpecialUse][]*Folder)
	for _, f := range folders {
		if f.SpecialUse != types.SpecialUseNone {
			continue
		}
		use, ok := specialUseNames[strings.ToLower(f.leafName())]
		if !ok || claimed[use] {
			continue
		}
		candidates[use] = append(candidates[use], f)
	}

	for use, matches := range candidates {
		if len(matches) == 1 {
			matches[0].SpecialUse = use
			continue
		}
		names := make([]string, 0, len(matches))
		for _, f := range matches {
			names = append(names, f.Name)
		}
		fm.logger.WithFields(logrus.Fields{
			"special_use": string(use),
			"mailboxes":   names,
		}).Debug("Ambiguous special-use names, leaving unassigned")
	}
}
