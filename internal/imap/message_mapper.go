package imap

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// statusHighestModSeq is the CONDSTORE status item (RFC 7162)
const statusHighestModSeq imap.StatusItem = "HIGHESTMODSEQ"

var referencesSection = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{
		Specifier: imap.HeaderSpecifier,
		Fields:    []string{"References"},
	},
	Peek: true,
}

var headerItems = []imap.FetchItem{
	imap.FetchUid,
	imap.FetchFlags,
	imap.FetchEnvelope,
	referencesSection.FetchItem(),
}

// SyncCriteria selects which windows a reconciliation pass covers
type SyncCriteria uint8

const (
	SyncNew SyncCriteria = 1 << iota
	SyncChanged
	SyncVanished

	SyncAll = SyncNew | SyncChanged | SyncVanished
)

// Has reports whether every window of f is selected
func (c SyncCriteria) Has(f SyncCriteria) bool {
	return c&f == f
}

var syncCriteriaNames = map[string]SyncCriteria{
	"new":      SyncNew,
	"changed":  SyncChanged,
	"vanished": SyncVanished,
}

// ParseSyncCriteria combines window names ("new", "changed", "vanished").
// No names select every window.
func ParseSyncCriteria(names []string) (SyncCriteria, error) {
	if len(names) == 0 {
		return SyncAll, nil
	}
	var criteria SyncCriteria
	for _, name := range names {
		c, ok := syncCriteriaNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown sync criteria %q", name)
		}
		criteria |= c
	}
	return criteria, nil
}

// MailboxState is the server-side position of a mailbox
type MailboxState struct {
	UIDValidity   uint32
	UIDNext       uint32
	HighestModSeq uint64
	Messages      uint32
	Unseen        uint32
}

// Token returns the sync token matching this state
func (s *MailboxState) Token() types.SyncToken {
	return types.SyncToken{
		UIDValidity:   s.UIDValidity,
		UIDNext:       s.UIDNext,
		HighestModSeq: s.HighestModSeq,
	}
}

// FlagChange is the current flag set of a message whose flags differ from
// the cached ones
type FlagChange struct {
	UID   uint32
	Flags []string
}

// Changes are the three disjoint sets found by an incremental pass
type Changes struct {
	New      []*types.Message
	Changed  []FlagChange
	Vanished []uint32
}

// MessageMapper translates message operations into IMAP commands
type MessageMapper struct {
	logger *logrus.Logger
}

// NewMessageMapper creates a new message mapper
func NewMessageMapper(logger *logrus.Logger) *MessageMapper {
	return &MessageMapper{logger: logger}
}

// AddFlag sets flag on every UID. The whole batch is a single command.
func (m *MessageMapper) AddFlag(ctx context.Context, c Client, mailbox string, uids []uint32, flag string) error {
	return m.storeFlag(ctx, c, mailbox, uids, flag, imap.AddFlags)
}

// RemoveFlag clears flag on every UID
func (m *MessageMapper) RemoveFlag(ctx context.Context, c Client, mailbox string, uids []uint32, flag string) error {
	return m.storeFlag(ctx, c, mailbox, uids, flag, imap.RemoveFlags)
}

func (m *MessageMapper) storeFlag(ctx context.Context, c Client, mailbox string, uids []uint32, flag string, op imap.FlagsOp) error {
	if len(uids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return protocolError("select", mailbox, err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(op, true)
	if err := c.UidStore(seqset, item, []interface{}{flag}, nil); err != nil {
		return protocolError("store", mailbox, err)
	}

	m.logger.WithFields(logrus.Fields{
		"mailbox": mailbox,
		"flag":    flag,
		"op":      string(op),
		"count":   len(uids),
	}).Debug("Stored flag")
	return nil
}

// GetFlagged returns the UIDs of messages carrying flag
func (m *MessageMapper) GetFlagged(ctx context.Context, c Client, mailbox, flag string) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, protocolError("select", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{flag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, protocolError("search", mailbox, err)
	}
	if uids == nil {
		uids = []uint32{}
	}
	return uids, nil
}

// Move transfers a message to another mailbox
func (m *MessageMapper) Move(ctx context.Context, c Client, source string, uid uint32, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.Select(source, false); err != nil {
		return protocolError("select", source, err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	if err := c.UidMove(seqset, destination); err != nil {
		return protocolError("move", source, fmt.Errorf("uid %d to %s: %w", uid, destination, err))
	}
	return nil
}

// Expunge permanently removes a message
func (m *MessageMapper) Expunge(ctx context.Context, c Client, mailbox string, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return protocolError("select", mailbox, err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return protocolError("store", mailbox, err)
	}

	uidPlus, err := c.Support("UIDPLUS")
	if err != nil {
		return protocolError("capability", mailbox, err)
	}
	if uidPlus {
		err = uidExpunge(c, seqset)
	} else {
		m.logger.WithFields(logrus.Fields{
			"mailbox": mailbox,
			"uid":     uid,
		}).Warn("Server lacks UIDPLUS, expunging every deleted message in the mailbox")
		err = c.Expunge(nil)
	}
	if err != nil {
		return protocolError("expunge", mailbox, err)
	}
	return nil
}

// GetAttachments downloads a message and returns its attachment parts
func (m *MessageMapper) GetAttachments(ctx context.Context, c Client, mailbox string, uid uint32) ([]types.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, protocolError("select", mailbox, err)
	}

	section := &imap.BodySectionName{Peek: true}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	msgs, err := m.fetch(c, mailbox, seqset, []imap.FetchItem{imap.FetchUid, section.FetchItem()})
	if err != nil {
		return nil, err
	}

	var raw []byte
	for _, msg := range msgs {
		if msg.Uid == uid {
			raw = readSection(msg, section)
			break
		}
	}
	if raw == nil {
		return nil, protocolError("fetch", mailbox, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound))
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, protocolError("fetch", mailbox, fmt.Errorf("failed to parse uid %d: %w", uid, err))
	}

	attachments := []types.Attachment{}
	parts := append([]*enmime.Part{}, env.Attachments...)
	for _, p := range env.Inlines {
		if p.FileName != "" {
			parts = append(parts, p)
		}
	}
	for _, p := range parts {
		attachments = append(attachments, types.Attachment{
			Name:        p.FileName,
			ContentType: p.ContentType,
			Size:        int64(len(p.Content)),
			Content:     p.Content,
		})
	}
	return attachments, nil
}

// MailboxState reads the position of a mailbox without selecting it
func (m *MessageMapper) MailboxState(ctx context.Context, c Client, mailbox string, condStore bool) (*MailboxState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := []imap.StatusItem{
		imap.StatusMessages,
		imap.StatusUnseen,
		imap.StatusUidNext,
		imap.StatusUidValidity,
	}
	if condStore {
		items = append(items, statusHighestModSeq)
	}

	status, err := c.Status(mailbox, items)
	if err != nil {
		return nil, protocolError("status", mailbox, err)
	}

	state := &MailboxState{
		UIDValidity: status.UidValidity,
		UIDNext:     status.UidNext,
		Messages:    status.Messages,
		Unseen:      status.Unseen,
	}
	if raw, ok := status.Items[statusHighestModSeq]; ok && raw != nil {
		modseq, err := strconv.ParseUint(fmt.Sprint(raw), 10, 64)
		if err != nil {
			m.logger.WithError(err).WithField("mailbox", mailbox).Warn("Ignoring malformed HIGHESTMODSEQ")
		} else {
			state.HighestModSeq = modseq
		}
	}
	return state, nil
}

// FetchAll lists every message of the mailbox with headers and flags
func (m *MessageMapper) FetchAll(ctx context.Context, c Client, mailbox string) ([]*types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	status, err := c.Select(mailbox, true)
	if err != nil {
		return nil, protocolError("select", mailbox, err)
	}
	if status.Messages == 0 {
		return []*types.Message{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, 0)
	return m.fetchHeaders(c, mailbox, seqset, 1)
}

// FetchChanges computes what happened in the mailbox since the token: new
// UIDs at or above its UIDNEXT, cached messages whose flags differ, and cached
// UIDs the server no longer lists. known maps cached UIDs to their flags.
func (m *MessageMapper) FetchChanges(ctx context.Context, c Client, mailbox string, since types.SyncToken, known map[uint32][]string, criteria SyncCriteria) (*Changes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	status, err := c.Select(mailbox, true)
	if err != nil {
		return nil, protocolError("select", mailbox, err)
	}

	changes := &Changes{
		New:      []*types.Message{},
		Changed:  []FlagChange{},
		Vanished: []uint32{},
	}

	if status.Messages == 0 {
		if criteria.Has(SyncVanished) {
			changes.Vanished = sortedUIDs(known)
		}
		return changes, nil
	}

	if criteria.Has(SyncNew) && (status.UidNext == 0 || status.UidNext > since.UIDNext) {
		start := since.UIDNext
		if start == 0 {
			start = 1
		}
		seqset := new(imap.SeqSet)
		seqset.AddRange(start, 0)
		// n:* always matches the highest UID, so filter below start.
		msgs, err := m.fetchHeaders(c, mailbox, seqset, start)
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			if _, ok := known[msg.UID]; !ok {
				changes.New = append(changes.New, msg)
			}
		}
	}

	if !criteria.Has(SyncChanged) && !criteria.Has(SyncVanished) {
		return changes, nil
	}
	if len(known) == 0 || since.UIDNext <= 1 {
		return changes, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, since.UIDNext-1)
	msgs, err := m.fetch(c, mailbox, seqset, []imap.FetchItem{imap.FetchUid, imap.FetchFlags})
	if err != nil {
		return nil, err
	}

	present := make(map[uint32]bool, len(msgs))
	for _, msg := range msgs {
		present[msg.Uid] = true
		cached, ok := known[msg.Uid]
		if !ok || !criteria.Has(SyncChanged) {
			continue
		}
		flags := cacheableFlags(msg.Flags)
		if !sameFlags(cached, flags) {
			changes.Changed = append(changes.Changed, FlagChange{UID: msg.Uid, Flags: flags})
		}
	}
	sort.Slice(changes.Changed, func(i, j int) bool { return changes.Changed[i].UID < changes.Changed[j].UID })

	if criteria.Has(SyncVanished) {
		for _, uid := range sortedUIDs(known) {
			if !present[uid] {
				changes.Vanished = append(changes.Vanished, uid)
			}
		}
	}
	return changes, nil
}

func (m *MessageMapper) fetchHeaders(c Client, mailbox string, seqset *imap.SeqSet, minUID uint32) ([]*types.Message, error) {
	msgs, err := m.fetch(c, mailbox, seqset, headerItems)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Uid < minUID {
			continue
		}
		out = append(out, m.parseMessage(msg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *MessageMapper) fetch(c Client, mailbox string, seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []*imap.Message
	for msg := range messages {
		out = append(out, msg)
	}

	if err := <-done; err != nil {
		return nil, protocolError("fetch", mailbox, err)
	}
	return out, nil
}

// parseMessage converts a fetched message into a cache record
func (m *MessageMapper) parseMessage(msg *imap.Message) *types.Message {
	out := &types.Message{
		UID:   msg.Uid,
		Flags: cacheableFlags(msg.Flags),
	}

	if env := msg.Envelope; env != nil {
		out.MessageID = normalizeMessageID(env.MessageId)
		out.InReplyTo = normalizeMessageID(env.InReplyTo)
		out.Subject = env.Subject
		out.SentAt = env.Date.UTC()
		if len(env.From) > 0 {
			out.SenderName = env.From[0].PersonalName
			out.SenderEmail = env.From[0].Address()
		}
	}

	var references []string
	if raw := readSection(msg, referencesSection); len(raw) > 0 {
		refs, err := parseReferences(raw)
		if err != nil {
			m.logger.WithError(err).WithField("uid", msg.Uid).Debug("Ignoring malformed References header")
		}
		references = refs
	}

	out.ThreadRootID = threadRoot(out.MessageID, out.InReplyTo, references)
	return out
}

// readSection returns the bytes of a fetched body section, falling back to
// any section the server returned
func readSection(msg *imap.Message, section *imap.BodySectionName) []byte {
	if msg.Body == nil {
		return nil
	}
	if literal := msg.GetBody(section); literal != nil {
		return readLiteral(literal)
	}
	for _, literal := range msg.Body {
		if literal != nil {
			return readLiteral(literal)
		}
	}
	return nil
}

func readLiteral(literal imap.Literal) []byte {
	b, err := io.ReadAll(literal)
	if err != nil && len(b) == 0 {
		return nil
	}
	if b == nil {
		b = []byte{}
	}
	return b
}

// parseReferences extracts the message identifiers of a References header
func parseReferences(raw []byte) ([]string, error) {
	if !bytes.HasSuffix(raw, []byte("\r\n\r\n")) {
		raw = append(raw, '\r', '\n')
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}
	header := mail.Header{Header: message.Header{Header: h}}
	ids, err := header.MsgIDList("References")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = normalizeMessageID(id); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

// threadRoot picks the conversation identifier: the first reference, else
// the parent, else the message itself
func threadRoot(messageID, inReplyTo string, references []string) string {
	if len(references) > 0 {
		return references[0]
	}
	if inReplyTo != "" {
		return inReplyTo
	}
	return messageID
}

// normalizeMessageID returns the first identifier of s in angle brackets
func normalizeMessageID(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	id := strings.Trim(fields[0], "<>")
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}

// cacheableFlags drops \Recent, which is session-scoped and would make every
// new session look like a flag change
func cacheableFlags(flags []string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if strings.EqualFold(f, imap.RecentFlag) {
			continue
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func sameFlags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, f := range a {
		set[strings.ToLower(f)]++
	}
	for _, f := range b {
		k := strings.ToLower(f)
		if set[k] == 0 {
			return false
		}
		set[k]--
	}
	return true
}

func sortedUIDs(known map[uint32][]string) []uint32 {
	uids := make([]uint32, 0, len(known))
	for uid := range known {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}
