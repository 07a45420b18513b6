// Package imaptest provides an in-memory IMAP server double that satisfies
// the client interface used by the mappers.
package imaptest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-imap/responses"

	mailimap "github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/pkg/types"
)

// Message is a message stored in a fake mailbox
type Message struct {
	UID        uint32
	Flags      []string
	Envelope   *imap.Envelope
	References string
	Raw        []byte
}

// NewMessage builds a message with an envelope
func NewMessage(messageID, subject, from string, date time.Time, flags ...string) *Message {
	mailbox, host, _ := strings.Cut(from, "@")
	return &Message{
		Flags: flags,
		Envelope: &imap.Envelope{
			Date:      date,
			Subject:   subject,
			From:      []*imap.Address{{MailboxName: mailbox, HostName: host}},
			MessageId: messageID,
		},
	}
}

// Mailbox is a fake server folder
type Mailbox struct {
	Name           string
	Delimiter      string
	Attributes     []string
	PermanentFlags []string
	UIDValidity    uint32
	UIDNext        uint32
	ModSeq         uint64
	Messages       []*Message
}

func (mb *Mailbox) find(uid uint32) *Message {
	for _, m := range mb.Messages {
		if m.UID == uid {
			return m
		}
	}
	return nil
}

func (mb *Mailbox) maxUID() uint32 {
	var max uint32
	for _, m := range mb.Messages {
		if m.UID > max {
			max = m.UID
		}
	}
	return max
}

// Server is an in-memory IMAP server. It can be used directly as a single
// connection; Dial opens more that share the same mailboxes.
type Server struct {
	mu        sync.Mutex
	mailboxes map[string]*Mailbox
	caps      map[string]bool
	validity  uint32
	calls     []string

	// Fail makes the named operation ("select", "status", "store", "move",
	// "expunge", "fetch", "search", "create", "list") return the error
	Fail map[string]error
	// FailStatus makes STATUS fail for specific mailboxes
	FailStatus map[string]error

	// The server doubles as a default connection.
	*Session
}

// Session is one connection to the server with its own selected mailbox
type Session struct {
	srv      *Server
	selected string
}

var (
	_ mailimap.Client = (*Server)(nil)
	_ mailimap.Client = (*Session)(nil)
)

// NewServer creates a server with an INBOX and the given capabilities
func NewServer(caps ...string) *Server {
	s := &Server{
		mailboxes:  make(map[string]*Mailbox),
		caps:       make(map[string]bool),
		validity:   1,
		Fail:       make(map[string]error),
		FailStatus: make(map[string]error),
	}
	s.Session = &Session{srv: s}
	for _, c := range caps {
		s.caps[strings.ToUpper(c)] = true
	}
	s.AddMailbox(imap.InboxName)
	return s
}

// AddMailbox creates a folder with the given LIST attributes. Custom flags
// are permitted by default.
func (s *Server) AddMailbox(name string, attrs ...string) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addMailbox(name, attrs...)
}

func (s *Server) addMailbox(name string, attrs ...string) *Mailbox {
	mb := &Mailbox{
		Name:           name,
		Delimiter:      "/",
		Attributes:     attrs,
		PermanentFlags: []string{imap.SeenFlag, imap.AnsweredFlag, imap.FlaggedFlag, imap.DeletedFlag, imap.DraftFlag, imap.TryCreateFlag},
		UIDValidity:    s.validity,
		UIDNext:        1,
		ModSeq:         1,
	}
	s.validity++
	s.mailboxes[name] = mb
	return mb
}

// Mailbox returns a folder by name
func (s *Server) Mailbox(name string) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mailboxes[name]
}

// RemoveMailbox deletes a folder
func (s *Server) RemoveMailbox(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mailboxes, name)
}

// Append stores msg in the mailbox and returns its UID
func (s *Server) Append(mailbox string, msg *Message) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxes[mailbox]
	msg.UID = mb.UIDNext
	mb.UIDNext++
	mb.ModSeq++
	mb.Messages = append(mb.Messages, msg)
	return msg.UID
}

// SetFlags replaces the flags of a message as another client would
func (s *Server) SetFlags(mailbox string, uid uint32, flags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxes[mailbox]
	if m := mb.find(uid); m != nil {
		m.Flags = flags
		mb.ModSeq++
	}
}

// Delete removes a message as another client would
func (s *Server) Delete(mailbox string, uid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxes[mailbox]
	mb.Messages = removeUIDs(mb.Messages, func(m *Message) bool { return m.UID == uid })
	mb.ModSeq++
}

// ResetUIDValidity renumbers a mailbox under a new UID validity
func (s *Server) ResetUIDValidity(mailbox string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxes[mailbox]
	mb.UIDValidity = s.validity + 100
	s.validity++
	mb.UIDNext = 1
	for _, m := range mb.Messages {
		m.UID = mb.UIDNext
		mb.UIDNext++
	}
	mb.ModSeq++
}

// Calls returns the recorded operations in order
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.calls...)
}

// CountCalls returns how many recorded operations start with prefix
func (s *Server) CountCalls(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *Server) record(format string, args ...interface{}) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (ss *Session) selectedMailbox() (*Mailbox, error) {
	mb, ok := ss.srv.mailboxes[ss.selected]
	if !ok {
		return nil, fmt.Errorf("no mailbox selected")
	}
	return mb, nil
}

// Select implements the client interface
func (ss *Session) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()
	ss.srv.record("select %s %t", name, readOnly)
	if err := ss.srv.Fail["select"]; err != nil {
		return nil, err
	}

	mb, ok := ss.srv.mailboxes[name]
	if !ok {
		return nil, fmt.Errorf("mailbox does not exist: %s", name)
	}
	ss.selected = name

	status := &imap.MailboxStatus{
		Name:        name,
		ReadOnly:    readOnly,
		Items:       make(map[imap.StatusItem]interface{}),
		Flags:       []string{imap.SeenFlag, imap.AnsweredFlag, imap.FlaggedFlag, imap.DeletedFlag, imap.DraftFlag},
		Messages:    uint32(len(mb.Messages)),
		UidNext:     mb.UIDNext,
		UidValidity: mb.UIDValidity,
	}
	// EXAMINE reports no permanent flags.
	if !readOnly {
		status.PermanentFlags = append([]string{}, mb.PermanentFlags...)
	}
	return status, nil
}

// Status implements the client interface
func (ss *Session) Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error) {
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()
	ss.srv.record("status %s", name)
	if err := ss.srv.Fail["status"]; err != nil {
		return nil, err
	}
	if err := ss.srv.FailStatus[name]; err != nil {
		return nil, err
	}

	mb, ok := ss.srv.mailboxes[name]
	if !ok {
		return nil, fmt.Errorf("mailbox does not exist: %s", name)
	}

	status := imap.NewMailboxStatus(name, items)
	status.Messages = uint32(len(mb.Messages))
	status.UidNext = mb.UIDNext
	status.UidValidity = mb.UIDValidity
	for _, m := range mb.Messages {
		if !hasFlag(m.Flags, imap.SeenFlag) {
			status.Unseen++
		}
	}
	for _, item := range items {
		if item == "HIGHESTMODSEQ" && ss.srv.caps["CONDSTORE"] {
			status.Items[item] = strconv.FormatUint(mb.ModSeq, 10)
		}
	}
	return status, nil
}

// List implements the client interface
func (ss *Session) List(ref, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	ss.srv.mu.Lock()
	ss.srv.record("list %s", name)
	if err := ss.srv.Fail["list"]; err != nil {
		ss.srv.mu.Unlock()
		return err
	}
	var infos []*imap.MailboxInfo
	for _, mb := range ss.srv.mailboxes {
		if name == "*" || name == mb.Name {
			infos = append(infos, &imap.MailboxInfo{
				Attributes: append([]string{}, mb.Attributes...),
				Delimiter:  mb.Delimiter,
				Name:       mb.Name,
			})
		}
	}
	ss.srv.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	for _, info := range infos {
		ch <- info
	}
	return nil
}

// Create implements the client interface
func (ss *Session) Create(name string) error {
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()
	ss.srv.record("create %s", name)
	if err := ss.srv.Fail["create"]; err != nil {
		return err
	}
	if _, ok := ss.srv.mailboxes[name]; ok {
		return fmt.Errorf("mailbox already exists: %s", name)
	}
	ss.srv.addMailbox(name)
	return nil
}

// Support implements the client interface
func (ss *Session) Support(cap string) (bool, error) {
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()
	return ss.srv.caps[strings.ToUpper(cap)], nil
}

// UidSearch implements the client interface for UID and flag criteria
func (ss *Session) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()
	ss.srv.record("search %s", strings.Join(criteria.WithFlags, ","))
	if err := ss.srv.Fail["search"]; err != nil {
		return nil, err
	}
	mb, err := ss.selectedMailbox()
	if err != nil {
		return nil, err
	}

	var uids []uint32
	for _, m := range mb.Messages {
		if criteria.Uid != nil && !contains(criteria.Uid, m.UID, mb.maxUID()) {
			continue
		}
		match := true
		for _, f := range criteria.WithFlags {
			if !hasFlag(m.Flags, f) {
				match = false
			}
		}
		for _, f := range criteria.WithoutFlags {
			if hasFlag(m.Flags, f) {
				match = false
			}
		}
		if match {
			uids = append(uids, m.UID)
		}
	}
	return uids, nil
}

// UidFetch implements the client interface for UID, FLAGS, ENVELOPE and
// BODY[...] items
func (ss *Session) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	ss.srv.mu.Lock()
	ss.srv.record("fetch %s", seqset.String())
	if err := ss.srv.Fail["fetch"]; err != nil {
		ss.srv.mu.Unlock()
		return err
	}
	mb, err := ss.selectedMailbox()
	if err != nil {
		ss.srv.mu.Unlock()
		return err
	}

	var out []*imap.Message
	max := mb.maxUID()
	for i, m := range mb.Messages {
		if !contains(seqset, m.UID, max) {
			continue
		}
		msg := &imap.Message{
			SeqNum: uint32(i + 1),
			Uid:    m.UID,
			Items:  make(map[imap.FetchItem]interface{}),
			Body:   make(map[*imap.BodySectionName]imap.Literal),
		}
		for _, item := range items {
			switch item {
			case imap.FetchUid:
			case imap.FetchFlags:
				msg.Flags = append([]string{}, m.Flags...)
			case imap.FetchEnvelope:
				msg.Envelope = m.Envelope
			default:
				section, err := imap.ParseBodySectionName(item)
				if err != nil {
					continue
				}
				// Responses never echo PEEK.
				section.Peek = false
				msg.Body[section] = bytes.NewBuffer(m.section(section))
			}
		}
		out = append(out, msg)
	}
	ss.srv.mu.Unlock()

	for _, msg := range out {
		ch <- msg
	}
	return nil
}

func (m *Message) section(section *imap.BodySectionName) []byte {
	if section.Specifier == imap.HeaderSpecifier {
		if m.References == "" {
			return []byte("\r\n")
		}
		return []byte("References: " + m.References + "\r\n\r\n")
	}
	return append([]byte{}, m.Raw...)
}

// UidStore implements the client interface for FLAGS operations
func (ss *Session) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	if ch != nil {
		defer close(ch)
	}
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()

	var flags []string
	if values, ok := value.([]interface{}); ok {
		for _, v := range values {
			flags = append(flags, fmt.Sprint(v))
		}
	}
	ss.srv.record("store %s %s %s", seqset.String(), item, strings.Join(flags, " "))
	if err := ss.srv.Fail["store"]; err != nil {
		return err
	}
	mb, err := ss.selectedMailbox()
	if err != nil {
		return err
	}

	max := mb.maxUID()
	for _, m := range mb.Messages {
		if !contains(seqset, m.UID, max) {
			continue
		}
		switch {
		case strings.HasPrefix(string(item), "+"):
			for _, f := range flags {
				if !hasFlag(m.Flags, f) {
					m.Flags = append(m.Flags, f)
				}
			}
		case strings.HasPrefix(string(item), "-"):
			kept := m.Flags[:0]
			for _, f := range m.Flags {
				if !hasFlag(flags, f) {
					kept = append(kept, f)
				}
			}
			m.Flags = kept
		default:
			m.Flags = flags
		}
	}
	mb.ModSeq++
	return nil
}

// UidMove implements the client interface
func (ss *Session) UidMove(seqset *imap.SeqSet, dest string) error {
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()
	ss.srv.record("move %s %s", seqset.String(), dest)
	if err := ss.srv.Fail["move"]; err != nil {
		return err
	}
	mb, err := ss.selectedMailbox()
	if err != nil {
		return err
	}
	target, ok := ss.srv.mailboxes[dest]
	if !ok {
		return fmt.Errorf("mailbox does not exist: %s", dest)
	}

	max := mb.maxUID()
	mb.Messages = removeUIDs(mb.Messages, func(m *Message) bool {
		if !contains(seqset, m.UID, max) {
			return false
		}
		m.UID = target.UIDNext
		target.UIDNext++
		target.Messages = append(target.Messages, m)
		return true
	})
	mb.ModSeq++
	target.ModSeq++
	return nil
}

// Expunge implements the client interface
func (ss *Session) Expunge(ch chan uint32) error {
	if ch != nil {
		defer close(ch)
	}
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()
	ss.srv.record("expunge")
	if err := ss.srv.Fail["expunge"]; err != nil {
		return err
	}
	mb, err := ss.selectedMailbox()
	if err != nil {
		return err
	}
	mb.Messages = removeUIDs(mb.Messages, func(m *Message) bool { return hasFlag(m.Flags, imap.DeletedFlag) })
	mb.ModSeq++
	return nil
}

// Execute implements the client interface for UID EXPUNGE
func (ss *Session) Execute(cmdr imap.Commander, h responses.Handler) (*imap.StatusResp, error) {
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()

	uid, ok := cmdr.(*commands.Uid)
	if !ok {
		return nil, fmt.Errorf("unsupported command")
	}
	inner := uid.Cmd.Command()
	if inner.Name != "EXPUNGE" || len(inner.Arguments) != 1 {
		return nil, fmt.Errorf("unsupported command: UID %s", inner.Name)
	}
	seqset, ok := inner.Arguments[0].(*imap.SeqSet)
	if !ok {
		return nil, fmt.Errorf("invalid UID EXPUNGE argument")
	}
	ss.srv.record("uid expunge %s", seqset.String())
	if err := ss.srv.Fail["expunge"]; err != nil {
		return nil, err
	}
	mb, err := ss.selectedMailbox()
	if err != nil {
		return nil, err
	}

	max := mb.maxUID()
	mb.Messages = removeUIDs(mb.Messages, func(m *Message) bool {
		return contains(seqset, m.UID, max) && hasFlag(m.Flags, imap.DeletedFlag)
	})
	mb.ModSeq++
	return &imap.StatusResp{Type: imap.StatusRespOk}, nil
}

// Logout implements the client interface
func (ss *Session) Logout() error {
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()
	ss.srv.record("logout")
	return nil
}

// Dial opens a new connection to the server
func (s *Server) Dial() *Session {
	return &Session{srv: s}
}

// Connector hands out sessions on a server
type Connector struct {
	Server *Server
	// Err fails every connection attempt
	Err error

	mu       sync.Mutex
	connects int
}

// Connect implements the connector interface
func (c *Connector) Connect(ctx context.Context, account *types.Account) (mailimap.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Server.Dial(), nil
}

// Connects returns how many connections were handed out
func (c *Connector) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func contains(seqset *imap.SeqSet, uid, max uint32) bool {
	for _, seq := range seqset.Set {
		lo, hi := seq.Start, seq.Stop
		if lo == 0 {
			lo = max
		}
		if hi == 0 {
			hi = max
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if uid >= lo && uid <= hi {
			return true
		}
	}
	return false
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

func removeUIDs(msgs []*Message, remove func(*Message) bool) []*Message {
	kept := msgs[:0]
	for _, m := range msgs {
		if !remove(m) {
			kept = append(kept, m)
		}
	}
	return kept
}
