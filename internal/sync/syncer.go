package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/events"
	"github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/pkg/types"
)

// Store is the cache access used by the orchestrator
type Store interface {
	FindMailbox(ctx context.Context, accountID int64, name string) (*types.Mailbox, error)
	FindAllMailboxes(ctx context.Context, accountID int64) ([]*types.Mailbox, error)
	UpsertMailbox(ctx context.Context, mb *types.Mailbox) error
	DeleteMailbox(ctx context.Context, id int64) error
	KnownFlags(ctx context.Context, mailboxID int64) (map[uint32][]string, error)
	ApplySync(ctx context.Context, batch *cache.SyncBatch) error
	SetTrashMailbox(ctx context.Context, accountID, mailboxID int64) error
	MarkMailboxListSynced(ctx context.Context, accountID int64, at time.Time) error
	EnsureDefaultTags(ctx context.Context, userID string) error
}

// Result summarizes one mailbox synchronization
type Result struct {
	Mailbox  string          `json:"mailbox"`
	Mode     string          `json:"mode"`
	New      []uint32        `json:"new"`
	Changed  int             `json:"changed"`
	Vanished int             `json:"vanished"`
	Token    types.SyncToken `json:"token"`
}

type lockKey struct {
	accountID int64
	mailbox   string
}

// Syncer reconciles cached mailboxes with the server
type Syncer struct {
	connector imap.Connector
	probe     *imap.CapabilityProbe
	messages  *imap.MessageMapper
	store     Store
	sink      events.Sink
	logger    *logrus.Logger

	mu    gosync.Mutex
	locks map[lockKey]*semaphore.Weighted
}

// NewSyncer creates a new orchestrator
func NewSyncer(connector imap.Connector, store Store, sink events.Sink, logger *logrus.Logger) *Syncer {
	return &Syncer{
		connector: connector,
		probe:     imap.NewCapabilityProbe(logger),
		messages:  imap.NewMessageMapper(logger),
		store:     store,
		sink:      sink,
		logger:    logger,
		locks:     make(map[lockKey]*semaphore.Weighted),
	}
}

// lock returns the exclusion guarding the sync token of one mailbox
func (s *Syncer) lock(accountID int64, mailbox string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lockKey{accountID: accountID, mailbox: mailbox}
	sem, ok := s.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.locks[key] = sem
	}
	return sem
}

// SyncMailbox brings the cached copy of a mailbox up to date. A mailbox
// without a token, or whose UID validity changed, is listed in full;
// otherwise only the windows selected by criteria are reconciled. The stored
// token moves only when the whole batch is committed. Unless quiet, newly
// cached messages are announced to the sink.
func (s *Syncer) SyncMailbox(ctx context.Context, account *types.Account, mailbox string, criteria imap.SyncCriteria, quiet bool) (*Result, error) {
	lock := s.lock(account.ID, mailbox)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer lock.Release(1)

	start := time.Now()
	res, err := s.syncMailbox(ctx, account, mailbox, criteria)
	recordRun(res.Mode, err, time.Since(start).Seconds())

	logger := s.logger.WithFields(logrus.Fields{
		"account": account.Name,
		"mailbox": mailbox,
		"mode":    res.Mode,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to sync mailbox")
		return nil, err
	}

	recordMessages(len(res.New), res.Changed, res.Vanished)
	logger.WithFields(logrus.Fields{
		"new":      len(res.New),
		"changed":  res.Changed,
		"vanished": res.Vanished,
		"duration": time.Since(start).String(),
	}).Info("Synchronized mailbox")

	if !quiet && len(res.New) > 0 {
		s.sink.Dispatch(ctx, events.New(events.MessagesSynchronized, account.ID, account.Name, mailbox, res.New...))
	}
	return res, nil
}

func (s *Syncer) syncMailbox(ctx context.Context, account *types.Account, mailbox string, criteria imap.SyncCriteria) (*Result, error) {
	res := &Result{Mailbox: mailbox, Mode: modeIncremental, New: []uint32{}}

	// Read the token under the lock.
	mb, err := s.store.FindMailbox(ctx, account.ID, mailbox)
	if err != nil {
		return res, err
	}
	if !mb.Selectable {
		return res, fmt.Errorf("mailbox %s cannot hold messages", mailbox)
	}
	since := mb.SyncToken

	c, err := s.connector.Connect(ctx, account)
	if err != nil {
		return res, err
	}
	defer imap.Close(c)

	caps, err := s.probe.Extensions(ctx, c)
	if err != nil {
		return res, err
	}
	state, err := s.messages.MailboxState(ctx, c, mailbox, caps.CondStore)
	if err != nil {
		return res, err
	}

	batch := &cache.SyncBatch{
		MailboxID: mb.ID,
		UserID:    account.UserID,
		Messages:  state.Messages,
		Unseen:    state.Unseen,
	}

	if since.IsZero() || since.UIDValidity != state.UIDValidity {
		res.Mode = modeInitial
		if !since.IsZero() {
			s.logger.WithFields(logrus.Fields{
				"mailbox":      mailbox,
				"uid_validity": state.UIDValidity,
				"previous":     since.UIDValidity,
			}).Warn("UID validity changed, discarding cached messages")
		}

		msgs, err := s.messages.FetchAll(ctx, c, mailbox)
		if err != nil {
			return res, err
		}
		batch.Reset = true
		batch.New = msgs
		batch.Token = state.Token()
		batch.Token.UIDNext = nextUID(batch.Token.UIDNext, msgs)
	} else {
		known, err := s.store.KnownFlags(ctx, mb.ID)
		if err != nil {
			return res, err
		}
		if unchanged(since, state, len(known)) {
			res.Mode = modeUnchanged
			res.Token = since
			return res, nil
		}

		changes, err := s.messages.FetchChanges(ctx, c, mailbox, since, known, criteria)
		if err != nil {
			return res, err
		}
		batch.New = changes.New
		for _, change := range changes.Changed {
			batch.Changed = append(batch.Changed, cache.FlagUpdate{UID: change.UID, Flags: change.Flags})
		}
		batch.Vanished = changes.Vanished
		batch.Token = advance(since, state, criteria, changes.New)
	}

	if err := s.store.ApplySync(ctx, batch); err != nil {
		return res, err
	}

	for _, msg := range batch.New {
		res.New = append(res.New, msg.UID)
	}
	res.Changed = len(batch.Changed)
	res.Vanished = len(batch.Vanished)
	res.Token = batch.Token
	return res, nil
}

// unchanged reports whether CONDSTORE proves nothing happened since the
// token. The message count catches expunges that do not bump HIGHESTMODSEQ.
func unchanged(since types.SyncToken, state *imap.MailboxState, cached int) bool {
	return since.HighestModSeq != 0 &&
		state.HighestModSeq == since.HighestModSeq &&
		state.UIDNext == since.UIDNext &&
		int(state.Messages) == cached
}

// advance moves the token over the windows that were reconciled
func advance(since types.SyncToken, state *imap.MailboxState, criteria imap.SyncCriteria, fetched []*types.Message) types.SyncToken {
	next := since
	if criteria.Has(imap.SyncNew) {
		if state.UIDNext > next.UIDNext {
			next.UIDNext = state.UIDNext
		}
		next.UIDNext = nextUID(next.UIDNext, fetched)
	}
	if criteria.Has(imap.SyncAll) && state.HighestModSeq > next.HighestModSeq {
		next.HighestModSeq = state.HighestModSeq
	}
	return next
}

// nextUID keeps UIDNEXT above every fetched UID
func nextUID(uidNext uint32, msgs []*types.Message) uint32 {
	for _, m := range msgs {
		if m.UID >= uidNext {
			uidNext = m.UID + 1
		}
	}
	return uidNext
}

// SyncAccount synchronizes every selectable cached mailbox of the account,
// running at most parallel syncs at once. A failing mailbox does not stop
// the others; the returned error joins every failure.
func (s *Syncer) SyncAccount(ctx context.Context, account *types.Account, criteria imap.SyncCriteria, quiet bool, parallel int) ([]*Result, error) {
	mailboxes, err := s.store.FindAllMailboxes(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(mailboxes))
	errs := make([]error, len(mailboxes))

	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, mb := range mailboxes {
		if !mb.Selectable {
			continue
		}
		i, name := i, mb.Name
		g.Go(func() error {
			res, err := s.SyncMailbox(ctx, account, name, criteria, quiet)
			if err != nil {
				errs[i] = fmt.Errorf("mailbox %s: %w", name, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Result, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, res)
		}
	}
	return out, errors.Join(errs...)
}
