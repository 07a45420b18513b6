package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind identifies a notification
type Kind string

const (
	MessageBeforeDelete  Kind = "message.before_delete"
	MessageDeleted       Kind = "message.deleted"
	MessagesSynchronized Kind = "messages.synchronized"
)

// Event is a notification about messages of one mailbox
type Event struct {
	ID        uuid.UUID
	Kind      Kind
	AccountID int64
	Account   string
	Mailbox   string
	UIDs      []uint32
	At        time.Time
}

// New creates an event with a fresh identifier
func New(kind Kind, accountID int64, account, mailbox string, uids ...uint32) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		AccountID: accountID,
		Account:   account,
		Mailbox:   mailbox,
		UIDs:      uids,
		At:        time.Now().UTC(),
	}
}

// Sink receives notifications. Delivery is fire-and-forget: callers never
// act on a sink failure.
type Sink interface {
	Dispatch(ctx context.Context, event Event)
}

// LogSink writes every event to a logger
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a sink that logs events
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Dispatch logs the event
func (s *LogSink) Dispatch(ctx context.Context, event Event) {
	s.logger.WithFields(logrus.Fields{
		"event_id": event.ID.String(),
		"event":    string(event.Kind),
		"account":  event.Account,
		"mailbox":  event.Mailbox,
		"count":    len(event.UIDs),
	}).Info("Mail event")
}

// Discard drops every event
type Discard struct{}

// Dispatch implements Sink
func (Discard) Dispatch(context.Context, Event) {}
