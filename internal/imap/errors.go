package imap

import (
	"errors"
	"fmt"
)

// ErrMessageNotFound is returned when a UID does not exist in the mailbox
var ErrMessageNotFound = errors.New("message not found")

// ProtocolError is a failure reported by the server or the connection
type ProtocolError struct {
	Op      string
	Mailbox string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Mailbox != "" {
		return fmt.Sprintf("imap %s %s: %v", e.Op, e.Mailbox, e.Err)
	}
	return fmt.Sprintf("imap %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolError(op, mailbox string, err error) error {
	if err == nil {
		return nil
	}
	return &ProtocolError{Op: op, Mailbox: mailbox, Err: err}
}
