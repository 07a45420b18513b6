package imap

import (
	"context"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
)

// Capabilities is what the server advertises for a session and a mailbox
type Capabilities struct {
	// PermanentFlags is set when PERMANENTFLAGS contains \*, meaning new
	// keywords can be stored in the mailbox
	PermanentFlags bool
	CondStore      bool
	QResync        bool
	UIDPlus        bool
	Move           bool
}

// CapabilityProbe asks the server what it supports. Results are never cached.
type CapabilityProbe struct {
	logger *logrus.Logger
}

// NewCapabilityProbe creates a new capability probe
func NewCapabilityProbe(logger *logrus.Logger) *CapabilityProbe {
	return &CapabilityProbe{logger: logger}
}

// Probe reports the session extensions and whether the mailbox accepts
// custom flags
func (p *CapabilityProbe) Probe(ctx context.Context, c Client, mailbox string) (*Capabilities, error) {
	caps, err := p.Extensions(ctx, c)
	if err != nil {
		return nil, err
	}
	caps.PermanentFlags, err = p.PermanentFlagsEnabled(ctx, c, mailbox)
	if err != nil {
		return nil, err
	}
	return caps, nil
}

// Extensions reports the session-wide extensions without selecting a mailbox
func (p *CapabilityProbe) Extensions(ctx context.Context, c Client) (*Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	caps := &Capabilities{}
	for name, dst := range map[string]*bool{
		"CONDSTORE": &caps.CondStore,
		"QRESYNC":   &caps.QResync,
		"UIDPLUS":   &caps.UIDPlus,
		"MOVE":      &caps.Move,
	} {
		ok, err := c.Support(name)
		if err != nil {
			return nil, protocolError("capability", "", err)
		}
		*dst = ok
	}
	return caps, nil
}

// PermanentFlagsEnabled reports whether the mailbox accepts custom flags.
// PERMANENTFLAGS is only meaningful for a read-write selection.
func (p *CapabilityProbe) PermanentFlagsEnabled(ctx context.Context, c Client, mailbox string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	status, err := c.Select(mailbox, false)
	if err != nil {
		return false, protocolError("select", mailbox, err)
	}

	for _, flag := range status.PermanentFlags {
		if flag == imap.TryCreateFlag {
			return true, nil
		}
	}
	p.logger.WithField("mailbox", mailbox).Debug("Mailbox does not accept custom flags")
	return false, nil
}
