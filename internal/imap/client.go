package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/responses"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// Client is the subset of *imapclient.Client used by the mappers
type Client interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Create(name string) error
	Support(cap string) (bool, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidMove(seqset *imap.SeqSet, dest string) error
	Expunge(ch chan uint32) error
	Execute(cmdr imap.Commander, h responses.Handler) (*imap.StatusResp, error)
	Logout() error
}

// Connector hands out an authenticated connection for an account. The
// caller owns the connection and logs it out when done.
type Connector interface {
	Connect(ctx context.Context, account *types.Account) (Client, error)
}

// PasswordFunc resolves a password for a login name when the account
// carries none
type PasswordFunc func(username string) (string, error)

// Dialer connects to IMAP servers over TLS, STARTTLS or plain TCP
type Dialer struct {
	// Timeout bounds the dial and every command on the connection
	Timeout   time.Duration
	Passwords PasswordFunc
	logger    *logrus.Logger
}

// NewDialer creates a new dialer
func NewDialer(timeout time.Duration, passwords PasswordFunc, logger *logrus.Logger) *Dialer {
	return &Dialer{
		Timeout:   timeout,
		Passwords: passwords,
		logger:    logger,
	}
}

// contextDialer adapts net.Dialer to the go-imap dialer interface
type contextDialer struct {
	ctx    context.Context
	dialer *net.Dialer
}

func (d contextDialer) Dial(network, addr string) (net.Conn, error) {
	return d.dialer.DialContext(d.ctx, network, addr)
}

// Connect establishes a connection to the account's IMAP server and logs in
func (d *Dialer) Connect(ctx context.Context, account *types.Account) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(account.IMAPHost, strconv.Itoa(account.IMAPPort))
	dialer := contextDialer{ctx: ctx, dialer: &net.Dialer{Timeout: d.Timeout}}
	tlsConfig := &tls.Config{
		ServerName:         account.IMAPHost,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: account.InsecureSkipVerify,
	}

	var c *imapclient.Client
	var err error
	if account.TLS {
		c, err = imapclient.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = imapclient.DialWithDialer(dialer, addr)
		if err == nil && account.StartTLS {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, &ProtocolError{Op: "starttls", Err: err}
			}
		}
	}
	if err != nil {
		return nil, &ProtocolError{Op: "dial", Err: fmt.Errorf("failed to connect to %s: %w", addr, err)}
	}
	c.Timeout = d.Timeout

	password := account.IMAPPassword
	if password == "" && d.Passwords != nil {
		password, err = d.Passwords(account.IMAPUsername)
		if err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("failed to resolve password for %s: %w", account.Name, err)
		}
	}

	if err := c.Login(account.IMAPUsername, password); err != nil {
		d.logger.WithError(err).WithField("account", account.Name).Error("Failed to login to IMAP server")
		_ = c.Logout()
		return nil, &ProtocolError{Op: "login", Err: err}
	}

	d.logger.WithFields(logrus.Fields{
		"account": account.Name,
		"host":    account.IMAPHost,
	}).Debug("Connected to IMAP server")
	return c, nil
}

// Close logs out a connection, ignoring errors from an already dead one
func Close(c Client) {
	if c != nil {
		_ = c.Logout()
	}
}
