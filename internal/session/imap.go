package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
)

// logoutTimeout bounds how long Close waits for the server to acknowledge LOGOUT.
const logoutTimeout = 5 * time.Second

// imapSession is the go-imap backed Session.
type imapSession struct {
	c      *client.Client
	idle   *idle.Client
	logger *slog.Logger

	// mu guards total and the newMail token so a SELECT can never leave a
	// stale announcement behind.
	mu sync.Mutex
	// total is the latest message count of the selected folder.
	total uint32
	// newMail has a pending token whenever the folder grew.
	newMail chan struct{}
}

// Dialer returns an Opener that connects with Open.
func Dialer(logger *slog.Logger) Opener {
	return func(ctx context.Context, cfg Config) (Session, error) {
		return Open(ctx, cfg, logger)
	}
}

// Open dials the server and logs in. Connecting and authenticating each have
// their own deadline from cfg. Failures are reported as *ConnectError or
// *AuthError.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	type result struct {
		s   *imapSession
		err error
	}

	ch := make(chan result, 1)
	go func() {
		s, err := connectAndLogin(cfg, logger)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.s, nil
	case <-ctx.Done():
		// Release a connection that completes after the caller gave up.
		go func() {
			if r := <-ch; r.s != nil {
				_ = r.s.Close()
			}
		}()
		return nil, &ConnectError{Addr: cfg.Address(), Err: ctx.Err()}
	}
}

// connectAndLogin establishes the connection using the configured transport
// security and logs in with the configured credentials.
func connectAndLogin(cfg Config, logger *slog.Logger) (*imapSession, error) {
	address := cfg.Address()

	// Prepare TLS configuration to secure the connection
	tlsConfig := &tls.Config{
		ServerName:         cfg.Server, // ensures correct certificate validation
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	// go-imap applies the dialer timeout to the greeting as well
	dialer := &net.Dialer{Timeout: cfg.connectTimeout()}

	logger.Debug("Connecting to IMAP server", "address", address, "security", cfg.Security)

	var (
		c   *client.Client
		err error
	)

	switch strings.ToLower(cfg.Security) {
	case "none":
		c, err = client.DialWithDialer(dialer, address)
	case "starttls":
		c, err = client.DialWithDialer(dialer, address)
		if err == nil {
			if err = c.StartTLS(tlsConfig); err != nil {
				_ = c.Terminate()
			}
		}
	default:
		c, err = client.DialWithDialerTLS(dialer, address, tlsConfig)
	}

	if err != nil {
		return nil, &ConnectError{Addr: address, Err: err}
	}

	// Attempt to log in with the provided credentials
	c.Timeout = cfg.authTimeout()
	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		disconnected := loggedOut(c) || isNetworkError(err)
		_ = c.Terminate()

		if disconnected {
			return nil, &ConnectError{Addr: address, Err: fmt.Errorf("login: %w", err)}
		}
		return nil, &AuthError{Username: cfg.Username, Err: err}
	}
	c.Timeout = 0

	s := &imapSession{
		c:       c,
		idle:    idle.NewClient(c),
		logger:  logger,
		newMail: make(chan struct{}, 1),
	}

	// Unilateral updates are drained continuously so the client never blocks
	// on a full channel, whether or not IDLE is running.
	updates := make(chan client.Update, 16)
	c.Updates = updates
	go s.pumpUpdates(updates)

	logger.Info("IMAP connected", "address", address, "user", cfg.Username)
	return s, nil
}

func (s *imapSession) pumpUpdates(updates <-chan client.Update) {
	for {
		select {
		case <-s.c.LoggedOut():
			return
		case u := <-updates:
			switch u := u.(type) {
			case *client.MailboxUpdate:
				if u.Mailbox == nil {
					continue
				}
				// Mailbox is the client's own status, written by its reader
				// goroutine under a lock we cannot take. Only Messages is read;
				// a second EXISTS landing during this read is a known race.
				s.grow(u.Mailbox.Messages)
			case *client.ExpungeUpdate:
				s.mu.Lock()
				if s.total > 0 {
					s.total--
				}
				s.mu.Unlock()
			}
		}
	}
}

// grow records the folder size reported by EXISTS and announces new mail
// only when the folder got bigger.
func (s *imapSession) grow(total uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grew := total > s.total
	s.total = total
	s.logger.Debug("Mailbox update", "exists", total, "grew", grew)

	if grew {
		select {
		case s.newMail <- struct{}{}:
		default:
		}
	}
}

// Total returns the latest known message count of the selected folder.
func (s *imapSession) Total() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// do runs fn, terminating the connection if ctx ends first. Commands on a
// logged-out client fail immediately.
func (s *imapSession) do(ctx context.Context, op string, fn func() error) error {
	if loggedOut(s.c) {
		return &ProtocolError{Op: op, Err: ErrClosed, Disconnected: true}
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			return s.protocolError(op, err)
		}
		return nil
	case <-ctx.Done():
		_ = s.c.Terminate()
		<-done
		return &ProtocolError{Op: op, Err: ctx.Err(), Disconnected: true}
	}
}

func (s *imapSession) protocolError(op string, err error) error {
	return &ProtocolError{
		Op:           op,
		Err:          err,
		Disconnected: loggedOut(s.c) || isNetworkError(err),
	}
}

// loggedOut reports whether the connection is gone. go-imap only enters
// LogoutState on BYE or LOGOUT; a dropped connection just ends its reader.
func loggedOut(c *client.Client) bool {
	select {
	case <-c.LoggedOut():
		return true
	default:
		return c.State() == imap.LogoutState
	}
}

func (s *imapSession) Select(ctx context.Context, name string, readOnly bool) (*Folder, error) {
	if name == "" {
		name = DefaultFolder
	}

	var status *imap.MailboxStatus
	err := s.do(ctx, "select "+name, func() error {
		var err error
		status, err = s.c.Select(name, readOnly)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.total = status.Messages
	// The EXISTS reply to SELECT is the baseline, not new mail.
	select {
	case <-s.newMail:
	default:
	}
	s.mu.Unlock()

	return &Folder{
		Name:     name,
		Total:    status.Messages,
		UIDNext:  status.UidNext,
		ReadOnly: status.ReadOnly,
	}, nil
}

func (s *imapSession) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error) {
	var uids []uint32
	err := s.do(ctx, "search", func() error {
		var err error
		uids, err = s.c.UidSearch(criteria)
		return err
	})
	return uids, err
}

func (s *imapSession) Fetch(ctx context.Context, uids []uint32) ([]Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	return s.fetch(ctx, seqset, true)
}

func (s *imapSession) FetchRange(ctx context.Context, from, to uint32) ([]Message, error) {
	if from == 0 || to < from {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(from, to)

	return s.fetch(ctx, seqset, false)
}

// fetch retrieves envelope, flags, UID and the whole body. BODY.PEEK keeps
// the server from setting \Seen.
func (s *imapSession) fetch(ctx context.Context, seqset *imap.SeqSet, byUID bool) ([]Message, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		section.FetchItem(),
	}

	var results []Message

	err := s.do(ctx, "fetch", func() error {
		messages := make(chan *imap.Message, 16)
		done := make(chan error, 1)

		go func() {
			if byUID {
				done <- s.c.UidFetch(seqset, items, messages)
			} else {
				done <- s.c.Fetch(seqset, items, messages)
			}
		}()

		for msg := range messages {
			results = append(results, s.toMessage(msg, section))
		}

		return <-done
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

func (s *imapSession) toMessage(msg *imap.Message, section *imap.BodySectionName) Message {
	m := Message{
		SeqNum: msg.SeqNum,
		UID:    msg.Uid,
		Flags:  msg.Flags,
	}

	if env := msg.Envelope; env != nil {
		m.Header = Header{
			Subject:   env.Subject,
			Date:      env.Date,
			MessageID: env.MessageId,
		}
		if len(env.From) > 0 && env.From[0] != nil {
			m.Header.From = formatAddress(env.From[0])
		}
		for _, addr := range env.To {
			if addr != nil {
				m.Header.To = append(m.Header.To, formatAddress(addr))
			}
		}
	}

	if body := msg.GetBody(section); body != nil {
		raw, err := io.ReadAll(body)
		if err != nil {
			s.logger.Warn("Failed to read message body", "uid", msg.Uid, "error", err)
		}
		m.Body = raw
	} else {
		s.logger.Debug("No body found in message", "uid", msg.Uid)
	}

	return m
}

func (s *imapSession) SetFlag(ctx context.Context, uid uint32, flag string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true) // true = silent update
	flags := []any{flag}

	return s.do(ctx, "store "+flag, func() error {
		return s.c.UidStore(seqset, item, flags, nil)
	})
}

func (s *imapSession) Expunge(ctx context.Context) error {
	return s.do(ctx, "expunge", func() error {
		return s.c.Expunge(nil)
	})
}

func (s *imapSession) Append(ctx context.Context, folder string, flags []string, date time.Time, msg []byte) error {
	return s.do(ctx, "append "+folder, func() error {
		return s.c.Append(folder, flags, date, bytes.NewReader(msg))
	})
}

// Idle runs IDLE, or NOOP polling on servers without it, until ctx ends or
// the connection drops.
func (s *imapSession) Idle(ctx context.Context, onNewMail func(total uint32)) error {
	if loggedOut(s.c) {
		return &ProtocolError{Op: "idle", Err: ErrClosed, Disconnected: true}
	}

	stop := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.idle.IdleWithFallback(stop, 0)
	}()

	for {
		select {
		case <-s.newMail:
			onNewMail(s.Total())
		case err := <-done:
			if err == nil {
				err = ErrClosed
			}
			return &ProtocolError{Op: "idle", Err: err, Disconnected: true}
		case <-ctx.Done():
			close(stop)
			if err := <-done; err != nil {
				return s.protocolError("idle", err)
			}
			return nil
		}
	}
}

func (s *imapSession) Close() error {
	if s.c.State() == imap.LogoutState {
		return nil
	}

	s.c.Timeout = logoutTimeout
	if err := s.c.Logout(); err != nil && err != client.ErrAlreadyLoggedOut {
		_ = s.c.Terminate()
		return fmt.Errorf("logout: %w", err)
	}

	s.logger.Info("Logged out from IMAP server")
	return nil
}

// formatAddress renders an address as "Name <user@host>" or just "user@host".
func formatAddress(addr *imap.Address) string {
	email := addr.Address()
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", addr.PersonalName, email)
	}
	return email
}
