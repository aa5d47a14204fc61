// Package sessiontest provides an in-memory mailbox implementing
// session.Session for tests.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/emersion/go-imap"

	"github.com/meko-christian/mail-watcher/internal/session"
)

// ErrRejected is returned by Search for unfiltered criteria when
// RejectUnfiltered is set.
var ErrRejected = errors.New("BAD search criteria required")

// Mailbox is a single in-memory folder shared by every session opened
// through its Opener.
type Mailbox struct {
	mu       sync.Mutex
	messages []*stored
	nextUID  uint32
	live     []*Session
	opens    int
	fetched  map[uint32]int
	appended map[string][][]byte

	openErr          error
	searchErr        error
	rejectUnfiltered bool
	noPush           bool
}

type stored struct {
	uid    uint32
	flags  []string
	header session.Header
	body   []byte
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{nextUID: 1, fetched: make(map[uint32]int), appended: make(map[string][][]byte)}
}

// Deliver appends a message and announces it to idling sessions. It returns
// the new UID.
func (m *Mailbox) Deliver(from, subject, body string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	uid := m.nextUID
	m.nextUID++

	raw := fmt.Sprintf("From: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s", from, subject, body)
	m.messages = append(m.messages, &stored{
		uid: uid,
		header: session.Header{
			From:      from,
			Subject:   subject,
			Date:      time.Date(2024, 5, 1, 12, 0, int(uid), 0, time.UTC),
			MessageID: fmt.Sprintf("<%d@sessiontest>", uid),
		},
		body: []byte(raw),
	})

	if !m.noPush {
		for _, s := range m.live {
			select {
			case s.newMail <- struct{}{}:
			default:
			}
		}
	}

	return uid
}

// Opener returns a session.Opener bound to this mailbox.
func (m *Mailbox) Opener() session.Opener {
	return func(ctx context.Context, cfg session.Config) (session.Session, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.opens++
		if m.openErr != nil {
			return nil, m.openErr
		}

		s := &Session{mb: m, newMail: make(chan struct{}, 1), dead: make(chan struct{})}
		m.live = append(m.live, s)
		return s, nil
	}
}

// SetOpenError makes subsequent opens fail with err (nil to succeed again).
func (m *Mailbox) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetSearchError makes Search fail with err (nil to succeed again).
func (m *Mailbox) SetSearchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchErr = err
}

// RejectUnfiltered makes Search fail for criteria without any key.
func (m *Mailbox) RejectUnfiltered(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectUnfiltered = reject
}

// DisablePush stops Deliver from announcing mail to idling sessions, like a
// server without IDLE.
func (m *Mailbox) DisablePush(disable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noPush = disable
}

// Drop kills every live session as if the server closed the connection.
func (m *Mailbox) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.live {
		s.kill()
	}
	m.live = nil
}

// Opens returns how many sessions have been requested.
func (m *Mailbox) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Live returns the number of open sessions.
func (m *Mailbox) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// FetchCount returns how many times uid was fetched.
func (m *Mailbox) FetchCount(uid uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetched[uid]
}

// Flags returns the flags of uid, or nil if it no longer exists.
func (m *Mailbox) Flags(uid uint32) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.uid == uid {
			return slices.Clone(msg.flags)
		}
	}
	return nil
}

// Exists reports whether uid is still in the folder.
func (m *Mailbox) Exists(uid uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.uid == uid {
			return true
		}
	}
	return false
}

// Appended returns the raw messages appended to folder.
func (m *Mailbox) Appended(folder string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.appended[folder])
}

func (m *Mailbox) remove(s *Session) {
	m.live = slices.DeleteFunc(m.live, func(o *Session) bool { return o == s })
}

// Session is one connection to a Mailbox.
type Session struct {
	mb      *Mailbox
	newMail chan struct{}
	dead    chan struct{}
	closed  bool
}

func (s *Session) kill() {
	if !s.closed {
		s.closed = true
		close(s.dead)
	}
}

func (s *Session) check(op string) error {
	if s.closed {
		return &session.ProtocolError{Op: op, Err: session.ErrClosed, Disconnected: true}
	}
	return nil
}

func (s *Session) Select(_ context.Context, name string, readOnly bool) (*session.Folder, error) {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()

	if err := s.check("select"); err != nil {
		return nil, err
	}

	return &session.Folder{
		Name:     name,
		Total:    uint32(len(s.mb.messages)),
		UIDNext:  s.mb.nextUID,
		ReadOnly: readOnly,
	}, nil
}

func (s *Session) Search(_ context.Context, criteria *imap.SearchCriteria) ([]uint32, error) {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()

	if err := s.check("search"); err != nil {
		return nil, err
	}
	if s.mb.searchErr != nil {
		return nil, &session.ProtocolError{Op: "search", Err: s.mb.searchErr}
	}

	unfiltered := len(criteria.WithFlags) == 0 && len(criteria.WithoutFlags) == 0
	if unfiltered && s.mb.rejectUnfiltered {
		return nil, &session.ProtocolError{Op: "search", Err: ErrRejected}
	}

	var uids []uint32
	for _, msg := range s.mb.messages {
		if matches(msg, criteria) {
			uids = append(uids, msg.uid)
		}
	}
	return uids, nil
}

func matches(msg *stored, criteria *imap.SearchCriteria) bool {
	for _, f := range criteria.WithFlags {
		if f == imap.RecentFlag {
			// Every message delivered to the fake counts as recent.
			continue
		}
		if !slices.Contains(msg.flags, f) {
			return false
		}
	}
	for _, f := range criteria.WithoutFlags {
		if slices.Contains(msg.flags, f) {
			return false
		}
	}
	return true
}

func (s *Session) Fetch(_ context.Context, uids []uint32) ([]session.Message, error) {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()

	if err := s.check("fetch"); err != nil {
		return nil, err
	}

	var out []session.Message
	for i, msg := range s.mb.messages {
		if slices.Contains(uids, msg.uid) {
			s.mb.fetched[msg.uid]++
			out = append(out, toMessage(i, msg))
		}
	}
	return out, nil
}

func (s *Session) FetchRange(_ context.Context, from, to uint32) ([]session.Message, error) {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()

	if err := s.check("fetch"); err != nil {
		return nil, err
	}

	var out []session.Message
	for i, msg := range s.mb.messages {
		seq := uint32(i + 1)
		if seq >= from && seq <= to {
			s.mb.fetched[msg.uid]++
			out = append(out, toMessage(i, msg))
		}
	}
	return out, nil
}

func toMessage(i int, msg *stored) session.Message {
	return session.Message{
		SeqNum: uint32(i + 1),
		UID:    msg.uid,
		Flags:  slices.Clone(msg.flags),
		Header: msg.header,
		Body:   slices.Clone(msg.body),
	}
}

func (s *Session) SetFlag(_ context.Context, uid uint32, flag string) error {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()

	if err := s.check("store"); err != nil {
		return err
	}

	for _, msg := range s.mb.messages {
		if msg.uid == uid && !slices.Contains(msg.flags, flag) {
			msg.flags = append(msg.flags, flag)
		}
	}
	return nil
}

func (s *Session) Expunge(_ context.Context) error {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()

	if err := s.check("expunge"); err != nil {
		return err
	}

	s.mb.messages = slices.DeleteFunc(s.mb.messages, func(msg *stored) bool {
		return slices.Contains(msg.flags, imap.DeletedFlag)
	})
	return nil
}

func (s *Session) Append(_ context.Context, folder string, _ []string, _ time.Time, msg []byte) error {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()

	if err := s.check("append"); err != nil {
		return err
	}

	s.mb.appended[folder] = append(s.mb.appended[folder], slices.Clone(msg))
	return nil
}

func (s *Session) Idle(ctx context.Context, onNewMail func(total uint32)) error {
	s.mb.mu.Lock()
	err := s.check("idle")
	s.mb.mu.Unlock()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.dead:
			return &session.ProtocolError{Op: "idle", Err: session.ErrClosed, Disconnected: true}
		case <-s.newMail:
			s.mb.mu.Lock()
			total := uint32(len(s.mb.messages))
			s.mb.mu.Unlock()
			onNewMail(total)
		}
	}
}

func (s *Session) Total() uint32 {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()
	return uint32(len(s.mb.messages))
}

func (s *Session) Close() error {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()

	s.kill()
	s.mb.remove(s)
	return nil
}
