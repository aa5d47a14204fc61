// Package session owns a single IMAP connection to one mailbox folder and
// exposes the handful of operations the watcher and the listing commands need.
package session

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
)

const (
	DefaultFolder         = "INBOX"
	DefaultConnectTimeout = 10 * time.Second
	DefaultAuthTimeout    = 5 * time.Second
)

// Config describes how to reach and log in to the mailbox. It is treated as
// immutable once a session has been opened with it.
type Config struct {
	Server             string        `mapstructure:"server"`
	Port               int           `mapstructure:"port"`
	Security           string        `mapstructure:"security"` // ssl, tls, starttls or none
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	Folder             string        `mapstructure:"folder"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	AuthTimeout        time.Duration `mapstructure:"auth_timeout"`
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// FolderName returns the configured folder or INBOX.
func (c Config) FolderName() string {
	if c.Folder == "" {
		return DefaultFolder
	}
	return c.Folder
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

func (c Config) authTimeout() time.Duration {
	if c.AuthTimeout <= 0 {
		return DefaultAuthTimeout
	}
	return c.AuthTimeout
}

// Folder is the state of a selected mailbox.
type Folder struct {
	Name     string
	Total    uint32
	UIDNext  uint32
	ReadOnly bool
}

// Header holds the envelope fields of a message.
type Header struct {
	From      string
	To        []string
	Subject   string
	Date      time.Time
	MessageID string
}

// Message is one fetched message. Body is the raw RFC 5322 text.
type Message struct {
	SeqNum uint32
	UID    uint32
	Flags  []string
	Header Header
	Body   []byte
}

// Session is a live, logged-in connection. Implementations are not safe for
// concurrent use; one owner issues commands one at a time. Idle is the only
// long-running call and must be cancelled through its context before any
// other command is issued.
type Session interface {
	// Select opens a folder. readOnly maps to EXAMINE.
	Select(ctx context.Context, name string, readOnly bool) (*Folder, error)
	// Search returns the UIDs matching criteria in the selected folder.
	Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error)
	// Fetch returns headers and full bodies for uids without setting \Seen.
	Fetch(ctx context.Context, uids []uint32) ([]Message, error)
	// FetchRange is Fetch addressed by sequence numbers from..to inclusive.
	FetchRange(ctx context.Context, from, to uint32) ([]Message, error)
	// SetFlag adds flag to the message with the given UID.
	SetFlag(ctx context.Context, uid uint32, flag string) error
	// Expunge permanently removes messages flagged \Deleted.
	Expunge(ctx context.Context) error
	// Append stores a raw RFC 5322 message in folder.
	Append(ctx context.Context, folder string, flags []string, date time.Time, msg []byte) error
	// Idle blocks listening for server pushes and calls onNewMail with the
	// folder's message count whenever new mail is announced. It returns nil
	// when ctx is cancelled and an error when the session ends.
	Idle(ctx context.Context, onNewMail func(total uint32)) error
	// Total returns the latest known message count of the selected folder.
	Total() uint32
	// Close logs out and releases the connection.
	Close() error
}

// Opener opens a new Session for cfg.
type Opener func(ctx context.Context, cfg Config) (Session, error)
