package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
)

// DefaultListLimit is used when ListMessages is called without a limit.
const DefaultListLimit = 20

// Filter selects which messages ListMessages returns.
type Filter string

const (
	FilterAll    Filter = "all"
	FilterUnread Filter = "unread"
	FilterRecent Filter = "recent"
)

// ParseFilter maps a user supplied name to a Filter. Empty means all.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterUnread, FilterRecent:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q (valid: all, unread, recent)", s)
	}
}

// Criteria returns the search criteria for f. FilterAll yields an empty
// criteria set, which some servers reject.
func (f Filter) Criteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()

	switch f {
	case FilterUnread:
		criteria.WithoutFlags = []string{imap.SeenFlag}
	case FilterRecent:
		criteria.WithFlags = []string{imap.RecentFlag}
	}

	return criteria
}

// UnseenCriteria matches messages without \Seen.
func UnseenCriteria() *imap.SearchCriteria {
	return FilterUnread.Criteria()
}

// Client runs one-off, read-only operations. Each call opens its own
// short-lived session and always closes it, independent of any watcher.
type Client struct {
	open   Opener
	cfg    Config
	logger *slog.Logger
}

// NewClient returns a Client that opens sessions for cfg with open.
func NewClient(open Opener, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{open: open, cfg: cfg, logger: logger}
}

// TestConnection connects, logs in and examines the configured folder.
func (c *Client) TestConnection(ctx context.Context) error {
	s, err := c.open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer c.release(s)

	folder, err := s.Select(ctx, c.cfg.FolderName(), true)
	if err != nil {
		return err
	}

	c.logger.Info("Connection test succeeded", "folder", folder.Name, "total", folder.Total)
	return nil
}

// ListMessages returns up to limit messages of folder matching filter,
// newest first. If the server rejects the unfiltered search used for
// FilterAll, the newest messages are fetched by sequence range instead.
func (c *Client) ListMessages(ctx context.Context, folder string, filter Filter, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if folder == "" {
		folder = c.cfg.FolderName()
	}

	s, err := c.open(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	defer c.release(s)

	info, err := s.Select(ctx, folder, true)
	if err != nil {
		return nil, err
	}

	if info.Total == 0 {
		return nil, nil
	}

	var messages []Message

	uids, err := s.Search(ctx, filter.Criteria())
	switch {
	case err != nil && filter == FilterAll && !IsDisconnect(err):
		c.logger.Warn("Unfiltered search rejected, falling back to sequence range",
			"folder", folder, "error", err)

		from := uint32(1)
		if info.Total > uint32(limit) {
			from = info.Total - uint32(limit) + 1
		}

		messages, err = s.FetchRange(ctx, from, info.Total)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if len(uids) == 0 {
			return nil, nil
		}

		// Highest UIDs are the newest messages.
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		if len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}

		messages, err = s.Fetch(ctx, uids)
		if err != nil {
			return nil, err
		}
	}

	SortNewestFirst(messages)
	if len(messages) > limit {
		messages = messages[:limit]
	}

	return messages, nil
}

func (c *Client) release(s Session) {
	if err := s.Close(); err != nil {
		c.logger.Warn("Failed to close session", "error", err)
	}
}

// SortNewestFirst orders messages by descending sequence number.
func SortNewestFirst(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SeqNum > messages[j].SeqNum
	})
}
