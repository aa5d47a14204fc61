package session

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
)

// SaveMessage appends raw to folder as an already seen message, using a
// short-lived session that is always closed.
func (c *Client) SaveMessage(ctx context.Context, folder string, raw []byte) error {
	s, err := c.open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer c.release(s)

	flags := []string{imap.SeenFlag}
	if err := s.Append(ctx, folder, flags, time.Now(), raw); err != nil {
		return fmt.Errorf("failed to append to %s folder: %w", folder, err)
	}

	c.logger.Debug("Message saved", "folder", folder, "bytes", len(raw))
	return nil
}
