package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emersion/go-imap"
)

// Mailbox is the post-processing surface handed to notification handlers:
// the two ways a delivered message can be retired on the server.
type Mailbox interface {
	MarkSeen(ctx context.Context, uid uint32) error
	Delete(ctx context.Context, uid uint32) error
}

// NewMailbox exposes MarkSeen and Delete over an open session.
func NewMailbox(s Session, logger *slog.Logger) Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &sessionMailbox{s: s, logger: logger}
}

type sessionMailbox struct {
	s      Session
	logger *slog.Logger
}

func (m *sessionMailbox) MarkSeen(ctx context.Context, uid uint32) error {
	m.logger.Debug("Marking message as seen", "uid", uid)

	if err := m.s.SetFlag(ctx, uid, imap.SeenFlag); err != nil {
		// A folder opened with EXAMINE rejects STORE.
		return fmt.Errorf("failed to mark message %d as \\Seen: %w", uid, err)
	}

	m.logger.Debug("Successfully marked message as seen", "uid", uid)
	return nil
}

func (m *sessionMailbox) Delete(ctx context.Context, uid uint32) error {
	m.logger.Debug("Deleting message", "uid", uid)

	if err := m.s.SetFlag(ctx, uid, imap.DeletedFlag); err != nil {
		return fmt.Errorf("failed to flag message %d as \\Deleted: %w", uid, err)
	}

	if err := m.s.Expunge(ctx); err != nil {
		return fmt.Errorf("failed to expunge message %d: %w", uid, err)
	}

	m.logger.Debug("Successfully deleted message", "uid", uid)
	return nil
}
