package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meko-christian/mail-watcher/internal/content"
	"github.com/meko-christian/mail-watcher/internal/session"
)

// PostAction is what happens to a message on the server once its notice was
// delivered.
type PostAction string

const (
	PostActionMarkRead PostAction = "mark_read"
	PostActionDelete   PostAction = "delete"
)

// ParsePostAction accepts "mark_read" (or "", the default) and "delete".
func ParsePostAction(s string) (PostAction, error) {
	switch PostAction(strings.ToLower(strings.TrimSpace(s))) {
	case "", PostActionMarkRead:
		return PostActionMarkRead, nil
	case PostActionDelete:
		return PostActionDelete, nil
	default:
		return "", fmt.Errorf("unknown post action %q (want mark_read or delete)", s)
	}
}

// Broadcaster delivers a notice to every active channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) error
}

// Dispatcher formats and broadcasts notices for batches of new messages.
type Dispatcher struct {
	out    Broadcaster
	action PostAction
	logger *slog.Logger
}

func NewDispatcher(out Broadcaster, action PostAction, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if action == "" {
		action = PostActionMarkRead
	}
	return &Dispatcher{out: out, action: action, logger: logger}
}

// Dispatch sends one notice per message, in batch order. A message whose
// notice was delivered is retired with the post action; a message whose
// notice failed is left untouched on the server. The returned error only
// summarizes failed deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []session.Message, mbox session.Mailbox) error {
	failed := 0

	for _, msg := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger := d.logger.With("uid", msg.UID)

		if err := d.out.Broadcast(ctx, d.Notice(msg)); err != nil {
			logger.Error("Failed to deliver notice, leaving message unread", "error", err)
			failed++
			continue
		}

		logger.Info("Notice delivered", "from", msg.Header.From, "subject", msg.Header.Subject)

		if err := d.retire(ctx, mbox, msg.UID); err != nil {
			logger.Error("Post action failed", "action", d.action, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d notices could not be delivered", failed, len(batch))
	}
	return nil
}

// Notice builds the notice text for msg. Unparseable bodies degrade to a
// notice without content.
func (d *Dispatcher) Notice(msg session.Message) string {
	parsed, err := content.Parse(msg.Body)
	if err != nil {
		d.logger.Warn("Failed to parse message body", "uid", msg.UID, "error", err)
	}

	text := parsed.Text
	if strings.TrimSpace(text) == "" && parsed.HTML != "" {
		text = content.HTMLToText(parsed.HTML)
	}

	h := msg.Header
	if h.Subject == "" {
		h.Subject = parsed.Subject
	}

	return FormatNotice(h, content.Clean(text))
}

func (d *Dispatcher) retire(ctx context.Context, mbox session.Mailbox, uid uint32) error {
	switch d.action {
	case PostActionDelete:
		return mbox.Delete(ctx, uid)
	default:
		return mbox.MarkSeen(ctx, uid)
	}
}
