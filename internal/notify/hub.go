package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ErrNoChannels is wrapped by the DispatchError of a hub without channels.
var ErrNoChannels = errors.New("no notification channels configured")

// Channel is one notification destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// DispatchError reports that no channel accepted a notice.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("notice not delivered: %v", e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Hub fans a notice out to all of its channels concurrently.
type Hub struct {
	channels []Channel
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger, channels ...Channel) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{channels: channels, logger: logger}
}

// Channels returns the channel names in registration order.
func (h *Hub) Channels() []string {
	names := make([]string, 0, len(h.channels))
	for _, ch := range h.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Broadcast sends text to every channel and waits for all of them. It fails
// with *DispatchError only when every channel failed.
func (h *Hub) Broadcast(ctx context.Context, text string) error {
	if len(h.channels) == 0 {
		return &DispatchError{Err: ErrNoChannels}
	}

	errs := make([]error, len(h.channels))

	var g errgroup.Group
	for i, ch := range h.channels {
		g.Go(func() error {
			if err := ch.Send(ctx, text); err != nil {
				h.logger.Warn("Notification channel failed", "channel", ch.Name(), "error", err)
				errs[i] = fmt.Errorf("%s: %w", ch.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err == nil {
			return nil
		}
	}

	return &DispatchError{Err: errors.Join(errs...)}
}
