package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// ConsoleChannel prints notices to a writer, usually stdout.
type ConsoleChannel struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleChannel(w io.Writer) *ConsoleChannel {
	return &ConsoleChannel{w: w}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintf(c.w, "%s\n\n", text)
	return err
}
