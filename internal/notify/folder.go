package notify

import (
	"bytes"
	"context"
	"fmt"
	"time"

	gomail "gopkg.in/gomail.v2"
)

const defaultNoticeFolder = "Notices"

// FolderConfig configures the channel that files notices into a mailbox
// folder of the watched account.
type FolderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Name    string `mapstructure:"name"`
}

// MessageSaver appends a raw message to a folder.
type MessageSaver interface {
	SaveMessage(ctx context.Context, folder string, raw []byte) error
}

// FolderChannel stores every notice as a message in one folder, so it is
// visible in any mail client connected to the account.
type FolderChannel struct {
	saver   MessageSaver
	folder  string
	address string
}

// NewFolderChannel files notices through saver. address is used as sender and
// recipient of the stored messages.
func NewFolderChannel(cfg FolderConfig, saver MessageSaver, address string) *FolderChannel {
	folder := cfg.Name
	if folder == "" {
		folder = defaultNoticeFolder
	}
	return &FolderChannel{saver: saver, folder: folder, address: address}
}

func (c *FolderChannel) Name() string { return "folder" }

func (c *FolderChannel) Send(ctx context.Context, text string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", c.address)
	msg.SetHeader("To", c.address)
	msg.SetHeader("Subject", defaultSMTPSubject)
	msg.SetDateHeader("Date", time.Now())
	msg.SetBody("text/plain", text)

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to render notice: %w", err)
	}

	return c.saver.SaveMessage(ctx, c.folder, buf.Bytes())
}
