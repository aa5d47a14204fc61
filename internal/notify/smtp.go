package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gomail "gopkg.in/gomail.v2"
)

const defaultSMTPSubject = "[mail-watcher] New mail"

// SMTPConfig configures the e-mail notification channel.
type SMTPConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Server             string   `mapstructure:"server"`
	Port               int      `mapstructure:"port"`
	Security           string   `mapstructure:"security"` // ssl or starttls
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	Username           string   `mapstructure:"username"`
	Password           string   `mapstructure:"password"`
	From               string   `mapstructure:"from"`
	Recipients         []string `mapstructure:"recipients"`
	Subject            string   `mapstructure:"subject"`
}

// SMTPChannel mails each notice to a fixed recipient list.
type SMTPChannel struct {
	cfg    SMTPConfig
	logger *slog.Logger
	send   func(*gomail.Message) error
}

func NewSMTPChannel(cfg SMTPConfig, logger *slog.Logger) *SMTPChannel {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := gomail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password)

	// Enable secure transport if configured
	if strings.EqualFold(cfg.Security, "ssl") {
		dialer.SSL = true
	} else {
		dialer.TLSConfig = &tls.Config{
			ServerName:         cfg.Server,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
	}

	return &SMTPChannel{
		cfg:    cfg,
		logger: logger,
		send: func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		},
	}
}

func (c *SMTPChannel) Name() string { return "smtp" }

func (c *SMTPChannel) Send(ctx context.Context, text string) error {
	if len(c.cfg.Recipients) == 0 {
		return errors.New("no smtp recipients configured")
	}

	from := c.cfg.From
	if from == "" {
		from = c.cfg.Username
	}
	subject := c.cfg.Subject
	if subject == "" {
		subject = defaultSMTPSubject
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", c.cfg.Recipients...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", text)

	// gomail has no context support; the send is abandoned, not aborted.
	done := make(chan error, 1)
	go func() { done <- c.send(msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send mail: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Debug("Notice mailed", "recipients", len(c.cfg.Recipients))
	return nil
}
