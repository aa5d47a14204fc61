package config

import (
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"slices"
	"strings"

	"github.com/meko-christian/mail-watcher/internal/notify"
)

type validator struct {
	problems []string
}

// Validate returns a human-readable list of configuration problems. An empty
// list means cfg can be used to start watching.
func Validate(cfg *Config) []string {
	v := &validator{problems: make([]string, 0)}

	v.validateIMAP(cfg)
	v.validateWatch(cfg)
	v.validateNotify(cfg)
	v.validateWeb(cfg)

	return v.problems
}

func (v *validator) addError(message string) {
	v.problems = append(v.problems, message)
	slog.Debug("Config validation error", "error", message)
}

func (v *validator) validatePort(label string, port int) {
	if port <= 0 || port > 65535 {
		v.addError(label + " port must be between 1 and 65535")
	}
}

func (v *validator) validateIMAP(cfg *Config) {
	imap := cfg.IMAP

	if imap.Server == "" {
		v.addError("IMAP server is required")
	}

	v.validatePort("IMAP", imap.Port)

	validSecurityTypes := []string{"ssl", "tls", "starttls", "none"}
	if !slices.Contains(validSecurityTypes, strings.ToLower(imap.Security)) {
		v.addError("IMAP security must be one of: ssl, tls, starttls, none")
	}

	if imap.Username == "" {
		v.addError("IMAP username is required")
	}

	if imap.Password == "" {
		v.addError("IMAP password is required")
	}

	if imap.ConnectTimeout < 0 || imap.AuthTimeout < 0 {
		v.addError("IMAP timeouts must not be negative")
	}
}

func (v *validator) validateWatch(cfg *Config) {
	if cfg.Watch.PollInterval <= 0 {
		v.addError("Poll interval must be positive")
	}

	if cfg.Watch.ReconnectDelay <= 0 {
		v.addError("Reconnect delay must be positive")
	}

	if _, err := notify.ParsePostAction(cfg.Watch.PostAction); err != nil {
		v.addError("Post action must be one of: mark_read, delete")
	}
}

func (v *validator) validateNotify(cfg *Config) {
	n := cfg.Notify

	if !n.Console && !n.SMTP.Enabled && !n.MQTT.Enabled && !n.Folder.Enabled {
		v.addError("At least one notification channel (console, smtp, mqtt, folder) must be enabled")
	}

	if n.SMTP.Enabled {
		v.validateSMTP(n.SMTP)
	}

	if n.MQTT.Enabled {
		v.validateMQTT(n.MQTT)
	}

	if n.Folder.Enabled && strings.TrimSpace(n.Folder.Name) == "" {
		v.addError("Notice folder name is required")
	}
}

func (v *validator) validateSMTP(smtp notify.SMTPConfig) {
	if smtp.Server == "" {
		v.addError("SMTP server is required")
	}

	v.validatePort("SMTP", smtp.Port)

	validSecurityTypes := []string{"ssl", "tls", "starttls"}
	if !slices.Contains(validSecurityTypes, strings.ToLower(smtp.Security)) {
		v.addError("SMTP security must be one of: ssl, tls, starttls")
	}

	if len(smtp.Recipients) == 0 {
		v.addError("At least one SMTP recipient is required")
	}

	for _, recipient := range smtp.Recipients {
		if recipient == "" {
			v.addError("Empty recipient found")
			continue
		}

		// Validate email format
		if _, err := mail.ParseAddress(recipient); err != nil {
			v.addError(fmt.Sprintf("Invalid email format in recipient: %s", recipient))
		}
	}
}

func (v *validator) validateMQTT(mqtt notify.MQTTConfig) {
	u, err := url.Parse(mqtt.Broker)
	if mqtt.Broker == "" || err != nil || u.Host == "" {
		v.addError("MQTT broker must be a URL such as mqtt://host:1883")
	}

	if mqtt.Topic == "" {
		v.addError("MQTT topic is required")
	}

	if mqtt.QoS > 2 {
		v.addError("MQTT qos must be 0, 1 or 2")
	}
}

func (v *validator) validateWeb(cfg *Config) {
	if !cfg.Web.Enabled {
		return
	}

	v.validatePort("Web", cfg.Web.Port)

	if cfg.Web.Username == "" || cfg.Web.Password == "" {
		v.addError("Web dashboard username and password are required")
	}
}
