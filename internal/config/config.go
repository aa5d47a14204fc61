// Package config loads the watcher configuration from config.yaml and the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/meko-christian/mail-watcher/internal/notify"
	"github.com/meko-christian/mail-watcher/internal/session"
	"github.com/meko-christian/mail-watcher/internal/watcher"
)

// EnvPrefix prefixes environment overrides, e.g. MAILWATCH_IMAP_PASSWORD.
const EnvPrefix = "MAILWATCH"

const DefaultFile = "config.yaml"

type Config struct {
	IMAP   session.Config `mapstructure:"imap"`
	Watch  WatchConfig    `mapstructure:"watch"`
	Notify NotifyConfig   `mapstructure:"notify"`
	Web    WebConfig      `mapstructure:"web"`
}

type WatchConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PostAction     string        `mapstructure:"post_action"`
}

type NotifyConfig struct {
	Console bool                `mapstructure:"console"`
	SMTP    notify.SMTPConfig   `mapstructure:"smtp"`
	MQTT    notify.MQTTConfig   `mapstructure:"mqtt"`
	Folder  notify.FolderConfig `mapstructure:"folder"`
}

type WebConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Bind     string `mapstructure:"bind"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Address returns the listen address of the dashboard.
func (w WebConfig) Address() string {
	return fmt.Sprintf("%s:%d", w.Bind, w.Port)
}

// SetDefaults registers every key with its default so that environment
// overrides are picked up by Unmarshal even when config.yaml omits the key.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("imap.server", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.security", "ssl")
	v.SetDefault("imap.insecure_skip_verify", false)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.folder", session.DefaultFolder)
	v.SetDefault("imap.connect_timeout", session.DefaultConnectTimeout)
	v.SetDefault("imap.auth_timeout", session.DefaultAuthTimeout)

	v.SetDefault("watch.poll_interval", watcher.DefaultPollInterval)
	v.SetDefault("watch.reconnect_delay", watcher.DefaultReconnectDelay)
	v.SetDefault("watch.post_action", string(notify.PostActionMarkRead))

	v.SetDefault("notify.console", true)
	v.SetDefault("notify.smtp.enabled", false)
	v.SetDefault("notify.smtp.server", "")
	v.SetDefault("notify.smtp.port", 465)
	v.SetDefault("notify.smtp.security", "ssl")
	v.SetDefault("notify.smtp.insecure_skip_verify", false)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("notify.smtp.recipients", []string{})
	v.SetDefault("notify.smtp.subject", "")
	v.SetDefault("notify.mqtt.enabled", false)
	v.SetDefault("notify.mqtt.broker", "")
	v.SetDefault("notify.mqtt.topic", "mail-watcher/notices")
	v.SetDefault("notify.mqtt.client_id", "mail-watcher")
	v.SetDefault("notify.mqtt.username", "")
	v.SetDefault("notify.mqtt.password", "")
	v.SetDefault("notify.mqtt.qos", 1)
	v.SetDefault("notify.mqtt.retain", false)
	v.SetDefault("notify.folder.enabled", false)
	v.SetDefault("notify.folder.name", "Notices")

	v.SetDefault("web.enabled", false)
	v.SetDefault("web.bind", "127.0.0.1")
	v.SetDefault("web.port", 8080)
	v.SetDefault("web.username", "admin")
	v.SetDefault("web.password", "")
}

// Load decodes the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}
