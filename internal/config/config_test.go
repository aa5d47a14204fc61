package config

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

const sampleYAML = `
imap:
  server: imap.example.com
  username: watcher@example.com
  password: secret
  folder: Alerts
watch:
  poll_interval: 30s
  post_action: delete
notify:
  console: false
  smtp:
    enabled: true
    server: smtp.example.com
    port: 587
    security: starttls
    recipients:
      - me@example.com
  mqtt:
    enabled: true
    broker: mqtt://broker.local:1883
    qos: 2
`

func loadYAML(t *testing.T, src string) *Config {
	t.Helper()

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(src)); err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg := loadYAML(t, sampleYAML)

	if cfg.IMAP.Server != "imap.example.com" || cfg.IMAP.Port != 993 || cfg.IMAP.Security != "ssl" {
		t.Errorf("unexpected imap config: %+v", cfg.IMAP)
	}
	if cfg.IMAP.Folder != "Alerts" || cfg.IMAP.ConnectTimeout != 10*time.Second || cfg.IMAP.AuthTimeout != 5*time.Second {
		t.Errorf("unexpected imap folder/timeouts: %+v", cfg.IMAP)
	}
	if cfg.Watch.PollInterval != 30*time.Second || cfg.Watch.ReconnectDelay != 10*time.Second {
		t.Errorf("unexpected watch config: %+v", cfg.Watch)
	}
	if cfg.Watch.PostAction != "delete" {
		t.Errorf("post action = %q", cfg.Watch.PostAction)
	}
	if cfg.Notify.Console {
		t.Error("console should be disabled")
	}
	if !cfg.Notify.SMTP.Enabled || !slices.Equal(cfg.Notify.SMTP.Recipients, []string{"me@example.com"}) {
		t.Errorf("unexpected smtp config: %+v", cfg.Notify.SMTP)
	}
	if cfg.Notify.MQTT.QoS != 2 || cfg.Notify.MQTT.Topic != "mail-watcher/notices" {
		t.Errorf("unexpected mqtt config: %+v", cfg.Notify.MQTT)
	}
	if cfg.Notify.Folder.Enabled || cfg.Notify.Folder.Name != "Notices" {
		t.Errorf("unexpected folder config: %+v", cfg.Notify.Folder)
	}
	if cfg.Web.Enabled || cfg.Web.Address() != "127.0.0.1:8080" {
		t.Errorf("unexpected web config: %+v", cfg.Web)
	}

	if problems := Validate(cfg); len(problems) != 0 {
		t.Errorf("unexpected problems: %v", problems)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MAILWATCH_IMAP_PASSWORD", "from-env")

	cfg := loadYAML(t, sampleYAML)

	if cfg.IMAP.Password != "from-env" {
		t.Errorf("password = %q, want env override", cfg.IMAP.Password)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := loadYAML(t, "imap:\n  port: 0\n  security: plain\nwatch:\n  post_action: archive\nnotify:\n  console: false\n")

	problems := Validate(cfg)

	for _, want := range []string{
		"IMAP server is required",
		"IMAP port must be between 1 and 65535",
		"IMAP security must be one of: ssl, tls, starttls, none",
		"IMAP username is required",
		"IMAP password is required",
		"Post action must be one of: mark_read, delete",
		"At least one notification channel (console, smtp, mqtt, folder) must be enabled",
	} {
		if !slices.Contains(problems, want) {
			t.Errorf("missing problem %q in %v", want, problems)
		}
	}
}

func TestValidate_Channels(t *testing.T) {
	t.Parallel()

	cfg := loadYAML(t, sampleYAML)
	cfg.Notify.SMTP.Recipients = []string{"not an address"}
	cfg.Notify.MQTT.Broker = "broker.local"
	cfg.Web.Enabled = true
	cfg.Notify.Folder.Enabled = true
	cfg.Notify.Folder.Name = " "

	problems := Validate(cfg)

	for _, want := range []string{
		"Invalid email format in recipient: not an address",
		"MQTT broker must be a URL such as mqtt://host:1883",
		"Web dashboard username and password are required",
		"Notice folder name is required",
	} {
		if !slices.Contains(problems, want) {
			t.Errorf("missing problem %q in %v", want, problems)
		}
	}
}

func TestBackup_Create(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(src, []byte("imap: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	b := NewBackup(src, filepath.Join(dir, "backups"))
	b.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

	path, err := b.Create("before init")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got := filepath.Base(path); got != "config_2024-05-01_09-30-00_before_init.yaml" {
		t.Errorf("backup name = %q", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "imap: {}\n" {
		t.Errorf("backup content = %q", data)
	}
}

func TestBackup_MissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b := NewBackup(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "backups"))

	if _, err := b.Create("x"); err == nil || !strings.Contains(err.Error(), "failed to open") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	if got := sanitizeFilename(`a/b:c*d?"e<f>g|h i`); got != "a_b_c_d__e_f_g_h_i" {
		t.Errorf("sanitizeFilename() = %q", got)
	}
	if got := sanitizeFilename(strings.Repeat("x", 80)); len(got) != 50 {
		t.Errorf("length = %d, want 50", len(got))
	}
}
