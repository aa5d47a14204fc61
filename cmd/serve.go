package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/meko-christian/mail-watcher/internal/config"
	"github.com/meko-christian/mail-watcher/internal/notify"
	"github.com/meko-christian/mail-watcher/internal/session"
	"github.com/meko-christian/mail-watcher/internal/watcher"
	"github.com/meko-christian/mail-watcher/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Continuously watch the mailbox and send a notice for every new mail",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := slog.Default()

		open := session.Dialer(logger)
		client := session.NewClient(open, cfg.IMAP, logger)

		hub, closeChannels, err := buildHub(ctx, cfg, client, logger)
		if err != nil {
			return err
		}
		defer closeChannels()

		action, err := notify.ParsePostAction(cfg.Watch.PostAction)
		if err != nil {
			return err
		}
		dispatcher := notify.NewDispatcher(hub, action, logger)

		w := watcher.New(watcher.Options{
			Open:           open,
			PollInterval:   cfg.Watch.PollInterval,
			ReconnectDelay: cfg.Watch.ReconnectDelay,
			Logger:         logger,
		})

		slog.Info("Starting serve mode (watching mailbox)",
			"folder", cfg.IMAP.FolderName(), "channels", hub.Channels(), "post_action", action)

		if err := w.Start(ctx, cfg.IMAP, dispatcher.Dispatch); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)

		if cfg.Web.Enabled {
			srv, err := web.NewServer(web.Options{
				Bind:     cfg.Web.Bind,
				Port:     cfg.Web.Port,
				Username: cfg.Web.Username,
				Password: cfg.Web.Password,
				Watcher:  w,
				Mailbox:  client,
				Channels: hub.Channels(),
				Logger:   logger,
			})
			if err != nil {
				w.Stop()
				return err
			}
			g.Go(func() error { return srv.Start(gctx) })
		}

		g.Go(func() error {
			<-gctx.Done()
			w.Stop()
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().Bool("web", false, "Also serve the status dashboard")
	serveCmd.Flags().String("web-bind", "127.0.0.1", "Address to bind the dashboard to")
	serveCmd.Flags().Int("web-port", 8080, "Port to bind the dashboard to")

	for key, flag := range map[string]string{
		"web.enabled": "web",
		"web.bind":    "web-bind",
		"web.port":    "web-port",
	} {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(flag)); err != nil {
			slog.Error("Failed to bind flag", "flag", flag, "error", err)
		}
	}
}

// buildHub creates the enabled notification channels. The returned func
// releases them.
func buildHub(ctx context.Context, cfg *config.Config, client *session.Client, logger *slog.Logger) (*notify.Hub, func(), error) {
	var (
		channels []notify.Channel
		closers  []func()
	)

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Notify.Console {
		channels = append(channels, notify.NewConsoleChannel(os.Stdout))
	}

	if cfg.Notify.SMTP.Enabled {
		channels = append(channels, notify.NewSMTPChannel(cfg.Notify.SMTP, logger.With("channel", "smtp")))
	}

	if cfg.Notify.Folder.Enabled {
		channels = append(channels, notify.NewFolderChannel(cfg.Notify.Folder, client, cfg.IMAP.Username))
	}

	if cfg.Notify.MQTT.Enabled {
		mq := notify.NewMQTTChannel(cfg.Notify.MQTT, logger.With("channel", "mqtt"))
		if err := mq.Connect(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}

		closers = append(closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mq.Close(closeCtx); err != nil {
				logger.Warn("Failed to disconnect from mqtt broker", "error", err)
			}
		})
		channels = append(channels, mq)
	}

	return notify.NewHub(logger, channels...), closeAll, nil
}
