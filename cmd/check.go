package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/meko-christian/mail-watcher/internal/session"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the IMAP connection and optionally send a test notice",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		logger := slog.Default()
		client := session.NewClient(session.Dialer(logger), cfg.IMAP, logger)

		if err := client.TestConnection(ctx); err != nil {
			fmt.Printf("Check failed: %v\n", err)
			return err
		}
		fmt.Printf("Connected to %s as %s, folder %s is readable.\n",
			cfg.IMAP.Address(), cfg.IMAP.Username, cfg.IMAP.FolderName())

		if notifyTest, _ := cmd.Flags().GetBool("notify"); !notifyTest {
			return nil
		}

		hub, closeChannels, err := buildHub(ctx, cfg, client, logger)
		if err != nil {
			return err
		}
		defer closeChannels()

		if err := hub.Broadcast(ctx, "mail-watcher test notice\nChannels are working."); err != nil {
			fmt.Printf("Test notice failed: %v\n", err)
			return err
		}
		fmt.Printf("Test notice sent via %v.\n", hub.Channels())

		return nil
	},
}

func init() {
	checkCmd.Flags().Bool("notify", false, "Also broadcast a test notice to every enabled channel")
	checkCmd.Flags().Duration("timeout", time.Minute, "Overall timeout for the check")
}
