package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/emersion/go-imap"
	"github.com/spf13/cobra"

	"github.com/meko-christian/mail-watcher/internal/session"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest messages of a folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		folder, _ := cmd.Flags().GetString("folder")
		rawFilter, _ := cmd.Flags().GetString("filter")
		limit, _ := cmd.Flags().GetInt("limit")

		filter, err := session.ParseFilter(rawFilter)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		logger := slog.Default()
		client := session.NewClient(session.Dialer(logger), cfg.IMAP, logger)

		messages, err := client.ListMessages(ctx, folder, filter, limit)
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "UID\tDATE\tSEEN\tFROM\tSUBJECT")
		for _, m := range messages {
			seen := "no"
			if slices.Contains(m.Flags, imap.SeenFlag) {
				seen = "yes"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				m.UID, m.Header.Date.Format("2006-01-02 15:04"), seen, m.Header.From, m.Header.Subject)
		}
		return tw.Flush()
	},
}

func init() {
	listCmd.Flags().String("folder", "", "Folder to list (default: the configured folder)")
	listCmd.Flags().String("filter", "all", "Which messages to list: all, unread or recent")
	listCmd.Flags().Int("limit", session.DefaultListLimit, "Maximum number of messages")
}
