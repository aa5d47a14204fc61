package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meko-christian/mail-watcher/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively generate a config.yaml file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile := configPath()
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(configFile); err == nil {
			if !force {
				fmt.Printf("%s already exists. Use --force to overwrite.\n", configFile)
				return nil
			}

			backupPath, err := config.NewBackup(configFile, "").Create("before_init")
			if err != nil {
				return fmt.Errorf("refusing to overwrite %s without a backup: %w", configFile, err)
			}
			fmt.Printf("Existing configuration saved to %s\n", backupPath)
		}

		reader := bufio.NewReader(os.Stdin)

		fmt.Println("Let's set up your config.yaml!")

		fmt.Println("\n--- IMAP ---")
		imapServer := prompt(reader, "IMAP server (e.g. imap.strato.de): ")
		imapPort := promptDefault(reader, "IMAP port", "993")
		imapSecurity := promptDefault(reader, "IMAP security (ssl/starttls/none)", "ssl")
		imapUser := prompt(reader, "IMAP username: ")
		imapPass := prompt(reader, "IMAP password: ")
		imapFolder := promptDefault(reader, "Folder to watch", "INBOX")

		fmt.Println("\n--- WATCH ---")
		postAction := promptDefault(reader, "After notifying (mark_read/delete)", "mark_read")

		fmt.Println("\n--- NOTIFY (SMTP, leave server empty to skip) ---")
		smtpServer := prompt(reader, "SMTP server (e.g. smtp.strato.de): ")
		var smtpSection string
		if smtpServer != "" {
			smtpPort := promptDefault(reader, "SMTP port", "465")
			smtpSecurity := promptDefault(reader, "SMTP security (ssl/starttls)", "ssl")
			smtpUser := prompt(reader, "SMTP username: ")
			smtpPass := prompt(reader, "SMTP password: ")
			recipients := promptMulti(reader, "Notice recipient email(s) (comma-separated): ")

			smtpSection = fmt.Sprintf(`  smtp:
    enabled: true
    server: %s
    port: %s
    security: %s
    username: %s
    password: %s
    recipients:
%s
`, smtpServer, smtpPort, smtpSecurity, smtpUser, yamlQuote(smtpPass), yamlList("      - ", recipients))
		}

		content := fmt.Sprintf(`imap:
  server: %s
  port: %s
  security: %s
  username: %s
  password: %s
  folder: %s

watch:
  poll_interval: 10s
  reconnect_delay: 10s
  post_action: %s

notify:
  console: true
%s`, imapServer, imapPort, imapSecurity, imapUser, yamlQuote(imapPass), yamlQuote(imapFolder),
			postAction, smtpSection)

		if err := os.WriteFile(configFile, []byte(content), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", configFile, err)
		}

		fmt.Printf("\n✅ %s created successfully.\n", configFile)
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file after backing it up")
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	text, _ := r.ReadString('\n')
	return strings.TrimSpace(text)
}

func promptDefault(r *bufio.Reader, label, def string) string {
	if v := prompt(r, fmt.Sprintf("%s [%s]: ", label, def)); v != "" {
		return v
	}
	return def
}

func promptMulti(r *bufio.Reader, label string) []string {
	raw := prompt(r, label)
	parts := strings.Split(raw, ",")
	var cleaned []string
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

func yamlList(prefix string, values []string) string {
	var lines []string
	for _, v := range values {
		lines = append(lines, fmt.Sprintf("%s%s", prefix, v))
	}
	return strings.Join(lines, "\n")
}

// yamlQuote single-quotes s so passwords and folder names survive YAML.
func yamlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
