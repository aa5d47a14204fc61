// Package notify turns newly detected messages into short text notices and
// broadcasts them to the configured channels.
package notify

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/meko-christian/mail-watcher/internal/session"
)

const dateLayout = "2006-01-02 15:04:05 -0700"

var (
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
)

// FormatNotice renders the notice for one message. The content section is
// omitted when content is empty after normalization.
func FormatNotice(h session.Header, content string) string {
	var b strings.Builder

	b.WriteString("New mail\n")
	fmt.Fprintf(&b, "From: %s\n", valueOr(h.From, "(unknown sender)"))
	fmt.Fprintf(&b, "Subject: %s\n", valueOr(h.Subject, "(no subject)"))
	fmt.Fprintf(&b, "Date: %s", formatDate(h.Date))

	if c := normalizeContent(content); c != "" {
		b.WriteString("\n\nContent:\n")
		b.WriteString(c)
	}

	return b.String()
}

func normalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	s = horizontalSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "(unknown date)"
	}
	return t.Format(dateLayout)
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
