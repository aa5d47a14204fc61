package notify

import (
	"testing"
	"time"

	"github.com/meko-christian/mail-watcher/internal/session"
)

func TestFormatNotice(t *testing.T) {
	t.Parallel()

	h := session.Header{
		From:    "Alice <alice@example.com>",
		Subject: "Login code",
		Date:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "with content",
			content: "Your code is 123456",
			want: "New mail\nFrom: Alice <alice@example.com>\nSubject: Login code\n" +
				"Date: 2024-05-01 12:00:00 +0000\n\nContent:\nYour code is 123456",
		},
		{
			name:    "content whitespace is normalized",
			content: "  Line  one\t\tend\r\n\n\n\n\nLine two  ",
			want: "New mail\nFrom: Alice <alice@example.com>\nSubject: Login code\n" +
				"Date: 2024-05-01 12:00:00 +0000\n\nContent:\nLine one end\n\nLine two",
		},
		{
			name:    "empty content omits section",
			content: " \n\t\n",
			want: "New mail\nFrom: Alice <alice@example.com>\nSubject: Login code\n" +
				"Date: 2024-05-01 12:00:00 +0000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := FormatNotice(h, tt.content); got != tt.want {
				t.Errorf("FormatNotice() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatNotice_MissingHeaders(t *testing.T) {
	t.Parallel()

	got := FormatNotice(session.Header{}, "")
	want := "New mail\nFrom: (unknown sender)\nSubject: (no subject)\nDate: (unknown date)"

	if got != want {
		t.Errorf("FormatNotice() = %q, want %q", got, want)
	}
}
