package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meko-christian/mail-watcher/internal/content"
	"github.com/meko-christian/mail-watcher/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	sent  []string
	failN map[int]bool // zero-based call numbers that fail
	calls int
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.calls
	b.calls++
	if b.failN[n] {
		return &DispatchError{Err: errors.New("broker down")}
	}
	b.sent = append(b.sent, text)
	return nil
}

type fakeMailbox struct {
	seen, deleted []uint32
	err           error
}

func (m *fakeMailbox) MarkSeen(_ context.Context, uid uint32) error {
	if m.err != nil {
		return m.err
	}
	m.seen = append(m.seen, uid)
	return nil
}

func (m *fakeMailbox) Delete(_ context.Context, uid uint32) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, uid)
	return nil
}

func testMessage(uid uint32, subject, body string) session.Message {
	return session.Message{
		UID: uid,
		Header: session.Header{
			From:    "sender@example.com",
			Subject: subject,
			Date:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		Body: []byte("Subject: " + subject + "\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n" + body),
	}
}

func TestParsePostAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    PostAction
		wantErr bool
	}{
		{"", PostActionMarkRead, false},
		{"mark_read", PostActionMarkRead, false},
		{"DELETE", PostActionDelete, false},
		{"archive", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePostAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePostAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePostAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDispatch_MarksDeliveredMessagesRead(t *testing.T) {
	t.Parallel()

	out := &fakeBroadcaster{}
	mbox := &fakeMailbox{}
	d := NewDispatcher(out, PostActionMarkRead, discardLogger())

	batch := []session.Message{
		testMessage(7, "Code", "Hi,\r\nYour code is 123456\r\n--\r\nJohn Doe\r\njohn@example.com\r\n"),
		testMessage(3, "Hello", "Just saying hi\r\n"),
	}

	if err := d.Dispatch(context.Background(), batch, mbox); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	want := "New mail\nFrom: sender@example.com\nSubject: Code\n" +
		"Date: 2024-05-01 12:00:00 +0000\n\nContent:\nHi,\nYour code is 123456"
	if len(out.sent) != 2 || out.sent[0] != want {
		t.Fatalf("unexpected notices: %q", out.sent)
	}
	if !strings.Contains(out.sent[1], "Subject: Hello") {
		t.Errorf("second notice out of order: %q", out.sent[1])
	}

	if !slices.Equal(mbox.seen, []uint32{7, 3}) {
		t.Errorf("seen = %v, want [7 3]", mbox.seen)
	}
	if len(mbox.deleted) != 0 {
		t.Errorf("deleted = %v, want none", mbox.deleted)
	}
}

func TestDispatch_DeleteAction(t *testing.T) {
	t.Parallel()

	mbox := &fakeMailbox{}
	d := NewDispatcher(&fakeBroadcaster{}, PostActionDelete, discardLogger())

	if err := d.Dispatch(context.Background(), []session.Message{testMessage(4, "x", "y")}, mbox); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !slices.Equal(mbox.deleted, []uint32{4}) || len(mbox.seen) != 0 {
		t.Errorf("seen = %v, deleted = %v", mbox.seen, mbox.deleted)
	}
}

func TestDispatch_FailedDeliveryLeavesMessageUntouched(t *testing.T) {
	t.Parallel()

	out := &fakeBroadcaster{failN: map[int]bool{0: true}}
	mbox := &fakeMailbox{}
	d := NewDispatcher(out, PostActionMarkRead, discardLogger())

	batch := []session.Message{
		testMessage(9, "first", "a"),
		testMessage(8, "second", "b"),
	}

	err := d.Dispatch(context.Background(), batch, mbox)
	if err == nil {
		t.Fatal("expected error summarizing the failed delivery")
	}

	if !slices.Equal(mbox.seen, []uint32{8}) {
		t.Errorf("seen = %v, want [8]", mbox.seen)
	}
}

func TestDispatch_PostActionFailureContinues(t *testing.T) {
	t.Parallel()

	out := &fakeBroadcaster{}
	mbox := &fakeMailbox{err: errors.New("NO [READ-ONLY]")}
	d := NewDispatcher(out, PostActionMarkRead, discardLogger())

	batch := []session.Message{
		testMessage(2, "first", "a"),
		testMessage(1, "second", "b"),
	}

	if err := d.Dispatch(context.Background(), batch, mbox); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(out.sent) != 2 {
		t.Errorf("sent %d notices, want 2", len(out.sent))
	}
}

func TestNotice_HTMLOnly(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&fakeBroadcaster{}, "", discardLogger())

	msg := session.Message{
		UID:    1,
		Header: session.Header{From: "shop@example.com", Subject: "Order"},
		Body: []byte("Subject: Order\r\nContent-Type: text/html; charset=utf-8\r\n\r\n" +
			"<p>Your code is <b>4821</b></p>\r\n"),
	}

	if got := d.Notice(msg); !strings.Contains(got, "Content:\nYour code is 4821") {
		t.Errorf("notice = %q", got)
	}
}

func TestNotice_UnparseableBody(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&fakeBroadcaster{}, "", discardLogger())

	msg := session.Message{
		UID:    1,
		Header: session.Header{From: "x@example.com"},
		Body:   []byte("not a header block\r\n"),
	}

	got := d.Notice(msg)
	if !strings.Contains(got, "Subject: "+content.UnparseableSubject) {
		t.Errorf("notice = %q, want sentinel subject", got)
	}
	if strings.Contains(got, "Content:") {
		t.Errorf("notice = %q, want no content section", got)
	}
}

func TestNotice_EnvelopeSubjectWins(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&fakeBroadcaster{}, "", discardLogger())

	msg := testMessage(1, "from body", "text")
	msg.Header.Subject = "from envelope"

	if got := d.Notice(msg); !strings.Contains(got, "Subject: from envelope\n") {
		t.Errorf("notice = %q", got)
	}
}
