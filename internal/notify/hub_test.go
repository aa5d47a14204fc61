package notify

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/eclipse/paho.golang/paho"
	gomail "gopkg.in/gomail.v2"
)

type stubChannel struct {
	name  string
	err   error
	calls atomic.Int32
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Send(context.Context, string) error {
	c.calls.Add(1)
	return c.err
}

func TestHub_Broadcast(t *testing.T) {
	t.Parallel()

	ok := &stubChannel{name: "ok"}
	bad := &stubChannel{name: "bad", err: errors.New("refused")}
	hub := NewHub(discardLogger(), ok, bad)

	if err := hub.Broadcast(context.Background(), "hello"); err != nil {
		t.Fatalf("Broadcast with one healthy channel: %v", err)
	}

	if ok.calls.Load() != 1 || bad.calls.Load() != 1 {
		t.Errorf("calls ok=%d bad=%d, want 1 each", ok.calls.Load(), bad.calls.Load())
	}

	if got := hub.Channels(); !slices.Equal(got, []string{"ok", "bad"}) {
		t.Errorf("Channels() = %v", got)
	}
}

func TestHub_AllChannelsFail(t *testing.T) {
	t.Parallel()

	refused := errors.New("refused")
	hub := NewHub(discardLogger(),
		&stubChannel{name: "a", err: refused},
		&stubChannel{name: "b", err: errors.New("timeout")},
	)

	err := hub.Broadcast(context.Background(), "hello")

	var derr *DispatchError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DispatchError, got %v", err)
	}
	if !errors.Is(err, refused) {
		t.Errorf("expected wrapped channel error, got %v", err)
	}
	if !strings.Contains(err.Error(), "a: refused") || !strings.Contains(err.Error(), "b: timeout") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestHub_NoChannels(t *testing.T) {
	t.Parallel()

	err := NewHub(discardLogger()).Broadcast(context.Background(), "hello")
	if !errors.Is(err, ErrNoChannels) {
		t.Fatalf("expected ErrNoChannels, got %v", err)
	}
}

func TestConsoleChannel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ch := NewConsoleChannel(&buf)

	if err := ch.Send(context.Background(), "New mail\nFrom: x"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := buf.String(); got != "New mail\nFrom: x\n\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSMTPChannel_Send(t *testing.T) {
	t.Parallel()

	ch := NewSMTPChannel(SMTPConfig{
		Server:     "smtp.example.com",
		Port:       587,
		Username:   "watcher@example.com",
		Recipients: []string{"me@example.com", "you@example.com"},
	}, discardLogger())

	var sent *gomail.Message
	ch.send = func(m *gomail.Message) error {
		sent = m
		return nil
	}

	if err := ch.Send(context.Background(), "notice body"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if sent == nil {
		t.Fatal("no message sent")
	}
	if got := sent.GetHeader("From"); !slices.Equal(got, []string{"watcher@example.com"}) {
		t.Errorf("From = %v", got)
	}
	if got := sent.GetHeader("To"); !slices.Equal(got, []string{"me@example.com", "you@example.com"}) {
		t.Errorf("To = %v", got)
	}
	if got := sent.GetHeader("Subject"); !slices.Equal(got, []string{defaultSMTPSubject}) {
		t.Errorf("Subject = %v", got)
	}
}

func TestSMTPChannel_Errors(t *testing.T) {
	t.Parallel()

	empty := NewSMTPChannel(SMTPConfig{Server: "smtp.example.com"}, discardLogger())
	if err := empty.Send(context.Background(), "x"); err == nil {
		t.Error("expected error without recipients")
	}

	failing := NewSMTPChannel(SMTPConfig{Recipients: []string{"me@example.com"}}, discardLogger())
	failing.send = func(*gomail.Message) error { return errors.New("535 auth failed") }
	if err := failing.Send(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "535") {
		t.Errorf("unexpected error: %v", err)
	}
}

type fakePublisher struct {
	got []*paho.Publish
	err error
}

func (p *fakePublisher) Publish(_ context.Context, pub *paho.Publish) (*paho.PublishResponse, error) {
	p.got = append(p.got, pub)
	return nil, p.err
}

func TestMQTTChannel_Send(t *testing.T) {
	t.Parallel()

	ch := NewMQTTChannel(MQTTConfig{Broker: "mqtt://localhost:1883", QoS: 1}, discardLogger())

	if err := ch.Send(context.Background(), "x"); !errors.Is(err, errMQTTNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}

	pub := &fakePublisher{}
	ch.pub = pub

	if err := ch.Send(context.Background(), "notice"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(pub.got) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.got))
	}
	p := pub.got[0]
	if p.Topic != defaultMQTTTopic || string(p.Payload) != "notice" || p.QoS != 1 {
		t.Errorf("unexpected publish: topic=%s payload=%q qos=%d", p.Topic, p.Payload, p.QoS)
	}

	pub.err = errors.New("not authorized")
	if err := ch.Send(context.Background(), "notice"); err == nil {
		t.Error("expected publish error")
	}
}

func TestMQTTChannel_ConnectRejectsBadURL(t *testing.T) {
	t.Parallel()

	ch := NewMQTTChannel(MQTTConfig{Broker: "localhost"}, discardLogger())
	if err := ch.Connect(context.Background()); err == nil {
		t.Error("expected error for broker URL without host")
	}
	if err := ch.Close(context.Background()); err != nil {
		t.Errorf("Close before connect: %v", err)
	}
}

type savedMessage struct {
	folder string
	raw    []byte
}

type fakeSaver struct {
	saved []savedMessage
}

func (s *fakeSaver) SaveMessage(_ context.Context, folder string, raw []byte) error {
	s.saved = append(s.saved, savedMessage{folder: folder, raw: raw})
	return nil
}

func TestFolderChannel_Send(t *testing.T) {
	t.Parallel()

	saver := &fakeSaver{}
	ch := NewFolderChannel(FolderConfig{}, saver, "watcher@example.com")

	if err := ch.Send(context.Background(), "New mail\nFrom: x"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(saver.saved) != 1 || saver.saved[0].folder != defaultNoticeFolder {
		t.Fatalf("unexpected saves: %+v", saver.saved)
	}

	raw := string(saver.saved[0].raw)
	for _, want := range []string{"From: watcher@example.com", "Subject: " + defaultSMTPSubject, "New mail"} {
		if !strings.Contains(raw, want) {
			t.Errorf("stored message missing %q:\n%s", want, raw)
		}
	}
}
