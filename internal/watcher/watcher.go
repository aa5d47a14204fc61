// Package watcher keeps a mailbox under watch and hands every newly arrived
// message to a handler exactly once per run.
//
// A Watcher owns one session at a time. All session work (connecting,
// detection passes, reconnects) happens on a single goroutine, fed by two
// independent triggers: IDLE pushes from the server and a poll timer. The
// poll is the backstop since IDLE is not reliable on every server.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/meko-christian/mail-watcher/internal/ledger"
	"github.com/meko-christian/mail-watcher/internal/session"
)

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultReconnectDelay = 10 * time.Second
)

// State is the lifecycle position of a Watcher.
type State int

const (
	Idle State = iota
	Connecting
	Listening
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Handler receives each batch of new messages, newest first. mbox is valid
// only for the duration of the call. A returned error is logged and does not
// affect the watcher.
type Handler func(ctx context.Context, batch []session.Message, mbox session.Mailbox) error

// Status is a snapshot of the watcher.
type Status struct {
	Running       bool   `json:"running"`
	State         string `json:"state"`
	Folder        string `json:"folder,omitempty"`
	LastSeenTotal uint32 `json:"last_seen_total"`
	Reserved      int    `json:"reserved"`
}

// Options configure a Watcher. Zero values select the defaults.
type Options struct {
	// Open creates sessions. Required.
	Open session.Opener

	PollInterval   time.Duration
	ReconnectDelay time.Duration

	Logger *slog.Logger
}

// Watcher is the mailbox watch state machine. The zero value is not usable;
// create one with New.
type Watcher struct {
	open           session.Opener
	pollInterval   time.Duration
	reconnectDelay time.Duration
	logger         *slog.Logger
	ledger         *ledger.Ledger

	mu            sync.Mutex
	running       bool
	state         State
	folder        string
	lastSeenTotal uint32
	cancel        context.CancelFunc
	done          chan struct{}
}

// New returns an idle Watcher.
func New(opts Options) *Watcher {
	if opts.Open == nil {
		panic("watcher: Options.Open must not be nil")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Watcher{
		open:           opts.Open,
		pollInterval:   opts.PollInterval,
		reconnectDelay: opts.ReconnectDelay,
		logger:         opts.Logger,
		ledger:         ledger.New(),
	}
}

// Start begins watching cfg's folder and calls handler with new mail. It
// returns once the first connection attempt has finished, without waiting for
// the initial detection pass. A rejected login is
// returned as *session.AuthError and leaves the watcher idle; any other
// connection failure is logged and retried in the background.
//
// Calling Start on a running watcher logs a warning and does nothing.
// Cancelling ctx stops the watcher like Stop.
func (w *Watcher) Start(ctx context.Context, cfg session.Config, handler Handler) error {
	for {
		w.mu.Lock()
		if w.running {
			w.mu.Unlock()
			w.logger.Warn("Watcher already running")
			return nil
		}

		// A previous run may still be tearing down after Stop.
		prev := w.done
		if prev == nil || isClosed(prev) {
			break
		}
		w.mu.Unlock()
		<-prev
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.running = true
	w.state = Connecting
	w.folder = cfg.FolderName()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	ready := make(chan error, 1)

	l := &loop{
		w:       w,
		cfg:     cfg,
		handler: handler,
		events:  make(chan event, 16),
		logger:  w.logger.With("folder", cfg.FolderName()),
	}
	go l.run(runCtx, done, ready)

	err := <-ready
	if err != nil {
		<-done
	}
	return err
}

// Stop ends the watch: timers are cancelled, the session is closed and the
// ledger is cleared. It blocks until the watcher is idle and is a no-op when
// the watcher is not running. Stop must not be called from a Handler.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("Watcher stopped")
}

// Done is closed when the current run ends, or nil if the watcher never ran.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Status reports the current state without side effects.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Status{
		Running:       w.running,
		State:         w.state.String(),
		Folder:        w.folder,
		LastSeenTotal: w.lastSeenTotal,
		Reserved:      w.ledger.Len(),
	}
}

func (w *Watcher) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Watcher) setTotal(total uint32) {
	w.mu.Lock()
	w.lastSeenTotal = total
	w.mu.Unlock()
}

// finish returns the watcher to Idle after its loop exited.
func (w *Watcher) finish(done chan struct{}) {
	w.mu.Lock()
	w.running = false
	w.state = Idle
	w.ledger.Clear()
	w.mu.Unlock()

	close(done)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// isAuthError reports whether err is a rejected login.
func isAuthError(err error) bool {
	var aerr *session.AuthError
	return errors.As(err, &aerr)
}
