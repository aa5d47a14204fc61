package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meko-christian/mail-watcher/internal/session"
)

type eventKind int

const (
	evNewMail eventKind = iota
	evSessionEnded
)

// event is posted by the IDLE goroutine. sess identifies the session that
// produced it so events from a replaced session can be dropped.
type event struct {
	kind  eventKind
	sess  session.Session
	total uint32
	err   error
}

// loop is the single owner of one run's session, timers and IDLE goroutine.
// Every field is touched only from run.
type loop struct {
	w       *Watcher
	cfg     session.Config
	handler Handler
	events  chan event
	logger  *slog.Logger

	sess       session.Session
	idleCancel context.CancelFunc
	idleDone   chan struct{}
	poll       *time.Timer
	reconnect  *time.Timer
}

func (l *loop) run(ctx context.Context, done chan struct{}, ready chan<- error) {
	defer l.w.finish(done)

	l.poll = newStoppedTimer()
	l.reconnect = newStoppedTimer()
	defer l.teardown()

	err := l.connect(ctx)
	if isAuthError(err) {
		ready <- err
		return
	}
	// Start returns before the initial pass so a large backlog does not
	// hold up the caller.
	ready <- nil
	if err == nil {
		l.listen(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-l.events:
			if ctx.Err() != nil {
				return
			}
			if ev.sess != l.sess {
				continue
			}

			switch ev.kind {
			case evNewMail:
				l.w.setTotal(ev.total)
				l.detect(ctx, "push")
			case evSessionEnded:
				l.logger.Warn("Session ended by server", "error", ev.err)
				l.disconnect(ctx)
			}

		case <-l.poll.C:
			if ctx.Err() != nil {
				return
			}
			l.detect(ctx, "poll")
			l.armPoll()

		case <-l.reconnect.C:
			if ctx.Err() != nil {
				return
			}
			if l.connect(ctx) == nil {
				l.listen(ctx)
			}
		}
	}
}

// connect opens a session and selects the folder read-write. On failure a
// reconnect is scheduled.
func (l *loop) connect(ctx context.Context) error {
	l.w.setState(Connecting)
	l.logger.Info("Connecting to IMAP server", "address", l.cfg.Address())

	sess, err := l.w.open(ctx, l.cfg)
	if err != nil {
		l.logger.Error("Failed to connect", "error", err)
		l.scheduleReconnect(ctx)
		return err
	}

	folder, err := sess.Select(ctx, l.cfg.FolderName(), false)
	if err != nil {
		l.logger.Error("Failed to select folder", "error", err)
		_ = sess.Close()
		l.scheduleReconnect(ctx)
		return err
	}

	l.sess = sess
	l.w.setTotal(folder.Total)
	l.w.setState(Listening)
	l.logger.Info("Watching mailbox", "total", folder.Total)

	return nil
}

// listen runs the initial detection pass on a fresh session, which also
// starts IDLE, and arms the poll timer.
func (l *loop) listen(ctx context.Context) {
	l.detect(ctx, "initial")
	if l.sess != nil {
		l.armPoll()
	}
}

// detect runs one detection pass: search unseen, reserve the UIDs not seen
// before, fetch exactly those and hand them to the handler.
func (l *loop) detect(ctx context.Context, trigger string) {
	if l.sess == nil {
		return
	}

	l.stopIdle()
	defer l.startIdle(ctx)
	defer l.refreshTotal()

	logger := l.logger.With("pass_id", uuid.NewString(), "trigger", trigger)

	uids, err := l.sess.Search(ctx, session.UnseenCriteria())
	if err != nil {
		l.commandFailed(ctx, logger, err)
		return
	}

	// Reserved before fetching so a later pass can never pick them again.
	fresh := l.w.ledger.Reserve(uids)
	if len(fresh) == 0 {
		logger.Debug("No new messages", "unseen", len(uids))
		return
	}

	logger.Info("New messages detected", "count", len(fresh), "unseen", len(uids))

	batch, err := l.sess.Fetch(ctx, fresh)
	if err != nil {
		l.commandFailed(ctx, logger, err)
		return
	}
	if len(batch) == 0 {
		return
	}

	session.SortNewestFirst(batch)

	if err := l.handler(ctx, batch, session.NewMailbox(l.sess, logger)); err != nil {
		logger.Error("New mail handler failed", "error", err)
	}
}

// refreshTotal records the folder size after a pass so polling alone keeps
// the status current.
func (l *loop) refreshTotal() {
	if l.sess != nil {
		l.w.setTotal(l.sess.Total())
	}
}

func (l *loop) commandFailed(ctx context.Context, logger *slog.Logger, err error) {
	if ctx.Err() != nil {
		return
	}

	if session.IsDisconnect(err) {
		logger.Warn("Connection lost during detection", "error", err)
		l.disconnect(ctx)
		return
	}

	logger.Error("Detection pass abandoned", "error", err)
}

// disconnect drops the current session and schedules a reconnect unless the
// watcher is stopping.
func (l *loop) disconnect(ctx context.Context) {
	l.stopIdle()
	l.poll.Stop()

	if l.sess != nil {
		if err := l.sess.Close(); err != nil {
			l.logger.Debug("Failed to close session", "error", err)
		}
		l.sess = nil
	}

	l.scheduleReconnect(ctx)
}

func (l *loop) scheduleReconnect(ctx context.Context) {
	if ctx.Err() != nil || !l.w.isRunning() {
		return
	}

	l.poll.Stop()
	l.w.setState(Reconnecting)
	l.logger.Info("Retrying connection after delay", "delay", l.w.reconnectDelay)
	l.reconnect.Reset(l.w.reconnectDelay)
}

func (l *loop) armPoll() {
	if l.sess == nil {
		return
	}
	l.poll.Reset(l.w.pollInterval)
}

// startIdle listens for server pushes on the current session in the
// background. It must be stopped before any other command is issued.
func (l *loop) startIdle(ctx context.Context) {
	if l.sess == nil || ctx.Err() != nil || l.idleCancel != nil {
		return
	}

	idleCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	sess, events := l.sess, l.events

	go func() {
		defer close(done)

		err := sess.Idle(idleCtx, func(total uint32) {
			select {
			case events <- event{kind: evNewMail, sess: sess, total: total}:
			case <-idleCtx.Done():
			}
		})

		if err != nil && idleCtx.Err() == nil {
			select {
			case events <- event{kind: evSessionEnded, sess: sess, err: err}:
			case <-idleCtx.Done():
			}
		}
	}()

	l.idleCancel, l.idleDone = cancel, done
}

func (l *loop) stopIdle() {
	if l.idleCancel == nil {
		return
	}

	l.idleCancel()
	<-l.idleDone
	l.idleCancel, l.idleDone = nil, nil
}

// teardown releases everything the run owns. Timers are stopped so a fire
// already scheduled is never observed.
func (l *loop) teardown() {
	l.stopIdle()
	l.poll.Stop()
	l.reconnect.Stop()

	if l.sess != nil {
		if err := l.sess.Close(); err != nil {
			l.logger.Debug("Failed to close session", "error", err)
		}
		l.sess = nil
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}
