// Package web serves the optional status dashboard and its JSON API.
package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/meko-christian/mail-watcher/internal/session"
	"github.com/meko-christian/mail-watcher/internal/watcher"
)

// StatusSource reports the live watcher state.
type StatusSource interface {
	Status() watcher.Status
}

// MailboxClient runs the short-lived, read-only mailbox operations.
type MailboxClient interface {
	ListMessages(ctx context.Context, folder string, filter session.Filter, limit int) ([]session.Message, error)
	TestConnection(ctx context.Context) error
}

type Options struct {
	Bind     string
	Port     int
	Username string
	Password string

	Watcher  StatusSource
	Mailbox  MailboxClient
	Channels []string

	Logger *slog.Logger
}

type Server struct {
	addr      string
	auth      *AuthManager
	watch     StatusSource
	mailbox   MailboxClient
	channels  []string
	templates *template.Template
	logger    *slog.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Watcher == nil || opts.Mailbox == nil {
		return nil, errors.New("web: watcher and mailbox are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	auth, err := NewAuthManager(opts.Username, opts.Password, opts.Logger)
	if err != nil {
		return nil, err
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	return &Server{
		addr:      fmt.Sprintf("%s:%d", opts.Bind, opts.Port),
		auth:      auth,
		watch:     opts.Watcher,
		mailbox:   opts.Mailbox,
		channels:  opts.Channels,
		templates: tmpl,
		logger:    opts.Logger,
	}, nil
}

// Handler returns the routed dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	// Protected routes
	mux.Handle("/{$}", s.auth.RequireAuth(http.HandlerFunc(s.handleDashboard)))
	mux.Handle("GET /api/status", s.auth.RequireAuth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /api/messages", s.auth.RequireAuth(http.HandlerFunc(s.handleMessages)))
	mux.Handle("POST /api/check", s.auth.RequireAuth(http.HandlerFunc(s.handleCheck)))

	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.auth.cleanupExpiredSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Web server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("web server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down web server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
