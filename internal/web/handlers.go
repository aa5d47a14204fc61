package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap"

	"github.com/meko-christian/mail-watcher/internal/content"
	"github.com/meko-christian/mail-watcher/internal/session"
)

const (
	maxListLimit  = 200
	previewLength = 200
)

type apiError struct {
	Error string `json:"error"`
}

// messageSummary is the JSON shape of a listed message.
type messageSummary struct {
	UID       uint32    `json:"uid"`
	SeqNum    uint32    `json:"seq"`
	From      string    `json:"from"`
	To        []string  `json:"to,omitempty"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	MessageID string    `json:"message_id,omitempty"`
	Seen      bool      `json:"seen"`
	Flags     []string  `json:"flags"`
	Preview   string    `json:"preview,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.renderTemplate(w, "login", nil)
		return
	}

	if r.Method == http.MethodPost {
		username := r.FormValue("username")
		password := r.FormValue("password")

		if !s.auth.ValidateCredentials(username, password) {
			s.logger.Warn("Dashboard login failed", "username", username)
			s.renderTemplate(w, "login", map[string]any{
				"Error": "Invalid username or password",
			})
			return
		}

		ls, err := s.auth.CreateSession(username)
		if err != nil {
			s.logger.Error("Failed to create session", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    ls.ID,
			Path:     "/",
			Expires:  ls.ExpiresAt,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteStrictMode,
		})

		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.auth.DeleteSession(cookie.Value)
	}

	// Clear the cookie
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.renderTemplate(w, "dashboard", map[string]any{
		"Title":    "Mail Watcher Dashboard",
		"Status":   s.watch.Status(),
		"Channels": s.channels,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.watch.Status())
}

// handleMessages lists messages through a fresh read-only session:
// GET /api/messages?folder=INBOX&filter=unread&limit=20
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := session.ParseFilter(q.Get("filter"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	limit := session.DefaultListLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "limit must be between 1 and " + strconv.Itoa(maxListLimit)})
			return
		}
	}

	messages, err := s.mailbox.ListMessages(r.Context(), q.Get("folder"), filter, limit)
	if err != nil {
		s.logger.Error("Failed to list messages", "error", err)
		writeJSON(w, mailboxErrorStatus(err), apiError{Error: err.Error()})
		return
	}

	out := make([]messageSummary, 0, len(messages))
	for _, m := range messages {
		out = append(out, summarize(m))
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.mailbox.TestConnection(r.Context()); err != nil {
		s.logger.Warn("Connection test failed", "error", err)
		writeJSON(w, mailboxErrorStatus(err), map[string]any{"ok": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func summarize(m session.Message) messageSummary {
	sum := messageSummary{
		UID:       m.UID,
		SeqNum:    m.SeqNum,
		From:      m.Header.From,
		To:        m.Header.To,
		Subject:   m.Header.Subject,
		Date:      m.Header.Date,
		MessageID: m.Header.MessageID,
		Flags:     m.Flags,
	}
	if sum.Flags == nil {
		sum.Flags = []string{}
	}

	for _, f := range m.Flags {
		if f == imap.SeenFlag {
			sum.Seen = true
		}
	}

	// A failed parse still yields an empty, usable result.
	parsed, _ := content.Parse(m.Body)
	text := parsed.Text
	if text == "" && parsed.HTML != "" {
		text = content.HTMLToText(parsed.HTML)
	}
	sum.Preview = truncate(content.Clean(text), previewLength)

	return sum
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// mailboxErrorStatus maps session errors to HTTP status codes.
func mailboxErrorStatus(err error) int {
	var (
		aerr *session.AuthError
		cerr *session.ConnectError
	)
	switch {
	case errors.As(err, &aerr), errors.As(err, &cerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
