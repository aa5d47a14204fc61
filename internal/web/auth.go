package web

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	sessionCookie = "session"
	sessionTTL    = 24 * time.Hour
)

// LoginSession is an authenticated dashboard session.
type LoginSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type AuthManager struct {
	sessions map[string]*LoginSession
	mutex    sync.RWMutex

	username string
	password []byte // bcrypt hash
	logger   *slog.Logger
}

// NewAuthManager accepts a single user. The password is kept only as a
// bcrypt hash.
func NewAuthManager(username, password string, logger *slog.Logger) (*AuthManager, error) {
	if username == "" || password == "" {
		return nil, errors.New("dashboard username and password are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	return &AuthManager{
		sessions: make(map[string]*LoginSession),
		username: username,
		password: hash,
		logger:   logger,
	}, nil
}

func (a *AuthManager) ValidateCredentials(username, password string) bool {
	if username != a.username {
		return false
	}

	err := bcrypt.CompareHashAndPassword(a.password, []byte(password))
	return err == nil
}

func (a *AuthManager) CreateSession(userID string) (*LoginSession, error) {
	sessionID, err := a.generateSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &LoginSession{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}

	a.mutex.Lock()
	a.sessions[sessionID] = s
	a.mutex.Unlock()

	a.logger.Info("Login session created", "userID", userID)
	return s, nil
}

func (a *AuthManager) GetSession(sessionID string) (*LoginSession, bool) {
	a.mutex.RLock()
	s, exists := a.sessions[sessionID]
	a.mutex.RUnlock()

	if !exists || time.Now().After(s.ExpiresAt) {
		if exists {
			a.DeleteSession(sessionID)
		}
		return nil, false
	}

	return s, true
}

func (a *AuthManager) DeleteSession(sessionID string) {
	a.mutex.Lock()
	delete(a.sessions, sessionID)
	a.mutex.Unlock()

	a.logger.Debug("Login session deleted")
}

// RequireAuth redirects pages to /login and answers API calls with 401.
func (a *AuthManager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			s     *LoginSession
			valid bool
		)
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			s, valid = a.GetSession(cookie.Value)
		}

		if !valid {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				writeJSON(w, http.StatusUnauthorized, apiError{Error: "authentication required"})
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		a.logger.Debug("Authenticated request", "userID", s.UserID, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (a *AuthManager) generateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// cleanupExpiredSessions drops expired sessions hourly until ctx ends.
func (a *AuthManager) cleanupExpiredSessions(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		a.mutex.Lock()
		now := time.Now()
		for sessionID, s := range a.sessions {
			if now.After(s.ExpiresAt) {
				delete(a.sessions, sessionID)
			}
		}
		a.mutex.Unlock()
	}
}
