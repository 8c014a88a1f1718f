// Package session logs in to Instagram once and reuses the saved cookies on
// later runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Authenticator is implemented by the Instagram client.
type Authenticator interface {
	Login(ctx context.Context, username, password string) error
	Validate(ctx context.Context, username string) error
	Cookies() map[string]string
	SetCookies(cookies map[string]string)
}

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

type Manager struct {
	auth   Authenticator
	store  *FileStore
	creds  Credentials
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(auth Authenticator, store *FileStore, creds Credentials, logger *slog.Logger) *Manager {
	return &Manager{
		auth:   auth,
		store:  store,
		creds:  creds,
		logger: logger.With("component", "session"),
		now:    time.Now,
	}
}

// Ensure leaves the authenticator with a working session. Without credentials
// it does nothing and scraping stays anonymous.
func (m *Manager) Ensure(ctx context.Context) error {
	if m.creds.Empty() {
		m.logger.Info("no instagram credentials, using anonymous access")
		return nil
	}

	reused, err := m.reuse(ctx)
	if err != nil {
		return err
	}
	if reused {
		return nil
	}

	if err := m.auth.Login(ctx, m.creds.Username, m.creds.Password); err != nil {
		return fmt.Errorf("login %s: %w", m.creds.Username, err)
	}

	sess := &Session{
		Username: m.creds.Username,
		Cookies:  m.auth.Cookies(),
		SavedAt:  m.now().UTC(),
	}
	if err := m.store.Save(sess); err != nil {
		// The login itself worked; the next run just logs in again.
		m.logger.Warn("failed to save session", "error", err)
		return nil
	}

	m.logger.Info("session saved", "path", m.store.Path(m.creds.Username))
	return nil
}

func (m *Manager) reuse(ctx context.Context) (bool, error) {
	sess, err := m.store.Load(m.creds.Username)
	if errors.Is(err, ErrNoSession) {
		m.logger.Info("no reusable session", "reason", err)
		return false, nil
	}
	if err != nil {
		m.logger.Warn("failed to load session", "error", err)
		return false, nil
	}

	m.auth.SetCookies(sess.Cookies)
	if err := m.auth.Validate(ctx, m.creds.Username); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		m.logger.Info("saved session rejected, logging in again",
			"saved_at", sess.SavedAt,
			"error", err,
		)
		return false, nil
	}

	m.logger.Info("reusing saved session", "username", m.creds.Username, "saved_at", sess.SavedAt)
	return true, nil
}
